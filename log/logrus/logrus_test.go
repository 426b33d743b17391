package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/entrycache"
)

func TestWithCarriesFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)

	l := New(base).With(entrycache.Fields{"cache": "orders"})
	l.Debug("cache created", entrycache.Fields{"shards": 64})

	e := hook.LastEntry()
	require.NotNil(t, e)
	assert.Equal(t, logrus.DebugLevel, e.Level)
	assert.Equal(t, "cache created", e.Message)
	assert.Equal(t, "orders", e.Data["cache"])
	assert.Equal(t, 64, e.Data["shards"])
}
