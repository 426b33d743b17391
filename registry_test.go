package entrycache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryConfigureAndLookup(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	defer r.Close(ctx)

	a, err := Configure(r, Options[string, int]{Name: "a"})
	require.NoError(t, err)
	again, err := Configure(r, Options[string, int]{Name: "a"})
	require.NoError(t, err)
	assert.Same(t, a.(*cache[string, int]), again.(*cache[string, int]))

	_, err = Configure(r, Options[string, string]{Name: "a"})
	require.ErrorIs(t, err, ErrTypeMismatch)

	got, ok, err := Lookup[string, int](r, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got.Name())

	_, ok, err = Lookup[string, int](r, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Lookup[int, int](r, "a")
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Configure(r, Options[string, int]{Name: "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRegistryForgetsClosedCaches(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	defer r.Close(ctx)

	c, err := Configure(r, Options[string, int]{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))
	assert.Empty(t, r.Names())

	fresh, err := Configure(r, Options[string, int]{Name: "a"})
	require.NoError(t, err)
	assert.False(t, fresh.IsClosed())

	// closing the stale handle again must not evict the new cache
	require.NoError(t, c.Close(ctx))
	assert.Equal(t, []string{"a"}, r.Names())

	ok, err := r.Remove(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, fresh.IsClosed())
	ok, _ = r.Remove(ctx, "a")
	assert.False(t, ok)
}

func TestRegistryClose(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryOptions{})
	a, _ := Configure(r, Options[string, int]{Name: "a"})
	b, _ := Configure(r, Options[int, string]{Name: "b"})

	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))
	assert.True(t, r.IsClosed())
	assert.True(t, a.IsClosed())
	assert.True(t, b.IsClosed())

	_, err := Configure(r, Options[string, int]{Name: "c"})
	require.ErrorIs(t, err, ErrClosed)
	_, _, err = Lookup[string, int](r, "a")
	require.ErrorIs(t, err, ErrClosed)
}
