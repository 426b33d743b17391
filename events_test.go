package entrycache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createdOnly struct{ r recorder }

func (c *createdOnly) OnCreated(evs []Event[string, int]) { c.r.add(evs) }

type panicky struct{}

func (panicky) OnCreated([]Event[string, int]) { panic("listener bug") }

func TestListenerFilterAndOldValue(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, nil)

	filtered := &recorder{}
	_, err := e.c.RegisterListener(ListenerConfig[string, int]{
		Listener:    filtered,
		Synchronous: true,
		Filter:      func(ev Event[string, int]) bool { return ev.Key == "keep" },
	})
	require.NoError(t, err)

	require.NoError(t, e.c.Put(ctx, "keep", 1))
	require.NoError(t, e.c.Put(ctx, "keep", 2))
	require.NoError(t, e.c.Put(ctx, "drop", 1))

	evs := filtered.snapshot()
	require.Len(t, evs, 2)
	assert.Equal(t, EventUpdated, evs[1].Type)
	assert.False(t, evs[1].HasOldValue, "old value only when required")
	assert.Zero(t, evs[1].OldValue)

	all := e.rec.snapshot()
	require.Len(t, all, 3)
	assert.True(t, all[1].HasOldValue)
	assert.Equal(t, 1, all[1].OldValue)
	assert.Equal(t, t.Name(), all[1].Cache)
}

func TestListenerOnlyReceivesImplementedTypes(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, nil)
	l := &createdOnly{}
	_, err := e.c.RegisterListener(ListenerConfig[string, int]{Listener: l, Synchronous: true})
	require.NoError(t, err)

	require.NoError(t, e.c.Put(ctx, "a", 1))
	require.NoError(t, e.c.Put(ctx, "a", 2))
	_, _ = e.c.Remove(ctx, "a")
	assert.Equal(t, []EventType{EventCreated}, l.r.types())
}

func TestAsyncListener(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, nil)
	async := &recorder{}
	id, err := e.c.RegisterListener(ListenerConfig[string, int]{Listener: async})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, e.c.Put(ctx, "k", i))
	}
	require.Eventually(t, func() bool { return len(async.snapshot()) == 10 }, 5*time.Second, 5*time.Millisecond)
	evs := async.snapshot()
	assert.Equal(t, EventCreated, evs[0].Type)
	for i, ev := range evs {
		assert.Equal(t, i, ev.Value, "async events keep order")
	}

	assert.True(t, e.c.DeregisterListener(id))
	assert.False(t, e.c.DeregisterListener(id))
	require.NoError(t, e.c.Put(ctx, "k", 100))
	require.NoError(t, e.c.events.Close(ctx))
	assert.Len(t, async.snapshot(), 10)
}

func TestListenerPanicIsContained(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, nil)
	_, err := e.c.RegisterListener(ListenerConfig[string, int]{Listener: panicky{}, Synchronous: true})
	require.NoError(t, err)

	require.NoError(t, e.c.Put(ctx, "k", 1))
	v, ok, _ := e.c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Len(t, e.rec.snapshot(), 1, "other listeners still notified")

	e.hooks.mu.Lock()
	assert.Equal(t, 1, e.hooks.panics)
	e.hooks.mu.Unlock()
}

func TestNoEventsBuiltWithoutListeners(t *testing.T) {
	e := newTestCache(t, func(o *Options[string, int]) { o.Listeners = nil })
	d := e.c.dispatcher()
	d.created("k", 1)
	d.removed("k", 1)
	assert.Empty(t, d.buf)
}
