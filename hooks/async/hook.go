// Package asynchook moves Hooks calls off the caller's goroutine. Engine hooks
// mostly fire while a key lock is held, so a slow sink (network logger,
// metrics push) belongs behind this wrapper.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close(ctx)
//
//	users, _ := entrycache.New(entrycache.Options[string, User]{
//	    Name:  "users",
//	    Hooks: hooks, // or raw if you don't want async
//	})
package asynchook

import (
	"context"
	"sync/atomic"

	"github.com/unkn0wn-root/entrycache"
	"github.com/unkn0wn-root/entrycache/expiry"
	"github.com/unkn0wn-root/entrycache/internal/pool"
)

type Hooks struct {
	inner   entrycache.Hooks
	p       *pool.Pool
	dropped atomic.Uint64
}

var _ entrycache.Hooks = (*Hooks)(nil)

func New(inner entrycache.Hooks, workers, qlen int) *Hooks {
	return &Hooks{inner: inner, p: pool.New(workers, qlen)}
}

// Close drains queued calls, bounded by ctx.
func (h *Hooks) Close(ctx context.Context) error { return h.p.Close(ctx) }

// Dropped is the number of calls discarded because the queue was full.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if !h.p.TrySubmit(f) {
		h.dropped.Add(1)
	}
}

func (h *Hooks) ExpiryPolicyFailed(c string, ev expiry.Event, err error) {
	h.try(func() { h.inner.ExpiryPolicyFailed(c, ev, err) })
}
func (h *Hooks) ListenerPanicked(c string, ev entrycache.EventType, r any) {
	h.try(func() { h.inner.ListenerPanicked(c, ev, r) })
}
func (h *Hooks) AsyncEventsDropped(c string, ev entrycache.EventType, n int) {
	h.try(func() { h.inner.AsyncEventsDropped(c, ev, n) })
}
func (h *Hooks) LoadTaskRejected(c string, n int) { h.try(func() { h.inner.LoadTaskRejected(c, n) }) }
func (h *Hooks) WritePartial(c, op string, n int, err error) {
	h.try(func() { h.inner.WritePartial(c, op, n, err) })
}
func (h *Hooks) BackingSelfHeal(k, r string) { h.try(func() { h.inner.BackingSelfHeal(k, r) }) }
func (h *Hooks) GenerationError(k string, err error) {
	h.try(func() { h.inner.GenerationError(k, err) })
}
