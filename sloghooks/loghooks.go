// Package sloghooks reports entrycache Hooks through log/slog, with sampling
// for the noisy events and key redaction for storage keys.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/entrycache"
	"github.com/unkn0wn-root/entrycache/expiry"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery   uint64
	PolicyFailEvery uint64
	EventsDropEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr   atomic.Uint64
	policyFailCtr atomic.Uint64
	dropCtr       atomic.Uint64
}

var _ entrycache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) ExpiryPolicyFailed(cache string, ev expiry.Event, err error) {
	if h.l == nil || !sample(h.opts.PolicyFailEvery, &h.policyFailCtr) {
		return
	}
	h.l.Warn("entrycache.expiry_policy_failed",
		"cache", cache,
		"event", ev.String(),
		"err", err)
}

func (h *Hooks) ListenerPanicked(cache string, ev entrycache.EventType, recovered any) {
	if h.l == nil {
		return
	}
	h.l.Error("entrycache.listener_panicked",
		"cache", cache,
		"event", ev.String(),
		"panic", fmt.Sprint(recovered))
}

func (h *Hooks) AsyncEventsDropped(cache string, ev entrycache.EventType, count int) {
	if h.l == nil || !sample(h.opts.EventsDropEvery, &h.dropCtr) {
		return
	}
	h.l.Warn("entrycache.async_events_dropped",
		"cache", cache,
		"event", ev.String(),
		"count", count)
}

func (h *Hooks) LoadTaskRejected(cache string, keys int) {
	if h.l == nil {
		return
	}
	h.l.Warn("entrycache.load_task_rejected",
		"cache", cache,
		"keys", keys)
}

func (h *Hooks) WritePartial(cache, op string, failed int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("entrycache.write_partial",
		"cache", cache,
		"op", op,
		"failed", failed,
		"err", err)
}

func (h *Hooks) BackingSelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("entrycache.backing_self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) GenerationError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("entrycache.generation_error",
		"key", h.redact(storageKey),
		"err", err)
}
