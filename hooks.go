package entrycache

import "github.com/unkn0wn-root/entrycache/expiry"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; most are called while a
// key lock is held.
type Hooks interface {
	// The expiry policy returned an error or panicked. The entry kept its
	// deadline (accessed/updated) or became eternal (created).
	ExpiryPolicyFailed(cache string, event expiry.Event, err error)

	// A listener panicked while handling a batch of events.
	ListenerPanicked(cache string, event EventType, recovered any)

	// An asynchronous event batch was dropped because the event queue was full.
	AsyncEventsDropped(cache string, event EventType, count int)

	// LoadAll was refused because the load queue was full.
	LoadTaskRejected(cache string, keys int)

	// A bulk write-through or delete-through left failed keys unapplied.
	WritePartial(cache string, op string, failed int, err error)

	// A backing store dropped an entry it could not trust.
	// reason ∈ {"corrupt", "gen_mismatch", "expired", "value_decode"}
	BackingSelfHeal(storageKey, reason string)

	// A generation store failed to snapshot or bump.
	GenerationError(storageKey string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) ExpiryPolicyFailed(string, expiry.Event, error) {}
func (NopHooks) ListenerPanicked(string, EventType, any)        {}
func (NopHooks) AsyncEventsDropped(string, EventType, int)      {}
func (NopHooks) LoadTaskRejected(string, int)                   {}
func (NopHooks) WritePartial(string, string, int, error)        {}
func (NopHooks) BackingSelfHeal(string, string)                 {}
func (NopHooks) GenerationError(string, error)                  {}
