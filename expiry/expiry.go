// Package expiry defines how long cache entries live.
//
// A Policy is asked for a Duration whenever an entry is created, read or
// updated. Created always resolves to a concrete lifetime; Accessed and
// Updated may answer Unchanged to keep the current deadline.
package expiry

import (
	"math"
	"time"
)

// Event is the lifecycle moment a policy is consulted for.
type Event uint8

const (
	Created Event = iota + 1
	Accessed
	Updated
)

func (e Event) String() string {
	switch e {
	case Created:
		return "created"
	case Accessed:
		return "accessed"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

type durationKind uint8

const (
	kindUnchanged durationKind = iota
	kindEternal
	kindTTL
)

// Duration is a time-to-live answer. The zero value is Unchanged.
type Duration struct {
	kind durationKind
	ttl  time.Duration
}

var (
	// Unchanged keeps the entry's current deadline.
	Unchanged = Duration{}
	// Eternal means the entry never expires.
	Eternal = Duration{kind: kindEternal}
)

// TTL returns a lifetime of d. d <= 0 expires the entry immediately.
func TTL(d time.Duration) Duration { return Duration{kind: kindTTL, ttl: d} }

func (d Duration) IsUnchanged() bool { return d.kind == kindUnchanged }
func (d Duration) IsEternal() bool   { return d.kind == kindEternal }

// TTL returns the lifetime; it is zero for Unchanged and Eternal.
func (d Duration) TTL() time.Duration { return d.ttl }

// ExpireAt resolves d against now into an absolute unix-nano deadline.
// Eternal resolves to math.MaxInt64. Calling it on Unchanged is a programming
// error and also yields math.MaxInt64.
func (d Duration) ExpireAt(now time.Time) int64 {
	if d.kind != kindTTL {
		return math.MaxInt64
	}
	if d.ttl <= 0 {
		return now.UnixNano()
	}
	n := now.UnixNano()
	if n > math.MaxInt64-int64(d.ttl) {
		return math.MaxInt64
	}
	return n + int64(d.ttl)
}

func (d Duration) String() string {
	switch d.kind {
	case kindEternal:
		return "eternal"
	case kindTTL:
		return d.ttl.String()
	default:
		return "unchanged"
	}
}
