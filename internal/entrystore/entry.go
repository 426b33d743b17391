package entrystore

import (
	"math"
	"sync/atomic"
	"time"
)

// Never is the expiry timestamp of an entry that does not expire.
const Never int64 = math.MaxInt64

type slot struct{ v any }

// Entry is one cached record. Value, modification time and expiry are
// updated in place; readers that do not hold the key lock still observe
// consistent individual fields.
type Entry struct {
	value    atomic.Pointer[slot]
	created  int64
	modified atomic.Int64
	expireAt atomic.Int64
}

// NewEntry returns an entry created at now (unix nanos) expiring at expireAt.
func NewEntry(v any, now, expireAt int64) *Entry {
	e := &Entry{created: now}
	e.value.Store(&slot{v: v})
	e.modified.Store(now)
	e.expireAt.Store(expireAt)
	return e
}

func (e *Entry) Value() any { return e.value.Load().v }

// SetValue replaces the value and stamps the modification time.
func (e *Entry) SetValue(v any, now int64) {
	e.value.Store(&slot{v: v})
	e.modified.Store(now)
}

func (e *Entry) Created() time.Time  { return time.Unix(0, e.created) }
func (e *Entry) Modified() time.Time { return time.Unix(0, e.modified.Load()) }

func (e *Entry) ExpireAt() int64          { return e.expireAt.Load() }
func (e *Entry) SetExpireAt(at int64)     { e.expireAt.Store(at) }
func (e *Entry) IsExpired(now int64) bool { return now >= e.expireAt.Load() }
