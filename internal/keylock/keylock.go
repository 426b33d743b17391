// Package keylock grants mutual exclusion per logical key.
//
// Locks live in a side table keyed by the key itself, so a key can be locked
// before any entry exists for it. The table is striped by key hash; each
// stripe holds reference-counted mutexes that return to a pool as soon as
// nobody holds or waits on them. Acquisition is not fair and there is no
// starvation guarantee.
package keylock

import (
	"sync"

	"github.com/unkn0wn-root/entrycache/internal/hashkey"
)

const defaultStripes = 64

type keyLock struct {
	mu   sync.Mutex
	refs int // holders + waiters, guarded by the stripe mutex
}

var lockPool = sync.Pool{New: func() any { return new(keyLock) }}

type stripe struct {
	mu    sync.Mutex
	locks map[any]*keyLock
}

// Manager is a striped table of per-key mutexes.
type Manager struct {
	stripes []stripe
	mask    uint64
}

// New returns a Manager with at least n stripes (rounded up to a power of two).
func New(n int) *Manager {
	if n <= 0 {
		n = defaultStripes
	}
	size := 1
	for size < n {
		size <<= 1
	}
	m := &Manager{stripes: make([]stripe, size), mask: uint64(size - 1)}
	for i := range m.stripes {
		m.stripes[i].locks = make(map[any]*keyLock)
	}
	return m
}

func (m *Manager) stripeFor(k any) *stripe {
	return &m.stripes[hashkey.Sum(k)&m.mask]
}

// Lock blocks until the caller owns k. Calling Lock twice for the same key
// without an Unlock in between deadlocks.
func (m *Manager) Lock(k any) {
	s := m.stripeFor(k)
	s.mu.Lock()
	l, ok := s.locks[k]
	if !ok {
		l = lockPool.Get().(*keyLock)
		s.locks[k] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases k. It panics if k is not locked.
func (m *Manager) Unlock(k any) {
	s := m.stripeFor(k)
	s.mu.Lock()
	l, ok := s.locks[k]
	if !ok {
		s.mu.Unlock()
		panic("keylock: unlock of unlocked key")
	}
	l.refs--
	idle := l.refs == 0
	if idle {
		delete(s.locks, k)
	}
	l.mu.Unlock()
	s.mu.Unlock()

	if idle {
		lockPool.Put(l)
	}
}

// LockAll locks every distinct key in keys in a process-wide total order and
// returns the keys in acquisition order. Two LockAll calls over overlapping
// sets cannot deadlock each other.
func (m *Manager) LockAll(keys []any) []any {
	ordered := hashkey.Sort(keys)
	for _, k := range ordered {
		m.Lock(k)
	}
	return ordered
}

// UnlockAll releases keys previously returned by LockAll.
func (m *Manager) UnlockAll(ordered []any) {
	for i := len(ordered) - 1; i >= 0; i-- {
		m.Unlock(ordered[i])
	}
}

// Len reports how many keys currently have a live lock object.
func (m *Manager) Len() int {
	n := 0
	for i := range m.stripes {
		s := &m.stripes[i]
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
