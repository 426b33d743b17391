// Package entrystore holds cache entries in a sharded concurrent map.
//
// The store itself only guarantees structural safety. Per-key atomicity of
// read-modify-write sequences is the caller's job (see internal/keylock).
package entrystore

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/entrycache/internal/hashkey"
)

const defaultShards = 64

type shard struct {
	mu sync.RWMutex
	m  map[any]*Entry
}

// Store maps internal keys to entries.
type Store struct {
	shards []shard
	mask   uint64
	size   atomic.Int64
}

// New returns a Store with at least n shards (rounded up to a power of two).
func New(n int) *Store {
	if n <= 0 {
		n = defaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}
	s := &Store{shards: make([]shard, size), mask: uint64(size - 1)}
	for i := range s.shards {
		s.shards[i].m = make(map[any]*Entry)
	}
	return s
}

func (s *Store) shardFor(k any) *shard {
	return &s.shards[hashkey.Sum(k)&s.mask]
}

func (s *Store) Get(k any) (*Entry, bool) {
	sh := s.shardFor(k)
	sh.mu.RLock()
	e, ok := sh.m[k]
	sh.mu.RUnlock()
	return e, ok
}

// Put inserts or replaces the entry for k.
func (s *Store) Put(k any, e *Entry) {
	sh := s.shardFor(k)
	sh.mu.Lock()
	if _, ok := sh.m[k]; !ok {
		s.size.Add(1)
	}
	sh.m[k] = e
	sh.mu.Unlock()
}

// Remove deletes k and returns the entry it held.
func (s *Store) Remove(k any) (*Entry, bool) {
	sh := s.shardFor(k)
	sh.mu.Lock()
	e, ok := sh.m[k]
	if ok {
		delete(sh.m, k)
		s.size.Add(-1)
	}
	sh.mu.Unlock()
	return e, ok
}

func (s *Store) Len() int { return int(s.size.Load()) }

// Keys returns a point-in-time copy of every key.
func (s *Store) Keys() []any {
	out := make([]any, 0, s.Len())
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k := range sh.m {
			out = append(out, k)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Clear drops every entry.
func (s *Store) Clear() {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		s.size.Add(-int64(len(sh.m)))
		sh.m = make(map[any]*Entry)
		sh.mu.Unlock()
	}
}

// Iterator walks the store one shard at a time. Each shard is copied under
// its read lock, so concurrent writers never invalidate the walk; entries
// added to an already visited shard are not seen.
func (s *Store) Iterator() *Iterator {
	return &Iterator{s: s, shard: -1}
}

type pair struct {
	k any
	e *Entry
}

type Iterator struct {
	s     *Store
	shard int
	batch []pair
	pos   int
	last  *pair
}

// Next returns the next key and entry. ok is false once the walk is done.
func (it *Iterator) Next() (k any, e *Entry, ok bool) {
	for it.pos >= len(it.batch) {
		it.shard++
		if it.shard >= len(it.s.shards) {
			it.last = nil
			return nil, nil, false
		}
		sh := &it.s.shards[it.shard]
		sh.mu.RLock()
		it.batch = it.batch[:0]
		for k, e := range sh.m {
			it.batch = append(it.batch, pair{k: k, e: e})
		}
		sh.mu.RUnlock()
		it.pos = 0
	}
	p := &it.batch[it.pos]
	it.pos++
	it.last = p
	return p.k, p.e, true
}

// Remove deletes the key most recently returned by Next, provided it still
// maps to the same entry. It reports whether anything was removed.
func (it *Iterator) Remove() bool {
	if it.last == nil {
		return false
	}
	p := it.last
	it.last = nil
	sh := it.s.shardFor(p.k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.m[p.k]; ok && cur == p.e {
		delete(sh.m, p.k)
		it.s.size.Add(-1)
		return true
	}
	return false
}
