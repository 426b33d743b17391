package entrycache

import (
	"context"
	"iter"

	"github.com/unkn0wn-root/entrycache/internal/entrystore"
)

// Iterator walks live entries. It tolerates concurrent mutation: entries
// added or removed during the walk may or may not be seen, and no entry is
// seen twice.
//
//	it, _ := c.Iterator(ctx)
//	for it.Next() {
//	    use(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator[K comparable, V any] struct {
	c     *cache[K, V]
	ctx   context.Context
	inner *entrystore.Iterator

	key   K
	value V
	cur   bool
	err   error
}

func (c *cache[K, V]) Iterator(ctx context.Context) (*Iterator[K, V], error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return &Iterator[K, V]{c: c, ctx: ctx, inner: c.store.Iterator()}, nil
}

// Next advances to the next live entry. Each entry returned counts as a hit.
func (it *Iterator[K, V]) Next() bool {
	it.cur = false
	if it.err != nil {
		return false
	}
	if err := it.c.checkOpen(); err != nil {
		it.err = err
		return false
	}
	for {
		ik, e, ok := it.inner.Next()
		if !ok {
			return false
		}
		if e.IsExpired(it.c.clock().UnixNano()) {
			continue
		}
		k, err := it.c.keys.FromInternal(ik)
		if err != nil {
			it.err = err
			return false
		}
		v, err := it.c.external(e.Value())
		if err != nil {
			it.err = err
			return false
		}
		it.key, it.value, it.cur = k, v, true
		it.c.stats.hit(1)
		return true
	}
}

func (it *Iterator[K, V]) Key() K     { return it.key }
func (it *Iterator[K, V]) Value() V   { return it.value }
func (it *Iterator[K, V]) Err() error { return it.err }

// Remove removes the current entry exactly as Cache.Remove would.
func (it *Iterator[K, V]) Remove() error {
	if !it.cur {
		return ErrIllegalIteratorState
	}
	it.cur = false
	_, err := it.c.Remove(it.ctx, it.key)
	return err
}

// All yields live entries; iteration stops quietly on error.
func (c *cache[K, V]) All(ctx context.Context) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		it, err := c.Iterator(ctx)
		if err != nil {
			return
		}
		for it.Next() {
			if !yield(it.Key(), it.Value()) {
				return
			}
		}
	}
}
