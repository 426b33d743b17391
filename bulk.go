package entrycache

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/entrycache/expiry"
)

// internalKeys converts keys, dropping duplicates. order keeps first-seen order.
func (c *cache[K, V]) internalKeys(keys []K) (order []K, iks map[K]any, err error) {
	iks = make(map[K]any, len(keys))
	order = make([]K, 0, len(keys))
	for _, k := range keys {
		if _, dup := iks[k]; dup {
			continue
		}
		ik, err := c.internalKey(k)
		if err != nil {
			return nil, nil, err
		}
		iks[k] = ik
		order = append(order, k)
	}
	return order, iks, nil
}

// withLocks runs fn holding the locks of every key in iks. The locks are
// released even if fn panics.
func (c *cache[K, V]) withLocks(iks map[K]any, fn func()) {
	all := make([]any, 0, len(iks))
	for _, ik := range iks {
		all = append(all, ik)
	}
	held := c.locks.LockAll(all)
	defer c.locks.UnlockAll(held)
	fn()
}

func (c *cache[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	order, iks, err := c.internalKeys(keys)
	if err != nil {
		return nil, err
	}

	start := c.stats.since()
	d := c.dispatcher()
	out := make(map[K]V, len(order))

	c.withLocks(iks, func() { err = c.getAllLocked(ctx, order, iks, out, d) })

	d.dispatch()
	c.stats.took(&c.stats.getNanos, start)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cache[K, V]) getAllLocked(ctx context.Context, order []K, iks map[K]any, out map[K]V, d *dispatcher[K, V]) error {
	now := c.clock()
	var missing []K
	for _, k := range order {
		e, ok := c.live(k, iks[k], now, d)
		if !ok {
			c.stats.miss(1)
			missing = append(missing, k)
			continue
		}
		c.stats.hit(1)
		c.touch(expiry.Accessed, k, e, now)
		v, err := c.external(e.Value())
		if err != nil {
			return err
		}
		out[k] = v
	}
	if len(missing) == 0 || !c.readThrough || c.loader == nil {
		return nil
	}

	loaded, err := c.loader.LoadAll(ctx, missing)
	if err != nil {
		return loaderErr(nil, err)
	}
	for _, k := range missing {
		v, ok := loaded[k]
		if !ok || isNil(v) {
			continue
		}
		iv, err := c.values.ToInternal(v)
		if err != nil {
			return err
		}
		c.insert(k, iks[k], iv, now, d)
		if c.values.ByValue() {
			if v, err = c.external(iv); err != nil {
				return err
			}
		}
		out[k] = v
	}
	return nil
}

func (c *cache[K, V]) PutAll(ctx context.Context, entries map[K]V) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.putAll(ctx, entries, true, true)
}

// putAll stores entries under one ordered lock set. With replaceExisting
// false, keys that already hold a live entry are left alone. Entries the
// Writer reports as failed are not stored; the rest are, and a WriterError
// naming the failures is returned.
func (c *cache[K, V]) putAll(ctx context.Context, entries map[K]V, replaceExisting, writeThrough bool) error {
	if len(entries) == 0 {
		return nil
	}
	iks := make(map[K]any, len(entries))
	ivs := make(map[K]any, len(entries))
	for k, v := range entries {
		ik, err := c.internalKey(k)
		if err != nil {
			return err
		}
		iv, err := c.internalValue(v)
		if err != nil {
			return err
		}
		iks[k], ivs[k] = ik, iv
	}

	start := c.stats.since()
	d := c.dispatcher()
	var werr error
	c.withLocks(iks, func() { werr = c.putAllLocked(ctx, entries, iks, ivs, replaceExisting, writeThrough, d) })

	d.dispatch()
	c.stats.took(&c.stats.putNanos, start)
	return werr
}

func (c *cache[K, V]) putAllLocked(ctx context.Context, entries map[K]V, iks, ivs map[K]any, replaceExisting, writeThrough bool, d *dispatcher[K, V]) error {
	now := c.clock()
	// batch is always a copy; the Writer never sees the caller's map.
	batch := make(map[K]V, len(entries))
	for k, v := range entries {
		if replaceExisting {
			batch[k] = v
		} else if _, ok := c.live(k, iks[k], now, d); !ok {
			batch[k] = v
		}
	}

	var werr error
	if writeThrough && c.writeThroughOn() && len(batch) > 0 {
		failed, err := c.writer.WriteAll(ctx, batch)
		if err != nil || len(failed) > 0 {
			if len(failed) == 0 {
				failed = mapKeys(batch)
			}
			werr = c.partial("write", failed, err)
			rest := make(map[K]V, len(batch))
			for k, v := range batch {
				rest[k] = v
			}
			for _, k := range failed {
				delete(rest, k)
			}
			batch = rest
		}
	}

	for k := range batch {
		c.upsert(k, iks[k], ivs[k], now, d)
		c.stats.put(1)
	}
	return werr
}

// partial records a bulk write-through failure.
func (c *cache[K, V]) partial(op string, failed []K, err error) error {
	if err == nil {
		err = fmt.Errorf("%d keys not applied", len(failed))
	}
	keys := make([]any, len(failed))
	for i, k := range failed {
		keys[i] = k
	}
	c.log.Warn("write-through partially failed", Fields{"op": op, "failed": len(failed), "err": err})
	c.hooks.WritePartial(c.name, op, len(failed), err)
	return writerErr(op, keys, err)
}

func mapKeys[K comparable, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (c *cache[K, V]) RemoveAll(ctx context.Context, keys []K) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	order, iks, err := c.internalKeys(keys)
	if err != nil {
		return err
	}
	if len(order) == 0 {
		return nil
	}

	start := c.stats.since()
	d := c.dispatcher()
	var werr error
	c.withLocks(iks, func() { werr = c.removeAllLocked(ctx, order, iks, d) })

	d.dispatch()
	c.stats.took(&c.stats.removeNanos, start)
	return werr
}

func (c *cache[K, V]) removeAllLocked(ctx context.Context, order []K, iks map[K]any, d *dispatcher[K, V]) error {
	skip := map[K]struct{}{}
	var werr error
	if c.writeThroughOn() {
		failed, err := c.writer.DeleteAll(ctx, order)
		if err != nil || len(failed) > 0 {
			if len(failed) == 0 {
				failed = order
			}
			werr = c.partial("delete", failed, err)
			for _, k := range failed {
				skip[k] = struct{}{}
			}
		}
	}

	now := c.clock()
	for _, k := range order {
		if _, ok := skip[k]; ok {
			continue
		}
		e, ok := c.live(k, iks[k], now, d)
		if !ok {
			continue
		}
		c.drop(k, iks[k], e, d)
		c.stats.removal(1)
	}
	return werr
}

func (c *cache[K, V]) RemoveAllEntries(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	stored := c.store.Keys()
	keys := make([]K, 0, len(stored))
	for _, ik := range stored {
		k, err := c.keys.FromInternal(ik)
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}
	return c.RemoveAll(ctx, keys)
}

func (c *cache[K, V]) Clear(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	it := c.store.Iterator()
	for {
		ik, _, ok := it.Next()
		if !ok {
			break
		}
		c.withLock(ik, func() { it.Remove() })
	}
	c.log.Debug("cache cleared", nil)
	return nil
}

func (c *cache[K, V]) LoadAll(ctx context.Context, keys []K, replaceExisting bool, done func(error)) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	order, _, err := c.internalKeys(keys)
	if err != nil {
		return err
	}
	if c.loader == nil {
		if done != nil {
			done(nil)
		}
		return nil
	}

	ok := c.loads.TrySubmit(func() {
		err := c.loadAll(ctx, order, replaceExisting)
		if err != nil {
			c.log.Warn("load all failed", Fields{"keys": len(order), "err": err})
		}
		if done != nil {
			done(err)
		}
	})
	if !ok {
		c.hooks.LoadTaskRejected(c.name, len(order))
		return ErrQueueFull
	}
	return nil
}

func (c *cache[K, V]) loadAll(ctx context.Context, keys []K, replaceExisting bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = loaderErr(nil, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	want := keys
	if !replaceExisting {
		want = make([]K, 0, len(keys))
		now := c.clock().UnixNano()
		for _, k := range keys {
			ik, err := c.internalKey(k)
			if err != nil {
				return err
			}
			if e, ok := c.store.Get(ik); ok && !e.IsExpired(now) {
				continue
			}
			want = append(want, k)
		}
	}
	if len(want) == 0 {
		return nil
	}

	loaded, err := c.loader.LoadAll(ctx, want)
	if err != nil {
		return loaderErr(nil, err)
	}
	found := make(map[K]V, len(loaded))
	for k, v := range loaded {
		if !isNil(v) {
			found[k] = v
		}
	}
	return c.putAll(ctx, found, replaceExisting, false)
}
