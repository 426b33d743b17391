package entrycache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/entrycache/expiry"
)

func (c *cache[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	if err := c.checkOpen(); err != nil {
		return zero, false, err
	}
	ik, err := c.internalKey(key)
	if err != nil {
		return zero, false, err
	}

	start := c.stats.since()
	d := c.dispatcher()
	var (
		v  V
		ok bool
	)
	c.withLock(ik, func() {
		now := c.clock()
		if e, live := c.live(key, ik, now, d); live {
			c.stats.hit(1)
			c.touch(expiry.Accessed, key, e, now)
			v, err = c.external(e.Value())
			ok = err == nil
			return
		}
		c.stats.miss(1)
		v, ok, err = c.loadLocked(ctx, key, ik, now, d)
	})
	d.dispatch()
	c.stats.took(&c.stats.getNanos, start)
	return v, ok, err
}

// loadLocked reads through on a miss and stores what it finds. Key lock held.
func (c *cache[K, V]) loadLocked(ctx context.Context, key K, ik any, now time.Time, d *dispatcher[K, V]) (V, bool, error) {
	var zero V
	v, ok, err := c.load(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	iv, err := c.values.ToInternal(v)
	if err != nil {
		return zero, false, err
	}
	c.insert(key, ik, iv, now, d)
	if c.values.ByValue() {
		v, err = c.external(iv)
		if err != nil {
			return zero, false, err
		}
	}
	return v, true, nil
}

func (c *cache[K, V]) ContainsKey(ctx context.Context, key K) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	ik, err := c.internalKey(key)
	if err != nil {
		return false, err
	}
	d := c.dispatcher()
	var ok bool
	c.withLock(ik, func() {
		_, ok = c.live(key, ik, c.clock(), d)
	})
	d.dispatch()
	return ok, nil
}

func (c *cache[K, V]) Put(ctx context.Context, key K, value V) error {
	_, _, err := c.put(ctx, key, value, false)
	return err
}

func (c *cache[K, V]) GetAndPut(ctx context.Context, key K, value V) (V, bool, error) {
	return c.put(ctx, key, value, true)
}

func (c *cache[K, V]) put(ctx context.Context, key K, value V, wantOld bool) (V, bool, error) {
	var zero V
	if err := c.checkOpen(); err != nil {
		return zero, false, err
	}
	ik, err := c.internalKey(key)
	if err != nil {
		return zero, false, err
	}
	iv, err := c.internalValue(value)
	if err != nil {
		return zero, false, err
	}

	start := c.stats.since()
	d := c.dispatcher()
	var (
		old      any
		replaced bool
	)
	c.withLock(ik, func() {
		if err = c.write(ctx, key, value); err != nil {
			return
		}
		old, replaced = c.upsert(key, ik, iv, c.clock(), d)
		c.stats.put(1)
		if wantOld {
			if replaced {
				c.stats.hit(1)
			} else {
				c.stats.miss(1)
			}
		}
	})
	d.dispatch()
	c.stats.took(&c.stats.putNanos, start)
	if err != nil || !wantOld || !replaced {
		return zero, false, err
	}
	v, err := c.external(old)
	return v, err == nil, err
}

func (c *cache[K, V]) PutIfAbsent(ctx context.Context, key K, value V) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	ik, err := c.internalKey(key)
	if err != nil {
		return false, err
	}
	iv, err := c.internalValue(value)
	if err != nil {
		return false, err
	}

	start := c.stats.since()
	d := c.dispatcher()
	var stored bool
	c.withLock(ik, func() {
		now := c.clock()
		if _, ok := c.live(key, ik, now, d); ok {
			c.stats.hit(1)
			return
		}
		c.stats.miss(1)
		if err = c.write(ctx, key, value); err != nil {
			return
		}
		c.insert(key, ik, iv, now, d)
		c.stats.put(1)
		stored = true
	})
	d.dispatch()
	c.stats.took(&c.stats.putNanos, start)
	return stored, err
}

func (c *cache[K, V]) Replace(ctx context.Context, key K, value V) (bool, error) {
	_, ok, err := c.replace(ctx, key, value)
	return ok, err
}

func (c *cache[K, V]) GetAndReplace(ctx context.Context, key K, value V) (V, bool, error) {
	var zero V
	old, ok, err := c.replace(ctx, key, value)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := c.external(old)
	return v, err == nil, err
}

func (c *cache[K, V]) replace(ctx context.Context, key K, value V) (any, bool, error) {
	if err := c.checkOpen(); err != nil {
		return nil, false, err
	}
	ik, err := c.internalKey(key)
	if err != nil {
		return nil, false, err
	}
	iv, err := c.internalValue(value)
	if err != nil {
		return nil, false, err
	}

	start := c.stats.since()
	d := c.dispatcher()
	var (
		old      any
		replaced bool
	)
	c.withLock(ik, func() {
		now := c.clock()
		e, ok := c.live(key, ik, now, d)
		if !ok {
			c.stats.miss(1)
			return
		}
		c.stats.hit(1)
		if err = c.write(ctx, key, value); err != nil {
			return
		}
		old = c.update(key, e, iv, now, d)
		c.stats.put(1)
		replaced = true
	})
	d.dispatch()
	c.stats.took(&c.stats.putNanos, start)
	return old, replaced, err
}

func (c *cache[K, V]) ReplaceIfEquals(ctx context.Context, key K, oldValue, newValue V) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	ik, err := c.internalKey(key)
	if err != nil {
		return false, err
	}
	if isNil(oldValue) {
		return false, ErrNilValue
	}
	iv, err := c.internalValue(newValue)
	if err != nil {
		return false, err
	}

	start := c.stats.since()
	d := c.dispatcher()
	var replaced bool
	c.withLock(ik, func() {
		now := c.clock()
		e, ok := c.live(key, ik, now, d)
		if !ok {
			c.stats.miss(1)
			return
		}
		c.stats.hit(1)
		var cur V
		if cur, err = c.external(e.Value()); err != nil {
			return
		}
		if !c.equal(cur, oldValue) {
			c.touch(expiry.Accessed, key, e, now)
			return
		}
		if err = c.write(ctx, key, newValue); err != nil {
			return
		}
		c.update(key, e, iv, now, d)
		c.stats.put(1)
		replaced = true
	})
	d.dispatch()
	c.stats.took(&c.stats.putNanos, start)
	return replaced, err
}

// Remove deletes through the Writer even when the key is absent, so the
// system of record never keeps what the caller asked to remove.
func (c *cache[K, V]) Remove(ctx context.Context, key K) (bool, error) {
	_, ok, err := c.remove(ctx, key)
	return ok, err
}

func (c *cache[K, V]) GetAndRemove(ctx context.Context, key K) (V, bool, error) {
	var zero V
	old, ok, err := c.remove(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := c.external(old)
	return v, err == nil, err
}

func (c *cache[K, V]) remove(ctx context.Context, key K) (any, bool, error) {
	if err := c.checkOpen(); err != nil {
		return nil, false, err
	}
	ik, err := c.internalKey(key)
	if err != nil {
		return nil, false, err
	}

	start := c.stats.since()
	d := c.dispatcher()
	var (
		old     any
		removed bool
	)
	c.withLock(ik, func() {
		if err = c.delete(ctx, key); err != nil {
			return
		}
		e, ok := c.live(key, ik, c.clock(), d)
		if !ok {
			return
		}
		old = e.Value()
		c.drop(key, ik, e, d)
		c.stats.removal(1)
		removed = true
	})
	d.dispatch()
	c.stats.took(&c.stats.removeNanos, start)
	return old, removed, err
}

func (c *cache[K, V]) RemoveIfEquals(ctx context.Context, key K, oldValue V) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	ik, err := c.internalKey(key)
	if err != nil {
		return false, err
	}
	if isNil(oldValue) {
		return false, ErrNilValue
	}

	start := c.stats.since()
	d := c.dispatcher()
	var removed bool
	c.withLock(ik, func() {
		now := c.clock()
		e, ok := c.live(key, ik, now, d)
		if !ok {
			c.stats.miss(1)
			return
		}
		c.stats.hit(1)
		var cur V
		if cur, err = c.external(e.Value()); err != nil {
			return
		}
		if !c.equal(cur, oldValue) {
			c.touch(expiry.Accessed, key, e, now)
			return
		}
		if err = c.delete(ctx, key); err != nil {
			return
		}
		c.drop(key, ik, e, d)
		c.stats.removal(1)
		removed = true
	})
	d.dispatch()
	c.stats.took(&c.stats.removeNanos, start)
	return removed, err
}
