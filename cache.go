package entrycache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/entrycache/convert"
	"github.com/unkn0wn-root/entrycache/expiry"
	"github.com/unkn0wn-root/entrycache/internal/entrystore"
	"github.com/unkn0wn-root/entrycache/internal/keylock"
	"github.com/unkn0wn-root/entrycache/internal/pool"
)

const (
	stateOpen int32 = iota + 1
	stateClosed
)

type cache[K comparable, V any] struct {
	name   string
	keys   convert.Converter[K]
	values convert.Converter[V]
	policy expiry.Policy[K]
	equal  func(a, b V) bool

	store     *entrystore.Store
	locks     *keylock.Manager
	listeners listeners[K, V]

	loader       Loader[K, V]
	writer       Writer[K, V]
	readThrough  bool
	writeThrough bool

	stats counters
	log   Logger
	hooks Hooks
	clock func() time.Time

	loads        *pool.Pool
	events       *pool.Pool
	closeTimeout time.Duration

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
	onClose   func() // registry release
}

func newCache[K comparable, V any](opts Options[K, V]) (*cache[K, V], error) {
	if opts.Name == "" {
		return nil, errors.New("entrycache: Name is required")
	}
	if opts.ReadThrough && opts.Loader == nil {
		return nil, errors.New("entrycache: ReadThrough requires a Loader")
	}
	if opts.WriteThrough && opts.Writer == nil {
		return nil, errors.New("entrycache: WriteThrough requires a Writer")
	}

	shards := coalesce(opts.Shards, defaultShards)
	log := coalesce[Logger](opts.Logger, NopLogger{}).With(Fields{"cache": opts.Name})

	c := &cache[K, V]{
		name:         opts.Name,
		keys:         coalesce[convert.Converter[K]](opts.KeyConverter, convert.ByReference[K]{}),
		values:       coalesce[convert.Converter[V]](opts.ValueConverter, convert.ByReference[V]{}),
		policy:       coalesce[expiry.Policy[K]](opts.ExpiryPolicy, expiry.NewEternal[K]()),
		equal:        opts.Equal,
		store:        entrystore.New(shards),
		locks:        keylock.New(shards),
		loader:       opts.Loader,
		writer:       opts.Writer,
		readThrough:  opts.ReadThrough,
		writeThrough: opts.WriteThrough,
		log:          log,
		hooks:        coalesce[Hooks](opts.Hooks, NopHooks{}),
		clock:        opts.Clock,
		closeTimeout: coalesce(opts.CloseTimeout, defaultCloseTimeout),
	}
	if c.equal == nil {
		c.equal = func(a, b V) bool { return reflect.DeepEqual(a, b) }
	}
	if c.clock == nil {
		c.clock = time.Now
	}

	for _, lc := range opts.Listeners {
		r, err := newRegistration(lc)
		if err != nil {
			return nil, err
		}
		c.listeners.add(r)
	}

	c.stats.enabled.Store(opts.StatisticsEnabled)
	c.loads = pool.New(coalesce(opts.LoadWorkers, defaultLoadWorkers), coalesce(opts.LoadQueue, defaultLoadQueue))
	// one worker keeps asynchronous events in dispatch order
	c.events = pool.New(1, coalesce(opts.EventQueue, defaultEventQueue))
	c.state.Store(stateOpen)

	c.log.Debug("cache created", Fields{
		"read_through":  c.readThrough,
		"write_through": c.writeThrough,
		"by_value":      c.values.ByValue(),
		"shards":        shards,
	})
	return c, nil
}

func (c *cache[K, V]) Name() string   { return c.name }
func (c *cache[K, V]) IsClosed() bool { return c.state.Load() == stateClosed }
func (c *cache[K, V]) Len() int       { return c.store.Len() }

func (c *cache[K, V]) Stats() Stats                      { return c.stats.snapshot() }
func (c *cache[K, V]) ClearStats()                       { c.stats.reset() }
func (c *cache[K, V]) SetStatisticsEnabled(enabled bool) { c.stats.enabled.Store(enabled) }

func (c *cache[K, V]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.state.Store(stateClosed)

		ctx, cancel := context.WithTimeout(ctx, c.closeTimeout)
		defer cancel()

		var errs []error
		if err := c.loads.Close(ctx); err != nil {
			c.log.Warn("load tasks still running after close timeout", Fields{"err": err})
			errs = append(errs, fmt.Errorf("drain loads: %w", err))
		}
		if err := c.events.Close(ctx); err != nil {
			c.log.Warn("async events still pending after close timeout", Fields{"err": err})
			errs = append(errs, fmt.Errorf("drain events: %w", err))
		}

		regs := c.listeners.clear()
		c.store.Clear()

		var closed []any
		closeOne := func(v any) {
			cl, ok := v.(io.Closer)
			if !ok {
				return
			}
			for _, prev := range closed {
				if sameObject(prev, v) {
					return
				}
			}
			closed = append(closed, v)
			if err := cl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		closeOne(c.loader)
		closeOne(c.writer)
		closeOne(c.policy)
		for _, r := range regs {
			closeOne(r.cfg.Listener)
		}

		if c.onClose != nil {
			c.onClose()
		}
		c.closeErr = errors.Join(errs...)
		c.log.Debug("cache closed", nil)
	})
	return c.closeErr
}

// sameObject reports whether a and b are the same pointer-shaped value.
func sameObject(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	}
	return false
}

func (c *cache[K, V]) checkOpen() error {
	if c.state.Load() != stateOpen {
		return ErrClosed
	}
	return nil
}

func (c *cache[K, V]) internalKey(key K) (any, error) {
	if isNil(key) {
		return nil, ErrNilKey
	}
	return c.keys.ToInternal(key)
}

func (c *cache[K, V]) internalValue(v V) (any, error) {
	if isNil(v) {
		return nil, ErrNilValue
	}
	return c.values.ToInternal(v)
}

// isNil reports whether v is a nil interface, pointer, map, slice, chan or func.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}

func (c *cache[K, V]) withLock(ik any, fn func()) {
	c.locks.Lock(ik)
	defer c.locks.Unlock(ik)
	fn()
}

// expiryFor asks the policy, turning a panic into an error.
func (c *cache[K, V]) expiryFor(ev expiry.Event, key K) (d expiry.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("expiry policy panic: %v", r)
		}
	}()
	return c.policy.ExpiryFor(ev, key)
}

func (c *cache[K, V]) policyFailed(ev expiry.Event, key K, err error) {
	c.log.Warn("expiry policy failed", Fields{"event": ev.String(), "key": key, "err": err})
	c.hooks.ExpiryPolicyFailed(c.name, ev, err)
}

// creationExpiry is the deadline of a new entry. A failing policy or an
// Unchanged answer means never expire.
func (c *cache[K, V]) creationExpiry(key K, now time.Time) int64 {
	d, err := c.expiryFor(expiry.Created, key)
	if err != nil {
		c.policyFailed(expiry.Created, key, err)
		d = expiry.Eternal
	} else if d.IsUnchanged() {
		d = expiry.Eternal
	}
	return d.ExpireAt(now)
}

// touch applies an accessed or updated expiry to e. A failing policy keeps
// the current deadline.
func (c *cache[K, V]) touch(ev expiry.Event, key K, e *entrystore.Entry, now time.Time) {
	d, err := c.expiryFor(ev, key)
	if err != nil {
		c.policyFailed(ev, key, err)
		return
	}
	if d.IsUnchanged() {
		return
	}
	e.SetExpireAt(d.ExpireAt(now))
}

// live returns the entry for ik when it exists and has not expired. An
// expired entry is removed and its EXPIRED event buffered. Key lock held.
func (c *cache[K, V]) live(key K, ik any, now time.Time, d *dispatcher[K, V]) (*entrystore.Entry, bool) {
	e, ok := c.store.Get(ik)
	if !ok {
		return nil, false
	}
	if e.IsExpired(now.UnixNano()) {
		c.store.Remove(ik)
		c.stats.expiration(1)
		d.expired(key, e.Value())
		return nil, false
	}
	return e, true
}

// insert creates a new entry. Key lock held, no live entry present.
func (c *cache[K, V]) insert(key K, ik, iv any, now time.Time, d *dispatcher[K, V]) {
	c.store.Put(ik, entrystore.NewEntry(iv, now.UnixNano(), c.creationExpiry(key, now)))
	d.created(key, iv)
}

// update replaces the value of a live entry in place and returns the old
// stored value. Key lock held.
func (c *cache[K, V]) update(key K, e *entrystore.Entry, iv any, now time.Time, d *dispatcher[K, V]) any {
	old := e.Value()
	e.SetValue(iv, now.UnixNano())
	c.touch(expiry.Updated, key, e, now)
	d.updated(key, iv, old)
	return old
}

// upsert stores iv whether or not a live entry exists. Key lock held.
func (c *cache[K, V]) upsert(key K, ik, iv any, now time.Time, d *dispatcher[K, V]) (old any, replaced bool) {
	if e, ok := c.live(key, ik, now, d); ok {
		return c.update(key, e, iv, now, d), true
	}
	c.insert(key, ik, iv, now, d)
	return nil, false
}

func (c *cache[K, V]) drop(key K, ik any, e *entrystore.Entry, d *dispatcher[K, V]) {
	c.store.Remove(ik)
	d.removed(key, e.Value())
}

func (c *cache[K, V]) writeThroughOn() bool { return c.writeThrough && c.writer != nil }

func (c *cache[K, V]) write(ctx context.Context, key K, v V) error {
	if !c.writeThroughOn() {
		return nil
	}
	if err := c.writer.Write(ctx, key, v); err != nil {
		return writerErr("write", []any{key}, err)
	}
	return nil
}

func (c *cache[K, V]) delete(ctx context.Context, key K) error {
	if !c.writeThroughOn() {
		return nil
	}
	if err := c.writer.Delete(ctx, key); err != nil {
		return writerErr("delete", []any{key}, err)
	}
	return nil
}

// load reads key through the Loader when read-through is on.
func (c *cache[K, V]) load(ctx context.Context, key K) (V, bool, error) {
	var zero V
	if !c.readThrough || c.loader == nil {
		return zero, false, nil
	}
	v, ok, err := c.loader.Load(ctx, key)
	if err != nil {
		return zero, false, loaderErr(key, err)
	}
	if !ok || isNil(v) {
		return zero, false, nil
	}
	return v, true, nil
}

// external converts a stored value for the caller.
func (c *cache[K, V]) external(iv any) (V, error) {
	return c.values.FromInternal(iv)
}
