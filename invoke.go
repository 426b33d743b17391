package entrycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/entrycache/expiry"
	"github.com/unkn0wn-root/entrycache/internal/entrystore"
)

// EntryProcessor runs atomically against one entry, under its key lock.
// Changes made through the MutableEntry are applied only when the processor
// returns without error; an error or panic leaves the entry untouched.
type EntryProcessor[K comparable, V any] func(e MutableEntry[K, V], args ...any) (any, error)

// MutableEntry is the processor's view of an entry. Operations compose:
// the last one wins, except that removing an entry created (or loaded)
// within the same invocation leaves the cache as it was.
type MutableEntry[K comparable, V any] interface {
	Key() K
	// Exists reports whether the entry exists, as changed so far.
	Exists() bool
	// Value returns the current value, loading it through the Loader when
	// the entry is absent and read-through is on.
	Value() (V, bool)
	SetValue(v V) error
	Remove()
}

// InvokeResult is one key's outcome from InvokeAll.
type InvokeResult struct {
	Value any
	Err   error
}

type entryOp uint8

const (
	opNone entryOp = iota
	opAccess
	opLoad
	opCreate
	opUpdate
	opRemove
)

type mutableEntry[K comparable, V any] struct {
	c        *cache[K, V]
	ctx      context.Context
	key      K
	existing *entrystore.Entry

	value V
	op    entryOp
	read  bool
	err   error // first loader or conversion failure
}

func (m *mutableEntry[K, V]) Key() K { return m.key }

func (m *mutableEntry[K, V]) Exists() bool {
	switch m.op {
	case opLoad, opCreate, opUpdate:
		return true
	case opRemove:
		return false
	}
	return m.existing != nil
}

func (m *mutableEntry[K, V]) Value() (V, bool) {
	var zero V
	m.read = true
	switch m.op {
	case opRemove:
		return zero, false
	case opAccess, opLoad, opCreate, opUpdate:
		return m.value, true
	}

	if m.existing != nil {
		v, err := m.c.external(m.existing.Value())
		if err != nil {
			m.fail(err)
			return zero, false
		}
		m.value, m.op = v, opAccess
		return v, true
	}
	v, ok, err := m.c.load(m.ctx, m.key)
	if err != nil {
		m.fail(err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	m.value, m.op = v, opLoad
	return v, true
}

func (m *mutableEntry[K, V]) SetValue(v V) error {
	if isNil(v) {
		return ErrNilValue
	}
	m.value = v
	if m.existing != nil {
		m.op = opUpdate
	} else {
		m.op = opCreate
	}
	return nil
}

func (m *mutableEntry[K, V]) Remove() {
	var zero V
	m.value = zero
	if m.op == opCreate || m.op == opLoad {
		m.op = opNone
		return
	}
	m.op = opRemove
}

func (m *mutableEntry[K, V]) fail(err error) {
	if m.err == nil {
		m.err = err
	}
}

func (c *cache[K, V]) Invoke(ctx context.Context, key K, p EntryProcessor[K, V], args ...any) (any, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNilProcessor
	}
	ik, err := c.internalKey(key)
	if err != nil {
		return nil, err
	}

	d := c.dispatcher()
	var res any
	c.withLock(ik, func() {
		res, err = c.invokeLocked(ctx, key, ik, p, args, d)
	})
	d.dispatch()
	return res, err
}

func (c *cache[K, V]) invokeLocked(ctx context.Context, key K, ik any, p EntryProcessor[K, V], args []any, d *dispatcher[K, V]) (any, error) {
	now := c.clock()
	e, _ := c.live(key, ik, now, d)
	m := &mutableEntry[K, V]{c: c, ctx: ctx, key: key, existing: e}

	res, err := runProcessor(p, m, args)
	if err != nil {
		var pe *ProcessorError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &ProcessorError{Key: key, Err: err}
	}
	if m.err != nil {
		return nil, m.err
	}
	if err := c.apply(ctx, m, ik, now, d); err != nil {
		return nil, err
	}
	return res, nil
}

func runProcessor[K comparable, V any](p EntryProcessor[K, V], m *mutableEntry[K, V], args []any) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p(m, args...)
}

// apply commits the processor's net operation.
func (c *cache[K, V]) apply(ctx context.Context, m *mutableEntry[K, V], ik any, now time.Time, d *dispatcher[K, V]) error {
	key, e := m.key, m.existing
	if m.read {
		if e != nil {
			c.stats.hit(1)
		} else {
			c.stats.miss(1)
		}
	}

	switch m.op {
	case opAccess:
		c.touch(expiry.Accessed, key, e, now)
	case opLoad:
		iv, err := c.values.ToInternal(m.value)
		if err != nil {
			return err
		}
		c.insert(key, ik, iv, now, d)
	case opCreate:
		iv, err := c.values.ToInternal(m.value)
		if err != nil {
			return err
		}
		if err := c.write(ctx, key, m.value); err != nil {
			return err
		}
		c.insert(key, ik, iv, now, d)
		c.stats.put(1)
	case opUpdate:
		iv, err := c.values.ToInternal(m.value)
		if err != nil {
			return err
		}
		if err := c.write(ctx, key, m.value); err != nil {
			return err
		}
		c.update(key, e, iv, now, d)
		c.stats.put(1)
	case opRemove:
		if err := c.delete(ctx, key); err != nil {
			return err
		}
		if e != nil {
			c.drop(key, ik, e, d)
			c.stats.removal(1)
		}
	}
	return nil
}

// InvokeAll runs p once per distinct key, each under its own key lock.
// Per-key failures are reported in the result; ErrClosed and key errors stop
// the whole call.
func (c *cache[K, V]) InvokeAll(ctx context.Context, keys []K, p EntryProcessor[K, V], args ...any) (map[K]InvokeResult, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNilProcessor
	}
	order, _, err := c.internalKeys(keys)
	if err != nil {
		return nil, err
	}

	out := make(map[K]InvokeResult, len(order))
	for _, k := range order {
		res, err := c.Invoke(ctx, k, p, args...)
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		if err != nil || res != nil {
			out[k] = InvokeResult{Value: res, Err: err}
		}
	}
	return out, nil
}
