package entrycache

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type EventType uint8

const (
	EventCreated EventType = iota
	EventUpdated
	EventRemoved
	EventExpired
	numEventTypes
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	case EventExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event describes one entry change. For removed and expired events Value is
// the value that went away.
type Event[K comparable, V any] struct {
	Cache       string
	Type        EventType
	Key         K
	Value       V
	OldValue    V
	HasOldValue bool
}

type CreatedListener[K comparable, V any] interface {
	OnCreated(events []Event[K, V])
}

type UpdatedListener[K comparable, V any] interface {
	OnUpdated(events []Event[K, V])
}

type RemovedListener[K comparable, V any] interface {
	OnRemoved(events []Event[K, V])
}

type ExpiredListener[K comparable, V any] interface {
	OnExpired(events []Event[K, V])
}

// ListenerConfig registers a listener. Listener must implement at least one
// of CreatedListener, UpdatedListener, RemovedListener, ExpiredListener and
// only receives the event types it implements.
type ListenerConfig[K comparable, V any] struct {
	Listener any
	// Filter drops events it returns false for. nil passes everything.
	Filter func(Event[K, V]) bool
	// OldValueRequired keeps OldValue populated; otherwise it is zeroed.
	OldValueRequired bool
	// Synchronous listeners run on the calling goroutine before the
	// operation returns. Others run on the event worker, in order.
	Synchronous bool
}

type registration[K comparable, V any] struct {
	id       uuid.UUID
	cfg      ListenerConfig[K, V]
	handlers [numEventTypes]func([]Event[K, V])
}

func newRegistration[K comparable, V any](cfg ListenerConfig[K, V]) (*registration[K, V], error) {
	r := &registration[K, V]{id: uuid.New(), cfg: cfg}
	n := 0
	if l, ok := cfg.Listener.(CreatedListener[K, V]); ok {
		r.handlers[EventCreated] = l.OnCreated
		n++
	}
	if l, ok := cfg.Listener.(UpdatedListener[K, V]); ok {
		r.handlers[EventUpdated] = l.OnUpdated
		n++
	}
	if l, ok := cfg.Listener.(RemovedListener[K, V]); ok {
		r.handlers[EventRemoved] = l.OnRemoved
		n++
	}
	if l, ok := cfg.Listener.(ExpiredListener[K, V]); ok {
		r.handlers[EventExpired] = l.OnExpired
		n++
	}
	if n == 0 {
		return nil, ErrNoListener
	}
	return r, nil
}

// listeners is a copy-on-write registration list; readers never lock.
type listeners[K comparable, V any] struct {
	mu   sync.Mutex
	regs atomic.Pointer[[]*registration[K, V]]
}

func (l *listeners[K, V]) load() []*registration[K, V] {
	if p := l.regs.Load(); p != nil {
		return *p
	}
	return nil
}

func (l *listeners[K, V]) add(r *registration[K, V]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.load()
	next := make([]*registration[K, V], 0, len(cur)+1)
	next = append(append(next, cur...), r)
	l.regs.Store(&next)
}

func (l *listeners[K, V]) remove(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.load()
	next := make([]*registration[K, V], 0, len(cur))
	for _, r := range cur {
		if r.id != id {
			next = append(next, r)
		}
	}
	if len(next) == len(cur) {
		return false
	}
	l.regs.Store(&next)
	return true
}

func (l *listeners[K, V]) clear() []*registration[K, V] {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.load()
	l.regs.Store(nil)
	return cur
}

func (c *cache[K, V]) RegisterListener(cfg ListenerConfig[K, V]) (uuid.UUID, error) {
	if err := c.checkOpen(); err != nil {
		return uuid.Nil, err
	}
	r, err := newRegistration(cfg)
	if err != nil {
		return uuid.Nil, err
	}
	c.listeners.add(r)
	c.log.Debug("listener registered", Fields{"listener": r.id.String(), "sync": cfg.Synchronous})
	return r.id, nil
}

func (c *cache[K, V]) DeregisterListener(id uuid.UUID) bool {
	return c.listeners.remove(id)
}

// pending is an event recorded under a key lock, still in stored form.
type pending[K comparable] struct {
	typ   EventType
	key   K
	value any
	old   any
}

// dispatcher buffers the events of one operation and delivers them once the
// operation has released its locks. Nothing is buffered for event types no
// listener asked for.
type dispatcher[K comparable, V any] struct {
	c    *cache[K, V]
	regs []*registration[K, V]
	want [numEventTypes]bool
	buf  []pending[K]
}

func (c *cache[K, V]) dispatcher() *dispatcher[K, V] {
	d := &dispatcher[K, V]{c: c, regs: c.listeners.load()}
	for _, r := range d.regs {
		for t, h := range r.handlers {
			if h != nil {
				d.want[t] = true
			}
		}
	}
	return d
}

func (d *dispatcher[K, V]) created(key K, iv any) {
	if d.want[EventCreated] {
		d.buf = append(d.buf, pending[K]{typ: EventCreated, key: key, value: iv})
	}
}

func (d *dispatcher[K, V]) updated(key K, iv, old any) {
	if d.want[EventUpdated] {
		d.buf = append(d.buf, pending[K]{typ: EventUpdated, key: key, value: iv, old: old})
	}
}

func (d *dispatcher[K, V]) removed(key K, old any) {
	if d.want[EventRemoved] {
		d.buf = append(d.buf, pending[K]{typ: EventRemoved, key: key, old: old})
	}
}

func (d *dispatcher[K, V]) expired(key K, old any) {
	if d.want[EventExpired] {
		d.buf = append(d.buf, pending[K]{typ: EventExpired, key: key, old: old})
	}
}

// expired first, so a put over an expired entry reports EXPIRED before CREATED.
var dispatchOrder = [...]EventType{EventExpired, EventCreated, EventUpdated, EventRemoved}

func (d *dispatcher[K, V]) dispatch() {
	if len(d.buf) == 0 {
		return
	}
	var byType [numEventTypes][]Event[K, V]
	for _, p := range d.buf {
		ev, ok := d.c.event(p)
		if ok {
			byType[p.typ] = append(byType[p.typ], ev)
		}
	}
	d.buf = nil

	c := d.c
	for _, t := range dispatchOrder {
		batch := byType[t]
		if len(batch) == 0 {
			continue
		}
		for _, r := range d.regs {
			if r.handlers[t] == nil {
				continue
			}
			if r.cfg.Synchronous {
				c.deliver(r, t, batch)
				continue
			}
			r, t := r, t
			if !c.events.TrySubmit(func() { c.deliver(r, t, batch) }) {
				c.log.Warn("async events dropped", Fields{"event": t.String(), "count": len(batch)})
				c.hooks.AsyncEventsDropped(c.name, t, len(batch))
			}
		}
	}
}

func (c *cache[K, V]) event(p pending[K]) (Event[K, V], bool) {
	ev := Event[K, V]{Cache: c.name, Type: p.typ, Key: p.key}
	var err error
	switch p.typ {
	case EventCreated:
		ev.Value, err = c.values.FromInternal(p.value)
	case EventUpdated:
		if ev.Value, err = c.values.FromInternal(p.value); err == nil {
			ev.OldValue, err = c.values.FromInternal(p.old)
			ev.HasOldValue = true
		}
	default:
		ev.Value, err = c.values.FromInternal(p.old)
		ev.OldValue, ev.HasOldValue = ev.Value, true
	}
	if err != nil {
		c.log.Error("event value conversion failed", Fields{"event": p.typ.String(), "err": err})
		return ev, false
	}
	return ev, true
}

// deliver filters batch for r and calls its handler. A panicking filter or
// listener is contained and reported.
func (c *cache[K, V]) deliver(r *registration[K, V], t EventType, batch []Event[K, V]) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("listener panicked", Fields{"event": t.String(), "listener": r.id.String(), "panic": rec})
			c.hooks.ListenerPanicked(c.name, t, rec)
		}
	}()

	out := make([]Event[K, V], 0, len(batch))
	for _, ev := range batch {
		if r.cfg.Filter != nil && !r.cfg.Filter(ev) {
			continue
		}
		if !r.cfg.OldValueRequired {
			var zero V
			ev.OldValue, ev.HasOldValue = zero, false
		}
		out = append(out, ev)
	}
	if len(out) > 0 {
		r.handlers[t](out)
	}
}
