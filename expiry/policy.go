package expiry

import "time"

// Policy answers how long an entry for key should live after event.
// Returning an error is the same as returning Unchanged for Accessed and
// Updated, and Eternal for Created.
type Policy[K any] interface {
	ExpiryFor(event Event, key K) (Duration, error)
}

// Func adapts a function to Policy.
type Func[K any] func(event Event, key K) (Duration, error)

func (f Func[K]) ExpiryFor(event Event, key K) (Duration, error) { return f(event, key) }

type eternal[K any] struct{}

func (eternal[K]) ExpiryFor(ev Event, _ K) (Duration, error) {
	if ev == Created {
		return Eternal, nil
	}
	return Unchanged, nil
}

// NewEternal never expires entries.
func NewEternal[K any]() Policy[K] { return eternal[K]{} }

type created[K any] struct{ ttl time.Duration }

func (p created[K]) ExpiryFor(ev Event, _ K) (Duration, error) {
	if ev == Created {
		return TTL(p.ttl), nil
	}
	return Unchanged, nil
}

// NewCreated expires entries ttl after they were created, regardless of
// later reads or writes.
func NewCreated[K any](ttl time.Duration) Policy[K] { return created[K]{ttl: ttl} }

type accessed[K any] struct{ ttl time.Duration }

func (p accessed[K]) ExpiryFor(ev Event, _ K) (Duration, error) {
	switch ev {
	case Created, Accessed:
		return TTL(p.ttl), nil
	default:
		return Unchanged, nil
	}
}

// NewAccessed expires entries ttl after their creation or last read.
func NewAccessed[K any](ttl time.Duration) Policy[K] { return accessed[K]{ttl: ttl} }

type modified[K any] struct{ ttl time.Duration }

func (p modified[K]) ExpiryFor(ev Event, _ K) (Duration, error) {
	switch ev {
	case Created, Updated:
		return TTL(p.ttl), nil
	default:
		return Unchanged, nil
	}
}

// NewModified expires entries ttl after their creation or last update.
func NewModified[K any](ttl time.Duration) Policy[K] { return modified[K]{ttl: ttl} }

type touched[K any] struct{ ttl time.Duration }

func (p touched[K]) ExpiryFor(Event, K) (Duration, error) { return TTL(p.ttl), nil }

// NewTouched expires entries ttl after any creation, read or update.
func NewTouched[K any](ttl time.Duration) Policy[K] { return touched[K]{ttl: ttl} }
