package entrycache

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every operation on a closed cache or registry.
	ErrClosed = errors.New("entrycache: closed")

	ErrNilKey       = errors.New("entrycache: nil key")
	ErrNilValue     = errors.New("entrycache: nil value")
	ErrNilProcessor = errors.New("entrycache: nil entry processor")

	// ErrTypeMismatch is returned by Configure and Lookup when a cache exists
	// under the name with different key or value types.
	ErrTypeMismatch = errors.New("entrycache: cache exists with different key/value types")

	// ErrQueueFull is returned by LoadAll when the background load queue
	// cannot take another task.
	ErrQueueFull = errors.New("entrycache: load queue is full")

	// ErrIllegalIteratorState is returned by Iterator.Remove without a
	// preceding successful Next.
	ErrIllegalIteratorState = errors.New("entrycache: iterator has no current entry")

	// ErrNoListener is returned when a ListenerConfig's Listener implements
	// none of the listener interfaces.
	ErrNoListener = errors.New("entrycache: value implements no listener interface")
)

// LoaderError wraps a failure of the configured Loader.
// Key is nil for bulk loads.
type LoaderError struct {
	Key any
	Err error
}

func (e *LoaderError) Error() string {
	if e.Key == nil {
		return fmt.Sprintf("entrycache: load failed: %v", e.Err)
	}
	return fmt.Sprintf("entrycache: load %v failed: %v", e.Key, e.Err)
}

func (e *LoaderError) Unwrap() error { return e.Err }

// WriterError wraps a failure of the configured Writer. Op is "write" or
// "delete". For bulk calls Keys lists the entries that were not applied.
type WriterError struct {
	Op   string
	Keys []any
	Err  error
}

func (e *WriterError) Error() string {
	switch len(e.Keys) {
	case 0:
		return fmt.Sprintf("entrycache: %s failed: %v", e.Op, e.Err)
	case 1:
		return fmt.Sprintf("entrycache: %s %v failed: %v", e.Op, e.Keys[0], e.Err)
	default:
		return fmt.Sprintf("entrycache: %s failed for %d keys: %v", e.Op, len(e.Keys), e.Err)
	}
}

func (e *WriterError) Unwrap() error { return e.Err }

// ProcessorError wraps an error returned (or a panic raised) by an
// EntryProcessor. The entry is left untouched.
type ProcessorError struct {
	Key any
	Err error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("entrycache: entry processor for %v failed: %v", e.Key, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

func loaderErr(key any, err error) error {
	var le *LoaderError
	if errors.As(err, &le) {
		return err
	}
	return &LoaderError{Key: key, Err: err}
}

func writerErr(op string, keys []any, err error) error {
	var we *WriterError
	if errors.As(err, &we) {
		return err
	}
	return &WriterError{Op: op, Keys: keys, Err: err}
}
