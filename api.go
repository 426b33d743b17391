package entrycache

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/entrycache/convert"
	"github.com/unkn0wn-root/entrycache/expiry"
)

// Cache is a named, typed key/value cache.
//
// Every operation returns ErrClosed once the cache is closed, ErrNilKey for a
// nil key and ErrNilValue for a nil value. Values are compared with
// Options.Equal in the conditional operations.
type Cache[K comparable, V any] interface {
	Name() string
	IsClosed() bool
	// Close is idempotent. It waits (bounded by Options.CloseTimeout) for
	// background loads and asynchronous events, drops all entries and closes
	// any collaborator that implements io.Closer.
	Close(ctx context.Context) error

	// Single key
	Get(ctx context.Context, key K) (v V, ok bool, err error)
	ContainsKey(ctx context.Context, key K) (bool, error)
	Put(ctx context.Context, key K, value V) error
	GetAndPut(ctx context.Context, key K, value V) (old V, ok bool, err error)
	PutIfAbsent(ctx context.Context, key K, value V) (bool, error)
	Replace(ctx context.Context, key K, value V) (bool, error)
	ReplaceIfEquals(ctx context.Context, key K, oldValue, newValue V) (bool, error)
	GetAndReplace(ctx context.Context, key K, value V) (old V, ok bool, err error)
	Remove(ctx context.Context, key K) (bool, error)
	RemoveIfEquals(ctx context.Context, key K, oldValue V) (bool, error)
	GetAndRemove(ctx context.Context, key K) (old V, ok bool, err error)

	// Bulk (keys are locked together, in one global order)
	GetAll(ctx context.Context, keys []K) (map[K]V, error)
	PutAll(ctx context.Context, entries map[K]V) error
	RemoveAll(ctx context.Context, keys []K) error
	// RemoveAllEntries removes every entry, with write-through and events.
	RemoveAllEntries(ctx context.Context) error
	// Clear drops every entry without calling the Writer or firing events.
	Clear(ctx context.Context) error

	// Processors
	Invoke(ctx context.Context, key K, p EntryProcessor[K, V], args ...any) (any, error)
	InvokeAll(ctx context.Context, keys []K, p EntryProcessor[K, V], args ...any) (map[K]InvokeResult, error)

	// LoadAll loads keys through the Loader on a background worker and calls
	// done (when non-nil) exactly once with the outcome. It returns an error,
	// and never calls done, when the task cannot be queued.
	LoadAll(ctx context.Context, keys []K, replaceExisting bool, done func(error)) error

	// Iteration skips expired entries and does not refresh access expiry.
	Iterator(ctx context.Context) (*Iterator[K, V], error)
	All(ctx context.Context) iter.Seq2[K, V]

	RegisterListener(cfg ListenerConfig[K, V]) (uuid.UUID, error)
	DeregisterListener(id uuid.UUID) bool

	Stats() Stats
	ClearStats()
	SetStatisticsEnabled(enabled bool)

	// Len is the number of stored entries, expired ones not yet observed included.
	Len() int
}

// Loader reads from the system of record.
type Loader[K comparable, V any] interface {
	// Load returns ok=false when the key does not exist.
	Load(ctx context.Context, key K) (v V, ok bool, err error)
	// LoadAll returns the keys it found. Missing keys are simply absent.
	LoadAll(ctx context.Context, keys []K) (map[K]V, error)
}

// Writer writes to the system of record. It is called before the cache is
// mutated; an error aborts the mutation.
type Writer[K comparable, V any] interface {
	Write(ctx context.Context, key K, value V) error
	Delete(ctx context.Context, key K) error
	// WriteAll and DeleteAll return the keys that were not applied. A non-nil
	// error with an empty failed list means nothing was applied.
	WriteAll(ctx context.Context, entries map[K]V) (failed []K, err error)
	DeleteAll(ctx context.Context, keys []K) (failed []K, err error)
}

// Options configure a cache. Only Name is required.
type Options[K comparable, V any] struct {
	// Required
	Name string

	KeyConverter   convert.Converter[K] // nil => convert.ByReference
	ValueConverter convert.Converter[V] // nil => convert.ByReference
	ExpiryPolicy   expiry.Policy[K]     // nil => expiry.NewEternal

	Loader       Loader[K, V]
	Writer       Writer[K, V]
	ReadThrough  bool // load on miss; needs Loader
	WriteThrough bool // write/delete through; needs Writer

	StatisticsEnabled bool
	Listeners         []ListenerConfig[K, V] // registered at creation

	Equal        func(a, b V) bool // nil => reflect.DeepEqual
	Logger       Logger            // nil => NopLogger
	Hooks        Hooks             // nil => NopHooks
	Clock        func() time.Time  // nil => time.Now
	Shards       int               // entry store and lock stripes; 0 => 64
	LoadWorkers  int               // LoadAll workers; 0 => 4
	LoadQueue    int               // queued LoadAll tasks; 0 => 256
	EventQueue   int               // queued async event batches; 0 => 1024
	CloseTimeout time.Duration     // bound on draining background work; 0 => 5s
}

// New creates a standalone cache. Caches shared by name belong in a Registry.
func New[K comparable, V any](opts Options[K, V]) (Cache[K, V], error) {
	return newCache(opts)
}
