package entrycache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RegistryOptions tune a Registry.
type RegistryOptions struct {
	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // default for caches that set none
}

// Registry is a name-keyed directory of caches. A closed cache leaves the
// registry; closing the registry closes every cache it still holds.
type Registry struct {
	mu     sync.Mutex
	caches map[string]registered
	closed bool

	log   Logger
	hooks Hooks
}

type registered interface {
	Name() string
	Close(ctx context.Context) error
}

func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		caches: make(map[string]registered),
		log:    coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:  opts.Hooks,
	}
}

// Configure returns the cache registered under opts.Name, creating it from
// opts when absent. An existing cache with other key/value types is an
// ErrTypeMismatch.
func Configure[K comparable, V any](r *Registry, opts Options[K, V]) (Cache[K, V], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if cur, ok := r.caches[opts.Name]; ok {
		c, ok := cur.(*cache[K, V])
		if !ok {
			return nil, fmt.Errorf("%w: %q is %T", ErrTypeMismatch, opts.Name, cur)
		}
		return c, nil
	}

	if opts.Logger == nil {
		opts.Logger = r.log
	}
	if opts.Hooks == nil {
		opts.Hooks = r.hooks
	}
	c, err := newCache(opts)
	if err != nil {
		return nil, err
	}
	c.onClose = func() { r.release(c.name, c) }
	r.caches[c.name] = c
	r.log.Info("cache configured", Fields{"cache": c.name})
	return c, nil
}

// Lookup returns the cache registered under name, if any.
func Lookup[K comparable, V any](r *Registry, name string) (Cache[K, V], bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	cur, ok := r.caches[name]
	if !ok {
		return nil, false, nil
	}
	c, ok := cur.(*cache[K, V])
	if !ok {
		return nil, false, fmt.Errorf("%w: %q is %T", ErrTypeMismatch, name, cur)
	}
	return c, true, nil
}

// Names lists registered caches, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.caches))
	for n := range r.caches {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Remove closes and unregisters the named cache. It reports whether one existed.
func (r *Registry) Remove(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	c, ok := r.caches[name]
	delete(r.caches, name)
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, c.Close(ctx)
}

func (r *Registry) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close closes every cache in parallel. Idempotent.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	caches := r.caches
	r.caches = make(map[string]registered)
	r.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, c := range caches {
		g.Go(func() error {
			if err := c.Close(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("close %q: %w", c.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	r.log.Info("registry closed", Fields{"caches": len(caches)})
	return errors.Join(errs...)
}

// release drops name when it still maps to c.
func (r *Registry) release(name string, c registered) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.caches[name]; ok && cur == c {
		delete(r.caches, name)
	}
}
