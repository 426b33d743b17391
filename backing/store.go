// Package backing provides a ready Loader and Writer over any byte provider.
//
// Each value is stored as a framed record carrying the generation it was
// written under and an optional deadline. Writes and deletes bump the key's
// generation first, so a record is only trusted while its generation is
// current. Stale, corrupt, expired or undecodable records are deleted on
// read and reported as misses.
//
//	bs, _ := backing.New(backing.Options[string, User]{
//	    Namespace: "app:prod:user",
//	    Provider:  redisProvider,
//	    Codec:     codec.JSON[User]{},
//	    GenStore:  genstore.NewRedisGenStore(rdb, "app:prod:user"),
//	})
//	users, _ := entrycache.New(entrycache.Options[string, User]{
//	    Name:   "users",
//	    Loader: bs, ReadThrough: true,
//	    Writer: bs, WriteThrough: true,
//	})
package backing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/entrycache"
	"github.com/unkn0wn-root/entrycache/codec"
	"github.com/unkn0wn-root/entrycache/genstore"
	"github.com/unkn0wn-root/entrycache/internal/wire"
	pr "github.com/unkn0wn-root/entrycache/provider"
)

var ErrRejected = errors.New("backing: provider rejected write")

type CostFunc func(storageKey string, frame []byte) int64

// Options tune a Store. Namespace, Provider and Codec are required.
type Options[K comparable, V any] struct {
	Namespace string // prefix for storage keys, e.g. "app:prod:user"
	Provider  pr.Provider
	Codec     codec.Codec[V]

	GenStore     genstore.GenStore // nil => LocalGenStore (in-process)
	KeyFunc      func(K) string    // nil => fmt.Sprint
	TTL          time.Duration     // 0 => records never expire
	Cost         CostFunc          // default 1
	Logger       entrycache.Logger // if nil, NopLogger is used
	Hooks        entrycache.Hooks  // if nil, NopHooks is used
	Clock        func() time.Time  // nil => time.Now
	CloseTimeout time.Duration     // bound on closing provider and gens; 0 => 5s
}

type Store[K comparable, V any] struct {
	ns       string
	provider pr.Provider
	codec    codec.Codec[V]
	gen      genstore.GenStore
	keyFn    func(K) string
	ttl      time.Duration
	cost     CostFunc
	log      entrycache.Logger
	hooks    entrycache.Hooks
	clock    func() time.Time

	closeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

var (
	_ entrycache.Loader[string, int] = (*Store[string, int])(nil)
	_ entrycache.Writer[string, int] = (*Store[string, int])(nil)
)

func New[K comparable, V any](opts Options[K, V]) (*Store[K, V], error) {
	if opts.Namespace == "" || opts.Provider == nil || opts.Codec == nil {
		return nil, errors.New("backing: Namespace, Provider and Codec are required")
	}
	s := &Store[K, V]{
		ns:           opts.Namespace,
		provider:     opts.Provider,
		codec:        opts.Codec,
		gen:          opts.GenStore,
		keyFn:        opts.KeyFunc,
		ttl:          opts.TTL,
		cost:         opts.Cost,
		log:          opts.Logger,
		hooks:        opts.Hooks,
		clock:        opts.Clock,
		closeTimeout: opts.CloseTimeout,
	}
	if s.gen == nil {
		s.gen = genstore.NewLocalGenStore(time.Hour, 30*24*time.Hour)
	}
	if s.keyFn == nil {
		s.keyFn = func(k K) string { return fmt.Sprint(k) }
	}
	if s.cost == nil {
		s.cost = func(string, []byte) int64 { return 1 }
	}
	if s.log == nil {
		s.log = entrycache.NopLogger{}
	}
	s.log = s.log.With(entrycache.Fields{"backing": s.ns})
	if s.hooks == nil {
		s.hooks = entrycache.NopHooks{}
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.closeTimeout <= 0 {
		s.closeTimeout = 5 * time.Second
	}
	return s, nil
}

func (s *Store[K, V]) storageKey(k K) string { return s.ns + ":" + s.keyFn(k) }

func (s *Store[K, V]) Load(ctx context.Context, key K) (V, bool, error) {
	sk := s.storageKey(key)
	cur, err := s.gen.Snapshot(ctx, sk)
	if err != nil {
		s.hooks.GenerationError(sk, err)
		var zero V
		return zero, false, fmt.Errorf("backing: snapshot %s: %w", sk, err)
	}
	return s.read(ctx, sk, cur)
}

// read fetches and validates the record at sk against generation cur.
func (s *Store[K, V]) read(ctx context.Context, sk string, cur uint64) (V, bool, error) {
	var zero V
	raw, ok, err := s.provider.Get(ctx, sk)
	if err != nil || !ok {
		return zero, false, err
	}
	v, ok := s.check(ctx, sk, raw, cur)
	return v, ok, nil
}

// check decodes raw and trusts it only under generation cur. Anything else
// is deleted and reported.
func (s *Store[K, V]) check(ctx context.Context, sk string, raw []byte, cur uint64) (V, bool) {
	var zero V
	f, err := wire.Decode(raw)
	if err != nil {
		s.heal(ctx, sk, "corrupt")
		return zero, false
	}
	if f.Gen != cur {
		s.heal(ctx, sk, "gen_mismatch")
		return zero, false
	}
	if f.ExpireAt != 0 && s.clock().UnixNano() >= f.ExpireAt {
		s.heal(ctx, sk, "expired")
		return zero, false
	}
	v, err := s.codec.Decode(f.Payload)
	if err != nil {
		s.heal(ctx, sk, "value_decode")
		return zero, false
	}
	return v, true
}

func (s *Store[K, V]) heal(ctx context.Context, sk, reason string) {
	_ = s.provider.Del(ctx, sk)
	s.log.Debug("dropped untrusted record", entrycache.Fields{"key": sk, "reason": reason})
	s.hooks.BackingSelfHeal(sk, reason)
}

func (s *Store[K, V]) LoadAll(ctx context.Context, keys []K) (map[K]V, error) {
	sks := make([]string, len(keys))
	for i, k := range keys {
		sks[i] = s.storageKey(k)
	}
	gens, err := s.gen.SnapshotMany(ctx, sks)
	if err != nil {
		s.hooks.GenerationError(s.ns, err)
		return nil, fmt.Errorf("backing: snapshot %d keys: %w", len(keys), err)
	}
	out := make(map[K]V, len(keys))
	if bg, ok := s.provider.(pr.BatchGetter); ok {
		raws, err := bg.GetMany(ctx, sks)
		if err != nil {
			return nil, fmt.Errorf("backing: get %d keys: %w", len(keys), err)
		}
		for i, k := range keys {
			raw, found := raws[sks[i]]
			if !found {
				continue
			}
			if v, ok := s.check(ctx, sks[i], raw, gens[sks[i]]); ok {
				out[k] = v
			}
		}
		return out, nil
	}
	for i, k := range keys {
		v, ok, err := s.read(ctx, sks[i], gens[sks[i]])
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// Write bumps the key's generation and stores value under it. Of two racing
// writers the one holding the older generation leaves a record that reads
// as stale, never as current.
func (s *Store[K, V]) Write(ctx context.Context, key K, value V) error {
	sk := s.storageKey(key)
	payload, err := s.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("backing: encode %s: %w", sk, err)
	}
	gen, err := s.gen.Bump(ctx, sk)
	if err != nil {
		s.hooks.GenerationError(sk, err)
		return fmt.Errorf("backing: bump %s: %w", sk, err)
	}

	f := wire.Frame{Gen: gen, Payload: payload}
	if s.ttl > 0 {
		f.ExpireAt = s.clock().Add(s.ttl).UnixNano()
	}
	raw := wire.Encode(f)
	ok, err := s.provider.Set(ctx, sk, raw, s.cost(sk, raw), s.ttl)
	if err != nil {
		return fmt.Errorf("backing: set %s: %w", sk, err)
	}
	if !ok {
		s.log.Debug("write rejected by provider (pressure)", entrycache.Fields{"key": sk})
		return ErrRejected
	}
	return nil
}

// Delete bumps the generation, so any copy of the record still in flight
// reads as stale, then removes it.
func (s *Store[K, V]) Delete(ctx context.Context, key K) error {
	sk := s.storageKey(key)
	_, bumpErr := s.gen.Bump(ctx, sk)
	if bumpErr != nil {
		s.hooks.GenerationError(sk, bumpErr)
		s.log.Error("gen bump error", entrycache.Fields{"key": sk, "err": bumpErr})
		bumpErr = fmt.Errorf("backing: bump %s: %w", sk, bumpErr)
	}
	if err := s.provider.Del(ctx, sk); err != nil {
		return errors.Join(bumpErr, fmt.Errorf("backing: del %s: %w", sk, err))
	}
	return bumpErr
}

func (s *Store[K, V]) WriteAll(ctx context.Context, entries map[K]V) ([]K, error) {
	var (
		failed []K
		errs   []error
	)
	for k, v := range entries {
		if err := s.Write(ctx, k, v); err != nil {
			failed = append(failed, k)
			errs = append(errs, err)
		}
	}
	return failed, errors.Join(errs...)
}

func (s *Store[K, V]) DeleteAll(ctx context.Context, keys []K) ([]K, error) {
	var (
		failed []K
		errs   []error
	)
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			failed = append(failed, k)
			errs = append(errs, err)
		}
	}
	return failed, errors.Join(errs...)
}

// Close closes the provider and the generation store. A cache closes its
// Loader and Writer, so a Store handed to a cache is closed with it.
func (s *Store[K, V]) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
		defer cancel()
		s.closeErr = errors.Join(s.provider.Close(ctx), s.gen.Close(ctx))
	})
	return s.closeErr
}
