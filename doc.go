// Package entrycache implements an in-process key/value cache with pluggable
// expiry, read-through and write-through integration with a system of record,
// compare-and-swap operations, entry processors and change events.
//
// Components:
//   - Converter: keys and values are stored by reference or, through a
//     codec.Codec, by value (detached copies in and out).
//   - expiry.Policy: lifetime per created / accessed / updated event.
//     Expiry is lazy: an expired entry is removed by the next operation that
//     touches its key, which also fires exactly one EXPIRED event.
//   - Loader / Writer: the system of record. Loads happen on misses when
//     ReadThrough is set; writes and deletes happen before the cache is
//     mutated when WriteThrough is set, and a failure aborts the mutation.
//   - Listeners: Created/Updated/Removed/Expired listeners, synchronous or
//     asynchronous, with optional filters. Events fire after the mutation is
//     visible and after the key lock is released.
//   - Registry: a name-keyed directory of caches owned by the application.
//
// Concurrency:
//
// Every single-key operation runs under a per-key lock; different keys never
// block each other. Bulk operations lock their whole key set in one global
// order, so overlapping bulk calls cannot deadlock.
//
// Usage:
//
//	reg := entrycache.NewRegistry(entrycache.RegistryOptions{})
//	defer reg.Close(ctx)
//
//	users, _ := entrycache.Configure(reg, entrycache.Options[string, User]{
//	    Name:         "users",
//	    ExpiryPolicy: expiry.NewAccessed[string](10 * time.Minute),
//	    Loader:       db, ReadThrough: true,
//	})
//	u, ok, err := users.Get(ctx, "u:1")
package entrycache
