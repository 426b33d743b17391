// Package provider defines the byte store behind backing.Store.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the []byte that was previously passed to Set for a key. If a store performs
// internal transforms (e.g., compression), they MUST be fully reversed.
//
// The keyspace "<namespace>:" handed to backing.Store is owned by it. Foreign
// writes under that prefix fail frame validation and are deleted.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (0 = no TTL). May ignore cost and
	// TTL if unsupported. Returns ok=false when the store rejected the write
	// under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// BatchGetter is implemented by providers that can fetch many keys in one
// round trip. backing.Store uses it for LoadAll when present.
type BatchGetter interface {
	// GetMany returns the values present among keys; misses are omitted.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
}
