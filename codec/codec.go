// Package codec serializes keys and values for store-by-value caches and for
// byte-oriented backing providers.
package codec

import "fmt"

// Codec encodes/decodes V to and from bytes. Implementations must be safe
// for concurrent use.
type Codec[V any] interface {
	Name() string
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// ByName returns one of the reflection-based codecs: "json", "cbor"
// (deterministic) or "msgpack".
func ByName[V any](name string) (Codec[V], error) {
	switch name {
	case "", "json":
		return JSON[V]{}, nil
	case "cbor":
		return NewCBOR[V](true)
	case "msgpack":
		return Msgpack[V]{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
