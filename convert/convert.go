// Package convert moves keys and values across the cache boundary.
//
// ByReference stores what the caller passed. ByValue serializes through a
// codec, so the cache holds an independent copy and every read hands out a
// fresh one. The internal form of a ByValue conversion is a string, which is
// immutable and usable as a map key.
package convert

import (
	"fmt"

	"github.com/unkn0wn-root/entrycache/codec"
)

// Converter turns an external T into its stored form and back.
type Converter[T any] interface {
	ToInternal(T) (any, error)
	FromInternal(any) (T, error)
	// ByValue reports whether stored forms are detached copies.
	ByValue() bool
}

// ByReference is the identity conversion.
type ByReference[T any] struct{}

func (ByReference[T]) ToInternal(v T) (any, error) { return v, nil }

func (ByReference[T]) FromInternal(v any) (T, error) {
	t, ok := v.(T)
	if !ok && v != nil {
		var zero T
		return zero, fmt.Errorf("convert: stored %T is not %T", v, zero)
	}
	return t, nil
}

func (ByReference[T]) ByValue() bool { return false }

// ByValue deep-copies through Codec. For keys the codec must be
// deterministic (equal keys must encode to equal bytes).
type ByValue[T any] struct {
	Codec codec.Codec[T]
}

func (c ByValue[T]) ToInternal(v T) (any, error) {
	b, err := c.Codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("convert: %s encode: %w", c.Codec.Name(), err)
	}
	return string(b), nil
}

func (c ByValue[T]) FromInternal(v any) (T, error) {
	s, ok := v.(string)
	if !ok {
		var zero T
		return zero, fmt.Errorf("convert: stored %T is not a serialized value", v)
	}
	out, err := c.Codec.Decode([]byte(s))
	if err != nil {
		return out, fmt.Errorf("convert: %s decode: %w", c.Codec.Name(), err)
	}
	return out, nil
}

func (ByValue[T]) ByValue() bool { return true }
