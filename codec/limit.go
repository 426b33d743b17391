package codec

import "fmt"

// Limit wraps a codec and refuses to decode payloads larger than MaxDecode
// bytes. MaxDecode <= 0 disables the check. Useful when payloads come from a
// shared backing store that other processes can write to.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c Limit[V]) Name() string               { return c.Inner.Name() }
func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("codec: payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
