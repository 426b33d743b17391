package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type profile struct {
	ID   int      `json:"id" msgpack:"id" cbor:"id"`
	Tags []string `json:"tags" msgpack:"tags" cbor:"tags"`
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "cbor", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			c, err := ByName[profile](name)
			require.NoError(t, err)
			assert.Equal(t, name, c.Name())

			in := profile{ID: 7, Tags: []string{"a", "b"}}
			b, err := c.Encode(in)
			require.NoError(t, err)
			out, err := c.Decode(b)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}

	_, err := ByName[profile]("yaml")
	assert.Error(t, err)
}

func TestDeterministicCBORIsStableForMaps(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	a, err := c.Encode(map[string]int{"x": 1, "y": 2, "z": 3})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		b, err := c.Encode(map[string]int{"z": 3, "y": 2, "x": 1})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	b, err := c.Encode(wrapperspb.String("hello"))
	require.NoError(t, err)
	out, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", out.GetValue())
}

func TestLimit(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 3}
	_, err := c.Decode([]byte("abcd"))
	assert.Error(t, err)

	v, err := c.Decode([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
	assert.Equal(t, "string", c.Name())
}
