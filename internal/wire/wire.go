// Package wire frames values written to a byte provider by the backing store.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version byte = 1
	hdrLen       = 4 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("entrycache: corrupt frame")
	magic4     = [...]byte{'E', 'C', 'F', 'R'}
)

// Frame is one stored value. ExpireAt is unix nanos; 0 means no deadline.
type Frame struct {
	Gen      uint64
	ExpireAt int64
	Payload  []byte
}

// Encode: magic(4) | ver(1) | gen(u64 be) | expireAt(i64 be) | vlen(u32 be) | payload(vlen)
func Encode(f Frame) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(f.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], f.Gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(f.ExpireAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(f.Payload)))
	buf.Write(u4[:])

	buf.Write(f.Payload)
	return buf.Bytes()
}

// Decode parses b. Payload aliases b.
func Decode(b []byte) (Frame, error) {
	if len(b) < hdrLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return Frame{}, ErrCorrupt
	}
	off := 5

	gen := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	exp := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	if exp < 0 {
		return Frame{}, ErrCorrupt
	}

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off {
		return Frame{}, ErrCorrupt
	}

	return Frame{Gen: gen, ExpireAt: exp, Payload: b[off:]}, nil
}
