package dds

import (
	"encoding/binary"
	"fmt"
)

// maxSegmentLen bounds a single segment so a corrupt or hostile length prefix
// cannot trigger an unbounded allocation.
const maxSegmentLen = 1 << 24

// EncodeSegments concatenates parts into a single segmented byte array (C3):
// each part is prefixed with its own 16-bit big-endian length. It is the
// wire-level analogue of the original's segmented_bytearray.encode.
func EncodeSegments(parts ...[]byte) ([]byte, error) {
	out := make([]byte, 0, 2*len(parts))
	var lenBuf [2]byte
	for _, p := range parts {
		if len(p) > 0xFFFF {
			return nil, fmt.Errorf("dds: segment of %d bytes exceeds 16-bit length", len(p))
		}
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(p)))
		out = append(out, lenBuf[:]...)
		out = append(out, p...)
	}
	return out, nil
}

// MustEncodeSegments is EncodeSegments for callers building payloads from
// values already known to fit; it panics on the same conditions
// EncodeSegments would report as an error.
func MustEncodeSegments(parts ...[]byte) []byte {
	out, err := EncodeSegments(parts...)
	if err != nil {
		panic(err)
	}
	return out
}

// DecodeSegments splits a segmented byte array back into its parts, reading
// length-prefixed records until the input is exhausted.
func DecodeSegments(data []byte) ([][]byte, error) {
	var parts [][]byte
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, fmt.Errorf("dds: truncated segment length prefix")
		}
		n := int(binary.BigEndian.Uint16(data[:2]))
		data = data[2:]
		if n > maxSegmentLen {
			return nil, fmt.Errorf("dds: segment of %d bytes exceeds limit", n)
		}
		if len(data) < n {
			return nil, fmt.Errorf("dds: truncated segment body: want %d, have %d", n, len(data))
		}
		parts = append(parts, data[:n])
		data = data[n:]
	}
	return parts, nil
}

// DecodeSegmentsExactly is DecodeSegments with an expected arity check, for
// the common case of a fixed-shape tuple.
func DecodeSegmentsExactly(data []byte, n int) ([][]byte, error) {
	parts, err := DecodeSegments(data)
	if err != nil {
		return nil, err
	}
	if len(parts) != n {
		return nil, fmt.Errorf("dds: expected %d segments, got %d", n, len(parts))
	}
	return parts, nil
}

// EncodeUint32 and DecodeUint32 encode the 4-byte big-endian integers used
// inside IntegerTypeSpecifier bounds.
func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func DecodeUint32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("dds: uint32 field must be 4 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}
