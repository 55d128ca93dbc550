package dds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentsRoundTrip(t *testing.T) {
	cases := [][][]byte{
		nil,
		{[]byte("")},
		{[]byte("a"), []byte("bc"), []byte("")},
		{[]byte("hello"), []byte("world")},
	}
	for _, parts := range cases {
		encoded, err := EncodeSegments(parts...)
		require.NoError(t, err)
		decoded, err := DecodeSegments(encoded)
		require.NoError(t, err)
		if len(parts) == 0 {
			assert.Empty(t, decoded)
			continue
		}
		require.Len(t, decoded, len(parts))
		for i := range parts {
			assert.Equal(t, parts[i], decoded[i])
		}
	}
}

func TestDecodeSegmentsRejectsTruncation(t *testing.T) {
	_, err := DecodeSegments([]byte{0x00, 0x05, 'a', 'b'})
	assert.Error(t, err)

	_, err = DecodeSegments([]byte{0x01})
	assert.Error(t, err)
}

func TestDecodeSegmentsExactlyArity(t *testing.T) {
	encoded, err := EncodeSegments([]byte("a"), []byte("b"))
	require.NoError(t, err)

	_, err = DecodeSegmentsExactly(encoded, 3)
	assert.Error(t, err)

	parts, err := DecodeSegmentsExactly(encoded, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), parts[0])
	assert.Equal(t, []byte("b"), parts[1])
}

func TestUint32RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 42, 0xFFFFFFFF} {
		b := EncodeUint32(v)
		got, err := DecodeUint32(b)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}
