package dds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeSpecifierRoundTrip(t *testing.T) {
	specs := []TypeSpecifier{
		UnspecType{},
		ByteType{},
		IntegerTypeSpecifier{HasRange: false},
		IntegerTypeSpecifier{HasRange: true, Min: -10, Max: 10},
	}
	for _, spec := range specs {
		encoded := EncodeTypeSpecifier(spec)
		decoded, err := DecodeTypeSpecifier(encoded)
		require.NoError(t, err)
		assert.Equal(t, spec, decoded)
	}
}

func TestDecodeTypeSpecifierRejectsUnknownTag(t *testing.T) {
	_, err := DecodeTypeSpecifier([]byte{0xFF})
	assert.Error(t, err)
}

func TestDecodeTypeSpecifierRejectsEmpty(t *testing.T) {
	_, err := DecodeTypeSpecifier(nil)
	assert.Error(t, err)
}

func TestIntegerTypeSpecifierAcceptsRange(t *testing.T) {
	spec := IntegerTypeSpecifier{HasRange: true, Min: 5, Max: 15}
	inRange := spec.Accepts
	assert.True(t, inRange(5))
	assert.True(t, inRange(15))
	assert.False(t, inRange(4))
	assert.False(t, inRange(16))
}
