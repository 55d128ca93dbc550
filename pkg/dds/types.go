package dds

import "fmt"

// TypeSpecifier describes the declared shape of a KV property's value (C8).
// Subsystems attach one to every local property; the broker never inspects
// it, only forwards it to GET_KV_DESC callers.
type TypeSpecifier interface {
	// Tag is the wire byte identifying this specifier's concrete type.
	Tag() byte
	// Encode serializes the specifier's parameters, if any (without the tag).
	Encode() []byte
}

// UnspecType is the default specifier: no declared shape.
type UnspecType struct{}

func (UnspecType) Tag() byte     { return TypeUnspec }
func (UnspecType) Encode() []byte { return nil }

// ByteType declares an opaque byte-string value with no further structure.
type ByteType struct{}

func (ByteType) Tag() byte     { return TypeBytes }
func (ByteType) Encode() []byte { return nil }

// IntegerTypeSpecifier declares a value is a big-endian integer, optionally
// bounded. HasRange false means the value is unbounded and Min/Max are
// meaningless.
type IntegerTypeSpecifier struct {
	HasRange bool
	Min      int32
	Max      int32
}

func (IntegerTypeSpecifier) Tag() byte { return TypeInt }

func (t IntegerTypeSpecifier) Encode() []byte {
	if !t.HasRange {
		return nil
	}
	seg, err := EncodeSegments(EncodeUint32(uint32(t.Min)), EncodeUint32(uint32(t.Max)))
	if err != nil {
		// Min/Max are fixed 4-byte fields; EncodeSegments only fails on
		// oversized segments, which cannot happen here.
		panic(err)
	}
	return seg
}

// Accepts reports whether v satisfies the specifier: always true when
// HasRange is false, otherwise Min <= v <= Max.
func (t IntegerTypeSpecifier) Accepts(v int32) bool {
	return !t.HasRange || (v >= t.Min && v <= t.Max)
}

// EncodeTypeSpecifier produces the full wire form: a one-byte tag followed
// by the specifier's own encoding.
func EncodeTypeSpecifier(t TypeSpecifier) []byte {
	return append([]byte{t.Tag()}, t.Encode()...)
}

// DecodeTypeSpecifier parses the wire form produced by EncodeTypeSpecifier.
func DecodeTypeSpecifier(data []byte) (TypeSpecifier, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("dds: empty type specifier")
	}
	tag, rest := data[0], data[1:]
	switch tag {
	case TypeUnspec:
		return UnspecType{}, nil
	case TypeBytes:
		return ByteType{}, nil
	case TypeInt:
		if len(rest) == 0 {
			return IntegerTypeSpecifier{HasRange: false}, nil
		}
		parts, err := DecodeSegmentsExactly(rest, 2)
		if err != nil {
			return nil, fmt.Errorf("dds: integer type specifier: %w", err)
		}
		min, err := DecodeUint32(parts[0])
		if err != nil {
			return nil, err
		}
		max, err := DecodeUint32(parts[1])
		if err != nil {
			return nil, err
		}
		return IntegerTypeSpecifier{HasRange: true, Min: int32(min), Max: int32(max)}, nil
	default:
		return nil, fmt.Errorf("dds: unknown type specifier tag 0x%02x", tag)
	}
}
