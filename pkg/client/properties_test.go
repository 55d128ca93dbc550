package client

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipi-ecs/ecs/pkg/dds"
)

func newTestSubsystem() *RegisteredSubsystem {
	c := New(zerolog.Nop(), "")
	return c.NewSubsystem("widget", false)
}

func TestLocalPropertyRemoteGetMissingValue(t *testing.T) {
	s := newTestSubsystem()
	p := s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, true, false)

	_, ok, reason := p.RemoteGet()
	assert.False(t, ok)
	assert.Equal(t, dds.ENotSet, reason)
}

func TestLocalPropertyRemoteGetNotReadable(t *testing.T) {
	s := newTestSubsystem()
	p := s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, false, true, false)
	require.NoError(t, p.Write([]byte("5")))

	_, ok, reason := p.RemoteGet()
	assert.False(t, ok)
	assert.Equal(t, dds.EWriteOnly, reason)
}

func TestLocalPropertyRemoteGetAfterWrite(t *testing.T) {
	s := newTestSubsystem()
	p := s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, true, false)
	require.NoError(t, p.Write([]byte("5")))

	v, ok, reason := p.RemoteGet()
	require.True(t, ok)
	assert.Empty(t, reason)
	assert.Equal(t, []byte("5"), v)
}

func TestLocalPropertyRemoteSetNotWritable(t *testing.T) {
	s := newTestSubsystem()
	p := s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, false, false)

	ok, reason := p.RemoteSet([]byte("9"))
	assert.False(t, ok)
	assert.Equal(t, dds.EReadOnly, reason)

	_, has := p.Read()
	assert.False(t, has)
}

func TestLocalPropertyRemoteSetFiresOnSet(t *testing.T) {
	s := newTestSubsystem()
	p := s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, true, false)
	var got []byte
	p.OnSet(func(v []byte) { got = v })

	ok, reason := p.RemoteSet([]byte("42"))
	require.True(t, ok)
	assert.Empty(t, reason)
	assert.Equal(t, []byte("42"), got)

	v, has := p.Read()
	require.True(t, has)
	assert.Equal(t, []byte("42"), v)
}

func TestLocalPropertyWriteUnpublishedSkipsNetwork(t *testing.T) {
	s := newTestSubsystem()
	p := s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, true, false)
	assert.NoError(t, p.Write([]byte("1")))
}

func TestLocalPropertyWritePublishedWithoutSessionErrors(t *testing.T) {
	s := newTestSubsystem()
	p := s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, true, true)
	err := p.Write([]byte("1"))
	assert.Error(t, err)
}

func TestLocalPropertyDescriptorReflectsFlags(t *testing.T) {
	s := newTestSubsystem()
	p := s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, false, true)

	d := p.Descriptor()
	assert.Equal(t, "speed", d.Key)
	assert.True(t, d.Readable)
	assert.False(t, d.Writable)
	assert.True(t, d.Published)
}

func TestKVHandlerDescriptorReadableWritableByCallbackPresence(t *testing.T) {
	s := newTestSubsystem()
	h := s.NewKVHandler("mode", dds.ByteType{})

	d := h.Descriptor()
	assert.False(t, d.Readable)
	assert.False(t, d.Writable)

	h.OnGet(func() ([]byte, error) { return []byte("auto"), nil })
	assert.True(t, h.Descriptor().Readable)
	assert.False(t, h.Descriptor().Writable)

	h.OnSet(func([]byte) error { return nil })
	assert.True(t, h.Descriptor().Writable)
}

func TestKVHandlerRemoteGetWithoutOnGet(t *testing.T) {
	s := newTestSubsystem()
	h := s.NewKVHandler("mode", dds.ByteType{})

	_, ok, reason := h.RemoteGet()
	assert.False(t, ok)
	assert.Equal(t, dds.EWriteOnly, reason)
}

func TestKVHandlerRemoteGetPropagatesCallbackError(t *testing.T) {
	s := newTestSubsystem()
	h := s.NewKVHandler("mode", dds.ByteType{})
	h.OnGet(func() ([]byte, error) { return nil, assert.AnError })

	_, ok, reason := h.RemoteGet()
	assert.False(t, ok)
	assert.Equal(t, assert.AnError.Error(), reason)
}

func TestKVHandlerRemoteSetWithoutOnSet(t *testing.T) {
	s := newTestSubsystem()
	h := s.NewKVHandler("mode", dds.ByteType{})

	ok, reason := h.RemoteSet([]byte("auto"))
	assert.False(t, ok)
	assert.Equal(t, dds.EReadOnly, reason)
}

func TestKVHandlerRemoteSetInvokesCallback(t *testing.T) {
	s := newTestSubsystem()
	h := s.NewKVHandler("mode", dds.ByteType{})
	var got []byte
	h.OnSet(func(v []byte) error {
		got = v
		return nil
	})

	ok, reason := h.RemoteSet([]byte("auto"))
	require.True(t, ok)
	assert.Empty(t, reason)
	assert.Equal(t, []byte("auto"), got)
}

func TestRemoteUnpublishedPropertyWriteRejectsNotWritable(t *testing.T) {
	c := New(zerolog.Nop(), "")
	rp := c.NewRemoteProperty(newTestSubsystem().UUID(), dds.KVDescriptor{Key: "speed", Readable: true, Writable: false})

	err := rp.Write(nil, []byte("9"))
	assert.Error(t, err)
}

func TestRemotePublishedPropertyReadWithoutUpdateReturnsNil(t *testing.T) {
	c := New(zerolog.Nop(), "")
	rp := c.NewRemoteProperty(newTestSubsystem().UUID(), dds.KVDescriptor{Key: "speed", Published: true, Readable: true})

	v, err := rp.Read(nil)
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestRemotePublishedPropertyOnUpdateUpdatesCache(t *testing.T) {
	c := New(zerolog.Nop(), "")
	rp := c.NewRemoteProperty(newTestSubsystem().UUID(), dds.KVDescriptor{Key: "speed", Published: true, Readable: true})

	rp.onUpdate([]byte("77"))

	v, err := rp.Read(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("77"), v)
}
