package client

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipi-ecs/ecs/pkg/dds"
	"github.com/ipi-ecs/ecs/pkg/transaction"
)

func TestNewSubsystemRegistersUnderClient(t *testing.T) {
	c := New(zerolog.Nop(), "")
	s := c.NewSubsystem("pump", false)

	c.mu.Lock()
	_, ok := c.subsystems[s.UUID()]
	c.mu.Unlock()
	assert.True(t, ok)
}

func TestSubsystemInfoIncludesProvidersAndHandlers(t *testing.T) {
	s := newTestSubsystem()
	s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, true, false)
	s.AddEventHandler(NewEventHandler("prime", dds.UnspecType{}, dds.UnspecType{}, nil))

	info := s.info()
	assert.Equal(t, "widget", info.Name)
	require.Len(t, info.KVs, 1)
	assert.Equal(t, "speed", info.KVs[0].Key)
	require.Len(t, info.Handlers, 1)
	assert.Equal(t, "prime", info.Handlers[0].Name)
}

func TestAddEventHandlerRegistersOnClient(t *testing.T) {
	s := newTestSubsystem()
	h := NewEventHandler("prime", dds.UnspecType{}, dds.UnspecType{}, nil)
	s.AddEventHandler(h)

	s.client.mu.Lock()
	got, ok := s.client.handlers["prime"]
	s.client.mu.Unlock()
	require.True(t, ok)
	assert.Same(t, h, got)
}

func TestProviderLookupByKey(t *testing.T) {
	s := newTestSubsystem()
	p := s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, true, false)

	got, ok := s.provider("speed")
	require.True(t, ok)
	assert.Same(t, KVProvider(p), got)

	_, ok = s.provider("missing")
	assert.False(t, ok)
}

func newIncomingForTest(t *testing.T, data []byte) (*transaction.Incoming, *transaction.Manager) {
	t.Helper()
	m := transaction.NewManager()
	frame := append([]byte{0x01}, transaction.EncodeUUID(uuid.New())...)
	frame = append(frame, data...)
	require.NoError(t, m.Received(frame))
	in, ok := m.Incoming().Get(context.Background())
	require.True(t, ok)
	return in, m
}

func drainRet(t *testing.T, m *transaction.Manager) []byte {
	t.Helper()
	frame, ok := m.SendData().Get(context.Background())
	require.True(t, ok)
	require.GreaterOrEqual(t, len(frame), 17)
	return frame[17:]
}

func TestHandleRSetKVUnknownSubsystemRejects(t *testing.T) {
	c := New(zerolog.Nop(), "")
	targetBytes, _ := uuid.New().MarshalBinary()
	payload, err := dds.EncodeSegments(targetBytes, targetBytes, []byte("speed"), []byte("9"))
	require.NoError(t, err)

	in, m := newIncomingForTest(t, payload)
	c.handleRSetKV(in, payload)

	result := drainRet(t, m)
	assert.Equal(t, dds.StateRej, result[0])
}

func TestHandleRSetKVUnknownKeyRejects(t *testing.T) {
	s := newTestSubsystem()
	selfBytes, _ := s.UUID().MarshalBinary()
	payload, err := dds.EncodeSegments(selfBytes, selfBytes, []byte("missing"), []byte("9"))
	require.NoError(t, err)

	in, m := newIncomingForTest(t, payload)
	s.client.handleRSetKV(in, payload)

	result := drainRet(t, m)
	assert.Equal(t, dds.StateRej, result[0])
	assert.Equal(t, "Unknown key", string(result[1:]))
}

func TestHandleRSetKVWritesThroughProvider(t *testing.T) {
	s := newTestSubsystem()
	p := s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, true, false)
	selfBytes, _ := s.UUID().MarshalBinary()
	payload, err := dds.EncodeSegments(selfBytes, selfBytes, []byte("speed"), []byte("9"))
	require.NoError(t, err)

	in, m := newIncomingForTest(t, payload)
	s.client.handleRSetKV(in, payload)

	result := drainRet(t, m)
	assert.Equal(t, dds.StateOK, result[0])
	v, has := p.Read()
	require.True(t, has)
	assert.Equal(t, []byte("9"), v)
}

func TestHandleRGetKVReturnsValue(t *testing.T) {
	s := newTestSubsystem()
	p := s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, true, false)
	require.NoError(t, p.Write([]byte("5")))

	selfBytes, _ := s.UUID().MarshalBinary()
	payload, err := dds.EncodeSegments(selfBytes, selfBytes, []byte("speed"))
	require.NoError(t, err)

	in, m := newIncomingForTest(t, payload)
	s.client.handleRGetKV(in, payload)

	result := drainRet(t, m)
	assert.Equal(t, dds.StateOK, result[0])
	assert.Equal(t, []byte("5"), result[1:])
}

func TestHandleRGetKVDescEncodesDescriptor(t *testing.T) {
	s := newTestSubsystem()
	s.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, true, true)

	selfBytes, _ := s.UUID().MarshalBinary()
	payload, err := dds.EncodeSegments(selfBytes, selfBytes, []byte("speed"))
	require.NoError(t, err)

	in, m := newIncomingForTest(t, payload)
	s.client.handleRGetKVDesc(in, payload)

	result := drainRet(t, m)
	require.Equal(t, dds.StateOK, result[0])
	desc, err := dds.DecodeKVDescriptor(result[1:])
	require.NoError(t, err)
	assert.Equal(t, "speed", desc.Key)
	assert.True(t, desc.Readable)
	assert.True(t, desc.Writable)
	assert.True(t, desc.Published)
}
