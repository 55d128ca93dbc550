package broker

import (
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipi-ecs/ecs/pkg/dds"
	"github.com/ipi-ecs/ecs/pkg/transport"
)

func newTestConnHandle(t *testing.T) *connHandle {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	conn := transport.NewConn(server)
	t.Cleanup(func() { conn.Close() })
	return newConnHandle(dds.NewSession(conn))
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	conn := newTestConnHandle(t)
	id := uuid.New()

	res := r.Register(conn, dds.SubsystemInfo{UUID: id, Name: "pump"})
	require.True(t, res.OK)

	info, alive, ok := r.Get(id)
	require.True(t, ok)
	assert.True(t, alive)
	assert.Equal(t, "pump", info.Name)
}

func TestRegistryRegisterRejectsWhileBoundElsewhere(t *testing.T) {
	r := NewRegistry()
	first := newTestConnHandle(t)
	second := newTestConnHandle(t)
	id := uuid.New()

	res := r.Register(first, dds.SubsystemInfo{UUID: id, Name: "pump"})
	require.True(t, res.OK)

	res = r.Register(second, dds.SubsystemInfo{UUID: id, Name: "pump"})
	assert.False(t, res.OK)
	assert.Equal(t, dds.ESubsystemDisconnected, res.Reason)
}

func TestRegistryReRegisterAfterDisconnectSucceeds(t *testing.T) {
	r := NewRegistry()
	first := newTestConnHandle(t)
	second := newTestConnHandle(t)
	id := uuid.New()

	require.True(t, r.Register(first, dds.SubsystemInfo{UUID: id, Name: "pump"}).OK)
	first.markClosed()

	res := r.Register(second, dds.SubsystemInfo{UUID: id, Name: "pump"})
	assert.True(t, res.OK)

	_, alive, ok := r.Get(id)
	require.True(t, ok)
	assert.True(t, alive)
}

func TestRegistryResolveByName(t *testing.T) {
	r := NewRegistry()
	conn := newTestConnHandle(t)
	id := uuid.New()
	require.True(t, r.Register(conn, dds.SubsystemInfo{UUID: id, Name: "valve"}).OK)

	got, ok := r.Resolve("valve")
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = r.Resolve("nonexistent")
	assert.False(t, ok)
}

func TestRegistryPutKVAndCachedKV(t *testing.T) {
	r := NewRegistry()
	conn := newTestConnHandle(t)
	id := uuid.New()
	require.True(t, r.Register(conn, dds.SubsystemInfo{UUID: id, Name: "pump"}).OK)

	notify, ok := r.PutKV(id, "speed", []byte("42"))
	require.True(t, ok)
	assert.Empty(t, notify)

	v, ok := r.CachedKV(id, "speed")
	require.True(t, ok)
	assert.Equal(t, []byte("42"), v)
}

func TestRegistrySubscribeBeforeAndAfterRegistration(t *testing.T) {
	r := NewRegistry()
	subscriber := newTestConnHandle(t)
	owner := newTestConnHandle(t)
	id := uuid.New()

	r.Subscribe(subscriber, id, "speed")

	require.True(t, r.Register(owner, dds.SubsystemInfo{UUID: id, Name: "pump"}).OK)
	notify, ok := r.PutKV(id, "speed", []byte("7"))
	require.True(t, ok)
	require.Len(t, notify, 1)
	assert.Same(t, subscriber, notify[0])
}

func TestRegistryUnbindConnRemovesTemporaryAndKeepsPermanent(t *testing.T) {
	r := NewRegistry()
	conn := newTestConnHandle(t)
	permID := uuid.New()
	tempID := uuid.New()

	require.True(t, r.Register(conn, dds.SubsystemInfo{UUID: permID, Name: "perm"}).OK)
	require.True(t, r.Register(conn, dds.SubsystemInfo{UUID: tempID, Name: "temp", Temporary: true}).OK)

	unbound, removed := r.UnbindConn(conn)
	assert.Contains(t, unbound, permID)
	assert.Contains(t, removed, tempID)

	_, alive, ok := r.Get(permID)
	require.True(t, ok)
	assert.False(t, alive)

	_, _, ok = r.Get(tempID)
	assert.False(t, ok)
}

func TestRegistryCountAlive(t *testing.T) {
	r := NewRegistry()
	conn := newTestConnHandle(t)
	aliveID := uuid.New()
	deadID := uuid.New()
	deadConn := newTestConnHandle(t)

	require.True(t, r.Register(conn, dds.SubsystemInfo{UUID: aliveID, Name: "a"}).OK)
	require.True(t, r.Register(deadConn, dds.SubsystemInfo{UUID: deadID, Name: "d"}).OK)
	unbound, _ := r.UnbindConn(deadConn)
	require.Contains(t, unbound, deadID)

	alive, dead := r.CountAlive()
	assert.Equal(t, 1, alive)
	assert.Equal(t, 1, dead)
}
