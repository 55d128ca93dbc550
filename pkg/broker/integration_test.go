package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipi-ecs/ecs/pkg/broker"
	"github.com/ipi-ecs/ecs/pkg/client"
	"github.com/ipi-ecs/ecs/pkg/dds"
)

func serveOnEphemeralPort(t *testing.T, b *broker.Broker) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = b.Serve(ctx, "127.0.0.1:0") }()

	addrCtx, addrCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer addrCancel()
	addr, err := b.Addr(addrCtx)
	require.NoError(t, err)
	return addr
}

func newConnectedClient(t *testing.T, addr string) *client.Client {
	t.Helper()
	c := client.New(zerolog.Nop(), addr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBrokerClientHandshakeAssignsUUID(t *testing.T) {
	b := broker.New(zerolog.Nop(), nil)
	addr := serveOnEphemeralPort(t, b)

	c := newConnectedClient(t, addr)
	assert.NotEqual(t, uuid.UUID{}, c.UUID())
}

func TestBrokerClientKVSetAndGetRoundTrip(t *testing.T) {
	b := broker.New(zerolog.Nop(), nil)
	addr := serveOnEphemeralPort(t, b)

	owner := newConnectedClient(t, addr)
	sys := owner.NewSubsystem("pump", false)
	prop := sys.NewLocalProperty("speed", dds.IntegerTypeSpecifier{}, true, true, true)
	require.NoError(t, prop.Write([]byte("100")))

	// REG_SUBSYSTEM is fire-and-forget from the owner's perspective (Write
	// only waits for its own SET_KV transaction); give the broker a moment
	// to process the registration before resolving by name.
	require.Eventually(t, func() bool {
		_, ok := b.Registry().Resolve("pump")
		return ok
	}, time.Second, 10*time.Millisecond)

	id, ok := b.Registry().Resolve("pump")
	require.True(t, ok)

	reader := newConnectedClient(t, addr)
	rp := reader.NewRemoteProperty(id, dds.KVDescriptor{Key: "speed", Published: true, Readable: true})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// REQ_SUBSCRIBE travels over its own async fire-and-forget path, so the
	// subscription may not be installed yet; keep re-publishing until one
	// write lands after the broker has it, which fans the update out to rp.
	var value []byte
	require.Eventually(t, func() bool {
		if err := prop.Write([]byte("100")); err != nil {
			return false
		}
		v, err := rp.Read(ctx)
		if err != nil || v == nil {
			return false
		}
		value = v
		return true
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []byte("100"), value)
}

func TestBrokerClientEventCallRoundTrip(t *testing.T) {
	b := broker.New(zerolog.Nop(), nil)
	addr := serveOnEphemeralPort(t, b)

	callee := newConnectedClient(t, addr)
	sys := callee.NewSubsystem("echoer", false)
	handler := client.NewEventHandler("echo", dds.UnspecType{}, dds.UnspecType{}, func(_ uuid.UUID, param []byte, handle *client.IncomingEvent) {
		handle.Ret(param)
	})
	sys.AddEventHandler(handler)

	require.Eventually(t, func() bool {
		_, ok := b.Registry().Resolve("echoer")
		return ok
	}, time.Second, 10*time.Millisecond)
	targetID, _ := b.Registry().Resolve("echoer")

	caller := newConnectedClient(t, addr)
	callerSys := caller.NewSubsystem("caller", false)
	provider := caller.NewEventProvider(callerSys.UUID(), "echo", dds.UnspecType{}, dds.UnspecType{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inProgress, err := provider.Call(ctx, []byte("ping"), []uuid.UUID{targetID})
	require.NoError(t, err)
	require.NoError(t, inProgress.After(ctx))

	results := inProgress.Results()
	result, ok := results[targetID]
	require.True(t, ok)
	assert.Equal(t, byte(dds.EventOK), result.Status)
	assert.Equal(t, []byte("ping"), result.Value)
}
