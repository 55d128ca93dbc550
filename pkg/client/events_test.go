package client

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipi-ecs/ecs/pkg/dds"
)

func TestNewInProgressEventAllUnreachableIsImmediatelyTerminal(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ev := newInProgressEvent(uuid.New(), uuid.New(), map[uuid.UUID]bool{a: false, b: false})

	assert.False(t, ev.IsInProgress())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, ev.After(ctx))

	results := ev.Results()
	assert.Equal(t, dds.EventRej, results[a].Status)
	assert.Equal(t, dds.EventRej, results[b].Status)
}

func TestNewInProgressEventReachableStartsInProgress(t *testing.T) {
	target := uuid.New()
	ev := newInProgressEvent(uuid.New(), uuid.New(), map[uuid.UUID]bool{target: true})

	assert.True(t, ev.IsInProgress())
	assert.Equal(t, dds.EventInProgress, ev.Results()[target].Status)
}

func TestInProgressEventResolveOneOfTwoLeavesInProgress(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ev := newInProgressEvent(uuid.New(), uuid.New(), map[uuid.UUID]bool{a: true, b: true})

	ev.resolve(a, dds.EventOK, []byte("done"))
	assert.True(t, ev.IsInProgress())
	assert.Equal(t, dds.EventOK, ev.Results()[a].Status)
	assert.Equal(t, []byte("done"), ev.Results()[a].Value)
	assert.Equal(t, dds.EventInProgress, ev.Results()[b].Status)
}

func TestInProgressEventResolveAllClosesDone(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ev := newInProgressEvent(uuid.New(), uuid.New(), map[uuid.UUID]bool{a: true, b: true})

	ev.resolve(a, dds.EventOK, []byte("1"))
	ev.resolve(b, dds.EventRej, nil)

	assert.False(t, ev.IsInProgress())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, ev.After(ctx))
}

func TestInProgressEventResolveUnknownTargetIsNoop(t *testing.T) {
	a := uuid.New()
	ev := newInProgressEvent(uuid.New(), uuid.New(), map[uuid.UUID]bool{a: true})

	ev.resolve(uuid.New(), dds.EventOK, []byte("ignored"))
	assert.True(t, ev.IsInProgress())
	assert.Len(t, ev.Results(), 1)
}

func TestInProgressEventDoubleResolveDoesNotPanicOnClose(t *testing.T) {
	a := uuid.New()
	ev := newInProgressEvent(uuid.New(), uuid.New(), map[uuid.UUID]bool{a: true})

	ev.resolve(a, dds.EventOK, []byte("1"))
	assert.NotPanics(t, func() {
		ev.resolve(a, dds.EventOK, []byte("2"))
	})
}

func TestInProgressEventAfterContextCancelledBeforeTerminal(t *testing.T) {
	a := uuid.New()
	ev := newInProgressEvent(uuid.New(), uuid.New(), map[uuid.UUID]bool{a: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, ev.After(ctx))
}

func TestClientOnEventRetResolvesTrackedEvent(t *testing.T) {
	c := newTestSubsystem().client
	target := uuid.New()
	eventID := uuid.New()
	ev := newInProgressEvent(eventID, uuid.New(), map[uuid.UUID]bool{target: true})

	c.mu.Lock()
	c.inProgress[eventID] = ev
	c.mu.Unlock()

	targetBytes, _ := target.MarshalBinary()
	originatorBytes, _ := uuid.New().MarshalBinary()
	eventBytes, _ := eventID.MarshalBinary()
	c.onEventRet(targetBytes, originatorBytes, eventBytes, dds.EventOK, []byte("result"))

	require.False(t, ev.IsInProgress())
	assert.Equal(t, []byte("result"), ev.Results()[target].Value)
}

func TestClientOnEventRetUnknownEventIgnored(t *testing.T) {
	c := newTestSubsystem().client
	targetBytes, _ := uuid.New().MarshalBinary()
	originatorBytes, _ := uuid.New().MarshalBinary()
	eventBytes, _ := uuid.New().MarshalBinary()

	assert.NotPanics(t, func() {
		c.onEventRet(targetBytes, originatorBytes, eventBytes, dds.EventOK, []byte("result"))
	})
}

func TestClientOnEventRetMalformedUUIDIgnored(t *testing.T) {
	c := newTestSubsystem().client
	assert.NotPanics(t, func() {
		c.onEventRet([]byte("short"), []byte("short"), []byte("short"), dds.EventOK, nil)
	})
}
