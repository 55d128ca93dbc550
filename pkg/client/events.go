package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ipi-ecs/ecs/pkg/dds"
	"github.com/ipi-ecs/ecs/pkg/transaction"
)

// EventHandler answers an incoming RCALL_EVENT. The callback receives the
// calling subsystem's uuid, the decoded parameter, and a handle it must
// eventually terminate with Ret or Fail; Feedback may be sent any number of
// times before that.
type EventHandler struct {
	name       string
	paramType  dds.TypeSpecifier
	returnType dds.TypeSpecifier
	fn         func(sender uuid.UUID, param []byte, handle *IncomingEvent)
}

// NewEventHandler declares a handler for name; register it on a subsystem
// with RegisteredSubsystem.AddEventHandler to advertise it.
func NewEventHandler(name string, paramType, returnType dds.TypeSpecifier, fn func(uuid.UUID, []byte, *IncomingEvent)) *EventHandler {
	return &EventHandler{name: name, paramType: paramType, returnType: returnType, fn: fn}
}

// IncomingEvent is the handle an EventHandler uses to terminate (or report
// progress on) one invocation.
type IncomingEvent struct {
	in *transaction.Incoming
}

// Ret terminates the call successfully with value.
func (e *IncomingEvent) Ret(value []byte) { e.in.Ret(okPayload(value)) }

// Fail terminates the call with a rejection reason.
func (e *IncomingEvent) Fail(reason string) { e.in.Ret(rejPayload(reason)) }

// Feedback reports partial progress without terminating the call.
func (e *IncomingEvent) Feedback(partial []byte) { e.in.Feedback(partial) }

func (c *Client) handleRCallEvent(session *dds.Session, in *transaction.Incoming, payload []byte) {
	parts, err := dds.DecodeSegmentsExactly(payload, 5)
	if err != nil {
		in.Nak()
		return
	}
	sender, err := uuid.FromBytes(parts[1])
	if err != nil {
		in.Nak()
		return
	}
	name := string(parts[3])
	param := parts[4]

	c.mu.Lock()
	handler, ok := c.handlers[name]
	c.mu.Unlock()
	if !ok {
		in.Ret(rejPayload(dds.EDoesNotHandleEvent))
		return
	}

	in.Ack()
	go handler.fn(sender, param, &IncomingEvent{in: in})
}

// TargetResult is the per-target outcome tracked by an InProgressEvent.
type TargetResult struct {
	Status byte // dds.EventPending/InProgress/OK/Rej
	Value  []byte
}

// InProgressEvent tracks one CALL_EVENT this client originated: the set of
// targets the broker reported reachable, and each target's result as
// EVENT_RET messages arrive. It is terminal once no target remains
// IN_PROGRESS (PENDING counts as not-yet-started-but-not-terminal either,
// matching the broker never pushing until a target resolves).
type InProgressEvent struct {
	eventID uuid.UUID
	origin  uuid.UUID

	mu      sync.Mutex
	results map[uuid.UUID]*TargetResult
	done    chan struct{}
}

func newInProgressEvent(eventID, origin uuid.UUID, targets map[uuid.UUID]bool) *InProgressEvent {
	results := make(map[uuid.UUID]*TargetResult, len(targets))
	for t, reachable := range targets {
		status := byte(dds.EventInProgress)
		if !reachable {
			status = dds.EventRej
		}
		results[t] = &TargetResult{Status: status}
	}
	ev := &InProgressEvent{eventID: eventID, origin: origin, results: results, done: make(chan struct{})}
	if ev.terminalLocked() {
		close(ev.done)
	}
	return ev
}

func (e *InProgressEvent) terminalLocked() bool {
	for _, r := range e.results {
		if r.Status == dds.EventPending || r.Status == dds.EventInProgress {
			return false
		}
	}
	return true
}

// IsInProgress reports whether any target remains outstanding.
func (e *InProgressEvent) IsInProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.terminalLocked()
}

// Results returns a snapshot of every target's current result.
func (e *InProgressEvent) Results() map[uuid.UUID]TargetResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[uuid.UUID]TargetResult, len(e.results))
	for t, r := range e.results {
		out[t] = *r
	}
	return out
}

// After blocks until every target is terminal or ctx expires.
func (e *InProgressEvent) After(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *InProgressEvent) resolve(target uuid.UUID, status byte, value []byte) {
	e.mu.Lock()
	if r, ok := e.results[target]; ok {
		r.Status = status
		r.Value = value
	}
	terminal := e.terminalLocked()
	e.mu.Unlock()
	if terminal {
		select {
		case <-e.done:
		default:
			close(e.done)
		}
	}
}

func (c *Client) onEventRet(targetBytes, originatorBytes, eventBytes []byte, status byte, value []byte) {
	target, err1 := uuid.FromBytes(targetBytes)
	eventID, err2 := uuid.FromBytes(eventBytes)
	if err1 != nil || err2 != nil {
		return
	}
	c.mu.Lock()
	ev, ok := c.inProgress[eventID]
	c.mu.Unlock()
	if !ok {
		return
	}
	ev.resolve(target, status, value)
}

// EventProvider calls a named event on other subsystems.
type EventProvider struct {
	client     *Client
	self       uuid.UUID
	name       string
	paramType  dds.TypeSpecifier
	returnType dds.TypeSpecifier
}

// NewEventProvider declares a caller for name, attributed to self (the
// calling subsystem's uuid).
func (c *Client) NewEventProvider(self uuid.UUID, name string, paramType, returnType dds.TypeSpecifier) *EventProvider {
	return &EventProvider{client: c, self: self, name: name, paramType: paramType, returnType: returnType}
}

// Call issues CALL_EVENT to targets (nil/empty means every registered
// subsystem) and returns an InProgressEvent seeded from the broker's
// immediate reachability reply.
func (p *EventProvider) Call(ctx context.Context, param []byte, targets []uuid.UUID) (*InProgressEvent, error) {
	session, err := p.client.currentSession()
	if err != nil {
		return nil, err
	}

	targetRows := make([][]byte, 0, len(targets))
	for _, t := range targets {
		b, _ := t.MarshalBinary()
		targetRows = append(targetRows, b)
	}
	targetsBlob, err := dds.EncodeSegments(targetRows...)
	if err != nil {
		return nil, err
	}
	selfBytes, _ := p.self.MarshalBinary()
	payload, err := dds.EncodeSegments(targetsBlob, selfBytes, []byte(p.name), param)
	if err != nil {
		return nil, err
	}

	result, err := session.Transactions().Send(append([]byte{dds.OpCallEvent}, payload...)).Wait(ctx)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || result[0] != dds.StateOK {
		return nil, context.DeadlineExceeded
	}
	parts, err := dds.DecodeSegmentsExactly(result[1:], 2)
	if err != nil {
		return nil, err
	}
	eventID, err := uuid.FromBytes(parts[0])
	if err != nil {
		return nil, err
	}
	rows, err := dds.DecodeSegments(parts[1])
	if err != nil {
		return nil, err
	}
	reachability := make(map[uuid.UUID]bool, len(rows))
	for _, row := range rows {
		fields, err := dds.DecodeSegmentsExactly(row, 2)
		if err != nil {
			continue
		}
		t, err := uuid.FromBytes(fields[0])
		if err != nil || len(fields[1]) != 1 {
			continue
		}
		reachability[t] = fields[1][0] != 0
	}

	ev := newInProgressEvent(eventID, p.self, reachability)
	p.client.mu.Lock()
	p.client.inProgress[eventID] = ev
	p.client.mu.Unlock()
	return ev, nil
}

// DefaultEventTimeout is a 30-second age threshold for outstanding events
// and transactions. Nothing in this package applies it: waits on events and
// transactions end only when the ctx passed to them does.
const DefaultEventTimeout = 30 * time.Second
