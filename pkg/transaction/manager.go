// Package transaction implements the duplex request/response layer (C4) that
// sits on top of any message-preserving transport: one side sends NEW with a
// fresh UUID, the other ACKs (optionally), then RETs or NAKs. It never times
// out on its own — the design leaves wall-clock timeouts to the layer above
// (see the broker and client packages). The manager class itself was never
// retrieved into the pack; this mirrors the no-timeout behavior the original
// control system's callers rely on (see DESIGN.md for the call sites that
// ground it).
package transaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ipi-ecs/ecs/pkg/async"
)

const (
	opcodeNew      byte = 0x01
	opcodeAck      byte = 0x02
	opcodeRet      byte = 0x03
	opcodeNak      byte = 0x04
	opcodeFeedback byte = 0x05
)

const frameHeaderLen = 1 + 16 // opcode + uuid

// OutgoingState is the outgoing-side transaction state machine.
type OutgoingState int

const (
	StateSent OutgoingState = iota
	StateAck
	StateRet
	StateNak
)

func (s OutgoingState) String() string {
	switch s {
	case StateSent:
		return "SENT"
	case StateAck:
		return "ACK"
	case StateRet:
		return "RET"
	case StateNak:
		return "NAK"
	default:
		return "UNKNOWN"
	}
}

// Outgoing is a handle to a transaction this side originated.
type Outgoing struct {
	id   uuid.UUID
	data []byte

	mu         sync.Mutex
	state      OutgoingState
	result     []byte
	lastUpdate time.Time

	future *async.Future[[]byte]
}

// UUID returns the transaction's correlation id.
func (o *Outgoing) UUID() uuid.UUID { return o.id }

// Data returns the payload this side sent with NEW.
func (o *Outgoing) Data() []byte { return o.data }

// State returns the current outgoing-side state.
func (o *Outgoing) State() OutgoingState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Result returns the RET payload, valid only once State is StateRet.
func (o *Outgoing) Result() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// LastUpdate reports when this transaction last heard from its peer (ACK,
// feedback, or terminal RET/NAK). Callers use this to detect a stalled peer
// since the protocol itself never times out.
func (o *Outgoing) LastUpdate() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastUpdate
}

// Then registers a continuation for a successful RET.
func (o *Outgoing) Then(fn func([]byte)) *Outgoing {
	o.future.Then(fn)
	return o
}

// Catch registers a continuation for a NAK or abandonment.
func (o *Outgoing) Catch(fn func(error)) *Outgoing {
	o.future.Catch(fn)
	return o
}

// Wait blocks for the terminal result.
func (o *Outgoing) Wait(ctx context.Context) ([]byte, error) {
	return o.future.Wait(ctx)
}

// Incoming is a handle to a transaction the peer originated. The owner must
// eventually call exactly one of Ret or Nak; Ack and Feedback are optional
// and never terminal.
type Incoming struct {
	id   uuid.UUID
	data []byte
	mgr  *Manager
	once sync.Once
}

// UUID returns the transaction's correlation id.
func (in *Incoming) UUID() uuid.UUID { return in.id }

// Data returns the NEW payload the peer sent.
func (in *Incoming) Data() []byte { return in.data }

// Ack tells the peer this side accepted the transaction and is working on it.
func (in *Incoming) Ack() {
	in.mgr.sendFrame(opcodeAck, in.id, nil)
}

// Feedback reports partial progress without terminating the transaction.
func (in *Incoming) Feedback(data []byte) {
	in.mgr.sendFrame(opcodeFeedback, in.id, data)
}

// Ret terminates the transaction successfully with data. Only the first of
// Ret/Nak has any effect.
func (in *Incoming) Ret(data []byte) {
	in.once.Do(func() {
		in.mgr.forgetIncoming(in.id)
		in.mgr.sendFrame(opcodeRet, in.id, data)
	})
}

// Nak terminates the transaction with a rejection. Only the first of
// Ret/Nak has any effect.
func (in *Incoming) Nak() {
	in.once.Do(func() {
		in.mgr.forgetIncoming(in.id)
		in.mgr.sendFrame(opcodeNak, in.id, nil)
	})
}

// Manager implements the C4 protocol for one connection. Received feeds in
// raw transaction frames (post de-multiplexing by the caller); SendData
// yields the frames that must be written back out, in order.
type Manager struct {
	mu       sync.Mutex
	outgoing map[uuid.UUID]*Outgoing
	incoming map[uuid.UUID]*Incoming

	sendData *async.Queue[[]byte]
	incomeQ  *async.Queue[*Incoming]
}

// NewManager creates an empty transaction manager for one connection.
func NewManager() *Manager {
	return &Manager{
		outgoing: make(map[uuid.UUID]*Outgoing),
		incoming: make(map[uuid.UUID]*Incoming),
		sendData: async.NewQueue[[]byte](128),
		incomeQ:  async.NewQueue[*Incoming](64),
	}
}

// SendData yields raw transaction frames that must be written to the peer.
func (m *Manager) SendData() *async.Queue[[]byte] { return m.sendData }

// Incoming yields transactions the peer has newly opened on this connection.
func (m *Manager) Incoming() *async.Queue[*Incoming] { return m.incomeQ }

// Send opens a new outgoing transaction carrying data.
func (m *Manager) Send(data []byte) *Outgoing {
	id := uuid.New()
	o := &Outgoing{
		id:         id,
		data:       data,
		state:      StateSent,
		lastUpdate: time.Now(),
		future:     async.NewFuture[[]byte](),
	}
	m.mu.Lock()
	m.outgoing[id] = o
	m.mu.Unlock()

	m.sendFrame(opcodeNew, id, data)
	return o
}

func (m *Manager) sendFrame(op byte, id uuid.UUID, payload []byte) {
	frame := make([]byte, 0, frameHeaderLen+len(payload))
	frame = append(frame, op)
	idBytes, _ := id.MarshalBinary()
	frame = append(frame, idBytes...)
	frame = append(frame, payload...)
	m.sendData.Send(frame)
}

// Received decodes and processes one inbound transaction frame.
func (m *Manager) Received(frame []byte) error {
	if len(frame) < frameHeaderLen {
		return fmt.Errorf("transaction: frame of %d bytes shorter than header", len(frame))
	}
	op := frame[0]
	id, err := uuid.FromBytes(frame[1:17])
	if err != nil {
		return fmt.Errorf("transaction: malformed uuid: %w", err)
	}
	payload := frame[17:]

	switch op {
	case opcodeNew:
		in := &Incoming{id: id, data: payload, mgr: m}
		m.mu.Lock()
		m.incoming[id] = in
		m.mu.Unlock()
		m.incomeQ.Send(in)

	case opcodeAck:
		m.touchOutgoing(id, func(o *Outgoing) {
			if o.state == StateSent {
				o.state = StateAck
			}
		})

	case opcodeFeedback:
		m.touchOutgoing(id, func(*Outgoing) {})

	case opcodeRet:
		m.resolveOutgoing(id, func(o *Outgoing) {
			o.state = StateRet
			o.result = payload
		}, func(o *Outgoing) { o.future.Resolve(payload) })

	case opcodeNak:
		m.resolveOutgoing(id, func(o *Outgoing) {
			o.state = StateNak
		}, func(o *Outgoing) { o.future.Reject(fmt.Errorf("transaction: peer NAK")) })

	default:
		return fmt.Errorf("transaction: unknown opcode 0x%02x", op)
	}
	return nil
}

func (m *Manager) touchOutgoing(id uuid.UUID, mutate func(*Outgoing)) {
	m.mu.Lock()
	o, ok := m.outgoing[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	o.mu.Lock()
	mutate(o)
	o.lastUpdate = time.Now()
	o.mu.Unlock()
}

// resolveOutgoing applies a terminal transition exactly once: a duplicate RET
// or NAK on an already-terminal transaction is ignored, per the C4 contract.
func (m *Manager) resolveOutgoing(id uuid.UUID, mutate func(*Outgoing), resolve func(*Outgoing)) {
	m.mu.Lock()
	o, ok := m.outgoing[id]
	if ok {
		delete(m.outgoing, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	o.mu.Lock()
	if o.state == StateRet || o.state == StateNak {
		o.mu.Unlock()
		return
	}
	mutate(o)
	o.lastUpdate = time.Now()
	o.mu.Unlock()

	resolve(o)
}

func (m *Manager) forgetIncoming(id uuid.UUID) {
	m.mu.Lock()
	delete(m.incoming, id)
	m.mu.Unlock()
}

// Abandon fails every in-flight outgoing transaction and drops all incoming
// handles, as required when the underlying connection drops (spec §4.2).
func (m *Manager) Abandon(reason error) {
	m.mu.Lock()
	outs := make([]*Outgoing, 0, len(m.outgoing))
	for _, o := range m.outgoing {
		outs = append(outs, o)
	}
	m.outgoing = make(map[uuid.UUID]*Outgoing)
	m.incoming = make(map[uuid.UUID]*Incoming)
	m.mu.Unlock()

	for _, o := range outs {
		o.mu.Lock()
		if o.state == StateRet || o.state == StateNak {
			o.mu.Unlock()
			continue
		}
		o.state = StateNak
		o.lastUpdate = time.Now()
		o.mu.Unlock()
		o.future.Reject(reason)
	}
}

// EncodeUUID is a small helper shared by callers that need the raw 16-byte
// wire form outside of a transaction frame (e.g. embedding a uuid in a
// segmented payload).
func EncodeUUID(id uuid.UUID) []byte {
	b, _ := id.MarshalBinary()
	return b
}

// DecodeUUID parses a raw 16-byte uuid, as found throughout DDS payloads.
func DecodeUUID(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.UUID{}, fmt.Errorf("transaction: uuid must be 16 bytes, got %d", len(b))
	}
	var buf [16]byte
	copy(buf[:], b)
	return uuid.FromBytes(buf[:])
}
