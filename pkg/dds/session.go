package dds

import (
	"context"
	"fmt"

	"github.com/ipi-ecs/ecs/pkg/async"
	"github.com/ipi-ecs/ecs/pkg/transaction"
	"github.com/ipi-ecs/ecs/pkg/transport"
)


// SessionEventKind distinguishes the entries the session's dispatch queue
// delivers — the single ordered queue the scheduling model (§5) requires per
// connection, joining transport lifecycle, transaction arrivals, the
// handshake, and the four non-transaction message kinds.
type SessionEventKind int

const (
	SessionConnected SessionEventKind = iota
	SessionDisconnected
	SessionIncomingTransaction
	SessionSubscribe
	SessionSubscribedUpd
	SessionSystemUpd
	SessionEventRet
	SessionHandshake
)

// SessionEvent is one entry on a Session's Events queue.
type SessionEvent struct {
	Kind SessionEventKind
	Err  error // set on SessionDisconnected

	Incoming *transaction.Incoming // set on SessionIncomingTransaction

	SubscribeTarget []byte // REQ_SUBSCRIBE: target uuid bytes
	SubscribeKey    string // REQ_SUBSCRIBE: key

	UpdTarget []byte // SUBSCRIBED_UPD: target uuid bytes
	UpdKey    string
	UpdValue  []byte

	SystemSnapshot []SystemEntry // SYSTEM_UPD

	EventRetTarget     []byte
	EventRetOriginator []byte
	EventRetEvent      []byte
	EventRetStatus     byte
	EventRetValue      []byte
}

// SystemEntry is one row of a SYSTEM_UPD snapshot.
type SystemEntry struct {
	Info  SubsystemInfo
	Alive bool
}

// Session wraps one framed transport connection with a transaction manager
// and the magic-byte dispatch of C5, presenting callers with a single
// ordered event queue (C2's async.Queue) regardless of which sub-protocol a
// given inbound message belongs to. Both the broker and the client runtime
// are built on top of a Session.
type Session struct {
	conn *transport.Conn
	tx   *transaction.Manager

	events *async.Queue[SessionEvent]

	ctx    context.Context
	cancel context.CancelFunc

	// handshakeDone is only ever touched from pumpTransport's goroutine,
	// which is the sole caller of dispatch.
	handshakeDone bool
}

// NewSession wraps an already-connected transport.Conn. The caller drives
// the handshake explicitly via SendHandshake/awaiting SessionHandshake;
// everything after that flows through Events.
func NewSession(conn *transport.Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:   conn,
		tx:     transaction.NewManager(),
		events: async.NewQueue[SessionEvent](256),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.pumpOutgoingTransactions()
	go s.pumpIncomingTransactions()
	go s.pumpTransport()
	return s
}

// Events returns the session's single ordered dispatch queue.
func (s *Session) Events() *async.Queue[SessionEvent] { return s.events }

// Transactions returns the underlying transaction manager, for sending new
// outgoing transactions.
func (s *Session) Transactions() *transaction.Manager { return s.tx }

// RemoteAddr exposes the underlying connection's peer address.
func (s *Session) RemoteAddr() string {
	if a := s.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// SendHandshake writes the one handshake byte (identical value in both
// directions; the spec defines HANDSHAKE_CLIENT and HANDSHAKE_SERVER as the
// same byte).
func (s *Session) SendHandshake() {
	s.conn.Send([]byte{MagicHandshakeClient})
}

// SendSubscribe writes a REQ_SUBSCRIBE message.
func (s *Session) SendSubscribe(target []byte, key string) error {
	payload, err := EncodeSegments(target, []byte(key))
	if err != nil {
		return err
	}
	s.conn.Send(append([]byte{MagicReqSubscribe}, payload...))
	return nil
}

// SendSubscribedUpd writes a SUBSCRIBED_UPD message.
func (s *Session) SendSubscribedUpd(target []byte, key string, value []byte) error {
	payload, err := EncodeSegments(target, []byte(key), value)
	if err != nil {
		return err
	}
	s.conn.Send(append([]byte{MagicSubscribedUpd}, payload...))
	return nil
}

// SendSystemUpd writes a SYSTEM_UPD snapshot.
func (s *Session) SendSystemUpd(entries []SystemEntry) error {
	rows := make([][]byte, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info.Encode()
		if err != nil {
			return err
		}
		row, err := EncodeSegments(info, []byte{boolByte(e.Alive)})
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	payload, err := EncodeSegments(rows...)
	if err != nil {
		return err
	}
	s.conn.Send(append([]byte{MagicSystemUpd}, payload...))
	return nil
}

// SendEventRet writes an EVENT_RET message.
func (s *Session) SendEventRet(target, originator, event []byte, status byte, value []byte) error {
	payload, err := EncodeSegments(target, originator, event, []byte{status}, value)
	if err != nil {
		return err
	}
	s.conn.Send(append([]byte{MagicEventRet}, payload...))
	return nil
}

// Close tears down the underlying connection and stops the session's pumps.
func (s *Session) Close() error {
	s.cancel()
	return s.conn.Close()
}

func (s *Session) pumpOutgoingTransactions() {
	for {
		frame, ok := s.tx.SendData().Get(s.ctx)
		if !ok {
			return
		}
		s.conn.Send(append([]byte{MagicTransact}, frame...))
	}
}

func (s *Session) pumpIncomingTransactions() {
	for {
		in, ok := s.tx.Incoming().Get(s.ctx)
		if !ok {
			return
		}
		s.events.Send(SessionEvent{Kind: SessionIncomingTransaction, Incoming: in})
	}
}

func (s *Session) pumpTransport() {
	for {
		evt, ok := s.conn.Events().Get(s.ctx)
		if !ok {
			return
		}
		switch evt.Type {
		case transport.EventConnected:
			s.events.Send(SessionEvent{Kind: SessionConnected})
		case transport.EventDisconnected:
			s.tx.Abandon(fmt.Errorf("dds: connection closed: %w", evt.Err))
			s.events.Send(SessionEvent{Kind: SessionDisconnected, Err: evt.Err})
			s.cancel()
			return
		case transport.EventReceive:
			if err := s.dispatch(evt.Data); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}

func (s *Session) dispatch(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("dds: empty message")
	}
	magic, payload := data[0], data[1:]

	if magic == MagicHandshakeClient {
		if s.handshakeDone {
			return fmt.Errorf("dds: duplicate handshake on open connection")
		}
		s.handshakeDone = true
		s.events.Send(SessionEvent{Kind: SessionHandshake})
		return nil
	}
	if !s.handshakeDone {
		return fmt.Errorf("dds: message 0x%02x received before handshake", magic)
	}

	switch magic {
	case MagicTransact:
		return s.tx.Received(payload)
	case MagicReqSubscribe:
		parts, err := DecodeSegmentsExactly(payload, 2)
		if err != nil {
			return fmt.Errorf("dds: REQ_SUBSCRIBE: %w", err)
		}
		s.events.Send(SessionEvent{Kind: SessionSubscribe, SubscribeTarget: parts[0], SubscribeKey: string(parts[1])})
	case MagicSubscribedUpd:
		parts, err := DecodeSegmentsExactly(payload, 3)
		if err != nil {
			return fmt.Errorf("dds: SUBSCRIBED_UPD: %w", err)
		}
		s.events.Send(SessionEvent{Kind: SessionSubscribedUpd, UpdTarget: parts[0], UpdKey: string(parts[1]), UpdValue: parts[2]})
	case MagicSystemUpd:
		rows, err := DecodeSegments(payload)
		if err != nil {
			return fmt.Errorf("dds: SYSTEM_UPD: %w", err)
		}
		entries := make([]SystemEntry, 0, len(rows))
		for _, row := range rows {
			parts, err := DecodeSegmentsExactly(row, 2)
			if err != nil {
				return fmt.Errorf("dds: SYSTEM_UPD row: %w", err)
			}
			info, err := DecodeSubsystemInfo(parts[0])
			if err != nil {
				return fmt.Errorf("dds: SYSTEM_UPD row: %w", err)
			}
			if len(parts[1]) != 1 {
				return fmt.Errorf("dds: SYSTEM_UPD row: alive flag must be 1 byte")
			}
			entries = append(entries, SystemEntry{Info: info, Alive: parts[1][0] != 0})
		}
		s.events.Send(SessionEvent{Kind: SessionSystemUpd, SystemSnapshot: entries})
	case MagicEventRet:
		parts, err := DecodeSegmentsExactly(payload, 5)
		if err != nil {
			return fmt.Errorf("dds: EVENT_RET: %w", err)
		}
		if len(parts[3]) != 1 {
			return fmt.Errorf("dds: EVENT_RET: status must be 1 byte")
		}
		s.events.Send(SessionEvent{
			Kind:               SessionEventRet,
			EventRetTarget:     parts[0],
			EventRetOriginator: parts[1],
			EventRetEvent:      parts[2],
			EventRetStatus:     parts[3][0],
			EventRetValue:      parts[4],
		})
	default:
		return fmt.Errorf("dds: unknown magic byte 0x%02x", magic)
	}
	return nil
}
