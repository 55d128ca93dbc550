package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ipi-ecs/ecs/pkg/dds"
	"github.com/ipi-ecs/ecs/pkg/logclient"
	"github.com/ipi-ecs/ecs/pkg/transaction"
	"github.com/ipi-ecs/ecs/pkg/transport"
)

// Client is a single connection to a DDS broker plus every subsystem,
// subscription, and in-progress event this process has ever declared. State
// survives reconnects; only the wire session is rebuilt.
type Client struct {
	log  zerolog.Logger
	addr string
	logs *logclient.Client

	mu          sync.Mutex
	session     *dds.Session
	uuid        uuid.UUID
	ready       bool
	readyWaiter chan struct{}

	subsystems map[uuid.UUID]*RegisteredSubsystem
	remoteSubs []remoteSubscription

	inProgress map[uuid.UUID]*InProgressEvent
	handlers   map[string]*EventHandler
}

// SetLogClient wires an optional ingest shipper; a nil client (the default)
// leaves the client logging to stdout only.
func (c *Client) SetLogClient(lc *logclient.Client) { c.logs = lc }

type remoteSubscription struct {
	target uuid.UUID
	key    string
	onUpd  func([]byte)
}

// New creates a client bound to addr but not yet connected.
func New(log zerolog.Logger, addr string) *Client {
	return &Client{
		log:        log.With().Str("component", "dds-client").Logger(),
		addr:       addr,
		subsystems: make(map[uuid.UUID]*RegisteredSubsystem),
		inProgress: make(map[uuid.UUID]*InProgressEvent),
		handlers:   make(map[string]*EventHandler),
	}
}

// Connect dials the broker and blocks until the connection is ready
// (handshake complete, registrations and subscriptions replayed).
func (c *Client) Connect(ctx context.Context) error {
	conn, err := transport.Dial(ctx, c.addr)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	session := dds.NewSession(conn)

	c.mu.Lock()
	c.session = session
	c.ready = false
	c.readyWaiter = make(chan struct{})
	c.mu.Unlock()

	go c.run(session)

	session.SendHandshake()

	select {
	case <-c.readyWaiter:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the current connection.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

// UUID returns this client's connection identity, which the client generates
// itself and sends in reply to the broker's REQ_UUID; valid once Connect
// returns successfully.
func (c *Client) UUID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uuid
}

func (c *Client) run(session *dds.Session) {
	for {
		evt, ok := session.Events().Get(context.Background())
		if !ok {
			return
		}
		switch evt.Kind {
		case dds.SessionConnected:
			// transport-level only; nothing to do until the handshake echo.
		case dds.SessionHandshake:
			// Nothing broker-specific to do: REQ_UUID and CONN_READY arrive
			// as ordinary incoming transactions and are handled generically
			// below, like any other server-initiated transaction.
		case dds.SessionIncomingTransaction:
			c.onIncomingTransaction(session, evt.Incoming)
		case dds.SessionSubscribedUpd:
			c.onSubscribedUpd(evt.UpdTarget, evt.UpdKey, evt.UpdValue)
		case dds.SessionSystemUpd:
			// Informational only for now; a consuming application can read
			// the registry snapshot via a future extension point.
		case dds.SessionEventRet:
			c.onEventRet(evt.EventRetTarget, evt.EventRetOriginator, evt.EventRetEvent, evt.EventRetStatus, evt.EventRetValue)
		case dds.SessionDisconnected:
			c.onDisconnected()
			return
		}
	}
}

func (c *Client) onIncomingTransaction(session *dds.Session, in *transaction.Incoming) {
	data := in.Data()
	if len(data) == 0 {
		in.Nak()
		return
	}
	op, payload := data[0], data[1:]
	switch op {
	case dds.OpReqUUID:
		id := uuid.New()
		c.mu.Lock()
		c.uuid = id
		c.mu.Unlock()
		idBytes, _ := id.MarshalBinary()
		in.Ret(idBytes)
	case dds.OpConnReady:
		c.mu.Lock()
		idBytes, _ := c.uuid.MarshalBinary()
		c.mu.Unlock()
		in.Ret(idBytes)
		c.onReady(session)
	case dds.OpRSetKV:
		c.handleRSetKV(in, payload)
	case dds.OpRGetKV:
		c.handleRGetKV(in, payload)
	case dds.OpRGetKVDesc:
		c.handleRGetKVDesc(in, payload)
	case dds.OpRCallEvent:
		c.handleRCallEvent(session, in, payload)
	default:
		in.Nak()
	}
}

func (c *Client) onReady(session *dds.Session) {
	c.mu.Lock()
	c.ready = true
	subsystems := make([]*RegisteredSubsystem, 0, len(c.subsystems))
	for _, s := range c.subsystems {
		subsystems = append(subsystems, s)
	}
	subs := append([]remoteSubscription(nil), c.remoteSubs...)
	waiter := c.readyWaiter
	c.mu.Unlock()

	for _, s := range subsystems {
		s.register(session)
	}
	for _, sub := range subs {
		targetBytes, _ := sub.target.MarshalBinary()
		_ = session.SendSubscribe(targetBytes, sub.key)
	}

	if waiter != nil {
		close(waiter)
	}
}

func (c *Client) onDisconnected() {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	c.log.Warn().Msg("disconnected from broker")
	c.logs.Log("WARN", "disconnected from broker", "SW", nil)
}

func (c *Client) onSubscribedUpd(targetBytes []byte, key string, value []byte) {
	target, err := uuid.FromBytes(targetBytes)
	if err != nil {
		return
	}
	c.mu.Lock()
	var matches []func([]byte)
	for _, sub := range c.remoteSubs {
		if sub.target == target && sub.key == key {
			matches = append(matches, sub.onUpd)
		}
	}
	c.mu.Unlock()
	for _, fn := range matches {
		fn(value)
	}
}

// waitReady blocks until the connection has completed its handshake and
// replay, honoring ctx.
func (c *Client) waitReady(ctx context.Context) error {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return nil
	}
	waiter := c.readyWaiter
	c.mu.Unlock()
	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) currentSession() (*dds.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, fmt.Errorf("client: not connected")
	}
	return c.session, nil
}

// DefaultRemoteReadTimeout bounds an on-demand GET_KV issued by a
// RemoteProperty with subscribe=false, per the 1-second busy-wait the spec
// describes for that path.
const DefaultRemoteReadTimeout = time.Second
