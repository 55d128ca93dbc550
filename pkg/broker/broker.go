package broker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ipi-ecs/ecs/pkg/dds"
	"github.com/ipi-ecs/ecs/pkg/logclient"
	"github.com/ipi-ecs/ecs/pkg/metrics"
	"github.com/ipi-ecs/ecs/pkg/transport"
)

// Broker is the DDS broker process: it accepts connections, drives each
// through the REQ_UUID/CONN_READY handshake, and then dispatches every
// incoming transaction and message against the shared Registry.
type Broker struct {
	log      zerolog.Logger
	registry *Registry
	metrics  *metrics.Collector
	sessions *sessionSet
	logs     *logclient.Client

	ln     *transport.Listener
	addrCh chan string
}

// SetLogClient wires an optional ingest shipper; a nil client (the default)
// leaves the broker logging to stdout only.
func (b *Broker) SetLogClient(c *logclient.Client) { b.logs = c }

// New creates a broker with an empty registry. If m is non-nil, it is wired
// to poll the new registry for subsystem gauges.
func New(log zerolog.Logger, m *metrics.Collector) *Broker {
	b := &Broker{
		log:      log.With().Str("component", "dds-broker").Logger(),
		registry: NewRegistry(),
		metrics:  m,
		sessions: newSessionSet(),
		addrCh:   make(chan string, 1),
	}
	if m != nil {
		m.SetSource(b.registry)
	}
	return b
}

// Registry exposes the broker's registry, mainly for tests and for an
// embedding admin surface that wants a read-only view.
func (b *Broker) Registry() *Registry { return b.registry }

// Addr blocks until Serve has bound its listener and returns the bound
// address, letting callers hand Serve an ephemeral ":0"/"127.0.0.1:0" port
// and discover what it actually bound.
func (b *Broker) Addr(ctx context.Context) (string, error) {
	select {
	case addr := <-b.addrCh:
		b.addrCh <- addr
		return addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Serve binds addr and runs the accept loop until ctx is cancelled.
func (b *Broker) Serve(ctx context.Context, addr string) error {
	ln, err := transport.Listen(addr)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	b.ln = ln
	b.addrCh <- ln.Addr().String()
	b.log.Info().Str("addr", ln.Addr().String()).Msg("broker listening")

	go func() {
		<-ctx.Done()
		b.log.Info().Msg("broker shutting down")
		_ = ln.Close()
	}()

	for {
		conn, ok := ln.Conns().Get(ctx)
		if !ok {
			return ctx.Err()
		}
		if conn == nil {
			return fmt.Errorf("broker: accept loop stopped unexpectedly")
		}
		go b.handleConn(conn)
	}
}

func (b *Broker) handleConn(conn *transport.Conn) {
	session := dds.NewSession(conn)
	handle := newConnHandle(session)

	log := b.log.With().Str("peer", session.RemoteAddr()).Logger()
	if b.metrics != nil {
		b.metrics.ConnectionsTotal.Inc()
		b.metrics.ConnectionsOpen.Inc()
		defer b.metrics.ConnectionsOpen.Dec()
	}

	if !b.handshake(session, handle, log) {
		return
	}
	b.sessions.add(handle, session)
	defer b.sessions.remove(handle)

	for {
		evt, ok := session.Events().Get(context.Background())
		if !ok {
			return
		}
		switch evt.Kind {
		case dds.SessionIncomingTransaction:
			b.dispatchTransaction(session, handle, evt.Incoming, log)
		case dds.SessionSubscribe:
			target, err := uuid.FromBytes(evt.SubscribeTarget)
			if err != nil {
				log.Warn().Err(err).Msg("malformed REQ_SUBSCRIBE target")
				continue
			}
			b.registry.Subscribe(handle, target, evt.SubscribeKey)
		case dds.SessionDisconnected:
			b.onDisconnect(handle, log)
			return
		default:
			log.Warn().Int("kind", int(evt.Kind)).Msg("unexpected message from client")
		}
	}
}

// handshake runs the REQ_UUID and CONN_READY transactions required before a
// connection is usable. It returns false if the connection should be
// abandoned (either leg NAKed, or the peer disconnected mid-handshake).
func (b *Broker) handshake(session *dds.Session, handle *connHandle, log zerolog.Logger) bool {
	// Wait for the transport-level CONNECTED and the client's HANDSHAKE byte.
	for {
		evt, ok := session.Events().Get(context.Background())
		if !ok {
			return false
		}
		switch evt.Kind {
		case dds.SessionConnected:
			continue
		case dds.SessionHandshake:
			session.SendHandshake()
			goto handshaken
		case dds.SessionDisconnected:
			return false
		}
	}
handshaken:

	reqUUID := session.Transactions().Send([]byte{dds.OpReqUUID})
	result, err := reqUUID.Wait(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("REQ_UUID failed")
		session.Close()
		return false
	}
	id, err := uuid.FromBytes(result)
	if err != nil {
		log.Warn().Err(err).Msg("REQ_UUID returned malformed uuid")
		session.Close()
		return false
	}
	handle.setUUID(id)

	ready := session.Transactions().Send([]byte{dds.OpConnReady})
	if _, err := ready.Wait(context.Background()); err != nil {
		log.Warn().Err(err).Msg("CONN_READY failed")
		session.Close()
		return false
	}
	handle.setReady()
	return true
}

func (b *Broker) onDisconnect(handle *connHandle, log zerolog.Logger) {
	handle.markClosed()
	for _, id := range handle.subsystems() {
		b.registry.dropEventsTarget(id)
	}
	unbound, removed := b.registry.UnbindConn(handle)
	if len(unbound) > 0 || len(removed) > 0 {
		b.broadcastSystemUpd()
	}
	log.Info().Int("unbound", len(unbound)).Int("removed", len(removed)).Msg("connection closed")
	b.logs.Log("INFO", "connection closed", "SW", map[string]any{
		"unbound": len(unbound),
		"removed": len(removed),
	})
}

// broadcastSystemUpd pushes the full registry snapshot to every currently
// open session; see session_set.go for the live-session tracking it uses.
func (b *Broker) broadcastSystemUpd() {
	b.sessions.broadcastSnapshot(b.registry.Snapshot())
}
