// Package logclient is a best-effort NDJSON log shipper: an embeddable
// client for the external logging ingest server's wire protocol. It dials
// lazily, reconnects in the background, and drops records silently (besides
// a local debug line) whenever no server is reachable — the broker and
// client runtime must work identically with or without a logging server
// configured.
package logclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ipi-ecs/ecs/pkg/log"
	"github.com/ipi-ecs/ecs/pkg/metrics"
	"github.com/ipi-ecs/ecs/pkg/transport"
)

const (
	magic      = "IECS"
	typeLog    = 0x01
	protoV1    = 0x01
	schemaVers = 1
)

// reconnectDelay bounds how often a dead connection is retried.
const reconnectDelay = 5 * time.Second

// Client ships structured log records to a logging-server address. The zero
// value is not usable; construct with New. A nil *Client is valid and every
// method on it is a no-op, so callers can treat "no logging server
// configured" and "a *Client that exists but can't connect" identically.
type Client struct {
	addr   string
	origin uuid.UUID

	mu   sync.Mutex
	seq  uint64
	conn *transport.Conn

	dialOnce sync.Once
	closed   chan struct{}
}

// New returns a client that will lazily dial addr on first Log call. If addr
// is empty, New returns nil, and every method on the returned *Client is
// defined to be a safe no-op.
func New(addr string) *Client {
	if addr == "" {
		return nil
	}
	return &Client{
		addr:   addr,
		origin: uuid.New(),
		closed: make(chan struct{}),
	}
}

// Record mirrors the Schema v1 layout the ingest server expects.
type Record struct {
	V      int            `json:"v"`
	Origin recordOrigin   `json:"origin"`
	Seq    uint64         `json:"seq"`
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	LType  string         `json:"l_type"`
	Data   map[string]any `json:"data,omitempty"`
}

type recordOrigin struct {
	UUID  string `json:"uuid"`
	TSNs  int64  `json:"ts_ns"`
}

// Log sends one structured record. l_type distinguishes debug-only ("SW")
// lines from experiment-relevant ("EXP") ones, matching the originating
// implementation's convention. A nil Client, a dial failure, or a closed
// connection are all silently absorbed: this path must never be load-bearing
// for DDS correctness.
func (c *Client) Log(level, msg, lType string, data map[string]any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	rec := Record{
		V:     schemaVers,
		Origin: recordOrigin{UUID: c.origin.String(), TSNs: time.Now().UnixNano()},
		Seq:   seq,
		Level: level,
		Msg:   msg,
		LType: lType,
		Data:  data,
	}
	frame, err := encodeFrame(rec)
	if err != nil {
		log.WithComponent("logclient").Debug().Err(err).Msg("failed to marshal log record")
		return
	}

	conn := c.ensureConn()
	if conn == nil {
		return
	}
	conn.Send(frame)
	metrics.LogRecordsIngestedTotal.WithLabelValues(level).Inc()
}

// encodeFrame renders rec as the wire message body: MAGIC(4) + TYPE(1) +
// VER(1) + JSON payload. transport.Conn's framing adds the length prefix.
func encodeFrame(rec Record) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(magic)+2+len(payload))
	frame = append(frame, magic...)
	frame = append(frame, typeLog, protoV1)
	frame = append(frame, payload...)
	return frame, nil
}

// ensureConn returns the live connection, dialing (non-blocking, from a
// background goroutine) if none exists yet.
func (c *Client) ensureConn() *transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn
	}
	c.dialOnce.Do(func() { go c.dialLoop() })
	return nil
}

func (c *Client) dialLoop() {
	l := log.WithComponent("logclient")
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), reconnectDelay)
		conn, err := transport.Dial(ctx, c.addr)
		cancel()
		if err != nil {
			l.Debug().Err(err).Str("addr", c.addr).Msg("logging server unreachable, will retry")
			select {
			case <-time.After(reconnectDelay):
			case <-c.closed:
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		// Block until the connection drops, then clear it and retry.
		for {
			evt, ok := conn.Events().Get(context.Background())
			if !ok || evt.Type == transport.EventDisconnected {
				break
			}
		}
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}
}

// Close stops the background dial loop and releases the current connection,
// if any.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
