// Package transport implements the length-preserving, message-oriented
// framing the rest of the DDS stack runs on (component C1 of the design):
// one Send delivers exactly one message to the peer's event queue, zero-byte
// messages included, and the transport never coalesces or splits messages.
//
// Framing is a 4-byte big-endian length prefix rather than the sentinel-byte
// escaping the original implementation used — the design explicitly allows
// either so long as the round-trip and ordering guarantees hold.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/ipi-ecs/ecs/pkg/async"
)

// maxFrameLen bounds a single message to guard against a peer claiming an
// absurd length and exhausting memory before the read fails.
const maxFrameLen = 64 << 20

// EventType distinguishes the kinds of events a Conn reports on its queue.
type EventType int

const (
	// EventConnected fires once, right after the connection is wired up.
	EventConnected EventType = iota
	// EventDisconnected fires once, when the connection is torn down for
	// any reason (peer close, local Close, or a read/write error).
	EventDisconnected
	// EventReceive carries one complete inbound message.
	EventReceive
)

// Event is one entry on a Conn's event queue.
type Event struct {
	Type EventType
	Data []byte
	Err  error
}

// Conn is a framed, message-preserving connection over a net.Conn. Reads and
// writes run on their own goroutines; callers interact with it entirely
// through Send and the Events queue.
type Conn struct {
	nc    net.Conn
	out   chan []byte
	evts  *async.Queue[Event]
	close sync.Once
	done  chan struct{}
}

// NewConn wraps an established net.Conn and starts its read/write loops.
func NewConn(nc net.Conn) *Conn {
	c := &Conn{
		nc:   nc,
		out:  make(chan []byte, 256),
		evts: async.NewQueue[Event](256),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	c.evts.Send(Event{Type: EventConnected})
	return c
}

// Events returns the queue of connection lifecycle and message events.
func (c *Conn) Events() *async.Queue[Event] {
	return c.evts
}

// RemoteAddr returns the peer address reported by the underlying net.Conn.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// Send enqueues data for delivery as a single message. It is safe to call
// from any goroutine; it blocks only if the outbound buffer is full, which
// only happens under sustained backpressure from a stalled peer.
func (c *Conn) Send(data []byte) {
	select {
	case c.out <- data:
	case <-c.done:
	}
}

func (c *Conn) writeLoop() {
	var lenBuf [4]byte
	for {
		select {
		case data := <-c.out:
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
			if _, err := c.nc.Write(lenBuf[:]); err != nil {
				c.teardown(err)
				return
			}
			if len(data) > 0 {
				if _, err := c.nc.Write(data); err != nil {
					c.teardown(err)
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readLoop() {
	r := bufio.NewReader(c.nc)
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			c.teardown(err)
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > maxFrameLen {
			c.teardown(fmt.Errorf("transport: frame of %d bytes exceeds limit", n))
			return
		}
		buf := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				c.teardown(err)
				return
			}
		}
		c.evts.Send(Event{Type: EventReceive, Data: buf})
	}
}

func (c *Conn) teardown(err error) {
	c.close.Do(func() {
		close(c.done)
		_ = c.nc.Close()
		c.evts.Send(Event{Type: EventDisconnected, Err: err})
	})
}

// Close tears down the connection. It is idempotent and safe to call
// concurrently with the read/write loops.
func (c *Conn) Close() error {
	c.teardown(nil)
	return nil
}
