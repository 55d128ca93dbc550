package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/ipi-ecs/ecs/pkg/async"
)

// Listener accepts TCP connections and hands each one, already wrapped in a
// Conn, to its Conns queue. Bind failure is fatal (returned from Listen);
// per-connection I/O errors only ever close that one connection.
type Listener struct {
	ln    net.Listener
	conns *async.Queue[*Conn]
	done  chan struct{}
}

// Listen binds addr and starts accepting connections in the background.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	l := &Listener{
		ln:    ln,
		conns: async.NewQueue[*Conn](64),
		done:  make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.done:
			default:
				l.conns.Send(nil) // signal shutdown to Conns consumers
			}
			return
		}
		l.conns.Send(NewConn(nc))
	}
}

// Conns returns the queue of accepted connections. A nil value on the queue
// signals the listener stopped accepting due to an error (not a clean Close).
func (l *Listener) Conns() *async.Queue[*Conn] {
	return l.conns
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections. It does not close connections
// already handed out.
func (l *Listener) Close() error {
	close(l.done)
	return l.ln.Close()
}

// Dial connects to addr and returns a framed connection.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return NewConn(nc), nil
}
