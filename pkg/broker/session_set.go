package broker

import (
	"sync"

	"github.com/ipi-ecs/ecs/pkg/dds"
)

// sessionSet tracks every currently-open, handshaken session so the broker
// can broadcast SYSTEM_UPD snapshots. Membership is independent of the
// Registry: a connection is a member here as soon as it is ready, even
// before it has registered any subsystem of its own.
type sessionSet struct {
	mu    sync.Mutex
	conns map[*connHandle]*dds.Session
}

func newSessionSet() *sessionSet {
	return &sessionSet{conns: make(map[*connHandle]*dds.Session)}
}

func (s *sessionSet) add(handle *connHandle, session *dds.Session) {
	s.mu.Lock()
	s.conns[handle] = session
	s.mu.Unlock()
}

func (s *sessionSet) remove(handle *connHandle) {
	s.mu.Lock()
	delete(s.conns, handle)
	s.mu.Unlock()
}

func (s *sessionSet) broadcastSnapshot(entries []dds.SystemEntry) {
	s.mu.Lock()
	sessions := make([]*dds.Session, 0, len(s.conns))
	for _, sess := range s.conns {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.SendSystemUpd(entries)
	}
}
