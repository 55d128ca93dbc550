package broker

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ipi-ecs/ecs/pkg/dds"
)

// connHandle is the broker's one-way handle onto a client connection: the
// registry and event records reference connections only through this
// narrow, stable type, never the other way around (spec §9's one-way
// ownership rework of the original's back-references).
type connHandle struct {
	session *dds.Session

	mu        sync.Mutex
	uuid      uuid.UUID
	hasUUID   bool
	ready     bool
	closed    bool
	ownedSubs map[uuid.UUID]struct{}
}

func newConnHandle(session *dds.Session) *connHandle {
	return &connHandle{
		session:   session,
		ownedSubs: make(map[uuid.UUID]struct{}),
	}
}

func (c *connHandle) setUUID(id uuid.UUID) {
	c.mu.Lock()
	c.uuid = id
	c.hasUUID = true
	c.mu.Unlock()
}

func (c *connHandle) UUID() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uuid, c.hasUUID
}

func (c *connHandle) setReady() {
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
}

func (c *connHandle) isReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *connHandle) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *connHandle) alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *connHandle) addSubsystem(id uuid.UUID) {
	c.mu.Lock()
	c.ownedSubs[id] = struct{}{}
	c.mu.Unlock()
}

func (c *connHandle) subsystems() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(c.ownedSubs))
	for id := range c.ownedSubs {
		ids = append(ids, id)
	}
	return ids
}
