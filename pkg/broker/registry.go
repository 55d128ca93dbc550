// Package broker implements the DDS broker (C6): the registry of
// subsystems, KV routing and caching, per-key subscription fan-out, and
// multi-target event dispatch with bounded record retention.
package broker

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ipi-ecs/ecs/pkg/dds"
)

// subscriber is one (requester connection, key) pair watching a target
// subsystem.
type subscriber struct {
	conn *connHandle
	key  string
}

// subsystemEntry is the registry's view of one subsystem: its latest
// descriptor, the connection currently bound to it (nil if unbound), cached
// published-KV values, and its per-key subscriber list.
type subsystemEntry struct {
	mu sync.Mutex

	info  dds.SubsystemInfo
	bound *connHandle

	kvCache map[string][]byte
	subs    map[string][]*subscriber
}

func newSubsystemEntry(info dds.SubsystemInfo) *subsystemEntry {
	return &subsystemEntry{
		info:    info,
		kvCache: make(map[string][]byte),
		subs:    make(map[string][]*subscriber),
	}
}

func (e *subsystemEntry) alive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bound != nil
}

// Registry is the broker's cross-connection shared state: every subsystem
// ever registered, pending subscriptions awaiting a not-yet-registered
// target, and outstanding event records. One mutex protects the registry's
// maps; each subsystem entry has its own mutex for its binding, KV cache and
// subscriber lists.
type Registry struct {
	mu sync.Mutex

	byUUID map[uuid.UUID]*subsystemEntry
	// pending holds (requester, key) subscriptions for a target uuid not
	// yet registered.
	pending map[uuid.UUID][]*subscriber

	events map[uuid.UUID]*eventRecord
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUUID:  make(map[uuid.UUID]*subsystemEntry),
		pending: make(map[uuid.UUID][]*subscriber),
		events:  make(map[uuid.UUID]*eventRecord),
	}
}

// RegisterResult reports the outcome of registering a subsystem.
type RegisterResult struct {
	OK     bool
	Reason string
}

// Register implements _register_subsystem + bind_client: it creates the
// subsystem entry if this uuid is new (installing any pending subscriptions
// in the process), then binds it to conn unless a different, still-alive
// connection already owns it.
func (r *Registry) Register(conn *connHandle, info dds.SubsystemInfo) RegisterResult {
	r.mu.Lock()
	entry, exists := r.byUUID[info.UUID]
	if !exists {
		entry = newSubsystemEntry(info)
		r.byUUID[info.UUID] = entry
		for _, sub := range r.pending[info.UUID] {
			entry.subs[sub.key] = append(entry.subs[sub.key], sub)
		}
		delete(r.pending, info.UUID)
	}
	r.mu.Unlock()

	entry.mu.Lock()
	if entry.bound != nil && entry.bound != conn && entry.bound.alive() {
		entry.mu.Unlock()
		return RegisterResult{OK: false, Reason: dds.ESubsystemDisconnected}
	}
	entry.info = info
	entry.bound = conn
	entry.mu.Unlock()

	conn.addSubsystem(info.UUID)
	return RegisterResult{OK: true}
}

// Resolve performs the linear name scan for RESOLVE: it returns a subsystem
// whose name matches, alive or not. Names need not be unique; when several
// subsystems share a name, which of them is returned is not defined (the
// scan runs in map order).
func (r *Registry) Resolve(name string) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.byUUID {
		entry.mu.Lock()
		match := entry.info.Name == name
		entry.mu.Unlock()
		if match {
			return id, true
		}
	}
	return uuid.UUID{}, false
}

// Get returns a subsystem's current info and alive flag.
func (r *Registry) Get(id uuid.UUID) (dds.SubsystemInfo, bool, bool) {
	r.mu.Lock()
	entry, ok := r.byUUID[id]
	r.mu.Unlock()
	if !ok {
		return dds.SubsystemInfo{}, false, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.info, entry.bound != nil, true
}

// BoundConn returns the connection currently bound to a subsystem, if any.
func (r *Registry) BoundConn(id uuid.UUID) (*connHandle, bool) {
	r.mu.Lock()
	entry, ok := r.byUUID[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.bound, entry.bound != nil
}

// Snapshot returns the full registry as a SYSTEM_UPD payload, in the shape
// the wire format expects.
func (r *Registry) Snapshot() []dds.SystemEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dds.SystemEntry, 0, len(r.byUUID))
	for _, entry := range r.byUUID {
		entry.mu.Lock()
		out = append(out, dds.SystemEntry{Info: entry.info, Alive: entry.bound != nil})
		entry.mu.Unlock()
	}
	return out
}

// CountAlive returns the number of registered subsystems that are currently
// bound to a live connection, and the number that are not (a disconnected
// non-Temporary subsystem still held in the registry).
func (r *Registry) CountAlive() (alive, dead int) {
	r.mu.Lock()
	entries := make([]*subsystemEntry, 0, len(r.byUUID))
	for _, entry := range r.byUUID {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	for _, entry := range entries {
		if entry.alive() {
			alive++
		} else {
			dead++
		}
	}
	return alive, dead
}

// PutKV caches a value published by its owner and returns the list of
// subscriber connections to notify. Closed subscribers are pruned from the
// list first (safe-iteration: we copy, filter, and write back under lock).
func (r *Registry) PutKV(target uuid.UUID, key string, value []byte) ([]*connHandle, bool) {
	r.mu.Lock()
	entry, ok := r.byUUID[target]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	entry.kvCache[key] = value
	live := make([]*subscriber, 0, len(entry.subs[key]))
	var notify []*connHandle
	for _, sub := range entry.subs[key] {
		if !sub.conn.alive() {
			continue
		}
		live = append(live, sub)
		notify = append(notify, sub.conn)
	}
	entry.subs[key] = live
	entry.mu.Unlock()
	return notify, true
}

// CachedKV returns a previously published value, if the broker has one.
func (r *Registry) CachedKV(target uuid.UUID, key string) ([]byte, bool) {
	r.mu.Lock()
	entry, ok := r.byUUID[target]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	v, ok := entry.kvCache[key]
	return v, ok
}

// Subscribe installs a live subscription if target is known, else records a
// pending one to be resolved on the target's eventual registration.
func (r *Registry) Subscribe(conn *connHandle, target uuid.UUID, key string) {
	r.mu.Lock()
	entry, ok := r.byUUID[target]
	if !ok {
		for _, existing := range r.pending[target] {
			if existing.conn == conn && existing.key == key {
				r.mu.Unlock()
				return
			}
		}
		r.pending[target] = append(r.pending[target], &subscriber{conn: conn, key: key})
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	entry.mu.Lock()
	for _, existing := range entry.subs[key] {
		if existing.conn == conn {
			entry.mu.Unlock()
			return
		}
	}
	entry.subs[key] = append(entry.subs[key], &subscriber{conn: conn, key: key})
	entry.mu.Unlock()
}

// UnbindConn detaches conn from every subsystem it owns. Subsystems marked
// Temporary are deleted outright, matching the disconnect-handling rule.
// It returns the uuids that merely went offline (unbound) separately from
// the ones that were deleted (removed), for SYSTEM_UPD callers that want to
// know what disappeared versus what merely went offline.
func (r *Registry) UnbindConn(conn *connHandle) (unbound []uuid.UUID, removed []uuid.UUID) {
	r.mu.Lock()
	ids := conn.subsystems()
	r.mu.Unlock()

	for _, id := range ids {
		r.mu.Lock()
		entry, ok := r.byUUID[id]
		r.mu.Unlock()
		if !ok {
			continue
		}
		entry.mu.Lock()
		if entry.bound == conn {
			entry.bound = nil
		}
		temporary := entry.info.Temporary
		entry.mu.Unlock()

		if temporary {
			r.mu.Lock()
			delete(r.byUUID, id)
			r.mu.Unlock()
			removed = append(removed, id)
		} else {
			unbound = append(unbound, id)
		}
	}
	return unbound, removed
}
