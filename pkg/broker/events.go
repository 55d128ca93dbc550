package broker

import (
	"sync"

	"github.com/google/uuid"
)

// eventRecord tracks one in-flight CALL_EVENT: which targets are still
// outstanding. It is garbage-collected once every target has replied or its
// owning connection has closed (spec §9, resolved open question 3 — the
// source kept these indefinitely).
type eventRecord struct {
	mu        sync.Mutex
	name      string
	origin    uuid.UUID
	remaining map[uuid.UUID]struct{}
}

func newEventRecord(name string, origin uuid.UUID, targets []uuid.UUID) *eventRecord {
	remaining := make(map[uuid.UUID]struct{}, len(targets))
	for _, t := range targets {
		remaining[t] = struct{}{}
	}
	return &eventRecord{name: name, origin: origin, remaining: remaining}
}

// resolve marks target as done and reports whether the record is now
// exhausted (every target has replied or been dropped).
func (e *eventRecord) resolve(target uuid.UUID) (exhausted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.remaining, target)
	return len(e.remaining) == 0
}

// putEvent registers a fresh event record under the given uuid.
func (r *Registry) putEvent(id uuid.UUID, rec *eventRecord) {
	r.mu.Lock()
	r.events[id] = rec
	r.mu.Unlock()
}

// resolveEventTarget marks one target of event id as resolved and evicts the
// record once exhausted. It reports ok=false if the event is unknown
// (already evicted, e.g. after a broker restart — callers should treat the
// reply as orphaned).
func (r *Registry) resolveEventTarget(id, target uuid.UUID) (ok bool) {
	r.mu.Lock()
	rec, exists := r.events[id]
	r.mu.Unlock()
	if !exists {
		return false
	}
	if rec.resolve(target) {
		r.mu.Lock()
		delete(r.events, id)
		r.mu.Unlock()
	}
	return true
}

// dropEventsTarget removes target's outstanding entry from every event
// record and evicts the records left with no outstanding target — called on
// disconnect so abandoned events don't linger forever waiting on a target
// that will never reply because its own connection is gone. It does not
// need the origin, since the per-target removal is keyed by uuid
// independent of which connection asked.
func (r *Registry) dropEventsTarget(target uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.events {
		rec.mu.Lock()
		delete(rec.remaining, target)
		exhausted := len(rec.remaining) == 0
		rec.mu.Unlock()
		if exhausted {
			delete(r.events, id)
		}
	}
}
