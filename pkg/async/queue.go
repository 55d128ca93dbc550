// Package async provides the multi-producer/multi-consumer event queue and
// single-shot awaiter primitives that the rest of the module builds on.
//
// These mirror the two concurrency primitives the original control system
// layered everything else on top of (a blocking event-consumer queue and a
// then/catch awaiter), reworked as Go channels and futures so ownership and
// lifetime are explicit instead of flowing through shared mutable callback
// lists.
package async

import "context"

// Queue is a buffered, typed event channel. Any number of goroutines may
// Send to it; a single dispatch loop normally owns the consuming side, the
// same shape the original per-connection dispatch loops relied on.
type Queue[T any] struct {
	ch chan T
}

// NewQueue creates a queue with the given buffer depth.
func NewQueue[T any](buffer int) *Queue[T] {
	return &Queue[T]{ch: make(chan T, buffer)}
}

// Send blocks until the value is queued. It has no cancellation: a Send on a
// full queue whose consumer has stopped blocks forever. Callers that must
// never block should use TrySend.
func (q *Queue[T]) Send(v T) {
	q.ch <- v
}

// TrySend enqueues v without blocking, reporting whether it was queued.
func (q *Queue[T]) TrySend(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// C exposes the underlying channel for use in a select statement, the usual
// way a dispatch loop joins several queues into one ordered stream.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Get pops one value, blocking until one arrives or ctx is done.
func (q *Queue[T]) Get(ctx context.Context) (T, bool) {
	select {
	case v, ok := <-q.ch:
		return v, ok
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}
