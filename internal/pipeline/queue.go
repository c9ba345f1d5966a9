// Package pipeline holds the plumbing shared by the capture, processing and
// synthesis stages: bounded drop-newest queues and the worker lifecycle.
package pipeline

import "sync/atomic"

// DefaultCapacity is the capacity of every queue between pipeline stages.
const DefaultCapacity = 2

// Queue is a bounded FIFO with non-blocking push and pop.
//
// Overflow policy is drop-newest: when the queue is full, Push discards the
// item being inserted and leaves the queued items untouched. Ownership of an
// item moves to the queue on a successful Push and to the caller on Pop.
type Queue[T any] struct {
	items  chan T
	drops  atomic.Uint64
	pushed atomic.Uint64
}

// NewQueue creates a queue holding at most capacity items. A capacity below 1
// is raised to 1.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{items: make(chan T, capacity)}
}

// Push enqueues v without blocking. It returns false, and counts a drop, when
// the queue is full.
func (q *Queue[T]) Push(v T) bool {
	select {
	case q.items <- v:
		q.pushed.Add(1)
		return true
	default:
		q.drops.Add(1)
		return false
	}
}

// Pop dequeues the oldest item without blocking. ok is false when the queue
// is empty.
func (q *Queue[T]) Pop() (v T, ok bool) {
	select {
	case v = <-q.items:
		return v, true
	default:
		return v, false
	}
}

// Drain discards everything currently queued and returns how many items were removed.
func (q *Queue[T]) Drain() int {
	n := 0
	for {
		if _, ok := q.Pop(); !ok {
			return n
		}
		n++
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.items) }

// Drops returns how many pushes were rejected because the queue was full.
func (q *Queue[T]) Drops() uint64 { return q.drops.Load() }

// Pushed returns how many pushes were accepted.
func (q *Queue[T]) Pushed() uint64 { return q.pushed.Load() }
