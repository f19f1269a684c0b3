// Package queue provides the bounded FIFO used to distribute work between
// producers and worker pools. It is a work-distribution mechanism only: items
// that are still queued when the process stops are lost, so callers must be
// able to rebuild the queue from durable state.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when enqueueing into a closed queue.
var ErrClosed = errors.New("queue is closed")

// Bounded is a multi-producer, multi-consumer FIFO with a fixed capacity.
// Enqueue blocks while the queue is full, so producers feel backpressure
// instead of having work dropped.
type Bounded[T any] struct {
	items     chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewBounded creates a queue holding at most capacity items.
// A non-positive capacity is treated as 1.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bounded[T]{
		items: make(chan T, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue appends item, blocking while the queue is full.
// It returns ErrClosed once the queue is closed and ctx.Err() if ctx ends first.
func (q *Bounded[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.items <- item:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the oldest item, blocking until one is available.
// The boolean is false when the queue is closed or ctx ends.
func (q *Bounded[T]) Dequeue(ctx context.Context) (T, bool) {
	var zero T

	select {
	case <-q.done:
		return zero, false
	default:
	}

	select {
	case item := <-q.items:
		return item, true
	case <-q.done:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// Len returns the number of items waiting to be dequeued.
func (q *Bounded[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Bounded[T]) Cap() int {
	return cap(q.items)
}

// Close stops the queue. Blocked producers get ErrClosed and blocked
// consumers return immediately. The items channel is never closed, so a
// racing producer cannot panic. Close is safe to call more than once.
func (q *Bounded[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Closed reports whether Close has been called.
func (q *Bounded[T]) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
