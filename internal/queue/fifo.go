package queue

import (
	"context"
	"sync"
	"time"
)

// Queue is an unbounded FIFO shared between goroutines. Put never blocks.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	ready   chan struct{}
	emptied chan struct{}
}

// New creates an empty queue
func New[T any]() *Queue[T] {
	return &Queue[T]{
		ready:   make(chan struct{}, 1),
		emptied: make(chan struct{}, 1),
	}
}

// Put appends v
func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
}

// Get blocks until an item is available or ctx is done
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryGet(); ok {
			return v, nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// GetTimeout waits up to timeout for an item. ok is false on timeout.
func (q *Queue[T]) GetTimeout(timeout time.Duration) (v T, ok bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if v, ok := q.TryGet(); ok {
			return v, true
		}
		select {
		case <-q.ready:
		case <-deadline.C:
			return q.TryGet()
		}
	}
}

// TryGet removes the head item without waiting
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	} else {
		notify(q.emptied)
	}
	return v, true
}

// Drain removes every queued item and returns them
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	notify(q.emptied)
	return items
}

// WaitEmpty waits up to timeout for the queue to run empty and reports
// whether it is empty on return. It is meant for a single waiter.
func (q *Queue[T]) WaitEmpty(timeout time.Duration) bool {
	if q.Len() == 0 {
		return true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-q.emptied:
			if q.Len() == 0 {
				return true
			}
		case <-deadline.C:
			return q.Len() == 0
		}
	}
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) signal() {
	notify(q.ready)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
