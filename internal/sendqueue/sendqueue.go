// Package sendqueue holds messages produced by any goroutine until the
// connection's I/O loop gets around to writing them.
package sendqueue

import "sync"

// Queue is an unbounded FIFO with many producers and a single consumer.
// Enqueue never blocks; the consumer waits on Ready and then calls DrainAll.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
	}
}

func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	// a pending signal already covers this item
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready receives a value after one or more Enqueue calls since the previous
// receive.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// DrainAll appends everything currently queued to dst in arrival order and
// empties the queue.
func (q *Queue[T]) DrainAll(dst []T) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	dst = append(dst, q.items...)
	clear(q.items)
	q.items = q.items[:0]
	return dst
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
