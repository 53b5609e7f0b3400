// Package queue provides an unbounded multi-producer, single-consumer queue
// used to move watcher callbacks onto the consumer's goroutine.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is an unbounded channel-like buffer.
//
// Producers never block: Send appends and returns immediately, which keeps
// platform callbacks that feed the queue non-blocking. Exactly one goroutine
// may consume with Receive/TryReceive.
//
// # Example
//
//	q := queue.New[int]()
//
//	// Producer (any goroutine): never blocks.
//	q.Send(1)
//
//	// Consumer: blocks until a value arrives, the queue is closed and empty,
//	// or ctx is done.
//	v, ok := q.Receive(ctx)
//
// Values sent before Close stay receivable after it.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	closed  bool
	ready   chan struct{} // single-slot wakeup for the consumer
	metrics Metrics
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Send appends v. It returns false, dropping v, if the queue is closed.
func (q *Queue[T]) Send(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.metrics.addRejected(1)
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.metrics.addWritten(1)
	q.wake()
	return true
}

// Receive blocks until a value is available, the queue is closed and
// drained, or ctx is done. ok is false in the latter two cases.
func (q *Queue[T]) Receive(ctx context.Context) (v T, ok bool) {
	for {
		if v, ok = q.TryReceive(); ok {
			return v, true
		}

		q.mu.Lock()
		closed := q.closed && len(q.items) == 0
		q.mu.Unlock()
		if closed {
			return v, false
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return v, false
		}
	}
}

// TryReceive pops the oldest value without blocking.
func (q *Queue[T]) TryReceive() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return v, false
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	q.metrics.addProcessed(1)
	return v, true
}

// Len returns the number of buffered values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting values. Buffered values remain receivable.
// Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// GetMetrics returns a snapshot of current metrics values.
func (q *Queue[T]) GetMetrics() Metrics {
	return Metrics{
		Processed: atomic.LoadInt64(&q.metrics.Processed),
		Written:   atomic.LoadInt64(&q.metrics.Written),
		Rejected:  atomic.LoadInt64(&q.metrics.Rejected),
	}
}

// Metrics provides lock-free counters for a Queue.
type Metrics struct {
	Processed int64
	Written   int64
	Rejected  int64 // sends after Close
}

func (m *Metrics) addProcessed(n int) {
	atomic.AddInt64(&m.Processed, int64(n))
}

func (m *Metrics) addWritten(n int) {
	atomic.AddInt64(&m.Written, int64(n))
}

func (m *Metrics) addRejected(n int) {
	atomic.AddInt64(&m.Rejected, int64(n))
}
