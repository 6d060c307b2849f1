// Package queue defines the contract for enqueuing and consuming tasks.
//
// Deliveries are at-least-once: a consumer must Ack an envelope after its
// final status is recorded, and backends that persist work redeliver
// unacknowledged envelopes after a restart.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/rally/internal/domain/task"
	"github.com/okian/rally/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10000
	defaultBufferSize    = 10000
	redeliverBackoff     = 100 * time.Millisecond
)

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an envelope. Returns ErrQueueFull or ErrClosed when the
	// envelope was not accepted.
	Enqueue(ctx context.Context, env task.Envelope) error

	// EnqueueAfter makes env visible to consumers once delay has passed.
	EnqueueAfter(ctx context.Context, env task.Envelope, delay time.Duration) error

	// Dequeue returns a channel that receives envelopes as they become
	// available. The channel is closed when the queue is closed or ctx ends.
	Dequeue(ctx context.Context) <-chan task.Envelope

	// Ack marks a delivered envelope as handled.
	Ack(ctx context.Context, env task.Envelope) error

	// Len returns the number of envelopes waiting, including delayed ones.
	Len(ctx context.Context) int

	// Close gracefully shuts down the queue.
	Close() error
}

// InMemoryQueue implements Queue using a buffered channel. Delayed envelopes
// are held by timers and are lost when the process exits.
type InMemoryQueue struct {
	events     chan task.Envelope
	capacity   int
	bufferSize int

	mu      sync.RWMutex
	closed  bool
	timers  map[*time.Timer]struct{}
	delayed int
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:   defaultQueueCapacity,
		bufferSize: defaultBufferSize,
		timers:     make(map[*time.Timer]struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}
	if q.bufferSize < q.capacity {
		q.bufferSize = q.capacity
	}

	q.events = make(chan task.Envelope, q.bufferSize)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds an envelope to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, env task.Envelope) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueError("closed")
		return ErrClosed
	}
	if len(q.events) >= q.capacity {
		metrics.RecordQueueError("capacity_exceeded")
		return ErrQueueFull
	}

	select {
	case q.events <- env:
		metrics.UpdateQueueSize(len(q.events) + q.delayed)
		return nil
	case <-ctx.Done():
		metrics.RecordQueueError("context_cancelled")
		return ctx.Err()
	default:
		metrics.RecordQueueError("queue_full")
		return ErrQueueFull
	}
}

// EnqueueAfter schedules env on a timer. If the queue is full when the timer
// fires the envelope is offered again shortly after instead of being dropped.
func (q *InMemoryQueue) EnqueueAfter(ctx context.Context, env task.Envelope, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, env)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		metrics.RecordQueueError("closed")
		return ErrClosed
	}
	q.delayed++
	q.schedule(env, delay)
	return nil
}

// schedule must be called with mu held.
func (q *InMemoryQueue) schedule(env task.Envelope, delay time.Duration) {
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		if q.closed {
			q.mu.Unlock()
			return
		}
		select {
		case q.events <- env:
			q.delayed--
			metrics.UpdateQueueSize(len(q.events) + q.delayed)
		default:
			q.schedule(env, redeliverBackoff)
		}
		q.mu.Unlock()
	})
	q.timers[t] = struct{}{}
}

// Dequeue returns a channel that will receive envelopes as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan task.Envelope {
	out := make(chan task.Envelope)
	go func() {
		defer close(out)
		for {
			select {
			case env, ok := <-q.events:
				if !ok {
					return
				}
				select {
				case out <- env:
					metrics.UpdateQueueSize(q.Len(ctx))
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Ack is a no-op: a delivered envelope is no longer held by the queue.
func (q *InMemoryQueue) Ack(context.Context, task.Envelope) error {
	return nil
}

// Len returns the current number of queued envelopes.
func (q *InMemoryQueue) Len(context.Context) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.events) + q.delayed
}

// Close stops pending timers and closes the channel consumers read from.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	for t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	q.delayed = 0
	close(q.events)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
