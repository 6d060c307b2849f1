package queue

import "time"

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum capacity of the queue.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithBufferSize sets the buffer size for the events channel. It is raised
// to the capacity when smaller.
func WithBufferSize(size int) Option {
	return func(q *InMemoryQueue) {
		if size > 0 {
			q.bufferSize = size
		}
	}
}

// RedisOption applies a configuration option to the RedisQueue.
type RedisOption func(*RedisQueue)

// WithKeyPrefix namespaces the queue's redis keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(q *RedisQueue) {
		if prefix != "" {
			q.prefix = prefix
		}
	}
}

// WithRedisCapacity bounds the pending list. Zero means unbounded.
func WithRedisCapacity(capacity int) RedisOption {
	return func(q *RedisQueue) {
		if capacity >= 0 {
			q.capacity = capacity
		}
	}
}

// WithPollInterval sets how long a consumer blocks waiting for work before
// promoting due delayed envelopes again.
func WithPollInterval(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}
