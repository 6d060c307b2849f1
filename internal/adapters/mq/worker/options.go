// Package worker runs queued tasks with status tracking and retries.
package worker

import (
	"time"

	"github.com/okian/rally/internal/adapters/mq/status"
	"github.com/okian/rally/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithStatusStore sets where task state transitions are recorded.
func WithStatusStore(s status.Store) Option {
	return func(w *InMemoryWorker) {
		if s != nil {
			w.statuses = s
		}
	}
}

// WithRetryPolicy sets attempt limits and delays.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(w *InMemoryWorker) {
		if p.MaxAttempts > 0 {
			w.policy = p
		}
	}
}

// WithTaskTimeout bounds a single execution of a task.
func WithTaskTimeout(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithClock overrides the time source for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *InMemoryWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// DispatcherOption applies a configuration option to the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the dispatcher's logger.
func WithDispatcherLogger(l logger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDispatcherClock overrides the time source used for enqueue timestamps.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}
