package worker

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/rally/internal/domain/task"
)

// RetryPolicy decides how often and how late failed tasks run again.
type RetryPolicy struct {
	// MaxAttempts counts every execution, the first one included.
	MaxAttempts int
	// BaseDelay applies to score recomputes and user registration.
	BaseDelay time.Duration
	// WriteBaseDelay applies to tasks that insert relational rows.
	WriteBaseDelay time.Duration
	MaxDelay       time.Duration
}

// DefaultRetryPolicy allows three executions, waiting 10s (60s for writes)
// and doubling up to ten minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      10 * time.Second,
		WriteBaseDelay: 60 * time.Second,
		MaxDelay:       10 * time.Minute,
	}
}

// ShouldRetry reports whether a task that just failed its attempt-th
// execution may run again.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Delay returns the wait before the execution following the attempt-th failure.
func (p RetryPolicy) Delay(kind task.Kind, attempt int) time.Duration {
	base := p.BaseDelay
	if kind.IsWrite() {
		base = p.WriteBaseDelay
	}
	if base <= 0 {
		return 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < base {
		b.MaxInterval = base
	}
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
