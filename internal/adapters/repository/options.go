package repository

import (
	"time"

	"github.com/okian/rally/pkg/logger"
)

// Option applies a configuration option to the stores in this package.
type Option func(*options)

type options struct {
	now           func() time.Time
	log           logger.Logger
	slowThreshold time.Duration
}

func defaultOptions() options {
	return options{
		now:           time.Now,
		log:           logger.Nop(),
		slowThreshold: 300 * time.Millisecond,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger routes database warnings to l.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithSlowThreshold sets the duration above which queries are logged as slow.
func WithSlowThreshold(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.slowThreshold = d
		}
	}
}
