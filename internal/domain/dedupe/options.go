package dedupe

import "time"

// Option applies a configuration option to the InMemoryDeduper.
type Option func(*inMemoryDeduper)

// WithWindow sets how long a recorded id suppresses repeats.
// Non-positive values keep the default.
func WithWindow(window time.Duration) Option {
	return func(d *inMemoryDeduper) {
		if window > 0 {
			d.window = window
		}
	}
}

// WithCleanupInterval sets how often expired ids are purged.
func WithCleanupInterval(interval time.Duration) Option {
	return func(d *inMemoryDeduper) {
		if interval > 0 {
			d.cleanupInterval = interval
		}
	}
}
