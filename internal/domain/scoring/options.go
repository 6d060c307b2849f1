package scoring

import "time"

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithAlpha sets the time-spread damping factor. Non-positive values are ignored.
func WithAlpha(alpha float64) Option {
	return func(c *Calculator) {
		if alpha > 0 {
			c.alpha = alpha
		}
	}
}

// WithBeta sets the per-new-member bonus. Negative values are ignored.
func WithBeta(beta float64) Option {
	return func(c *Calculator) {
		if beta >= 0 {
			c.beta = beta
		}
	}
}

// WithNewMemberWindow sets how far before the anchor a member's account may
// have been created and still count as new.
func WithNewMemberWindow(window time.Duration) Option {
	return func(c *Calculator) {
		if window > 0 {
			c.newMemberWindow = window
		}
	}
}
