package service

import (
	"time"

	"github.com/okian/rally/internal/adapters/cache"
	"github.com/okian/rally/internal/adapters/mq/queue"
	"github.com/okian/rally/internal/adapters/mq/status"
	"github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/dedupe"
	"github.com/okian/rally/internal/domain/scoring"
	"github.com/okian/rally/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithScoreStore sets the durable score store.
func WithScoreStore(s repository.ScoreStore) Option {
	return func(svc *Service) {
		if s != nil {
			svc.scores = s
		}
	}
}

// WithCampaignRepository sets where events, teams, users and check-ins live.
func WithCampaignRepository(r repository.CampaignRepository) Option {
	return func(svc *Service) {
		if r != nil {
			svc.campaign = r
		}
	}
}

// WithCache sets the score cache.
func WithCache(c cache.Cache) Option {
	return func(svc *Service) {
		if c != nil {
			svc.cache = c
		}
	}
}

// WithQueue sets the task queue.
func WithQueue(q queue.Queue) Option {
	return func(svc *Service) {
		if q != nil {
			svc.queue = q
		}
	}
}

// WithStatusStore sets where task states are recorded.
func WithStatusStore(s status.Store) Option {
	return func(svc *Service) {
		if s != nil {
			svc.statuses = s
		}
	}
}

// WithDeduper sets the check-in request id deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(svc *Service) {
		if d != nil {
			svc.deduper = d
		}
	}
}

// WithCalculator sets the score calculator.
func WithCalculator(c *scoring.Calculator) Option {
	return func(svc *Service) {
		if c != nil {
			svc.calc = c
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(svc *Service) {
		if count > 0 {
			svc.workerCount = count
		}
	}
}

// WithCacheTTL sets how long cached scores live.
func WithCacheTTL(ttl time.Duration) Option {
	return func(svc *Service) {
		if ttl > 0 {
			svc.cacheTTL = ttl
		}
	}
}

// WithRetryPolicy sets task attempt limits and delays.
func WithRetryPolicy(p worker.RetryPolicy) Option {
	return func(svc *Service) {
		if p.MaxAttempts > 0 {
			svc.retryPolicy = p
		}
	}
}

// WithTaskTimeout bounds one task execution.
func WithTaskTimeout(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.taskTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		if now != nil {
			svc.now = now
		}
	}
}
