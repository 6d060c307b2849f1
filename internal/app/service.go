// Package service is the consistency coordinator. It owns the flow from a
// check-in to a committed score and serves the read and admin APIs over the
// durable store and the cache.
//
// Writes always go to the store first, inside the team's lock, and only then
// to the cache. The cache is never read on the write path.
package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/rally/internal/adapters/cache"
	"github.com/okian/rally/internal/adapters/mq/queue"
	"github.com/okian/rally/internal/adapters/mq/status"
	"github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/dedupe"
	"github.com/okian/rally/internal/domain/scoring"
	"github.com/okian/rally/internal/domain/task"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
)

const (
	defaultCacheTTL   = time.Hour
	defaultStatusTTL  = 24 * time.Hour
	cacheWriteTimeout = 2 * time.Second
	storeReadTimeout  = 5 * time.Second
)

// Service wires the pipeline components together.
type Service struct {
	mu sync.RWMutex

	// Core components
	scores     repository.ScoreStore
	campaign   repository.CampaignRepository
	cache      cache.Cache
	queue      queue.Queue
	statuses   status.Store
	deduper    dedupe.Deduper
	calc       *scoring.Calculator
	dispatcher *worker.Dispatcher
	pool       *worker.Pool

	locks  *teamLocks
	flight singleflight.Group

	// Configuration
	workerCount int
	cacheTTL    time.Duration
	retryPolicy worker.RetryPolicy
	taskTimeout time.Duration
	now         func() time.Time

	// State
	started    bool
	cancelWork context.CancelFunc

	logger logger.Logger
}

// New creates a service. Components not supplied through options default to
// their in-memory implementations.
func New(opts ...Option) *Service {
	s := &Service{
		cacheTTL:    defaultCacheTTL,
		retryPolicy: worker.DefaultRetryPolicy(),
		now:         time.Now,
		locks:       newTeamLocks(),
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.scores == nil {
		s.scores = repository.NewMemoryScoreStore(repository.WithClock(s.now))
	}
	if s.campaign == nil {
		s.campaign = repository.NewMemoryCampaignRepository(repository.WithClock(s.now))
	}
	if s.cache == nil {
		s.cache = cache.NewMemoryCache(time.Minute)
	}
	if s.queue == nil {
		s.queue = queue.NewInMemoryQueue()
	}
	if s.statuses == nil {
		s.statuses = status.NewMemoryStore(defaultStatusTTL)
	}
	if s.deduper == nil {
		s.deduper = dedupe.NewInMemoryDeduper()
	}
	if s.calc == nil {
		s.calc = scoring.NewCalculator()
	}

	s.dispatcher = worker.NewDispatcher(s.queue, s.statuses,
		worker.WithDispatcherLogger(s.logger.Named("dispatcher")),
		worker.WithDispatcherClock(s.now),
	)
	return s
}

// Start launches the worker pool. Tasks enqueued before Start wait in the
// queue. Workers keep running after ctx ends; only Stop ends them, so a
// shutdown signal does not cancel tasks in flight.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	s.pool = worker.NewPool(s.workerCount, s.queue, handler{s: s},
		worker.WithLogger(s.logger.Named("worker")),
		worker.WithStatusStore(s.statuses),
		worker.WithRetryPolicy(s.retryPolicy),
		worker.WithTaskTimeout(s.taskTimeout),
		worker.WithClock(s.now),
	)
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.pool.Start(workCtx)
	s.cancelWork = cancel
	s.started = true

	s.logger.Info(ctx, "service started",
		logger.Int("workers", s.pool.Stats(ctx).Workers),
		logger.Duration("cache_ttl", s.cacheTTL),
		logger.Int("max_attempts", s.retryPolicy.MaxAttempts),
	)
	return nil
}

// Stop drains the worker pool and closes the queue.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	err := s.pool.Shutdown(ctx)
	s.cancelWork()
	s.logger.Info(ctx, "service stopped")
	return err
}

// IsStarted reports whether workers are running.
func (s *Service) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// TaskStatus returns the latest recorded state of a task.
func (s *Service) TaskStatus(ctx context.Context, id string) (task.Status, error) {
	return s.dispatcher.Status(ctx, id)
}

// GetStats returns a snapshot of the pipeline.
func (s *Service) GetStats(ctx context.Context) types.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := types.Stats{
		Started:     s.started,
		DedupeSize:  s.deduper.Size(),
		CacheTTLSec: int(s.cacheTTL / time.Second),
		Queued:      s.queue.Len(ctx),
	}
	if s.pool != nil {
		ps := s.pool.Stats(ctx)
		st.Workers = ps.Workers
		st.Busy = ps.Busy
		st.Succeeded = ps.Succeeded
		st.Failed = ps.Failed
		st.Retried = ps.Retried
		st.Queued = ps.Queued
	}
	return st
}
