package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/rally/internal/adapters/mq/queue"
	"github.com/okian/rally/internal/adapters/mq/status"
	"github.com/okian/rally/internal/domain/fault"
	"github.com/okian/rally/internal/domain/task"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultTaskTimeout      = 30 * time.Second
	metricsUpdateInterval   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Meta describes the delivery a handler is running for.
type Meta struct {
	TaskID  string
	Attempt int
	// EnqueuedAt is stable across retries of the same task.
	EnqueuedAt time.Time
}

// Handler executes each task variant. The returned value becomes the task's
// JSON result. Errors are classified with fault: only transient errors are
// retried.
type Handler interface {
	RecomputeScore(ctx context.Context, m Meta, t task.RecomputeScore) (any, error)
	PersistCheckins(ctx context.Context, m Meta, t task.PersistCheckins) (any, error)
	CreateTeam(ctx context.Context, m Meta, t task.CreateTeam) (any, error)
	JoinTeam(ctx context.Context, m Meta, t task.JoinTeam) (any, error)
	RegisterUser(ctx context.Context, m Meta, t task.RegisterUser) (any, error)
}

// Worker processes queued tasks.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current task.
	Shutdown(ctx context.Context) error
}

// counters are shared by every worker of a pool.
type counters struct {
	succeeded atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	busy      atomic.Int64
}

// InMemoryWorker runs tasks from a queue through a Handler.
type InMemoryWorker struct {
	queue    queue.Queue
	handler  Handler
	statuses status.Store
	policy   RetryPolicy
	timeout  time.Duration
	now      func() time.Time
	name     string
	stats    *counters
	base     logger.Logger

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q queue.Queue, h Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		handler:  h,
		statuses: status.NewMemoryStore(0),
		policy:   DefaultRetryPolicy(),
		timeout:  defaultTaskTimeout,
		now:      time.Now,
		name:     "worker",
		stats:    &counters{},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}

	for _, opt := range opts {
		opt(w)
	}
	w.base = w.logger
	w.logger = w.logger.With(logger.String("worker", w.name))
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	envelopes := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			w.process(ctx, env)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs one delivery to a recorded outcome and acknowledges it.
// Bookkeeping outlives ctx so a shutdown mid-task still records the result.
func (w *InMemoryWorker) process(ctx context.Context, env task.Envelope) {
	start := time.Now()
	w.stats.busy.Add(1)
	metrics.IncWorkerBusy()
	defer func() {
		w.stats.busy.Add(-1)
		metrics.DecWorkerBusy()
		metrics.RecordTaskLatency(string(env.Kind), float64(time.Since(start).Milliseconds()))
	}()

	bg := context.WithoutCancel(ctx)
	log := w.logger.With(
		logger.String("task_id", env.ID),
		logger.String("kind", string(env.Kind)),
		logger.Int("attempt", env.Attempt),
	)

	w.record(bg, task.Status{ID: env.ID, Kind: env.Kind, State: task.StateInProgress, Attempt: env.Attempt})

	result, err := w.execute(ctx, env)
	switch {
	case err == nil:
		st := task.Status{ID: env.ID, Kind: env.Kind, State: task.StateSuccess, Attempt: env.Attempt}
		if result != nil {
			raw, merr := json.Marshal(result)
			if merr != nil {
				log.Warn(bg, "result not serializable", logger.Error(merr))
			} else {
				st.Result = raw
			}
		}
		w.record(bg, st)
		w.stats.succeeded.Add(1)
		metrics.RecordTaskCompleted(string(env.Kind), "success")
		log.Debug(bg, "task succeeded")

	case fault.Retryable(err) && w.policy.ShouldRetry(env.Attempt):
		if rerr := w.retry(bg, env, err); rerr != nil {
			log.Error(bg, "reschedule failed", logger.Error(rerr))
			w.fail(bg, env, fmt.Errorf("%w (reschedule failed: %v)", err, rerr))
			break
		}
		log.Warn(bg, "task failed, retrying", logger.Error(err))

	default:
		w.fail(bg, env, err)
		log.Error(bg, "task failed", logger.String("error_kind", string(fault.KindOf(err))), logger.Error(err))
	}

	if aerr := w.queue.Ack(bg, env); aerr != nil {
		log.Warn(bg, "ack failed", logger.Error(aerr))
	}
}

func (w *InMemoryWorker) retry(ctx context.Context, env task.Envelope, cause error) error {
	delay := w.policy.Delay(env.Kind, env.Attempt)
	next := env
	next.Attempt++
	next.Receipt = ""

	w.record(ctx, task.Status{
		ID: env.ID, Kind: env.Kind, State: task.StatePending,
		Attempt: next.Attempt, LastError: cause.Error(),
	})
	if err := w.queue.EnqueueAfter(ctx, next, delay); err != nil {
		return err
	}
	w.stats.retried.Add(1)
	metrics.RecordTaskRetried(string(env.Kind))
	return nil
}

func (w *InMemoryWorker) fail(ctx context.Context, env task.Envelope, err error) {
	kind := fault.KindOf(err)
	w.record(ctx, task.Status{
		ID: env.ID, Kind: env.Kind, State: task.StateFailure, Attempt: env.Attempt,
		LastError: err.Error(),
		Failure:   &task.Failure{Kind: string(kind), Message: err.Error(), Attempts: env.Attempt},
	})
	w.stats.failed.Add(1)
	metrics.RecordTaskCompleted(string(env.Kind), "failure")
	metrics.RecordErrorByComponent("worker", string(kind))
}

func (w *InMemoryWorker) record(ctx context.Context, st task.Status) {
	st.UpdatedAt = w.now().UTC()
	if err := w.statuses.Put(ctx, st); err != nil {
		metrics.RecordStatusError()
		w.logger.Warn(ctx, "status write failed",
			logger.String("task_id", st.ID),
			logger.String("state", string(st.State)),
			logger.Error(err),
		)
	}
}

// execute decodes env and dispatches on the variant under the task timeout.
func (w *InMemoryWorker) execute(ctx context.Context, env task.Envelope) (result any, err error) {
	t, err := env.Decode()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fault.Logic(fmt.Errorf("%w: %v", ErrTaskPanicked, r))
		}
	}()

	m := Meta{TaskID: env.ID, Attempt: env.Attempt, EnqueuedAt: env.EnqueuedAt}
	switch t := t.(type) {
	case task.RecomputeScore:
		return w.handler.RecomputeScore(ctx, m, t)
	case task.PersistCheckins:
		return w.handler.PersistCheckins(ctx, m, t)
	case task.CreateTeam:
		return w.handler.CreateTeam(ctx, m, t)
	case task.JoinTeam:
		return w.handler.JoinTeam(ctx, m, t)
	case task.RegisterUser:
		return w.handler.RegisterUser(ctx, m, t)
	default:
		return nil, fault.Logic(fmt.Errorf("%w: %T", ErrUnhandledTask, t))
	}
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Workers   int   `json:"workers"`
	Busy      int64 `json:"busy"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Queued    int   `json:"queued"`
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   queue.Queue
	stats   *counters

	shutdown chan struct{}

	logger logger.Logger
}

// NewPool creates workerCount workers sharing q and h. Options apply to
// every worker.
func NewPool(workerCount int, q queue.Queue, h Handler, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    q,
		stats:    &counters{},
		shutdown: make(chan struct{}),
		logger:   logger.Nop(),
	}

	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		w := NewInMemoryWorker(q, h, wopts...)
		w.stats = pool.stats
		pool.workers[i] = w
	}
	pool.logger = pool.workers[0].base

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

// startMetricsUpdater periodically publishes the queue depth.
func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			metrics.UpdateQueueSize(p.queue.Len(ctx))
		}
	}
}

// Stats returns current counters.
func (p *Pool) Stats(ctx context.Context) Stats {
	return Stats{
		Workers:   len(p.workers),
		Busy:      p.stats.busy.Load(),
		Succeeded: p.stats.succeeded.Load(),
		Failed:    p.stats.failed.Load(),
		Retried:   p.stats.retried.Load(),
		Queued:    p.queue.Len(ctx),
	}
}

// Shutdown waits for workers to finish their current task, then closes the
// queue so retries scheduled by those tasks are still accepted.
func (p *Pool) Shutdown(ctx context.Context) error {
	close(p.shutdown)

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, worker := range p.workers {
		close(worker.shutdown)
		select {
		case <-worker.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}

	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
