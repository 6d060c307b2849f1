package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/rally/internal/adapters/mq/queue"
	"github.com/okian/rally/internal/adapters/mq/status"
	"github.com/okian/rally/internal/domain/task"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

// Dispatcher is the single way work enters the queue.
type Dispatcher struct {
	queue    queue.Queue
	statuses status.Store
	now      func() time.Time
	logger   logger.Logger
}

// NewDispatcher creates a dispatcher writing to q and recording status in s.
func NewDispatcher(q queue.Queue, s status.Store, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:    q,
		statuses: s,
		now:      time.Now,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue assigns t an id, records it as PENDING and queues it.
func (d *Dispatcher) Enqueue(ctx context.Context, t task.Task) (string, error) {
	id := uuid.NewString()
	env, err := task.Encode(id, t, d.now())
	if err != nil {
		return "", err
	}

	st := task.Status{
		ID:        id,
		Kind:      env.Kind,
		State:     task.StatePending,
		Attempt:   env.Attempt,
		UpdatedAt: env.EnqueuedAt,
	}
	if err := d.statuses.Put(ctx, st); err != nil {
		metrics.RecordStatusError()
		return "", fmt.Errorf("record task status: %w", err)
	}

	if err := d.queue.Enqueue(ctx, env); err != nil {
		st.State = task.StateFailure
		st.Failure = &task.Failure{Kind: "transient", Message: err.Error()}
		st.UpdatedAt = d.now().UTC()
		if perr := d.statuses.Put(context.WithoutCancel(ctx), st); perr != nil {
			metrics.RecordStatusError()
		}
		d.logger.Warn(ctx, "enqueue failed",
			logger.String("task_id", id),
			logger.String("kind", string(env.Kind)),
			logger.Error(err),
		)
		return "", fmt.Errorf("enqueue %s: %w", env.Kind, err)
	}

	metrics.RecordTaskEnqueued(string(env.Kind))
	return id, nil
}

// Status returns the latest recorded status of a task.
func (d *Dispatcher) Status(ctx context.Context, id string) (task.Status, error) {
	return d.statuses.Get(ctx, id)
}
