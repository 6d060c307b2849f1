package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/rally/internal/domain/task"
	"github.com/okian/rally/pkg/metrics"
)

const (
	defaultKeyPrefix    = "rally:tasks"
	defaultPollInterval = time.Second
	promoteBatch        = 100
)

// RedisQueue keeps envelopes in redis so work survives a restart.
//
// Layout: a pending list consumers pop from, a processing list holding
// delivered but unacknowledged envelopes, and a sorted set of delayed
// envelopes scored by due time in unix milliseconds.
type RedisQueue struct {
	rdb          *redis.Client
	prefix       string
	capacity     int
	pollInterval time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRedisQueue wraps an existing client. The caller owns its lifecycle.
func NewRedisQueue(rdb *redis.Client, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		rdb:          rdb,
		prefix:       defaultKeyPrefix,
		pollInterval: defaultPollInterval,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) pendingKey() string    { return q.prefix + ":pending" }
func (q *RedisQueue) processingKey() string { return q.prefix + ":processing" }
func (q *RedisQueue) delayedKey() string    { return q.prefix + ":delayed" }

func (q *RedisQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *RedisQueue) Enqueue(ctx context.Context, env task.Envelope) error {
	if q.isClosed() {
		metrics.RecordQueueError("closed")
		return ErrClosed
	}
	if q.capacity > 0 {
		n, err := q.rdb.LLen(ctx, q.pendingKey()).Result()
		if err != nil {
			metrics.RecordQueueError("enqueue")
			return err
		}
		if n >= int64(q.capacity) {
			metrics.RecordQueueError("capacity_exceeded")
			return ErrQueueFull
		}
	}
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.pendingKey(), raw).Err(); err != nil {
		metrics.RecordQueueError("enqueue")
		return err
	}
	return nil
}

func (q *RedisQueue) EnqueueAfter(ctx context.Context, env task.Envelope, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, env)
	}
	if q.isClosed() {
		metrics.RecordQueueError("closed")
		return ErrClosed
	}
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	due := time.Now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(due), Member: string(raw)}).Err(); err != nil {
		metrics.RecordQueueError("enqueue_after")
		return err
	}
	return nil
}

// promote moves due delayed envelopes to the pending list. ZREM decides
// which consumer wins an envelope so each is promoted once.
func (q *RedisQueue) promote(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: promoteBatch,
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.pendingKey(), member).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Dequeue starts a consumer loop. Each delivered envelope carries its raw
// form as the receipt used by Ack.
func (q *RedisQueue) Dequeue(ctx context.Context) <-chan task.Envelope {
	out := make(chan task.Envelope)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			default:
			}

			if err := q.promote(ctx); err != nil && ctx.Err() == nil {
				metrics.RecordQueueError("promote")
			}

			raw, err := q.rdb.BRPopLPush(ctx, q.pendingKey(), q.processingKey(), q.pollInterval).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.RecordQueueError("dequeue")
				select {
				case <-time.After(q.pollInterval):
				case <-ctx.Done():
					return
				case <-q.done:
					return
				}
				continue
			}

			env, err := task.Unmarshal([]byte(raw))
			if err != nil {
				metrics.RecordQueueError("malformed")
				q.rdb.LRem(ctx, q.processingKey(), 1, raw)
				continue
			}
			env.Receipt = raw

			select {
			case out <- env:
			case <-ctx.Done():
				return
			case <-q.done:
				return
			}
		}
	}()
	return out
}

func (q *RedisQueue) Ack(ctx context.Context, env task.Envelope) error {
	if env.Receipt == "" {
		return nil
	}
	if err := q.rdb.LRem(ctx, q.processingKey(), 1, env.Receipt).Err(); err != nil {
		metrics.RecordQueueError("ack")
		return err
	}
	return nil
}

// Len counts pending and delayed envelopes.
func (q *RedisQueue) Len(ctx context.Context) int {
	pipe := q.rdb.Pipeline()
	pending := pipe.LLen(ctx, q.pendingKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordQueueError("len")
		return 0
	}
	return int(pending.Val() + delayed.Val())
}

// Recover moves every unacknowledged envelope back to the pending list.
// Call it once at start-up before any consumer runs; with several processes
// sharing the keys it would also steal their in-flight work.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.rdb.RPopLPush(ctx, q.processingKey(), q.pendingKey()).Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Close stops consumer loops. Queued envelopes stay in redis.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}
