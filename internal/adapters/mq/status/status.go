// Package status records the lifecycle of submitted tasks so callers can poll
// them by id.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/okian/rally/internal/domain/fault"
	"github.com/okian/rally/internal/domain/task"
)

const (
	defaultTTL       = 24 * time.Hour
	defaultKeyPrefix = "rally:task"
)

// ErrNotFound is returned for unknown or expired task ids.
var ErrNotFound = fault.ErrNotFound

// Store keeps the latest status of each task.
type Store interface {
	Put(ctx context.Context, st task.Status) error
	Get(ctx context.Context, id string) (task.Status, error)
}

// MemoryStore keeps statuses in a go-cache; entries expire after the TTL.
type MemoryStore struct {
	c *gocache.Cache
}

// NewMemoryStore creates a store whose entries live for ttl after their last update.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{c: gocache.New(ttl, ttl/2)}
}

func (s *MemoryStore) Put(_ context.Context, st task.Status) error {
	s.c.SetDefault(st.ID, st)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (task.Status, error) {
	v, ok := s.c.Get(id)
	if !ok {
		return task.Status{}, fault.NotFound("task", id)
	}
	return v.(task.Status), nil
}

// RedisStore keeps statuses as JSON strings with an expiry.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore wraps an existing client. The caller owns its lifecycle.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: defaultKeyPrefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisStore) Put(ctx context.Context, st task.Status) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return s.rdb.Set(ctx, s.key(st.ID), raw, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (task.Status, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return task.Status{}, fault.NotFound("task", id)
	}
	if err != nil {
		return task.Status{}, err
	}
	var st task.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return task.Status{}, fault.Logic(fmt.Errorf("decode status %s: %w", id, err))
	}
	return st, nil
}
