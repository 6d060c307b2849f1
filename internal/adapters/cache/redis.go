package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores scores as strings with EX expiry.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache wraps an existing client. The caller owns its lifecycle.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, teamID int64) (float64, bool, error) {
	raw, err := c.rdb.Get(ctx, Key(teamID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	score, err := decode(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s", ErrCorruptEntry, Key(teamID))
	}
	return score, true, nil
}

func (c *RedisCache) GetMany(ctx context.Context, teamIDs []int64) (map[int64]float64, error) {
	out := make(map[int64]float64, len(teamIDs))
	if len(teamIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(teamIDs))
	for i, id := range teamIDs {
		keys[i] = Key(id)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if score, err := decode(s); err == nil {
			out[teamIDs[i]] = score
		}
	}
	return out, nil
}

func (c *RedisCache) Set(ctx context.Context, teamID int64, score float64, ttl time.Duration) error {
	return c.rdb.Set(ctx, Key(teamID), encode(score), ttl).Err()
}

func (c *RedisCache) Add(ctx context.Context, teamID int64, score float64, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, Key(teamID), encode(score), ttl).Result()
}

func (c *RedisCache) Delete(ctx context.Context, teamID int64) error {
	return c.rdb.Del(ctx, Key(teamID)).Err()
}
