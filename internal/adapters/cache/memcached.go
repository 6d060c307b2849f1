package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedCache stores scores in memcached. The client has no context
// support, so ctx is only checked before each call.
type MemcachedCache struct {
	mc *memcache.Client
}

// NewMemcachedCache wraps an existing client.
func NewMemcachedCache(mc *memcache.Client) *MemcachedCache {
	return &MemcachedCache{mc: mc}
}

// expiration converts ttl to memcached seconds, rounding sub-second values up.
func expiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	secs := int32((ttl + time.Second - 1) / time.Second)
	return secs
}

func (c *MemcachedCache) Get(ctx context.Context, teamID int64) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	item, err := c.mc.Get(Key(teamID))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	score, err := decode(string(item.Value))
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s", ErrCorruptEntry, item.Key)
	}
	return score, true, nil
}

func (c *MemcachedCache) GetMany(ctx context.Context, teamIDs []int64) (map[int64]float64, error) {
	out := make(map[int64]float64, len(teamIDs))
	if len(teamIDs) == 0 {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	byKey := make(map[string]int64, len(teamIDs))
	keys := make([]string, len(teamIDs))
	for i, id := range teamIDs {
		keys[i] = Key(id)
		byKey[keys[i]] = id
	}
	items, err := c.mc.GetMulti(keys)
	if err != nil {
		return nil, err
	}
	for key, item := range items {
		if score, err := decode(string(item.Value)); err == nil {
			out[byKey[key]] = score
		}
	}
	return out, nil
}

func (c *MemcachedCache) Set(ctx context.Context, teamID int64, score float64, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.mc.Set(&memcache.Item{Key: Key(teamID), Value: []byte(encode(score)), Expiration: expiration(ttl)})
}

func (c *MemcachedCache) Add(ctx context.Context, teamID int64, score float64, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := c.mc.Add(&memcache.Item{Key: Key(teamID), Value: []byte(encode(score)), Expiration: expiration(ttl)})
	if errors.Is(err, memcache.ErrNotStored) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *MemcachedCache) Delete(ctx context.Context, teamID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.mc.Delete(Key(teamID))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}
