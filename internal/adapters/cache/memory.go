package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache keeps scores in process with go-cache expiry.
type MemoryCache struct {
	c *gocache.Cache
}

// NewMemoryCache creates a cache that purges expired entries every cleanup.
func NewMemoryCache(cleanup time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(gocache.NoExpiration, cleanup)}
}

// ttlOrForever maps a non-positive ttl to no expiry.
func ttlOrForever(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (m *MemoryCache) Get(_ context.Context, teamID int64) (float64, bool, error) {
	v, ok := m.c.Get(Key(teamID))
	if !ok {
		return 0, false, nil
	}
	score, ok := v.(float64)
	if !ok {
		return 0, false, ErrCorruptEntry
	}
	return score, true, nil
}

func (m *MemoryCache) GetMany(ctx context.Context, teamIDs []int64) (map[int64]float64, error) {
	out := make(map[int64]float64, len(teamIDs))
	for _, id := range teamIDs {
		if score, ok, _ := m.Get(ctx, id); ok {
			out[id] = score
		}
	}
	return out, nil
}

func (m *MemoryCache) Set(_ context.Context, teamID int64, score float64, ttl time.Duration) error {
	m.c.Set(Key(teamID), score, ttlOrForever(ttl))
	return nil
}

func (m *MemoryCache) Add(_ context.Context, teamID int64, score float64, ttl time.Duration) (bool, error) {
	return m.c.Add(Key(teamID), score, ttlOrForever(ttl)) == nil, nil
}

func (m *MemoryCache) Delete(_ context.Context, teamID int64) error {
	m.c.Delete(Key(teamID))
	return nil
}

// Flush drops every entry.
func (m *MemoryCache) Flush() {
	m.c.Flush()
}
