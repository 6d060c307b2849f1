// Package cache holds the fast, expiring copy of team scores.
//
// The cache is never authoritative. Every backend may lose entries at any
// time and callers fall back to the durable store.
package cache

import (
	"context"
	"strconv"
	"time"
)

// Cache maps team ids to scores with a per-entry TTL.
type Cache interface {
	// Get reports ok=false on a miss.
	Get(ctx context.Context, teamID int64) (score float64, ok bool, err error)
	// GetMany returns only the hits.
	GetMany(ctx context.Context, teamIDs []int64) (map[int64]float64, error)
	// Set overwrites the entry.
	Set(ctx context.Context, teamID int64, score float64, ttl time.Duration) error
	// Add writes the entry only if none exists and reports whether it did.
	Add(ctx context.Context, teamID int64, score float64, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, teamID int64) error
}

// Key returns the cache key for a team's score.
func Key(teamID int64) string {
	return "team:" + strconv.FormatInt(teamID, 10) + ":score"
}

func encode(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func decode(raw string) (float64, error) {
	return strconv.ParseFloat(raw, 64)
}
