// Package dedupe suppresses repeated client request ids within a time window.
package dedupe

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultWindow          = 24 * time.Hour
	defaultCleanupInterval = 10 * time.Minute
)

// Deduper records seen request ids so a retried submission is accepted once.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen within the window.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so the submission can be retried, e.g. after the
	// enqueue that followed recording failed.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps ids in a go-cache with a per-entry TTL.
type inMemoryDeduper struct {
	seen            *gocache.Cache
	window          time.Duration
	cleanupInterval time.Duration
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		window:          defaultWindow,
		cleanupInterval: defaultCleanupInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = gocache.New(d.window, d.cleanupInterval)
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	// Add fails only when an unexpired entry exists.
	return d.seen.Add(id, struct{}{}, gocache.DefaultExpiration) != nil
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.seen.Delete(id)
}

// Size returns the number of ids held, including expired ones not yet purged.
func (d *inMemoryDeduper) Size() int64 {
	return int64(d.seen.ItemCount())
}
