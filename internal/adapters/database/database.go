// Package database constructs clients for the external stores.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// NewRedis returns a client for addr. It does not dial.
func NewRedis(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// PingRedis verifies the server is reachable.
func PingRedis(ctx context.Context, c *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// NewMemcached returns a client for one or more comma separated servers.
func NewMemcached(servers ...string) *memcache.Client {
	c := memcache.New(servers...)
	c.Timeout = 500 * time.Millisecond
	return c
}

// PingMemcached verifies every server is reachable.
func PingMemcached(c *memcache.Client) error {
	if err := c.Ping(); err != nil {
		return fmt.Errorf("ping memcached: %w", err)
	}
	return nil
}
