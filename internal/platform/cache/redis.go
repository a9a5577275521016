// Package cache dials the Redis instance backing the analytics cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPingTimeout = 5 * time.Second
	// Analytics reads fall back to Postgres, so a slow Redis should fail fast.
	defaultReadTimeout = time.Second
)

// ErrNoAddr is returned when Connect is called without an address.
var ErrNoAddr = errors.New("platform/cache: redis address is empty")

// Options tunes the analytics Redis client. Zero values pick the defaults.
type Options struct {
	Addr        string
	PingTimeout time.Duration
	ReadTimeout time.Duration
	PoolSize    int
}

func (o Options) client() *redis.Options {
	read := o.ReadTimeout
	if read <= 0 {
		read = defaultReadTimeout
	}
	return &redis.Options{
		Addr:         o.Addr,
		ReadTimeout:  read,
		WriteTimeout: read,
		PoolSize:     o.PoolSize,
	}
}

// Connect opens a client and verifies it answers PING. A client that fails the
// check is closed before returning.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, ErrNoAddr
	}
	client := redis.NewClient(opts.client())

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}
