package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "salesops:analytics:version"
	// BumpChannel carries the new cache version after every sale write.
	BumpChannel = "salesops.sales.bump"

	localLimit = 256
)

// Cache wraps Redis based caching with versioning controls. A nil Cache, or
// one without a client, passes every call straight to the loader.
//
// Encoded values are also kept in a process-local memo keyed by the versioned
// key. Entries under an old version are never read again; Bump and bump
// notifications from other replicas drop them.
type Cache struct {
	client *redis.Client
	ttl    time.Duration

	mu    sync.Mutex
	local map[string][]byte
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, local: make(map[string][]byte)}
}

// Enabled reports whether a Redis client backs the cache.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if !c.Enabled() {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// Fetch loads a cached value or populates it using loader. hit reports
// whether the value came from Redis.
func Fetch[T any](ctx context.Context, c *Cache, key string, loader func(context.Context) (T, error)) (value T, hit bool, err error) {
	if loader == nil {
		return value, false, errors.New("analytics: cache loader required")
	}
	if !c.Enabled() {
		value, err = loader(ctx)
		return value, false, err
	}
	if payload, ok := c.recall(key); ok {
		if err := json.Unmarshal(payload, &value); err == nil {
			return value, true, nil
		}
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		if err := json.Unmarshal(payload, &value); err == nil {
			c.remember(key, payload)
			return value, true, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return value, false, err
	}
	value, err = loader(ctx)
	if err != nil {
		return value, false, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return value, false, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return value, false, err
	}
	c.remember(key, raw)
	return value, false, nil
}

func (c *Cache) recall(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.local[key]
	return payload, ok
}

func (c *Cache) remember(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil || len(c.local) >= localLimit {
		c.local = make(map[string][]byte)
	}
	c.local[key] = payload
}

// purge drops every locally memoised value.
func (c *Cache) purge() {
	c.mu.Lock()
	c.local = make(map[string][]byte)
	c.mu.Unlock()
}

// Bump invalidates the cache by incrementing the global version and publishing an event.
func (c *Cache) Bump(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	c.purge()
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation subscribes to version bumps published by other
// processes and drops the local memo on each one. onBump receives the
// published version, or 0 when the payload is not a number. The subscription
// ends with ctx.
func (c *Cache) ListenForInvalidation(ctx context.Context, channel string, onBump func(version int64)) error {
	if !c.Enabled() {
		return nil
	}
	if channel == "" {
		channel = BumpChannel
	}
	pubsub := c.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.purge()
				ver, _ := strconv.ParseInt(msg.Payload, 10, 64)
				if onBump != nil {
					onBump(ver)
				}
			}
		}
	}()
	return nil
}
