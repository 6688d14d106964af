package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// TTLCache stores short-lived string values under a key prefix.
type TTLCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewTTLCache wraps client with a prefix and expiry.
func NewTTLCache(client *redis.Client, prefix string, ttl time.Duration) *TTLCache {
	return &TTLCache{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the cached value; ok is false on a miss.
func (c *TTLCache) Get(ctx context.Context, key string) (string, bool, error) {
	if c == nil || c.client == nil {
		return "", false, nil
	}
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

// Set stores value for the configured TTL.
func (c *TTLCache) Set(ctx context.Context, key, value string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, c.prefix+key, value, c.ttl).Err()
}

// Delete drops key.
func (c *TTLCache) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.prefix+key).Err()
}
