// Package cache wraps Redis for short-lived keys: idempotency markers and locks.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a thin Redis helper. A nil client turns every call into a no-op
// so the service keeps running without Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Enabled reports whether a Redis client is configured.
func (c *RedisCache) Enabled() bool {
	return c != nil && c.client != nil
}

// Claim sets key only if absent. It returns true when this caller won the claim.
// Without Redis every claim succeeds.
func (c *RedisCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !c.Enabled() {
		return true, nil
	}
	return c.client.SetNX(ctx, c.key(key), "1", ttl).Result()
}

// Release drops a key taken with Claim.
func (c *RedisCache) Release(ctx context.Context, key string) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Del(ctx, c.key(key)).Err()
}
