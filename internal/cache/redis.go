package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Redis-backed implementation of Cache for multi-instance
// deployments. Keys are namespaced with a prefix so the cache shares a Redis
// database with the low-stock alert channel.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache wraps an existing Redis client. The caller owns the client's
// lifecycle when sharing it; Close here is a no-op for shared clients.
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "stockhold:cache:"
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

// Get retrieves a value by key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return value, nil
}

// Set stores a value with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err()
}

// Delete removes a value by key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.keyPrefix+key).Err()
}

// Close is a no-op: the Redis client is shared and closed by its owner.
func (c *RedisCache) Close() error {
	return nil
}

// Ensure RedisCache implements Cache
var _ Cache = (*RedisCache)(nil)
