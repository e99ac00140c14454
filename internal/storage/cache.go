package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares bucket existence across instances so repeat
// senders do not pay an existence probe on every message. Best-effort:
// every Redis failure is treated as a miss.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache returns nil when no Redis client is configured, which
// the provisioner treats as "no cache".
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Seen(ctx context.Context, bucket string) bool {
	if c == nil || c.client == nil {
		return false
	}
	n, err := c.client.Exists(ctx, bucketCacheKey(bucket)).Result()
	return err == nil && n > 0
}

func (c *RedisCache) Remember(ctx context.Context, bucket string) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Set(ctx, bucketCacheKey(bucket), "1", c.ttl)
}

func bucketCacheKey(bucket string) string {
	return "echopost:bucket:" + bucket
}
