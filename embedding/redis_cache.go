package embedding

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisCachePrefix = "embedtune:embed:"

// RedisCache implements Cache on Redis string keys with expiry.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache creates a cache that uses the given Redis client.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultRedisCachePrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Get implements Cache. Any Redis error counts as a miss.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, val, ttl).Err()
}
