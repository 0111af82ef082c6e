package common

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisCache implements CacheRepository on a shared Redis instance. All keys
// are namespaced under a prefix so Clear only touches this repository's data.
//
// CacheRepository is a synchronous, infallible interface, so Redis errors are
// logged and treated as misses/no-ops; a flaky Redis degrades to more backend
// fetches, never to request failures.
type redisCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisCache wraps an existing *redis.Client as a CacheRepository.
// The prefix (e.g. "utaapi:") namespaces every key.
func NewRedisCache(client *redis.Client, prefix string, logger *zap.Logger) CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (c *redisCache) Get(key string) ([]byte, bool) {
	ctx := context.Background()
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("redis GET failed, treating as cache miss", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return val, true
}

func (c *redisCache) Set(key string, value []byte, expiration time.Duration) {
	ctx := context.Background()
	if err := c.client.Set(ctx, c.prefix+key, value, expiration).Err(); err != nil {
		c.logger.Warn("redis SET failed, entry not cached", zap.String("key", key), zap.Error(err))
	}
}

func (c *redisCache) Delete(key string) {
	ctx := context.Background()
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.logger.Warn("redis DEL failed", zap.String("key", key), zap.Error(err))
	}
}

// Clear scans the prefix and deletes in batches. SCAN keeps this safe on a
// shared instance; only keys under this repository's prefix are removed.
func (c *redisCache) Clear() {
	ctx := context.Background()
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				c.logger.Warn("redis DEL batch failed during clear", zap.Error(err))
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("redis SCAN failed during clear", zap.Error(err))
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			c.logger.Warn("redis DEL batch failed during clear", zap.Error(err))
		}
	}
}
