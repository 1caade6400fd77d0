package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ruleengine/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// maxCacheValueSize rejects values larger than 1MB
const maxCacheValueSize = 1 << 20

// RedisCache provides a Redis-based cache shared between engine instances.
// Values are msgpack encoded.
type RedisCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Ping tests the Redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Set stores a value in the cache with expiration
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		rc.logger.Errorw("Failed to encode cache value", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("redis", "marshal").Inc()
		return err
	}

	if len(data) > maxCacheValueSize {
		metrics.CacheErrors.WithLabelValues("redis", "size_limit").Inc()
		return fmt.Errorf("cache value size %d bytes exceeds maximum allowed size %d bytes", len(data), maxCacheValueSize)
	}

	if err := rc.client.Set(ctx, key, data, expiration).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
		return err
	}
	return nil
}

// Get retrieves a value from the cache. The boolean is false when the key is absent.
func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheMisses.WithLabelValues("redis").Inc()
			return false, nil
		}
		rc.logger.Errorw("Failed to get cache value", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("redis", "get").Inc()
		return false, err
	}

	if err := msgpack.Unmarshal(data, dest); err != nil {
		rc.logger.Errorw("Failed to decode cache value", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("redis", "unmarshal").Inc()
		return false, err
	}

	metrics.CacheHits.WithLabelValues("redis").Inc()
	return true, nil
}

// Delete removes a key from the cache
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, key).Err()
}

// Cache key prefixes
const (
	CacheKeyRulePrefix = "rule:"
	CacheKeyTreePrefix = "tree:"
)

// GetRuleCacheKey returns the cache key for a stored rule's tree
func GetRuleCacheKey(ruleID string) string {
	return CacheKeyRulePrefix + ruleID
}

// GetTreeCacheKey returns the cache key for a parsed tree by rule fingerprint
func GetTreeCacheKey(fingerprint string) string {
	return CacheKeyTreePrefix + fingerprint
}
