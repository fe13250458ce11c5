// Package cache fronts the public verification endpoint with a short-TTL
// Redis cache. The endpoint is unauthenticated and bank-facing, so it is the
// one read path where repeated identical requests are expected.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/doc-shield/lc-engine/internal/config"
)

// ErrMiss reports that the key is not cached.
var ErrMiss = errors.New("cache miss")

// Cache is a nil-safe wrapper: a disabled cache misses on every read and
// swallows writes, so callers never branch on whether Redis is configured.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis when enabled; otherwise it returns a pass-through
// cache.
func New(cfg config.RedisConfig, logger *zap.Logger) *Cache {
	if !cfg.Enabled {
		return &Cache{logger: logger}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{client: client, ttl: cfg.TTL, logger: logger}
}

// GetJSON loads and decodes a cached value into dest.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return ErrMiss
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		// A broken cache degrades to a miss, never to a failed read.
		c.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		return ErrMiss
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return ErrMiss
	}
	return nil
}

// SetJSON stores a value under the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
