// Package cache stores per-user analytics so repeated dashboard loads do not
// re-aggregate the diagnosis table.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

const (
	keyPrefix         = "sympfindx:analytics"
	defaultTTL        = 10 * time.Minute
	connectionTimeout = 5 * time.Second
)

// cachedAnalytics wraps analytics with cache metadata
type cachedAnalytics struct {
	Data      *domain.Analytics `json:"data"`
	CachedAt  time.Time         `json:"cached_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// RedisAnalyticsCache keeps one Redis hash per user with a field per timeframe,
// so invalidation is a single DEL.
type RedisAnalyticsCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
	now        func() time.Time
}

// NewRedisAnalyticsCache connects to Redis and verifies the connection
func NewRedisAnalyticsCache(config domain.CacheConfig) (*RedisAnalyticsCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisAnalyticsCacheFromClient(client, config.DefaultTTL), nil
}

// NewRedisAnalyticsCacheFromClient wraps an existing client
func NewRedisAnalyticsCacheFromClient(client *redis.Client, ttl time.Duration) *RedisAnalyticsCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisAnalyticsCache{
		redis:      client,
		defaultTTL: ttl,
		now:        time.Now,
	}
}

// GetAnalytics returns cached analytics for a user and timeframe
func (c *RedisAnalyticsCache) GetAnalytics(ctx context.Context, userID, timeframe string) (*domain.Analytics, bool, error) {
	key := userKey(userID)

	val, err := c.redis.HGet(ctx, key, timeframe).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get analytics cache: %w", err)
	}

	var cached cachedAnalytics
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.HDel(ctx, key, timeframe)
		return nil, false, nil
	}

	if c.now().After(cached.ExpiresAt) {
		c.redis.HDel(ctx, key, timeframe)
		return nil, false, nil
	}

	return cached.Data, true, nil
}

// SetAnalytics caches analytics under the analytics' own timeframe
func (c *RedisAnalyticsCache) SetAnalytics(ctx context.Context, userID string, analytics *domain.Analytics) error {
	now := c.now()
	cached := cachedAnalytics{
		Data:      analytics,
		CachedAt:  now,
		ExpiresAt: now.Add(c.defaultTTL),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics cache data: %w", err)
	}

	key := userKey(userID)
	pipe := c.redis.TxPipeline()
	pipe.HSet(ctx, key, analytics.Timeframe, jsonData)
	pipe.Expire(ctx, key, c.defaultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set analytics cache: %w", err)
	}
	return nil
}

// Invalidate drops every cached timeframe for a user
func (c *RedisAnalyticsCache) Invalidate(ctx context.Context, userID string) error {
	return c.redis.Del(ctx, userKey(userID)).Err()
}

// Ping checks if Redis connection is alive
func (c *RedisAnalyticsCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisAnalyticsCache) Close() error {
	return c.redis.Close()
}

// userKey hashes the user id so raw identifiers never appear in Redis.
func userKey(userID string) string {
	hash := sha256.Sum256([]byte(userID))
	return fmt.Sprintf("%s:%x", keyPrefix, hash[:8])
}
