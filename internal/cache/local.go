package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

const defaultLocalEntries = 1024

// LocalAnalyticsCache is an in-process analytics cache used when Redis is
// not configured. Entries expire after the configured TTL.
type LocalAnalyticsCache struct {
	entries *expirable.LRU[string, *domain.Analytics]
}

// NewLocalAnalyticsCache creates an in-process cache
func NewLocalAnalyticsCache(size int, ttl time.Duration) *LocalAnalyticsCache {
	if size <= 0 {
		size = defaultLocalEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &LocalAnalyticsCache{
		entries: expirable.NewLRU[string, *domain.Analytics](size, nil, ttl),
	}
}

// GetAnalytics returns cached analytics for a user and timeframe
func (c *LocalAnalyticsCache) GetAnalytics(_ context.Context, userID, timeframe string) (*domain.Analytics, bool, error) {
	analytics, ok := c.entries.Get(localKey(userID, timeframe))
	return analytics, ok, nil
}

// SetAnalytics caches analytics under the analytics' own timeframe
func (c *LocalAnalyticsCache) SetAnalytics(_ context.Context, userID string, analytics *domain.Analytics) error {
	c.entries.Add(localKey(userID, analytics.Timeframe), analytics)
	return nil
}

// Invalidate drops every cached timeframe for a user
func (c *LocalAnalyticsCache) Invalidate(_ context.Context, userID string) error {
	prefix := userID + "|"
	for _, key := range c.entries.Keys() {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			c.entries.Remove(key)
		}
	}
	return nil
}

// Len returns the number of live entries
func (c *LocalAnalyticsCache) Len() int {
	return c.entries.Len()
}

func localKey(userID, timeframe string) string {
	return userID + "|" + timeframe
}
