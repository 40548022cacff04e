package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

func sampleAnalytics(timeframe string) *domain.Analytics {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Analytics{
		Timeframe: timeframe,
		Since:     now.Add(-7 * 24 * time.Hour),
		Total:     3,
		ByDiagnosis: []domain.DiagnosisStat{
			{Diagnosis: "glaucoma", Count: 2, AvgConfidence: 0.81},
			{Diagnosis: "cataracts", Count: 1, AvgConfidence: 0.66},
		},
		GeneratedAt: now,
	}
}

func TestLocalAnalyticsCache(t *testing.T) {
	ctx := context.Background()
	c := NewLocalAnalyticsCache(16, time.Minute)

	_, found, err := c.GetAnalytics(ctx, "user-1", "7d")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetAnalytics(ctx, "user-1", sampleAnalytics("7d")))
	require.NoError(t, c.SetAnalytics(ctx, "user-1", sampleAnalytics("30d")))
	require.NoError(t, c.SetAnalytics(ctx, "user-10", sampleAnalytics("7d")))

	got, found, err := c.GetAnalytics(ctx, "user-1", "7d")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, got.Total)

	require.NoError(t, c.Invalidate(ctx, "user-1"))

	_, found, _ = c.GetAnalytics(ctx, "user-1", "30d")
	assert.False(t, found)
	_, found, _ = c.GetAnalytics(ctx, "user-10", "7d")
	assert.True(t, found, "invalidating one user must not touch another")
	assert.Equal(t, 1, c.Len())
}

func TestLocalAnalyticsCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewLocalAnalyticsCache(4, 20*time.Millisecond)

	require.NoError(t, c.SetAnalytics(ctx, "user-1", sampleAnalytics("7d")))
	time.Sleep(60 * time.Millisecond)

	_, found, err := c.GetAnalytics(ctx, "user-1", "7d")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUserKey(t *testing.T) {
	key := userKey("patient@example.org")

	assert.Contains(t, key, "sympfindx:analytics:")
	assert.NotContains(t, key, "patient")
	assert.Equal(t, key, userKey("patient@example.org"))
	assert.NotEqual(t, key, userKey("someone-else"))
}

func TestRedisAnalyticsCache(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set, skipping Redis tests")
	}

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	c := NewRedisAnalyticsCacheFromClient(client, time.Minute)
	defer c.Close()

	ctx := context.Background()
	userID := "cache-test-" + time.Now().Format("150405.000000")
	require.NoError(t, c.Ping(ctx))

	_, found, err := c.GetAnalytics(ctx, userID, "7d")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetAnalytics(ctx, userID, sampleAnalytics("7d")))
	got, found, err := c.GetAnalytics(ctx, userID, "7d")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sampleAnalytics("7d").ByDiagnosis, got.ByDiagnosis)

	t.Run("expired entries are dropped", func(t *testing.T) {
		c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		defer func() { c.now = time.Now }()

		_, found, err := c.GetAnalytics(ctx, userID, "7d")
		require.NoError(t, err)
		assert.False(t, found)
	})

	require.NoError(t, c.SetAnalytics(ctx, userID, sampleAnalytics("30d")))
	require.NoError(t, c.Invalidate(ctx, userID))
	_, found, err = c.GetAnalytics(ctx, userID, "30d")
	require.NoError(t, err)
	assert.False(t, found)
}
