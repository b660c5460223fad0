package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgery-scheduler-server/internal/domain"
)

func samplePrediction(duration int) *domain.Prediction {
	return &domain.Prediction{
		DelayProbability:  0.15,
		PredictedDelay:    domain.LowRisk,
		PredictedDuration: duration,
		DurationRange:     "95 - 116",
	}
}

func TestPredictionCache_MemoryTier(t *testing.T) {
	logger, _ := test.NewNullLogger()
	c := NewPredictionCache(domain.CacheConfig{MaxItems: 2, DefaultTTL: time.Minute}, nil, logger)
	ctx := context.Background()

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Set(ctx, "a", samplePrediction(105))
	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, 105, got.PredictedDuration)

	// Adding two more evicts the least recently used entry.
	c.Set(ctx, "b", samplePrediction(110))
	c.Get(ctx, "a")
	c.Set(ctx, "c", samplePrediction(120))

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "a")
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(3), stats.MemoryHits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, 2, stats.Entries)

	c.Purge()
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestPredictionCache_Expiry(t *testing.T) {
	logger, _ := test.NewNullLogger()
	c := NewPredictionCache(domain.CacheConfig{DefaultTTL: 50 * time.Millisecond}, nil, logger)
	ctx := context.Background()

	c.Set(ctx, "k", samplePrediction(60))
	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(150 * time.Millisecond)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestPredictionCache_Defaults(t *testing.T) {
	c := NewPredictionCache(domain.CacheConfig{}, nil, logrus.New())
	assert.Equal(t, defaultTTL, c.ttl)
}

func TestPredictionCache_RedisUnavailable(t *testing.T) {
	logger, hook := test.NewNullLogger()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	c := NewPredictionCache(domain.CacheConfig{}, client, logger)
	ctx := context.Background()

	c.Set(ctx, "k", samplePrediction(75))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok, "memory tier still serves entries")
	assert.Equal(t, 75, got.PredictedDuration)

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)

	assert.Equal(t, uint64(2), c.Stats().RedisErrors)
	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), domain.CacheConfig{RedisURL: "not a url"})
	assert.Error(t, err)
}
