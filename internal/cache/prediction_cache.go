// Package cache provides the two-tier prediction cache: an expiring
// in-memory LRU in front of an optional Redis instance.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/surgery-scheduler-server/internal/domain"
)

const (
	defaultMaxItems = 1000
	defaultTTL      = 15 * time.Minute
	keyPrefix       = "prediction:"
)

var _ domain.PredictionCache = (*PredictionCache)(nil)

// CachedPrediction is the Redis representation of a cached prediction
type CachedPrediction struct {
	Data      *domain.Prediction `json:"data"`
	CachedAt  time.Time          `json:"cached_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// Stats holds cache counters
type Stats struct {
	MemoryHits  uint64 `json:"memory_hits"`
	RedisHits   uint64 `json:"redis_hits"`
	Misses      uint64 `json:"misses"`
	RedisErrors uint64 `json:"redis_errors"`
	Entries     int    `json:"entries"`
}

// PredictionCache caches predictions by request fingerprint. Redis failures
// are logged and treated as misses.
type PredictionCache struct {
	memory *expirable.LRU[string, *domain.Prediction]
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger

	memoryHits  atomic.Uint64
	redisHits   atomic.Uint64
	misses      atomic.Uint64
	redisErrors atomic.Uint64
}

// NewPredictionCache creates a cache. redisClient may be nil for memory-only operation.
func NewPredictionCache(config domain.CacheConfig, redisClient *redis.Client, logger *logrus.Logger) *PredictionCache {
	maxItems := config.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &PredictionCache{
		memory: expirable.NewLRU[string, *domain.Prediction](maxItems, nil, ttl),
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
	}
}

// NewRedisClient connects to the Redis instance named by config.RedisURL.
func NewRedisClient(ctx context.Context, config domain.CacheConfig) (*redis.Client, error) {
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
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Get looks the key up in memory, then in Redis.
func (c *PredictionCache) Get(ctx context.Context, key string) (*domain.Prediction, bool) {
	if p, ok := c.memory.Get(key); ok {
		c.memoryHits.Add(1)
		return p, true
	}

	if c.redis != nil {
		if p := c.getFromRedis(ctx, key); p != nil {
			c.redisHits.Add(1)
			c.memory.Add(key, p)
			return p, true
		}
	}

	c.misses.Add(1)
	return nil, false
}

// Set stores the prediction in both tiers.
func (c *PredictionCache) Set(ctx context.Context, key string, prediction *domain.Prediction) {
	c.memory.Add(key, prediction)

	if c.redis == nil {
		return
	}

	now := time.Now()
	data, err := json.Marshal(CachedPrediction{
		Data:      prediction,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	})
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode prediction for Redis")
		return
	}

	if err := c.redis.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		c.redisErrors.Add(1)
		c.logger.WithError(err).Warn("Failed to write prediction to Redis")
	}
}

func (c *PredictionCache) getFromRedis(ctx context.Context, key string) *domain.Prediction {
	val, err := c.redis.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		c.redisErrors.Add(1)
		c.logger.WithError(err).Warn("Redis lookup failed, using memory cache only")
		return nil
	}

	var cached CachedPrediction
	if err := json.Unmarshal(val, &cached); err != nil || cached.Data == nil {
		c.redis.Del(ctx, keyPrefix+key)
		return nil
	}
	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, keyPrefix+key)
		return nil
	}
	return cached.Data
}

// Purge drops every in-memory entry.
func (c *PredictionCache) Purge() {
	c.memory.Purge()
}

// Stats returns a snapshot of the cache counters.
func (c *PredictionCache) Stats() Stats {
	return Stats{
		MemoryHits:  c.memoryHits.Load(),
		RedisHits:   c.redisHits.Load(),
		Misses:      c.misses.Load(),
		RedisErrors: c.redisErrors.Load(),
		Entries:     c.memory.Len(),
	}
}
