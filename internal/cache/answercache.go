// Package cache provides Redis-backed caching for the Query Core's
// answer cache and semantic-search cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultAnswerTTL and DefaultAnswerCapacity bound the answer cache:
// 30 minute entries, ~1000 entry bound.
const (
	DefaultAnswerTTL      = 30 * time.Minute
	DefaultAnswerCapacity = 1000
)

// AnswerCache caches Query Core answers keyed by
// sha256(tenant|normalized question|opts_json), bounded to capacity
// entries with LRU-style eviction via a Redis sorted set recording last
// access time per key.
type AnswerCache struct {
	client    *redis.Client
	ttl       time.Duration
	capacity  int
	keyPrefix string
}

// NewAnswerCache creates an AnswerCache over an existing Redis client.
func NewAnswerCache(client *redis.Client, ttl time.Duration, capacity int) *AnswerCache {
	return newCache(client, "qa", ttl, capacity)
}

// NewSemanticCache creates a cache for semantic-search results, kept
// separate from the answer cache so the two eviction pressures don't
// interfere with each other.
func NewSemanticCache(client *redis.Client, ttl time.Duration, capacity int) *AnswerCache {
	return newCache(client, "sem", ttl, capacity)
}

func newCache(client *redis.Client, prefix string, ttl time.Duration, capacity int) *AnswerCache {
	if ttl <= 0 {
		ttl = DefaultAnswerTTL
	}
	if capacity <= 0 {
		capacity = DefaultAnswerCapacity
	}
	return &AnswerCache{client: client, ttl: ttl, capacity: capacity, keyPrefix: prefix}
}

// Key derives the deterministic cache key for a tenant/question/opts triple.
func Key(tenant, question string, opts any) (string, error) {
	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("cache.Key: marshal opts: %w", err)
	}
	normalized := strings.ToLower(strings.TrimSpace(question))
	h := sha256.Sum256([]byte(tenant + "|" + normalized + "|" + string(optsJSON)))
	return fmt.Sprintf("%x", h), nil
}

// Get returns the cached value for key, unmarshaled into out, and touches
// its recency entry on a hit.
func (c *AnswerCache) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.client.Get(ctx, c.dataKey(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache.Get: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("cache.Get: decode: %w", err)
	}

	c.client.ZAdd(ctx, c.recencyKey(), redis.Z{Score: float64(time.Now().UnixNano()), Member: key})
	slog.Info("answer cache hit", "key", key[:12])
	return true, nil
}

// Set stores value under key with the cache's TTL, evicting the least
// recently touched entries if capacity is exceeded.
func (c *AnswerCache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache.Set: marshal: %w", err)
	}

	if err := c.client.Set(ctx, c.dataKey(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache.Set: %w", err)
	}
	now := float64(time.Now().UnixNano())
	if err := c.client.ZAdd(ctx, c.recencyKey(), redis.Z{Score: now, Member: key}).Err(); err != nil {
		return fmt.Errorf("cache.Set: recency track: %w", err)
	}

	c.evictOverCapacity(ctx)
	slog.Info("answer cache set", "key", key[:12], "ttl_s", int(c.ttl.Seconds()))
	return nil
}

// evictOverCapacity drops the oldest-touched entries once the recency set
// exceeds capacity, approximating LRU without holding every entry in
// process memory.
func (c *AnswerCache) evictOverCapacity(ctx context.Context) {
	count, err := c.client.ZCard(ctx, c.recencyKey()).Result()
	if err != nil || count <= int64(c.capacity) {
		return
	}

	excess := count - int64(c.capacity)
	stale, err := c.client.ZRange(ctx, c.recencyKey(), 0, excess-1).Result()
	if err != nil || len(stale) == 0 {
		return
	}

	pipe := c.client.Pipeline()
	for _, key := range stale {
		pipe.Del(ctx, c.dataKey(key))
	}
	pipe.ZRemRangeByRank(ctx, c.recencyKey(), 0, excess-1)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("answer cache eviction failed", "error", err)
	}
}

func (c *AnswerCache) dataKey(key string) string     { return c.keyPrefix + ":d:" + key }
func (c *AnswerCache) recencyKey() string            { return c.keyPrefix + ":recency" }
