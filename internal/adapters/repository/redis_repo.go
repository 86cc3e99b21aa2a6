// Package repository implements data persistence adapters
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/core/ports"
	"omnidesk-triage/internal/metrics"
)

// Ensure RedisRepository implements the cache-facing ports
var (
	_ ports.ResponseCache = (*RedisRepository)(nil)
	_ ports.DedupStore    = (*RedisRepository)(nil)
)

// Redis key layout
const (
	cacheKeyPrefix   = "cache:resp:"
	cacheIndexKey    = "cache:index" // ZSET: member = cache key, score = created-at unix
	cacheUserPrefix  = "cache:user:" // SET per user: cache keys scoped to that user
	cacheHitCounter  = "cache:stats:hits"
	cacheMissCounter = "cache:stats:misses"
	dedupKeyPrefix   = "dedup:msg:"
)

// evictFraction is the share of oldest entries dropped when the cache
// exceeds its configured size.
const evictFraction = 0.2

// RedisRepository implements the TTL-bounded response cache and inbound
// message deduplication on Redis. Entries expire lazily via Redis TTLs;
// a size-bounded cleanup removes the oldest ~20% when the index exceeds
// maxEntries.
type RedisRepository struct {
	client     *redis.Client
	maxEntries int64
	ttls       map[string]time.Duration
	metrics    *metrics.Metrics
}

// NewRedisRepository creates a Redis repository. ttls maps TTL categories
// ("live_data", "static") to durations; unknown categories use the shortest
// configured TTL. m may be nil.
func NewRedisRepository(client *redis.Client, maxEntries int64, ttls map[string]time.Duration, m *metrics.Metrics) *RedisRepository {
	return &RedisRepository{
		client:     client,
		maxEntries: maxEntries,
		ttls:       ttls,
		metrics:    m,
	}
}

// ============================================================================
// ResponseCache Implementation
// ============================================================================

// Get returns the cached payload, counting the hit or miss. Expired entries
// are handled by Redis key expiry, so a vanished key simply reads as a miss.
func (r *RedisRepository) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := r.client.Get(ctx, cacheKeyPrefix+key).Bytes()

	if errors.Is(err, redis.Nil) {
		if cerr := r.client.Incr(ctx, cacheMissCounter).Err(); cerr != nil {
			slog.Debug("Cache miss counter update failed", "error", cerr)
		}
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	if cerr := r.client.Incr(ctx, cacheHitCounter).Err(); cerr != nil {
		slog.Debug("Cache hit counter update failed", "error", cerr)
	}
	return payload, nil
}

// Set stores a payload under its TTL category and indexes the entry for
// size-bounded cleanup and user-scoped invalidation.
func (r *RedisRepository) Set(ctx context.Context, key string, payload []byte, category string) error {
	ttl := r.ttlFor(category)

	pipe := r.client.Pipeline()
	pipe.Set(ctx, cacheKeyPrefix+key, payload, ttl)
	pipe.ZAdd(ctx, cacheIndexKey, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}

	return r.enforceSizeBound(ctx)
}

// SetForUser stores a payload and tags it with the owning user identity so
// InvalidateUser can drop it later.
func (r *RedisRepository) SetForUser(ctx context.Context, key, userID string, payload []byte, category string) error {
	if err := r.Set(ctx, key, payload, category); err != nil {
		return err
	}
	if err := r.client.SAdd(ctx, cacheUserPrefix+userID, key).Err(); err != nil {
		return fmt.Errorf("cache user index: %w", err)
	}
	return nil
}

// InvalidateUser drops every cache entry scoped to one user identity.
func (r *RedisRepository) InvalidateUser(ctx context.Context, userID string) error {
	setKey := cacheUserPrefix + userID

	keys, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("cache user members: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, cacheKeyPrefix+key)
		pipe.ZRem(ctx, cacheIndexKey, key)
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache user invalidate: %w", err)
	}

	slog.Info("User cache invalidated",
		"user_id", userID,
		"entries", len(keys),
	)
	return nil
}

// Stats returns the running hit/miss counts.
func (r *RedisRepository) Stats(ctx context.Context) (hits, misses int64, err error) {
	values, err := r.client.MGet(ctx, cacheHitCounter, cacheMissCounter).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("cache stats: %w", err)
	}
	return asInt64(values[0]), asInt64(values[1]), nil
}

// enforceSizeBound removes the oldest ~20% of entries once the index grows
// past maxEntries. This is the only active cleanup; everything else expires
// lazily.
func (r *RedisRepository) enforceSizeBound(ctx context.Context) error {
	if r.maxEntries <= 0 {
		return nil
	}

	size, err := r.client.ZCard(ctx, cacheIndexKey).Result()
	if err != nil {
		return fmt.Errorf("cache index size: %w", err)
	}
	if size <= r.maxEntries {
		return nil
	}

	toEvict := int64(float64(size) * evictFraction)
	if toEvict < 1 {
		toEvict = 1
	}

	oldest, err := r.client.ZRange(ctx, cacheIndexKey, 0, toEvict-1).Result()
	if err != nil {
		return fmt.Errorf("cache oldest entries: %w", err)
	}

	pipe := r.client.Pipeline()
	for _, key := range oldest {
		pipe.Del(ctx, cacheKeyPrefix+key)
	}
	pipe.ZRemRangeByRank(ctx, cacheIndexKey, 0, toEvict-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache eviction: %w", err)
	}

	if r.metrics != nil {
		r.metrics.CacheEvictions.Add(float64(len(oldest)))
	}
	slog.Info("Cache size bound enforced",
		"size", size,
		"evicted", len(oldest),
	)
	return nil
}

func (r *RedisRepository) ttlFor(category string) time.Duration {
	if ttl, ok := r.ttls[category]; ok {
		return ttl
	}
	// Unknown category: be conservative, use the shortest configured TTL.
	shortest := time.Duration(0)
	for _, ttl := range r.ttls {
		if shortest == 0 || ttl < shortest {
			shortest = ttl
		}
	}
	if shortest == 0 {
		shortest = 5 * time.Minute
	}
	return shortest
}

func asInt64(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	_, _ = fmt.Sscan(s, &n)
	return n
}

// ============================================================================
// DedupStore Implementation
// ============================================================================

// IsDuplicate checks if an event ID has already been processed.
func (r *RedisRepository) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	_, err := r.client.Get(ctx, dedupKeyPrefix+eventID).Result()

	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		slog.Error("Failed to check deduplication",
			"error", err,
			"event_id", eventID,
		)
		return false, fmt.Errorf("check duplicate: %w", err)
	}

	slog.Warn("Duplicate inbound event detected",
		"event_id", eventID,
	)
	return true, nil
}

// MarkProcessed records an event ID with a TTL. The value is a timestamp for
// debugging.
func (r *RedisRepository) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	err := r.client.Set(ctx, dedupKeyPrefix+eventID, time.Now().Unix(), ttl).Err()
	if err != nil {
		slog.Error("Failed to mark event as processed",
			"error", err,
			"event_id", eventID,
		)
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}
