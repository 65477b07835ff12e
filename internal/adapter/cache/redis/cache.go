// Package rediscache caches learning advice so repeated apply-learning
// requests for the same document do not refan out to Postgres.
package rediscache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
	"github.com/fairyhunter13/vat-extraction-service/internal/learning"
)

// AdviceCache stores serialized learning advice keyed by document and the
// pattern toggle. Entries expire after the configured TTL and are dropped
// eagerly for a business when new feedback lands.
type AdviceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClient parses a redis URL and returns a connected client.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("op=cache.new_client: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewAdviceCache constructs an AdviceCache. A nil client disables caching.
func NewAdviceCache(rdb *redis.Client, ttl time.Duration) *AdviceCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AdviceCache{rdb: rdb, ttl: ttl}
}

func adviceKey(businessID, documentID string, useBusinessPatterns bool) string {
	return fmt.Sprintf("learning:advice:%s:%s:%t", businessID, documentID, useBusinessPatterns)
}

// Get returns the cached advice, or ok=false on miss or cache failure.
func (c *AdviceCache) Get(ctx domain.Context, businessID, documentID string, useBusinessPatterns bool) (learning.Advice, bool) {
	if c == nil || c.rdb == nil {
		return learning.Advice{}, false
	}
	b, err := c.rdb.Get(ctx, adviceKey(businessID, documentID, useBusinessPatterns)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("advice cache read failed", slog.Any("error", err))
		}
		return learning.Advice{}, false
	}
	var advice learning.Advice
	if err := json.Unmarshal(b, &advice); err != nil {
		slog.Warn("advice cache entry corrupt, dropping", slog.Any("error", err))
		_ = c.rdb.Del(ctx, adviceKey(businessID, documentID, useBusinessPatterns)).Err()
		return learning.Advice{}, false
	}
	return advice, true
}

// Set stores advice for the TTL window. Failures are logged, not returned:
// the cache is an optimization, never a correctness dependency.
func (c *AdviceCache) Set(ctx domain.Context, businessID, documentID string, useBusinessPatterns bool, advice learning.Advice) {
	if c == nil || c.rdb == nil {
		return
	}
	b, err := json.Marshal(advice)
	if err != nil {
		slog.Warn("advice cache encode failed", slog.Any("error", err))
		return
	}
	if err := c.rdb.Set(ctx, adviceKey(businessID, documentID, useBusinessPatterns), b, c.ttl).Err(); err != nil {
		slog.Warn("advice cache write failed", slog.Any("error", err))
	}
}

// InvalidateBusiness drops every cached advice entry for one business.
// Called after feedback lands, since new corrections change the advice for
// all of the business's documents.
func (c *AdviceCache) InvalidateBusiness(ctx domain.Context, businessID string) {
	if c == nil || c.rdb == nil {
		return
	}
	pattern := fmt.Sprintf("learning:advice:%s:*", businessID)
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			slog.Warn("advice cache invalidation scan failed", slog.Any("error", err))
			return
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				slog.Warn("advice cache invalidation delete failed", slog.Any("error", err))
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
