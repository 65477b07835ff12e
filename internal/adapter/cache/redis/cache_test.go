package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/vat-extraction-service/internal/learning"
)

func newTestCache(t *testing.T) (*AdviceCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewAdviceCache(rdb, time.Minute), mr
}

func TestAdviceCache_SetGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	advice := learning.Advice{Recommendations: []string{"keep submitting feedback"}}
	cache.Set(ctx, "biz-1", "doc-1", true, advice)

	got, ok := cache.Get(ctx, "biz-1", "doc-1", true)
	require.True(t, ok)
	assert.Equal(t, advice.Recommendations, got.Recommendations)

	// The pattern toggle is part of the key.
	_, ok = cache.Get(ctx, "biz-1", "doc-1", false)
	assert.False(t, ok)
}

func TestAdviceCache_MissReturnsFalse(t *testing.T) {
	cache, _ := newTestCache(t)
	_, ok := cache.Get(context.Background(), "biz-1", "nope", true)
	assert.False(t, ok)
}

func TestAdviceCache_Expiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "biz-1", "doc-1", true, learning.Advice{})
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, "biz-1", "doc-1", true)
	assert.False(t, ok)
}

func TestAdviceCache_InvalidateBusiness(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "biz-1", "doc-1", true, learning.Advice{})
	cache.Set(ctx, "biz-1", "doc-2", false, learning.Advice{})
	cache.Set(ctx, "biz-2", "doc-3", true, learning.Advice{})

	cache.InvalidateBusiness(ctx, "biz-1")

	_, ok := cache.Get(ctx, "biz-1", "doc-1", true)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "biz-1", "doc-2", false)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "biz-2", "doc-3", true)
	assert.True(t, ok)
}

func TestAdviceCache_NilClientIsNoop(t *testing.T) {
	cache := NewAdviceCache(nil, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, "biz-1", "doc-1", true, learning.Advice{})
	_, ok := cache.Get(ctx, "biz-1", "doc-1", true)
	assert.False(t, ok)
	cache.InvalidateBusiness(ctx, "biz-1")
}

func TestAdviceCache_CorruptEntryDropped(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("learning:advice:biz-1:doc-1:true", "{not json"))
	_, ok := cache.Get(ctx, "biz-1", "doc-1", true)
	assert.False(t, ok)
	assert.False(t, mr.Exists("learning:advice:biz-1:doc-1:true"))
}
