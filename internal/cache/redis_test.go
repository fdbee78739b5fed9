package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, 15*time.Minute), mr
}

func TestGet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)

	product := domain.Product{ID: "p1", Title: "Lamp", Price: decimal.NewFromInt(8), Stock: 3, SellerID: "s1"}
	data, _ := json.Marshal(product)
	mr.Set(cacheKey("p1"), string(data))

	result, err := cache.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", result.Title)
	assert.Equal(t, 3, result.Stock)
	assert.True(t, result.Price.Equal(decimal.NewFromInt(8)))
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	result, err := cache.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, result)
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.Set(cacheKey("p1"), `{"id":"p1","tit`)

	_, err := cache.Get(context.Background(), "p1")
	require.ErrorContains(t, err, "unmarshal product failed")
}

func TestSet_WithTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)

	err := cache.Set(context.Background(), &domain.Product{ID: "p9", Stock: 1})
	require.NoError(t, err)

	assert.True(t, mr.Exists(cacheKey("p9")))
	ttl := mr.TTL(cacheKey("p9"))
	assert.True(t, ttl >= 15*time.Minute, "TTL should be at least base TTL")
	assert.True(t, ttl <= 20*time.Minute, "TTL should be base + max jitter")
}

func TestDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, &domain.Product{ID: "p1"}))
	require.NoError(t, cache.Delete(ctx, "p1"))
	assert.False(t, mr.Exists(cacheKey("p1")))

	// Deleting non-existent key should not error
	assert.NoError(t, cache.Delete(ctx, "nonexistent"))
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "product:test123", cacheKey("test123"))
}
