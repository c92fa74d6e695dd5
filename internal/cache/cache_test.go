package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattes337/logsink/internal/config"
	"github.com/mattes337/logsink/internal/models"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c, err := NewMemoryCache(16)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	original := models.Vector{0.1, 0.2, 0.3}
	require.NoError(t, c.Set(ctx, "embedding:abc", original, time.Minute))

	var got models.Vector
	require.NoError(t, c.Get(ctx, "embedding:abc", &got))
	assert.Equal(t, original, got)
}

func TestMemoryCacheMiss(t *testing.T) {
	c, err := NewMemoryCache(16)
	require.NoError(t, err)
	defer c.Close()

	var got models.Vector
	assert.ErrorIs(t, c.Get(context.Background(), "missing", &got), ErrNotFound)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c, err := NewMemoryCache(16)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	var got string
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrNotFound)
}

func TestMemoryCacheDelete(t *testing.T) {
	c, err := NewMemoryCache(16)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", 0))
	require.NoError(t, c.Delete(ctx, "k"))

	var got string
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrNotFound)
}

func TestMemoryCacheEviction(t *testing.T) {
	c, err := NewMemoryCache(2)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	require.NoError(t, c.Set(ctx, "c", 3, 0))

	var got int
	assert.ErrorIs(t, c.Get(ctx, "a", &got), ErrNotFound)
	assert.NoError(t, c.Get(ctx, "c", &got))
}

func TestRedisCacheRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	c, err := NewRedisCache(config.CacheConfig{Address: srv.Addr()})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", map[string]any{"n": 1.0}, time.Minute))

	var got map[string]any
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, 1.0, got["n"])

	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrNotFound)
}

func TestRedisCacheTTL(t *testing.T) {
	srv := miniredis.RunT(t)
	c, err := NewRedisCache(config.CacheConfig{Address: srv.Addr()})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	srv.FastForward(2 * time.Minute)

	var got string
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrNotFound)
}

func TestNewSelectsBackend(t *testing.T) {
	c, err := New(config.CacheConfig{Type: "memory", Size: 8})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)
	c.Close()

	srv := miniredis.RunT(t)
	c, err = New(config.CacheConfig{Type: "redis", Address: srv.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisCache{}, c)
	c.Close()
}
