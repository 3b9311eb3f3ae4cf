package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, NewRedisCacheFromClient(client, "test")
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(10))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", entry{Name: "btc", Score: 0.7}, time.Minute))
	var got entry
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, entry{Name: "btc", Score: 0.7}, got)

	var missing entry
	assert.ErrorIs(t, mc.Get(ctx, "nope", &missing), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()
	now := time.Now()
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "k", "v", time.Second))
	now = now.Add(2 * time.Second)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	now := time.Now()
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	now = now.Add(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	now = now.Add(time.Millisecond)
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	now = now.Add(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", "3", time.Minute))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &s))
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "stage:3:wl1", "x", time.Minute))
	require.NoError(t, mc.Set(ctx, "stage:4:wl1", "x", time.Minute))
	require.NoError(t, mc.Set(ctx, "other", "x", time.Minute))
	require.NoError(t, mc.DeleteByPattern(ctx, BuildPattern("stage:")))

	ok, err := mc.Exists(ctx, "stage:3:wl1", "stage:4:wl1")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, _ = mc.Exists(ctx, "other")
	assert.True(t, ok)
}

func TestMemoryCacheTryLock(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	ok, err := mc.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "sweep", time.Minute)
	assert.False(t, ok)
	require.NoError(t, mc.Unlock(ctx, "sweep"))
	ok, _ = mc.TryLock(ctx, "sweep", time.Minute)
	assert.True(t, ok)
}

func TestRedisCachePrefixesKeys(t *testing.T) {
	ctx := context.Background()
	s, rc := newRedis(t)

	require.NoError(t, rc.Set(ctx, "k", entry{Name: "eth"}, time.Minute))
	assert.True(t, s.Exists("test:k"))

	var got entry
	require.NoError(t, rc.Get(ctx, "k", &got))
	assert.Equal(t, "eth", got.Name)
	assert.ErrorIs(t, rc.Get(ctx, "missing", &got), ErrCacheMiss)

	s.FastForward(2 * time.Minute)
	assert.ErrorIs(t, rc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestRedisCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	s, rc := newRedis(t)

	for _, k := range []string{"stage:a", "stage:b", "keep"} {
		require.NoError(t, rc.Set(ctx, k, "1", time.Minute))
	}
	require.NoError(t, rc.DeleteByPattern(ctx, "stage:*"))
	assert.False(t, s.Exists("test:stage:a"))
	assert.False(t, s.Exists("test:stage:b"))
	assert.True(t, s.Exists("test:keep"))
}

func TestLayeredCacheReadsThroughToRedis(t *testing.T) {
	ctx := context.Background()
	s, rc := newRedis(t)
	lc := NewLayeredCache(rc, WithLayeredMemoryTTL(time.Minute))
	defer lc.memCache.Close()

	require.NoError(t, s.Set("test:k", `{"name":"sol","score":0.4}`))

	var got entry
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, entry{Name: "sol", Score: 0.4}, got)

	// served from memory once backfilled
	s.Del("test:k")
	var again entry
	require.NoError(t, lc.Get(ctx, "k", &again))
	assert.Equal(t, got, again)
}

func TestLayeredCacheWritesBothTiers(t *testing.T) {
	ctx := context.Background()
	s, rc := newRedis(t)
	lc := NewLayeredCache(rc)
	defer lc.memCache.Close()

	require.NoError(t, lc.Set(ctx, "k", entry{Name: "ada"}, time.Minute))
	assert.True(t, s.Exists("test:k"))
	ok, err := lc.memCache.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lc.Delete(ctx, "k"))
	assert.False(t, s.Exists("test:k"))
}

func TestLayeredCacheDeleteReachesPeerMemory(t *testing.T) {
	ctx := context.Background()
	_, rc := newRedis(t)
	a := NewLayeredCache(rc, WithLayeredMemoryTTL(time.Minute), WithLayeredInvalidation("invalidate"))
	b := NewLayeredCache(rc, WithLayeredMemoryTTL(time.Minute), WithLayeredInvalidation("invalidate"))
	defer a.StopInvalidation()
	defer b.StopInvalidation()

	require.NoError(t, a.Set(ctx, "stage:3:wl", entry{Name: "eth"}, time.Minute))
	var got entry
	require.NoError(t, b.Get(ctx, "stage:3:wl", &got))
	ok, err := b.memCache.Exists(ctx, "stage:3:wl")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Delete(ctx, "stage:3:wl"))
	assert.Eventually(t, func() bool {
		ok, _ := b.memCache.Exists(ctx, "stage:3:wl")
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, b.Get(ctx, "stage:3:wl", &got), ErrCacheMiss)

	require.NoError(t, b.Set(ctx, "stage:4:wl", entry{Name: "sol"}, time.Minute))
	require.NoError(t, a.Get(ctx, "stage:4:wl", &got))
	require.NoError(t, b.DeleteByPattern(ctx, "stage:*"))
	assert.Eventually(t, func() bool {
		ok, _ := a.memCache.Exists(ctx, "stage:4:wl")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestGenerateKeyWithParams(t *testing.T) {
	assert.Equal(t, "cascade:stage:3:wl-1", GenerateKeyWithParams("cascade", "stage", 3, "wl-1"))
	assert.Len(t, HashKey("anything"), 24)
}
