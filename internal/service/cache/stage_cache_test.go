package cache

import (
	"context"
	"testing"
	"time"

	"CascadeAdvisor/internal/domain/models"
	pkgcache "CascadeAdvisor/pkg/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyScopes(t *testing.T) {
	assert.Equal(t, "stage:1:global", Key(models.StageMacro, "wl-1"))
	assert.Equal(t, "stage:2:global", Key(models.StageSector, "wl-1"))
	assert.Equal(t, "stage:3:wl-1", Key(models.StageAsset, "wl-1"))
	assert.Equal(t, "stage:4:wl-2", Key(models.StageTiming, "wl-2"))
}

func TestStageEntryFreshness(t *testing.T) {
	now := time.Now()
	e := &StageEntry{Fingerprint: "abc", FetchedAt: now.Add(-30 * time.Second)}

	assert.True(t, e.Fresh("abc", time.Minute, now))
	assert.False(t, e.Fresh("abc", 10*time.Second, now), "older than ttl")
	assert.False(t, e.Fresh("other", time.Minute, now), "input changed")
	assert.Equal(t, 30*time.Second, e.Age(now))
}

func TestStageCacheRoundTripThroughRedis(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	sc := NewStageCache(pkgcache.NewRedisCacheFromClient(client, "cascade"), time.Hour)

	key := Key(models.StageMacro, "")
	got, err := sc.Load(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	fetched := time.Now().UTC().Truncate(time.Millisecond)
	in := &StageEntry{
		Stage:       models.StageMacro,
		Output:      models.StageOutput{Macro: &models.MacroOutput{Regime: models.RegimeBull, RegimeConfidence: 0.8, RiskLevel: models.RiskLow}},
		Confidence:  0.8,
		Fingerprint: "fp",
		FetchedAt:   fetched,
	}
	require.NoError(t, sc.Store(ctx, key, in))
	assert.Equal(t, time.Hour, s.TTL("cascade:"+key))

	got, err = sc.Load(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Output.Macro)
	assert.Equal(t, models.RegimeBull, got.Output.Macro.Regime)
	assert.True(t, fetched.Equal(got.FetchedAt))
}

func TestInvalidateWatchlistKeepsGlobalStages(t *testing.T) {
	ctx := context.Background()
	mem := pkgcache.NewMemoryCache()
	defer mem.Close()
	sc := NewStageCache(mem, time.Hour)

	for _, st := range models.Stages {
		require.NoError(t, sc.Store(ctx, Key(st, "wl"), &StageEntry{Stage: st, FetchedAt: time.Now()}))
	}
	require.NoError(t, sc.InvalidateWatchlist(ctx, "wl"))

	for _, st := range models.Stages {
		e, err := sc.Load(ctx, Key(st, "wl"))
		require.NoError(t, err)
		if st.Global() {
			assert.NotNil(t, e, st.String())
		} else {
			assert.Nil(t, e, st.String())
		}
	}
}
