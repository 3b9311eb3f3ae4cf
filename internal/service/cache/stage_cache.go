package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CascadeAdvisor/internal/domain/models"
	pkgcache "CascadeAdvisor/pkg/cache"
)

const (
	keyPrefix   = "stage"
	globalScope = "global"
)

// StageEntry is the cached result of one stage for one scope.
type StageEntry struct {
	Stage       models.StageID     `json:"stage"`
	Output      models.StageOutput `json:"output"`
	Confidence  float64            `json:"confidence"`
	Fingerprint string             `json:"fingerprint"`
	FetchedAt   time.Time          `json:"fetchedAt"`
}

func (e *StageEntry) Age(now time.Time) time.Duration { return now.Sub(e.FetchedAt) }

// Fresh reports whether the entry answers the same input within ttl.
func (e *StageEntry) Fresh(fingerprint string, ttl time.Duration, now time.Time) bool {
	return e.Fingerprint == fingerprint && e.Age(now) < ttl
}

// StageCache stores stage results keyed by stage and scope. Entries are kept
// until the staleness ceiling so they remain usable as a fallback after
// their freshness TTL has passed.
type StageCache struct {
	store   pkgcache.Service
	ceiling time.Duration
}

func NewStageCache(store pkgcache.Service, ceiling time.Duration) *StageCache {
	return &StageCache{store: store, ceiling: ceiling}
}

// Ceiling is the maximum age at which an entry may still be served.
func (c *StageCache) Ceiling() time.Duration { return c.ceiling }

// Key returns the cache key for a stage. Global stages share one key; the
// others are scoped to the watchlist.
func Key(stage models.StageID, watchlistID string) string {
	scope := watchlistID
	if stage.Global() || scope == "" {
		scope = globalScope
	}
	return pkgcache.GenerateKeyWithParams(keyPrefix, int(stage), scope)
}

// Load returns the entry for key, or nil when there is none.
func (c *StageCache) Load(ctx context.Context, key string) (*StageEntry, error) {
	var e StageEntry
	if err := c.store.Get(ctx, key, &e); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("stage cache get %s: %w", key, err)
	}
	return &e, nil
}

func (c *StageCache) Store(ctx context.Context, key string, e *StageEntry) error {
	if err := c.store.Set(ctx, key, e, c.ceiling); err != nil {
		return fmt.Errorf("stage cache set %s: %w", key, err)
	}
	return nil
}

// InvalidateWatchlist drops the watchlist-scoped entries, e.g. after the
// watchlist contents changed.
func (c *StageCache) InvalidateWatchlist(ctx context.Context, watchlistID string) error {
	keys := []string{Key(models.StageAsset, watchlistID), Key(models.StageTiming, watchlistID)}
	return c.store.Delete(ctx, keys...)
}
