package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
)

// DefaultWatchlistID is the id of the seeded default watchlist.
const DefaultWatchlistID = "default"

type WatchlistStore struct {
	mu        sync.RWMutex
	lists     map[string]*models.WatchlistContext
	byOwner   map[string]string
	items     map[string]map[string]*models.WatchlistItem
	applied   map[string]struct{}
	defaultID string
	now       func() time.Time
}

var (
	_ domrepo.WatchlistRepository = (*WatchlistStore)(nil)
	_ domrepo.WatchlistMutator    = (*WatchlistStore)(nil)
)

// NewWatchlistStore returns a store seeded with the default watchlist.
func NewWatchlistStore(defaultMaxAssets int, seed ...string) *WatchlistStore {
	s := &WatchlistStore{
		lists:     make(map[string]*models.WatchlistContext),
		byOwner:   make(map[string]string),
		items:     make(map[string]map[string]*models.WatchlistItem),
		applied:   make(map[string]struct{}),
		defaultID: DefaultWatchlistID,
		now:       time.Now,
	}
	now := s.now().UTC()
	s.lists[DefaultWatchlistID] = &models.WatchlistContext{
		ID:        DefaultWatchlistID,
		Type:      models.WatchlistDefault,
		MaxAssets: defaultMaxAssets,
		CreatedAt: now,
	}
	s.items[DefaultWatchlistID] = make(map[string]*models.WatchlistItem)
	for _, asset := range seed {
		s.items[DefaultWatchlistID][asset] = &models.WatchlistItem{
			WatchlistID: DefaultWatchlistID,
			AssetID:     asset,
			Tier:        models.DefaultTier,
			AddedAt:     now,
		}
	}
	return s
}

func (s *WatchlistStore) Create(_ context.Context, w *models.WatchlistContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[w.ID]; ok {
		return fmt.Errorf("%w: watchlist %s", models.ErrDuplicateKey, w.ID)
	}
	if w.Type == models.WatchlistPersonal {
		if _, ok := s.byOwner[w.OwnerUserID]; ok {
			return fmt.Errorf("%w: personal watchlist for %s", models.ErrDuplicateKey, w.OwnerUserID)
		}
		s.byOwner[w.OwnerUserID] = w.ID
	}
	cp := *w
	s.lists[w.ID] = &cp
	s.items[w.ID] = make(map[string]*models.WatchlistItem)
	return nil
}

func (s *WatchlistStore) Get(_ context.Context, id string) (*models.WatchlistContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.lists[id]
	if !ok {
		return nil, fmt.Errorf("%w: watchlist %s", models.ErrNotFound, id)
	}
	cp := *w
	return &cp, nil
}

func (s *WatchlistStore) Default(ctx context.Context) (*models.WatchlistContext, error) {
	return s.Get(ctx, s.defaultID)
}

func (s *WatchlistStore) PersonalFor(ctx context.Context, userID string) (*models.WatchlistContext, error) {
	s.mu.RLock()
	id, ok := s.byOwner[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: personal watchlist for %s", models.ErrNotFound, userID)
	}
	return s.Get(ctx, id)
}

func (s *WatchlistStore) Items(_ context.Context, watchlistID string) ([]models.WatchlistItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.items[watchlistID]
	if !ok {
		return nil, fmt.Errorf("%w: watchlist %s", models.ErrNotFound, watchlistID)
	}
	out := make([]models.WatchlistItem, 0, len(set))
	for _, it := range set {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out, nil
}

// Apply performs the mutation once per key.
func (s *WatchlistStore) Apply(_ context.Context, m models.WatchlistMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Key != "" {
		if _, done := s.applied[m.Key]; done {
			return nil
		}
	}
	var err error
	switch m.Kind {
	case models.SuggestionAdd:
		err = s.addLocked(m.WatchlistID, m.AssetID)
	case models.SuggestionRemove:
		err = s.removeLocked(m.WatchlistID, m.AssetID)
	case models.SuggestionPromote, models.SuggestionDemote:
		err = s.shiftLocked(m.WatchlistID, m.AssetID, m.TierDelta())
	default:
		err = fmt.Errorf("%w: kind %q", models.ErrValidation, m.Kind)
	}
	if err == nil && m.Key != "" {
		s.applied[m.Key] = struct{}{}
	}
	return err
}

func (s *WatchlistStore) AddAsset(_ context.Context, watchlistID, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(watchlistID, assetID)
}

func (s *WatchlistStore) RemoveAsset(_ context.Context, watchlistID, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(watchlistID, assetID)
}

func (s *WatchlistStore) ShiftTier(_ context.Context, watchlistID, assetID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shiftLocked(watchlistID, assetID, delta)
}

func (s *WatchlistStore) addLocked(watchlistID, assetID string) error {
	w, ok := s.lists[watchlistID]
	if !ok {
		return fmt.Errorf("%w: watchlist %s", models.ErrNotFound, watchlistID)
	}
	set := s.items[watchlistID]
	if _, ok := set[assetID]; ok {
		return fmt.Errorf("%w: %s already on %s", models.ErrStateConflict, assetID, watchlistID)
	}
	if w.MaxAssets > 0 && len(set) >= w.MaxAssets {
		return fmt.Errorf("%w: watchlist %s is full", models.ErrValidation, watchlistID)
	}
	set[assetID] = &models.WatchlistItem{
		WatchlistID: watchlistID,
		AssetID:     assetID,
		Tier:        models.DefaultTier,
		AddedAt:     s.now().UTC(),
	}
	return nil
}

func (s *WatchlistStore) removeLocked(watchlistID, assetID string) error {
	set, ok := s.items[watchlistID]
	if !ok {
		return fmt.Errorf("%w: watchlist %s", models.ErrNotFound, watchlistID)
	}
	if _, ok := set[assetID]; !ok {
		return fmt.Errorf("%w: %s not on %s", models.ErrNotFound, assetID, watchlistID)
	}
	delete(set, assetID)
	return nil
}

func (s *WatchlistStore) shiftLocked(watchlistID, assetID string, delta int) error {
	it, ok := s.items[watchlistID][assetID]
	if !ok {
		return fmt.Errorf("%w: %s not on %s", models.ErrNotFound, assetID, watchlistID)
	}
	next := it.Tier + delta
	if next < models.TopTier || next > models.BottomTier {
		return fmt.Errorf("%w: tier %d out of range", models.ErrValidation, next)
	}
	it.Tier = next
	return nil
}
