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

// SuggestionStore keeps at most one open (pending or approved) suggestion
// per asset, watchlist and kind.
type SuggestionStore struct {
	mu   sync.RWMutex
	rows map[string]*models.Suggestion
	open map[string]string
}

var _ domrepo.SuggestionRepository = (*SuggestionStore)(nil)

func NewSuggestionStore() *SuggestionStore {
	return &SuggestionStore{
		rows: make(map[string]*models.Suggestion),
		open: make(map[string]string),
	}
}

func openKey(s *models.Suggestion) string {
	return s.WatchlistID + "|" + s.AssetID + "|" + string(s.Kind)
}

func isOpen(st models.SuggestionStatus) bool {
	return st == models.SuggestionPending || st == models.SuggestionApproved
}

func cloneSuggestion(s *models.Suggestion) *models.Suggestion {
	cp := *s
	if s.ReviewedAt != nil {
		t := *s.ReviewedAt
		cp.ReviewedAt = &t
	}
	cp.Reasoning = append([]byte(nil), s.Reasoning...)
	return &cp
}

// UpsertPending refreshes the open pending suggestion for the same key, or
// inserts s. An approved suggestion for the key is returned unchanged.
func (st *SuggestionStore) UpsertPending(_ context.Context, s *models.Suggestion) (*models.Suggestion, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if id, ok := st.open[openKey(s)]; ok {
		cur := st.rows[id]
		if cur.Status == models.SuggestionPending {
			cur.Confidence = s.Confidence
			cur.Reasoning = append([]byte(nil), s.Reasoning...)
			cur.UpdatedAt = s.UpdatedAt
			cur.ExpiresAt = s.ExpiresAt
		}
		return cloneSuggestion(cur), false, nil
	}
	if _, ok := st.rows[s.ID]; ok {
		return nil, false, fmt.Errorf("%w: suggestion %s", models.ErrDuplicateKey, s.ID)
	}
	row := cloneSuggestion(s)
	row.Status = models.SuggestionPending
	st.rows[row.ID] = row
	st.open[openKey(row)] = row.ID
	return cloneSuggestion(row), true, nil
}

func (st *SuggestionStore) Get(_ context.Context, id string) (*models.Suggestion, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: suggestion %s", models.ErrNotFound, id)
	}
	return cloneSuggestion(s), nil
}

func (st *SuggestionStore) List(_ context.Context, f models.SuggestionFilter) ([]*models.Suggestion, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*models.Suggestion, 0)
	for _, s := range st.rows {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.WatchlistID != "" && s.WatchlistID != f.WatchlistID {
			continue
		}
		if f.AssetID != "" && s.AssetID != f.AssetID {
			continue
		}
		out = append(out, cloneSuggestion(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (st *SuggestionStore) Transition(_ context.Context, t models.SuggestionTransition) (*models.Suggestion, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.rows[t.ID]
	if !ok {
		return nil, fmt.Errorf("%w: suggestion %s", models.ErrNotFound, t.ID)
	}
	if s.Status != t.Expected {
		return nil, fmt.Errorf("%w: suggestion %s is %s, expected %s", models.ErrStateConflict, t.ID, s.Status, t.Expected)
	}
	if !t.Expected.CanTransition(t.Next) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrStateConflict, t.Expected, t.Next)
	}

	s.Status = t.Next
	s.UpdatedAt = t.At
	if t.ReviewedBy != "" {
		s.ReviewedBy = t.ReviewedBy
		s.ReviewedAt = t.ReviewedAt
		s.ReviewNotes = t.Notes
	}
	if !isOpen(t.Next) {
		delete(st.open, openKey(s))
	}
	return cloneSuggestion(s), nil
}

func (st *SuggestionStore) ListExpirable(_ context.Context, now time.Time, limit int) ([]*models.Suggestion, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*models.Suggestion, 0)
	for _, s := range st.rows {
		if isOpen(s.Status) && s.ExpiredAt(now) {
			out = append(out, cloneSuggestion(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
