package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"

	"github.com/shopspring/decimal"
)

type SignalStore struct {
	mu     sync.RWMutex
	rows   map[string]*models.TradingSignal
	active map[string]string
}

var _ domrepo.SignalRepository = (*SignalStore)(nil)

func NewSignalStore() *SignalStore {
	return &SignalStore{
		rows:   make(map[string]*models.TradingSignal),
		active: make(map[string]string),
	}
}

func activeKey(assetID string, dir models.Direction) string { return assetID + "|" + string(dir) }

func cloneSignal(s *models.TradingSignal) *models.TradingSignal {
	cp := *s
	return &cp
}

func (st *SignalStore) Create(_ context.Context, s *models.TradingSignal) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.rows[s.ID]; ok {
		return fmt.Errorf("%w: signal %s", models.ErrDuplicateKey, s.ID)
	}
	key := activeKey(s.AssetID, s.Direction)
	if s.Status == models.SignalActive {
		if _, ok := st.active[key]; ok {
			return fmt.Errorf("%w: active %s signal for %s", models.ErrDuplicateKey, s.Direction, s.AssetID)
		}
		st.active[key] = s.ID
	}
	st.rows[s.ID] = cloneSignal(s)
	return nil
}

func (st *SignalStore) Get(_ context.Context, id string) (*models.TradingSignal, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: signal %s", models.ErrNotFound, id)
	}
	return cloneSignal(s), nil
}

func (st *SignalStore) List(_ context.Context, f models.SignalFilter) ([]*models.TradingSignal, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*models.TradingSignal, 0)
	for _, s := range st.rows {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.AssetID != "" && s.AssetID != f.AssetID {
			continue
		}
		out = append(out, cloneSignal(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (st *SignalStore) FindActive(_ context.Context, assetID string, dir models.Direction) (*models.TradingSignal, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.active[activeKey(assetID, dir)]
	if !ok {
		return nil, fmt.Errorf("%w: active %s signal for %s", models.ErrNotFound, dir, assetID)
	}
	return cloneSignal(st.rows[id]), nil
}

func (st *SignalStore) Transition(_ context.Context, id string, expected, next models.SignalStatus, reason string) (*models.TradingSignal, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: signal %s", models.ErrNotFound, id)
	}
	if s.Status != expected {
		return nil, fmt.Errorf("%w: signal %s is %s, expected %s", models.ErrStateConflict, id, s.Status, expected)
	}
	if !expected.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrStateConflict, expected, next)
	}
	s.Status = next
	if reason != "" {
		s.CancelReason = reason
	}
	if next != models.SignalActive {
		key := activeKey(s.AssetID, s.Direction)
		if st.active[key] == id {
			delete(st.active, key)
		}
	}
	return cloneSignal(s), nil
}

func (st *SignalStore) ListExpirable(_ context.Context, now time.Time, limit int) ([]*models.TradingSignal, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*models.TradingSignal, 0)
	for _, s := range st.rows {
		if s.Status == models.SignalActive && s.PastExpiry(now) {
			out = append(out, cloneSignal(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type ExecutionStore struct {
	mu   sync.RWMutex
	rows map[string]*models.SignalExecution
}

var _ domrepo.ExecutionRepository = (*ExecutionStore)(nil)

func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{rows: make(map[string]*models.SignalExecution)}
}

func execKey(signalID, userID string) string { return signalID + "|" + userID }

func (st *ExecutionStore) Get(_ context.Context, signalID, userID string) (*models.SignalExecution, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.rows[execKey(signalID, userID)]
	if !ok {
		return nil, fmt.Errorf("%w: execution %s/%s", models.ErrNotFound, signalID, userID)
	}
	cp := *e
	return &cp, nil
}

func (st *ExecutionStore) Save(_ context.Context, e *models.SignalExecution) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	key := execKey(e.SignalID, e.UserID)
	if cur, ok := st.rows[key]; ok && cur.Status != models.ExecutionCancelled {
		return models.ErrDuplicateExecution
	}
	cp := *e
	st.rows[key] = &cp
	return nil
}

func (st *ExecutionStore) ListBySignal(_ context.Context, signalID string) ([]*models.SignalExecution, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*models.SignalExecution, 0)
	for _, e := range st.rows {
		if e.SignalID == signalID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

type RiskProfileStore struct {
	mu   sync.RWMutex
	rows map[string]*models.RiskProfile
	now  func() time.Time
}

var _ domrepo.RiskProfileRepository = (*RiskProfileStore)(nil)

func NewRiskProfileStore() *RiskProfileStore {
	return &RiskProfileStore{rows: make(map[string]*models.RiskProfile), now: time.Now}
}

func (st *RiskProfileStore) Get(_ context.Context, userID string) (*models.RiskProfile, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	p, ok := st.rows[userID]
	if !ok {
		return nil, fmt.Errorf("%w: risk profile %s", models.ErrNotFound, userID)
	}
	cp := *p
	return &cp, nil
}

func (st *RiskProfileStore) Create(_ context.Context, p *models.RiskProfile) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.rows[p.UserID]; ok {
		return fmt.Errorf("%w: risk profile %s", models.ErrDuplicateKey, p.UserID)
	}
	cp := *p
	st.rows[p.UserID] = &cp
	return nil
}

func (st *RiskProfileStore) UpdateExposure(_ context.Context, userID string, expected, next decimal.Decimal) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.rows[userID]
	if !ok {
		return fmt.Errorf("%w: risk profile %s", models.ErrNotFound, userID)
	}
	if !p.CurrentExposure.Equal(expected) {
		return fmt.Errorf("%w: exposure is %s, expected %s", models.ErrStateConflict, p.CurrentExposure, expected)
	}
	p.CurrentExposure = next
	p.UpdatedAt = st.now().UTC()
	return nil
}
