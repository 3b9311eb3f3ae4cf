package memory

import (
	"context"
	"sync"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
)

// AuditStore is an append-only in-memory audit trail.
type AuditStore struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
}

var _ domrepo.AuditRepository = (*AuditStore)(nil)

func NewAuditStore() *AuditStore { return &AuditStore{} }

func (st *AuditStore) Append(_ context.Context, e *models.AuditEntry) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.entries = append(st.entries, *e)
	return nil
}

// List returns matching entries, newest first.
func (st *AuditStore) List(_ context.Context, f models.AuditFilter) ([]*models.AuditEntry, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*models.AuditEntry, 0)
	for i := len(st.entries) - 1; i >= 0; i-- {
		e := st.entries[i]
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		out = append(out, &e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
