package usecase

import (
	"context"
	"fmt"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
	svcmetrics "CascadeAdvisor/internal/service/metrics"
	"CascadeAdvisor/pkg/logger"

	"github.com/google/uuid"
)

const defaultListLimit = 100

// AuditLog appends audit entries for committed state changes. Entries are
// never updated or removed.
type AuditLog struct {
	repo    domrepo.AuditRepository
	log     *logger.Logger
	metrics *svcmetrics.CascadeMetrics
	now     func() time.Time
}

type AuditOption func(*AuditLog)

// WithAuditMetrics counts failed appends so gaps in the trail can alert.
func WithAuditMetrics(m *svcmetrics.CascadeMetrics) AuditOption {
	return func(a *AuditLog) { a.metrics = m }
}

func NewAuditLog(repo domrepo.AuditRepository, log *logger.Logger, opts ...AuditOption) *AuditLog {
	a := &AuditLog{repo: repo, log: log, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Record appends an entry. A failed append is logged and returned; the
// state change it describes has already been committed.
func (a *AuditLog) Record(ctx context.Context, actorID, action, entityType, entityID string, details map[string]any) error {
	entry := &models.AuditEntry{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		Timestamp:  a.now().UTC(),
	}
	if err := a.repo.Append(ctx, entry); err != nil {
		a.log.Error("audit.append failed",
			logger.String("action", action),
			logger.String("entity_id", entityID),
			logger.Error(err))
		a.metrics.AuditFailure(entityType)
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// List returns entries newest first. Only admins may read the trail.
func (a *AuditLog) List(ctx context.Context, caller models.Caller, f models.AuditFilter) ([]*models.AuditEntry, error) {
	if !caller.IsAdmin() {
		return nil, models.ErrForbidden
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	return a.repo.List(ctx, f)
}
