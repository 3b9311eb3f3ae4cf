package usecase

import (
	"context"
	"errors"
	"testing"

	"CascadeAdvisor/internal/domain/models"
	svcmetrics "CascadeAdvisor/internal/service/metrics"
	"CascadeAdvisor/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type brokenAuditRepo struct{}

func (brokenAuditRepo) Append(context.Context, *models.AuditEntry) error {
	return errors.New("disk full")
}

func (brokenAuditRepo) List(context.Context, models.AuditFilter) ([]*models.AuditEntry, error) {
	return nil, nil
}

func TestAuditLogCountsFailedAppends(t *testing.T) {
	m := svcmetrics.NewNop()
	a := NewAuditLog(brokenAuditRepo{}, logger.NewNop(), WithAuditMetrics(m))

	err := a.Record(context.Background(), models.SystemActor, models.ActionSuggestionCreated, models.EntitySuggestion, "s1", nil)
	assert.Error(t, err)
	_ = a.Record(context.Background(), models.SystemActor, models.ActionSuggestionExpired, models.EntitySuggestion, "s2", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuditFailures.WithLabelValues(models.EntitySuggestion)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.AuditFailures.WithLabelValues(models.EntitySignal)))
}

func TestAuditLogWithoutMetrics(t *testing.T) {
	a := NewAuditLog(brokenAuditRepo{}, logger.NewNop())
	assert.Error(t, a.Record(context.Background(), models.SystemActor, models.ActionSuggestionCreated, models.EntitySuggestion, "s1", nil))
}
