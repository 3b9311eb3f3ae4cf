package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
	svcmetrics "CascadeAdvisor/internal/service/metrics"
	"CascadeAdvisor/pkg/logger"

	"github.com/google/uuid"
)

const sweepBatch = 200

// ImplementationDispatcher hands approved suggestions to whatever applies
// them to the watchlist.
type ImplementationDispatcher interface {
	Dispatch(ctx context.Context, suggestionID string) error
}

// WatchlistInvalidator drops cached results that depend on watchlist contents.
type WatchlistInvalidator interface {
	InvalidateWatchlist(ctx context.Context, watchlistID string) error
}

type SuggestionConfig struct {
	TTL                  time.Duration
	AutoApproveThreshold float64
	AutoApproveKinds     []models.SuggestionKind
	Now                  func() time.Time
}

type SuggestionOption func(*SuggestionManager)

func WithSuggestionConfig(cfg SuggestionConfig) SuggestionOption {
	return func(m *SuggestionManager) {
		if cfg.TTL > 0 {
			m.cfg.TTL = cfg.TTL
		}
		if cfg.AutoApproveThreshold > 0 {
			m.cfg.AutoApproveThreshold = cfg.AutoApproveThreshold
		}
		if cfg.AutoApproveKinds != nil {
			m.cfg.AutoApproveKinds = cfg.AutoApproveKinds
		}
		if cfg.Now != nil {
			m.cfg.Now = cfg.Now
		}
	}
}

// WithDispatcher routes approved suggestions through d. Without one they
// are implemented inline.
func WithDispatcher(d ImplementationDispatcher) SuggestionOption {
	return func(m *SuggestionManager) { m.dispatcher = d }
}

func WithInvalidator(inv WatchlistInvalidator) SuggestionOption {
	return func(m *SuggestionManager) { m.invalidator = inv }
}

// SuggestionManager owns the suggestion lifecycle:
//
//	pending -> approved -> implemented
//	pending -> rejected | expired
//	approved -> pending (implementation failed) | expired
type SuggestionManager struct {
	repo        domrepo.SuggestionRepository
	mutator     domrepo.WatchlistMutator
	audit       *AuditLog
	dispatcher  ImplementationDispatcher
	invalidator WatchlistInvalidator
	metrics     *svcmetrics.CascadeMetrics
	log         *logger.Logger
	cfg         SuggestionConfig
}

func NewSuggestionManager(
	repo domrepo.SuggestionRepository,
	mutator domrepo.WatchlistMutator,
	audit *AuditLog,
	metrics *svcmetrics.CascadeMetrics,
	log *logger.Logger,
	opts ...SuggestionOption,
) *SuggestionManager {
	m := &SuggestionManager{
		repo:    repo,
		mutator: mutator,
		audit:   audit,
		metrics: metrics,
		log:     log,
		cfg: SuggestionConfig{
			TTL:                  72 * time.Hour,
			AutoApproveThreshold: 0.85,
			AutoApproveKinds:     []models.SuggestionKind{models.SuggestionAdd, models.SuggestionPromote},
			Now:                  time.Now,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ingest turns the recommendations of a run into pending suggestions.
// Read-only runs produce nothing. A recommendation matching an existing
// pending suggestion refreshes it instead of creating a second one.
func (m *SuggestionManager) Ingest(ctx context.Context, result *models.CascadeResult, rc models.ResolvedContext) ([]*models.Suggestion, error) {
	if rc.ReadOnly || result == nil {
		return nil, nil
	}
	now := m.cfg.Now()
	out := make([]*models.Suggestion, 0, len(result.Recommendations))

	for _, rec := range result.Recommendations {
		if rec.AssetID == "" || !rec.Kind.Valid() || rec.Confidence < 0 || rec.Confidence > 1 {
			m.log.Warn("suggestion.ingest skipped",
				logger.String("run_id", result.RunID),
				logger.String("asset", rec.AssetID),
				logger.String("kind", string(rec.Kind)))
			continue
		}
		reasoning, err := buildReasoning(rec, result)
		if err != nil {
			return out, err
		}

		stored, created, err := m.repo.UpsertPending(ctx, &models.Suggestion{
			ID:          uuid.NewString(),
			AssetID:     rec.AssetID,
			WatchlistID: rc.Watchlist.ID,
			Kind:        rec.Kind,
			Confidence:  rec.Confidence,
			Reasoning:   reasoning,
			Status:      models.SuggestionPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(m.cfg.TTL),
		})
		if err != nil {
			return out, fmt.Errorf("upsert suggestion %s/%s: %w", rec.AssetID, rec.Kind, err)
		}

		action := models.ActionSuggestionRefreshed
		if created {
			action = models.ActionSuggestionCreated
			m.metrics.Transition(models.EntitySuggestion, string(models.SuggestionPending))
		}
		_ = m.audit.Record(ctx, models.SystemActor, action, models.EntitySuggestion, stored.ID, map[string]any{
			"runId":       result.RunID,
			"watchlistId": stored.WatchlistID,
			"kind":        stored.Kind,
			"confidence":  stored.Confidence,
		})

		if m.autoApprovable(stored, result.Degraded) {
			if approved, err := m.autoApprove(ctx, stored); err == nil {
				stored = approved
			}
		}
		out = append(out, stored)
	}
	return out, nil
}

func buildReasoning(rec models.AssetRecommendation, result *models.CascadeResult) (json.RawMessage, error) {
	doc := make(map[string]any, len(rec.Reasoning)+3)
	for k, v := range rec.Reasoning {
		doc[k] = v
	}
	doc["runId"] = result.RunID
	doc["cascadeConfidence"] = result.CascadeConfidence
	doc["regime"] = result.Context.Regime
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: reasoning: %v", models.ErrValidation, err)
	}
	return b, nil
}

func (m *SuggestionManager) autoApprovable(s *models.Suggestion, degraded bool) bool {
	if degraded || s.Status != models.SuggestionPending || s.Confidence <= m.cfg.AutoApproveThreshold {
		return false
	}
	for _, k := range m.cfg.AutoApproveKinds {
		if k == s.Kind {
			return true
		}
	}
	return false
}

func (m *SuggestionManager) autoApprove(ctx context.Context, s *models.Suggestion) (*models.Suggestion, error) {
	now := m.cfg.Now()
	approved, err := m.repo.Transition(ctx, models.SuggestionTransition{
		ID:         s.ID,
		Expected:   models.SuggestionPending,
		Next:       models.SuggestionApproved,
		ReviewedBy: models.SystemActor,
		ReviewedAt: &now,
		Notes:      "auto-approved",
		At:         now,
	})
	if err != nil {
		m.log.Warn("suggestion.auto_approve skipped", logger.String("id", s.ID), logger.Error(err))
		return nil, err
	}
	m.metrics.Transition(models.EntitySuggestion, string(models.SuggestionApproved))
	_ = m.audit.Record(ctx, models.SystemActor, models.ActionSuggestionAutoApprove, models.EntitySuggestion, s.ID, map[string]any{
		"confidence": s.Confidence,
		"threshold":  m.cfg.AutoApproveThreshold,
	})
	return m.dispatch(ctx, approved), nil
}

// Review applies an admin decision to a pending suggestion.
func (m *SuggestionManager) Review(ctx context.Context, actor models.Caller, id string, decision models.ReviewDecision, notes string) (*models.Suggestion, error) {
	if !actor.IsAdmin() {
		return nil, models.ErrForbidden
	}
	if decision != models.DecisionApprove && decision != models.DecisionReject {
		return nil, fmt.Errorf("%w: decision %q", models.ErrValidation, decision)
	}

	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.cfg.Now()

	if s.Status == models.SuggestionExpired {
		return nil, models.ErrSuggestionExpired
	}
	if !s.Status.Terminal() && s.ExpiredAt(now) {
		m.expire(ctx, s, actor.ActorID())
		return nil, models.ErrSuggestionExpired
	}
	if s.Status != models.SuggestionPending {
		return nil, fmt.Errorf("%w: suggestion is %s", models.ErrStateConflict, s.Status)
	}

	target := decision.Target()
	updated, err := m.repo.Transition(ctx, models.SuggestionTransition{
		ID:         id,
		Expected:   models.SuggestionPending,
		Next:       target,
		ReviewedBy: actor.UserID,
		ReviewedAt: &now,
		Notes:      notes,
		At:         now,
	})
	if err != nil {
		return nil, err
	}

	action := models.ActionSuggestionRejected
	if target == models.SuggestionApproved {
		action = models.ActionSuggestionApproved
	}
	m.metrics.Transition(models.EntitySuggestion, string(target))
	_ = m.audit.Record(ctx, actor.ActorID(), action, models.EntitySuggestion, id, map[string]any{
		"notes": notes,
	})

	if target == models.SuggestionApproved {
		updated = m.dispatch(ctx, updated)
	}
	return updated, nil
}

// dispatch hands off an approved suggestion and returns its latest state.
func (m *SuggestionManager) dispatch(ctx context.Context, s *models.Suggestion) *models.Suggestion {
	if m.dispatcher != nil {
		if err := m.dispatcher.Dispatch(ctx, s.ID); err != nil {
			m.log.Error("suggestion.dispatch failed", logger.String("id", s.ID), logger.Error(err))
		}
		return s
	}
	implemented, err := m.Implement(ctx, s.ID)
	if implemented != nil {
		return implemented
	}
	if err != nil {
		m.log.Error("suggestion.implement failed", logger.String("id", s.ID), logger.Error(err))
	}
	return s
}

// Implement applies an approved suggestion to its watchlist. On failure the
// suggestion reverts to pending and is returned together with the error.
// Implementing an already implemented suggestion is a no-op, and a retry
// after a failed final transition does not mutate the watchlist again.
func (m *SuggestionManager) Implement(ctx context.Context, id string) (*models.Suggestion, error) {
	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case models.SuggestionImplemented:
		return s, nil
	case models.SuggestionApproved:
	default:
		return nil, fmt.Errorf("%w: suggestion is %s", models.ErrStateConflict, s.Status)
	}

	if applyErr := m.apply(ctx, s); applyErr != nil {
		reverted, err := m.repo.Transition(ctx, models.SuggestionTransition{
			ID:       id,
			Expected: models.SuggestionApproved,
			Next:     models.SuggestionPending,
			At:       m.cfg.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("revert suggestion after %v: %w", applyErr, err)
		}
		m.metrics.Transition(models.EntitySuggestion, string(models.SuggestionPending))
		_ = m.audit.Record(ctx, models.SystemActor, models.ActionSuggestionReverted, models.EntitySuggestion, id, map[string]any{
			"error": applyErr.Error(),
		})
		m.log.Warn("suggestion.implement reverted", logger.String("id", id), logger.Error(applyErr))
		return reverted, fmt.Errorf("apply suggestion %s: %w", id, applyErr)
	}

	done, err := m.repo.Transition(ctx, models.SuggestionTransition{
		ID:       id,
		Expected: models.SuggestionApproved,
		Next:     models.SuggestionImplemented,
		At:       m.cfg.Now(),
	})
	if err != nil {
		return nil, err
	}
	m.metrics.Transition(models.EntitySuggestion, string(models.SuggestionImplemented))
	_ = m.audit.Record(ctx, models.SystemActor, models.ActionSuggestionImplemented, models.EntitySuggestion, id, map[string]any{
		"watchlistId": s.WatchlistID,
		"assetId":     s.AssetID,
		"kind":        s.Kind,
	})
	if m.invalidator != nil {
		if err := m.invalidator.InvalidateWatchlist(ctx, s.WatchlistID); err != nil {
			m.log.Warn("suggestion.invalidate failed", logger.String("watchlist", s.WatchlistID), logger.Error(err))
		}
	}
	return done, nil
}

func (m *SuggestionManager) apply(ctx context.Context, s *models.Suggestion) error {
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", models.ErrValidation, s.Kind)
	}
	return m.mutator.Apply(ctx, models.WatchlistMutation{
		Key:         s.ID,
		WatchlistID: s.WatchlistID,
		AssetID:     s.AssetID,
		Kind:        s.Kind,
	})
}

func (m *SuggestionManager) expire(ctx context.Context, s *models.Suggestion, trigger string) bool {
	_, err := m.repo.Transition(ctx, models.SuggestionTransition{
		ID:       s.ID,
		Expected: s.Status,
		Next:     models.SuggestionExpired,
		At:       m.cfg.Now(),
	})
	if err != nil {
		if !errors.Is(err, models.ErrStateConflict) {
			m.log.Error("suggestion.expire failed", logger.String("id", s.ID), logger.Error(err))
		}
		return false
	}
	m.metrics.Transition(models.EntitySuggestion, string(models.SuggestionExpired))
	_ = m.audit.Record(ctx, models.SystemActor, models.ActionSuggestionExpired, models.EntitySuggestion, s.ID, map[string]any{
		"from":      s.Status,
		"expiresAt": s.ExpiresAt,
		"trigger":   trigger,
	})
	return true
}

// SweepExpired expires every pending or approved suggestion past its TTL.
func (m *SuggestionManager) SweepExpired(ctx context.Context) (int, error) {
	now := m.cfg.Now()
	total := 0
	for {
		batch, err := m.repo.ListExpirable(ctx, now, sweepBatch)
		if err != nil {
			return total, fmt.Errorf("list expirable suggestions: %w", err)
		}
		n := 0
		for _, s := range batch {
			if m.expire(ctx, s, "sweeper") {
				n++
			}
		}
		total += n
		if len(batch) < sweepBatch || n == 0 {
			return total, nil
		}
	}
}

func (m *SuggestionManager) Get(ctx context.Context, id string) (*models.Suggestion, error) {
	return m.repo.Get(ctx, id)
}

func (m *SuggestionManager) List(ctx context.Context, f models.SuggestionFilter) ([]*models.Suggestion, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", models.ErrValidation, f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	return m.repo.List(ctx, f)
}
