package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
	svcmetrics "CascadeAdvisor/internal/service/metrics"
	"CascadeAdvisor/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SignalConfig struct {
	DefaultMaxPositionSize  decimal.Decimal
	DefaultMaxPortfolioRisk decimal.Decimal
	Now                     func() time.Time
}

type SignalOption func(*SignalManager)

func WithSignalConfig(cfg SignalConfig) SignalOption {
	return func(m *SignalManager) {
		if cfg.DefaultMaxPositionSize.IsPositive() {
			m.cfg.DefaultMaxPositionSize = cfg.DefaultMaxPositionSize
		}
		if cfg.DefaultMaxPortfolioRisk.IsPositive() {
			m.cfg.DefaultMaxPortfolioRisk = cfg.DefaultMaxPortfolioRisk
		}
		if cfg.Now != nil {
			m.cfg.Now = cfg.Now
		}
	}
}

// WithPriceBook enables expiry of active signals whose stop or target was
// crossed by the latest observed price.
func WithPriceBook(pb domrepo.PriceBook) SignalOption {
	return func(m *SignalManager) { m.prices = pb }
}

// SignalManager owns the trading signal lifecycle and user executions.
//
//	active -> executed | expired | cancelled
//	executed -> cancelled
type SignalManager struct {
	signals    domrepo.SignalRepository
	executions domrepo.ExecutionRepository
	profiles   domrepo.RiskProfileRepository
	prices     domrepo.PriceBook
	audit      *AuditLog
	locks      *keyedMutex
	metrics    *svcmetrics.CascadeMetrics
	log        *logger.Logger
	cfg        SignalConfig
}

func NewSignalManager(
	signals domrepo.SignalRepository,
	executions domrepo.ExecutionRepository,
	profiles domrepo.RiskProfileRepository,
	audit *AuditLog,
	metrics *svcmetrics.CascadeMetrics,
	log *logger.Logger,
	opts ...SignalOption,
) *SignalManager {
	m := &SignalManager{
		signals:    signals,
		executions: executions,
		profiles:   profiles,
		audit:      audit,
		locks:      newKeyedMutex(),
		metrics:    metrics,
		log:        log,
		cfg: SignalConfig{
			DefaultMaxPositionSize:  decimal.NewFromInt(10000),
			DefaultMaxPortfolioRisk: decimal.RequireFromString("0.02"),
			Now:                     time.Now,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ingest creates active signals from the timing calls of a run. Calls with
// inconsistent price levels are rejected, and an asset keeps at most one
// active signal per direction.
func (m *SignalManager) Ingest(ctx context.Context, result *models.CascadeResult, rc models.ResolvedContext) ([]*models.TradingSignal, error) {
	if rc.ReadOnly || result == nil {
		return nil, nil
	}
	now := m.cfg.Now()
	out := make([]*models.TradingSignal, 0, len(result.TimingCalls))

	for _, call := range result.TimingCalls {
		sig := &models.TradingSignal{
			ID:           uuid.NewString(),
			AssetID:      call.AssetID,
			Direction:    call.Direction,
			Confidence:   call.Confidence,
			RiskLevel:    call.RiskLevel,
			HorizonHours: call.HorizonHours,
			Status:       models.SignalActive,
			GeneratedAt:  now,
			ExpiresAt:    now.Add(time.Duration(call.HorizonHours) * time.Hour),
		}
		err := sig.SetPrices(call.Entry, call.Target, call.Stop)
		if err == nil && (call.AssetID == "" || call.HorizonHours <= 0 || call.Confidence < 0 || call.Confidence > 1) {
			err = fmt.Errorf("%w: asset=%q horizon=%d confidence=%v", models.ErrValidation, call.AssetID, call.HorizonHours, call.Confidence)
		}
		if err != nil {
			_ = m.audit.Record(ctx, models.SystemActor, models.ActionSignalRejected, models.EntitySignal, sig.ID, map[string]any{
				"runId":   result.RunID,
				"assetId": call.AssetID,
				"error":   err.Error(),
			})
			continue
		}

		existing, err := m.signals.FindActive(ctx, call.AssetID, call.Direction)
		if err == nil {
			if refreshed, rerr := m.refresh(ctx, existing); rerr == nil && refreshed.Status == models.SignalActive {
				continue
			}
		} else if !errors.Is(err, models.ErrNotFound) {
			return out, fmt.Errorf("find active signal %s: %w", call.AssetID, err)
		}

		if err := m.signals.Create(ctx, sig); err != nil {
			if errors.Is(err, models.ErrDuplicateKey) {
				continue
			}
			return out, fmt.Errorf("create signal %s: %w", call.AssetID, err)
		}
		m.metrics.Transition(models.EntitySignal, string(models.SignalActive))
		_ = m.audit.Record(ctx, models.SystemActor, models.ActionSignalCreated, models.EntitySignal, sig.ID, map[string]any{
			"runId":           result.RunID,
			"assetId":         sig.AssetID,
			"direction":       sig.Direction,
			"riskRewardRatio": sig.RiskRewardRatio.String(),
		})
		out = append(out, sig)
	}
	return out, nil
}

// Get returns a signal, expiring it first if it has lapsed.
func (m *SignalManager) Get(ctx context.Context, id string) (*models.TradingSignal, error) {
	s, err := m.signals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.refresh(ctx, s)
}

func (m *SignalManager) List(ctx context.Context, f models.SignalFilter) ([]*models.TradingSignal, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", models.ErrValidation, f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	list, err := m.signals.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, s := range list {
		s, err = m.refresh(ctx, s)
		if err != nil {
			return nil, err
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// refresh expires an active signal that is past its horizon or whose levels
// were crossed by the latest price.
func (m *SignalManager) refresh(ctx context.Context, s *models.TradingSignal) (*models.TradingSignal, error) {
	if s.Status != models.SignalActive {
		return s, nil
	}
	reason := ""
	if s.PastExpiry(m.cfg.Now()) {
		reason = "horizon elapsed"
	} else if m.prices != nil {
		price, ok, err := m.prices.Latest(ctx, s.AssetID)
		if err != nil {
			m.log.Warn("signal.price lookup failed", logger.String("asset", s.AssetID), logger.Error(err))
		} else if ok && s.Crossed(price) {
			reason = "price crossed " + price.String()
		}
	}
	if reason == "" {
		return s, nil
	}
	return m.expire(ctx, s, reason)
}

func (m *SignalManager) expire(ctx context.Context, s *models.TradingSignal, reason string) (*models.TradingSignal, error) {
	expired, err := m.signals.Transition(ctx, s.ID, models.SignalActive, models.SignalExpired, reason)
	if err != nil {
		if errors.Is(err, models.ErrStateConflict) {
			return m.signals.Get(ctx, s.ID)
		}
		return nil, err
	}
	m.metrics.Transition(models.EntitySignal, string(models.SignalExpired))
	_ = m.audit.Record(ctx, models.SystemActor, models.ActionSignalExpired, models.EntitySignal, s.ID, map[string]any{
		"reason": reason,
	})
	return expired, nil
}

// Execute records a user's execution of a signal. A position breaching the
// user's risk profile is stored as cancelled and reported through the
// outcome rather than as an error. Executions are serialized per user.
func (m *SignalManager) Execute(ctx context.Context, caller models.Caller, signalID string, req models.ExecuteSignalRequest) (*models.ExecutionResult, error) {
	if caller.IsGuest() {
		return nil, models.ErrForbidden
	}
	if !req.PositionSize.IsPositive() {
		return nil, fmt.Errorf("%w: positionSize must be positive", models.ErrValidation)
	}
	if !req.PortfolioPercentage.IsPositive() || req.PortfolioPercentage.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: portfolioPercentage must be in (0, 1]", models.ErrValidation)
	}
	if req.ExecutionPrice.IsNegative() {
		return nil, fmt.Errorf("%w: executionPrice must not be negative", models.ErrValidation)
	}

	unlock := m.locks.Lock(caller.UserID)
	defer unlock()

	sig, err := m.Get(ctx, signalID)
	if err != nil {
		return nil, err
	}
	if !sig.Status.Open() || sig.PastExpiry(m.cfg.Now()) {
		return nil, fmt.Errorf("%w: signal is %s", models.ErrSignalNotActive, sig.Status)
	}

	prev, err := m.executions.Get(ctx, signalID, caller.UserID)
	switch {
	case err == nil && prev.Status != models.ExecutionCancelled:
		return nil, models.ErrDuplicateExecution
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("load execution: %w", err)
	}

	profile, err := m.profile(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	exec := &models.SignalExecution{
		ID:                  uuid.NewString(),
		SignalID:            signalID,
		UserID:              caller.UserID,
		ExecutionPrice:      m.executionPrice(ctx, sig, req.ExecutionPrice),
		PositionSize:        req.PositionSize,
		PortfolioPercentage: req.PortfolioPercentage,
		ExecutedAt:          m.cfg.Now(),
	}

	if riskErr := profile.Check(req.PositionSize, req.PortfolioPercentage); riskErr != nil {
		exec.Status = models.ExecutionCancelled
		exec.RejectReason = riskErr.Error()
		if err := m.executions.Save(ctx, exec); err != nil {
			return nil, err
		}
		m.metrics.Execution(string(models.OutcomeRiskLimitExceeded))
		_ = m.audit.Record(ctx, caller.ActorID(), models.ActionExecutionRejected, models.EntityExecution, exec.ID, map[string]any{
			"signalId":        signalID,
			"reason":          exec.RejectReason,
			"currentExposure": profile.CurrentExposure.String(),
		})
		return &models.ExecutionResult{Execution: exec, Signal: sig, Outcome: models.OutcomeRiskLimitExceeded}, nil
	}

	next := profile.CurrentExposure.Add(req.PortfolioPercentage)
	if err := m.profiles.UpdateExposure(ctx, caller.UserID, profile.CurrentExposure, next); err != nil {
		return nil, fmt.Errorf("update exposure: %w", err)
	}
	exec.Status = models.ExecutionFilled
	if err := m.executions.Save(ctx, exec); err != nil {
		if rerr := m.profiles.UpdateExposure(ctx, caller.UserID, next, profile.CurrentExposure); rerr != nil {
			m.log.Error("signal.exposure rollback failed", logger.String("user_id", caller.UserID), logger.Error(rerr))
		}
		return nil, err
	}
	m.metrics.Execution(string(models.OutcomeFilled))
	_ = m.audit.Record(ctx, caller.ActorID(), models.ActionExecutionFilled, models.EntityExecution, exec.ID, map[string]any{
		"signalId":     signalID,
		"positionSize": exec.PositionSize.String(),
		"exposure":     next.String(),
	})

	if sig.Status == models.SignalActive {
		executed, err := m.signals.Transition(ctx, signalID, models.SignalActive, models.SignalExecuted, "")
		switch {
		case err == nil:
			sig = executed
			m.metrics.Transition(models.EntitySignal, string(models.SignalExecuted))
			_ = m.audit.Record(ctx, caller.ActorID(), models.ActionSignalExecuted, models.EntitySignal, signalID, nil)
		case errors.Is(err, models.ErrStateConflict):
			if cur, gerr := m.signals.Get(ctx, signalID); gerr == nil {
				sig = cur
			}
		default:
			m.log.Error("signal.mark executed failed", logger.String("id", signalID), logger.Error(err))
		}
	}
	return &models.ExecutionResult{Execution: exec, Signal: sig, Outcome: models.OutcomeFilled}, nil
}

func (m *SignalManager) executionPrice(ctx context.Context, sig *models.TradingSignal, requested decimal.Decimal) decimal.Decimal {
	if requested.IsPositive() {
		return requested
	}
	if m.prices != nil {
		if p, ok, err := m.prices.Latest(ctx, sig.AssetID); err == nil && ok {
			return p
		}
	}
	return sig.EntryPrice
}

// profile loads the user's risk profile, creating one with the configured
// defaults on first use.
func (m *SignalManager) profile(ctx context.Context, userID string) (*models.RiskProfile, error) {
	p, err := m.profiles.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("load risk profile: %w", err)
	}
	p = &models.RiskProfile{
		UserID:           userID,
		MaxPositionSize:  m.cfg.DefaultMaxPositionSize,
		MaxPortfolioRisk: m.cfg.DefaultMaxPortfolioRisk,
		CurrentExposure:  decimal.Zero,
		UpdatedAt:        m.cfg.Now(),
	}
	if err := m.profiles.Create(ctx, p); err != nil {
		if errors.Is(err, models.ErrDuplicateKey) {
			return m.profiles.Get(ctx, userID)
		}
		return nil, fmt.Errorf("create risk profile: %w", err)
	}
	return p, nil
}

// Cancel withdraws an open signal. Only admins may cancel.
func (m *SignalManager) Cancel(ctx context.Context, actor models.Caller, id, reason string) (*models.TradingSignal, error) {
	if !actor.IsAdmin() {
		return nil, models.ErrForbidden
	}
	sig, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sig.Status.Open() {
		return nil, fmt.Errorf("%w: signal is %s", models.ErrSignalNotActive, sig.Status)
	}
	cancelled, err := m.signals.Transition(ctx, id, sig.Status, models.SignalCancelled, reason)
	if err != nil {
		return nil, err
	}
	m.metrics.Transition(models.EntitySignal, string(models.SignalCancelled))
	_ = m.audit.Record(ctx, actor.ActorID(), models.ActionSignalCancelled, models.EntitySignal, id, map[string]any{
		"reason": reason,
		"from":   sig.Status,
	})
	return cancelled, nil
}

// Executions lists the executions recorded against a signal.
func (m *SignalManager) Executions(ctx context.Context, signalID string) ([]*models.SignalExecution, error) {
	return m.executions.ListBySignal(ctx, signalID)
}

// SweepExpired expires active signals past their horizon.
func (m *SignalManager) SweepExpired(ctx context.Context) (int, error) {
	now := m.cfg.Now()
	total := 0
	for {
		batch, err := m.signals.ListExpirable(ctx, now, sweepBatch)
		if err != nil {
			return total, fmt.Errorf("list expirable signals: %w", err)
		}
		n := 0
		for _, s := range batch {
			out, err := m.expire(ctx, s, "horizon elapsed")
			if err == nil && out.Status == models.SignalExpired {
				n++
			}
		}
		total += n
		if len(batch) < sweepBatch || n == 0 {
			return total, nil
		}
	}
}
