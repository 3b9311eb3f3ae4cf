package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type SignalStore struct {
	db DB
}

var _ domrepo.SignalRepository = (*SignalStore)(nil)

func NewSignalStore(db DB) *SignalStore { return &SignalStore{db: db} }

const signalCols = `id, asset_id, direction, entry_price::text, target_price::text, stop_loss::text,
	confidence, risk_level, risk_reward_ratio::text, horizon_hours, status, generated_at, expires_at,
	coalesce(cancel_reason, '')`

func scanSignal(row pgx.Row) (*models.TradingSignal, error) {
	var (
		s                          models.TradingSignal
		dir, risk, status          string
		entry, target, stop, ratio string
	)
	if err := row.Scan(&s.ID, &s.AssetID, &dir, &entry, &target, &stop, &s.Confidence, &risk, &ratio,
		&s.HorizonHours, &status, &s.GeneratedAt, &s.ExpiresAt, &s.CancelReason); err != nil {
		return nil, err
	}
	s.Direction = models.Direction(dir)
	s.RiskLevel = models.RiskLevel(risk)
	s.Status = models.SignalStatus(status)

	var err error
	for _, p := range []struct {
		dst *decimal.Decimal
		src string
	}{{&s.EntryPrice, entry}, {&s.TargetPrice, target}, {&s.StopLoss, stop}, {&s.RiskRewardRatio, ratio}} {
		if *p.dst, err = parseDecimal(p.src); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func (st *SignalStore) Create(ctx context.Context, s *models.TradingSignal) error {
	_, err := st.db.Exec(ctx, `
		INSERT INTO trading_signals (id, asset_id, direction, entry_price, target_price, stop_loss, confidence,
			risk_level, risk_reward_ratio, horizon_hours, status, generated_at, expires_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9::numeric, $10, $11, $12, $13)`,
		s.ID, s.AssetID, string(s.Direction), s.EntryPrice.String(), s.TargetPrice.String(), s.StopLoss.String(),
		s.Confidence, string(s.RiskLevel), s.RiskRewardRatio.String(), s.HorizonHours, string(s.Status),
		s.GeneratedAt, s.ExpiresAt)
	return mapError(err, "signal for "+s.AssetID)
}

func (st *SignalStore) Get(ctx context.Context, id string) (*models.TradingSignal, error) {
	s, err := scanSignal(st.db.QueryRow(ctx, `SELECT `+signalCols+` FROM trading_signals WHERE id = $1`, id))
	return s, mapError(err, "signal "+id)
}

func (st *SignalStore) List(ctx context.Context, f models.SignalFilter) ([]*models.TradingSignal, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.AssetID != "" {
		args = append(args, f.AssetID)
		where = append(where, fmt.Sprintf("asset_id = $%d", len(args)))
	}
	q := `SELECT ` + signalCols + ` FROM trading_signals`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY generated_at DESC LIMIT $%d`, len(args))
	return st.query(ctx, q, args...)
}

func (st *SignalStore) query(ctx context.Context, q string, args ...any) ([]*models.TradingSignal, error) {
	rows, err := st.db.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, "list signals")
	}
	defer rows.Close()
	out := make([]*models.TradingSignal, 0)
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (st *SignalStore) FindActive(ctx context.Context, assetID string, dir models.Direction) (*models.TradingSignal, error) {
	s, err := scanSignal(st.db.QueryRow(ctx,
		`SELECT `+signalCols+` FROM trading_signals WHERE asset_id = $1 AND direction = $2 AND status = 'active'`,
		assetID, string(dir)))
	return s, mapError(err, "active signal for "+assetID)
}

func (st *SignalStore) Transition(ctx context.Context, id string, expected, next models.SignalStatus, reason string) (*models.TradingSignal, error) {
	if !expected.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrStateConflict, expected, next)
	}
	s, err := scanSignal(st.db.QueryRow(ctx, `
		UPDATE trading_signals SET status = $3, cancel_reason = CASE WHEN $4 <> '' THEN $4 ELSE cancel_reason END
		WHERE id = $1 AND status = $2
		RETURNING `+signalCols,
		id, string(expected), string(next), reason))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapError(err, "transition signal")
	}
	var status string
	if err := st.db.QueryRow(ctx, `SELECT status FROM trading_signals WHERE id = $1`, id).Scan(&status); err != nil {
		return nil, mapError(err, "signal "+id)
	}
	return nil, fmt.Errorf("%w: signal %s is %s, expected %s", models.ErrStateConflict, id, status, expected)
}

func (st *SignalStore) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*models.TradingSignal, error) {
	return st.query(ctx, `SELECT `+signalCols+` FROM trading_signals
		WHERE status = 'active' AND expires_at < $1 ORDER BY expires_at LIMIT $2`, now, limit)
}

type ExecutionStore struct {
	db DB
}

var _ domrepo.ExecutionRepository = (*ExecutionStore)(nil)

func NewExecutionStore(db DB) *ExecutionStore { return &ExecutionStore{db: db} }

const executionCols = `id, signal_id, user_id, execution_price::text, position_size::text,
	portfolio_percentage::text, status, coalesce(reject_reason, ''), executed_at`

func scanExecution(row pgx.Row) (*models.SignalExecution, error) {
	var (
		e                models.SignalExecution
		price, size, pct string
		status           string
		err              error
	)
	if err = row.Scan(&e.ID, &e.SignalID, &e.UserID, &price, &size, &pct, &status, &e.RejectReason, &e.ExecutedAt); err != nil {
		return nil, err
	}
	e.Status = models.ExecutionStatus(status)
	if e.ExecutionPrice, err = parseDecimal(price); err != nil {
		return nil, err
	}
	if e.PositionSize, err = parseDecimal(size); err != nil {
		return nil, err
	}
	if e.PortfolioPercentage, err = parseDecimal(pct); err != nil {
		return nil, err
	}
	return &e, nil
}

func (st *ExecutionStore) Get(ctx context.Context, signalID, userID string) (*models.SignalExecution, error) {
	e, err := scanExecution(st.db.QueryRow(ctx,
		`SELECT `+executionCols+` FROM signal_executions WHERE signal_id = $1 AND user_id = $2`, signalID, userID))
	return e, mapError(err, "execution "+signalID+"/"+userID)
}

// Save inserts the execution or replaces a cancelled one for the same
// signal and user. No affected row means a live execution already exists.
func (st *ExecutionStore) Save(ctx context.Context, e *models.SignalExecution) error {
	tag, err := st.db.Exec(ctx, `
		INSERT INTO signal_executions (id, signal_id, user_id, execution_price, position_size, portfolio_percentage,
			status, reject_reason, executed_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, NULLIF($8, ''), $9)
		ON CONFLICT (signal_id, user_id) DO UPDATE SET
			id = EXCLUDED.id,
			execution_price = EXCLUDED.execution_price,
			position_size = EXCLUDED.position_size,
			portfolio_percentage = EXCLUDED.portfolio_percentage,
			status = EXCLUDED.status,
			reject_reason = EXCLUDED.reject_reason,
			executed_at = EXCLUDED.executed_at
		WHERE signal_executions.status = 'cancelled'`,
		e.ID, e.SignalID, e.UserID, e.ExecutionPrice.String(), e.PositionSize.String(), e.PortfolioPercentage.String(),
		string(e.Status), e.RejectReason, e.ExecutedAt)
	if err != nil {
		return mapError(err, "save execution")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrDuplicateExecution
	}
	return nil
}

func (st *ExecutionStore) ListBySignal(ctx context.Context, signalID string) ([]*models.SignalExecution, error) {
	rows, err := st.db.Query(ctx,
		`SELECT `+executionCols+` FROM signal_executions WHERE signal_id = $1 ORDER BY executed_at`, signalID)
	if err != nil {
		return nil, mapError(err, "list executions")
	}
	defer rows.Close()
	out := make([]*models.SignalExecution, 0)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type RiskProfileStore struct {
	db DB
}

var _ domrepo.RiskProfileRepository = (*RiskProfileStore)(nil)

func NewRiskProfileStore(db DB) *RiskProfileStore { return &RiskProfileStore{db: db} }

func (st *RiskProfileStore) Get(ctx context.Context, userID string) (*models.RiskProfile, error) {
	var (
		p                models.RiskProfile
		size, risk, expo string
	)
	err := st.db.QueryRow(ctx, `
		SELECT user_id, max_position_size::text, max_portfolio_risk::text, current_exposure::text, updated_at
		FROM risk_profiles WHERE user_id = $1`, userID).Scan(&p.UserID, &size, &risk, &expo, &p.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "risk profile "+userID)
	}
	if p.MaxPositionSize, err = parseDecimal(size); err != nil {
		return nil, err
	}
	if p.MaxPortfolioRisk, err = parseDecimal(risk); err != nil {
		return nil, err
	}
	if p.CurrentExposure, err = parseDecimal(expo); err != nil {
		return nil, err
	}
	return &p, nil
}

func (st *RiskProfileStore) Create(ctx context.Context, p *models.RiskProfile) error {
	_, err := st.db.Exec(ctx, `
		INSERT INTO risk_profiles (user_id, max_position_size, max_portfolio_risk, current_exposure, updated_at)
		VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5)`,
		p.UserID, p.MaxPositionSize.String(), p.MaxPortfolioRisk.String(), p.CurrentExposure.String(), p.UpdatedAt)
	return mapError(err, "risk profile "+p.UserID)
}

func (st *RiskProfileStore) UpdateExposure(ctx context.Context, userID string, expected, next decimal.Decimal) error {
	tag, err := st.db.Exec(ctx, `
		UPDATE risk_profiles SET current_exposure = $3::numeric, updated_at = $4
		WHERE user_id = $1 AND current_exposure = $2::numeric`,
		userID, expected.String(), next.String(), time.Now().UTC())
	if err != nil {
		return mapError(err, "update exposure")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := st.Get(ctx, userID); err != nil {
		return err
	}
	return fmt.Errorf("%w: exposure for %s changed", models.ErrStateConflict, userID)
}
