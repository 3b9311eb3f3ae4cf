package repository

import (
	"context"
	"time"

	"CascadeAdvisor/internal/domain/models"

	"github.com/shopspring/decimal"
)

// WatchlistRepository stores watchlists and their tracked assets.
type WatchlistRepository interface {
	Create(ctx context.Context, w *models.WatchlistContext) error
	Get(ctx context.Context, id string) (*models.WatchlistContext, error)
	Default(ctx context.Context) (*models.WatchlistContext, error)
	PersonalFor(ctx context.Context, userID string) (*models.WatchlistContext, error)
	Items(ctx context.Context, watchlistID string) ([]models.WatchlistItem, error)
}

// WatchlistMutator applies approved suggestions to a watchlist. Apply runs
// a mutation at most once per key: replaying a key that already succeeded
// returns nil and leaves the watchlist untouched.
type WatchlistMutator interface {
	Apply(ctx context.Context, m models.WatchlistMutation) error
}

// SuggestionRepository persists suggestions. Status changes are
// compare-and-swap on the expected status and return ErrStateConflict
// when another writer got there first.
type SuggestionRepository interface {
	// UpsertPending inserts s as pending, or refreshes the pending row with
	// the same asset, watchlist and kind. It reports whether a row was created.
	UpsertPending(ctx context.Context, s *models.Suggestion) (*models.Suggestion, bool, error)
	Get(ctx context.Context, id string) (*models.Suggestion, error)
	List(ctx context.Context, f models.SuggestionFilter) ([]*models.Suggestion, error)
	Transition(ctx context.Context, t models.SuggestionTransition) (*models.Suggestion, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*models.Suggestion, error)
}

type SignalRepository interface {
	Create(ctx context.Context, s *models.TradingSignal) error
	Get(ctx context.Context, id string) (*models.TradingSignal, error)
	List(ctx context.Context, f models.SignalFilter) ([]*models.TradingSignal, error)
	FindActive(ctx context.Context, assetID string, dir models.Direction) (*models.TradingSignal, error)
	Transition(ctx context.Context, id string, expected, next models.SignalStatus, reason string) (*models.TradingSignal, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*models.TradingSignal, error)
}

// ExecutionRepository holds at most one row per (signal, user).
type ExecutionRepository interface {
	Get(ctx context.Context, signalID, userID string) (*models.SignalExecution, error)
	// Save inserts e, or replaces an existing cancelled row for the same key.
	// Any other existing row yields ErrDuplicateExecution.
	Save(ctx context.Context, e *models.SignalExecution) error
	ListBySignal(ctx context.Context, signalID string) ([]*models.SignalExecution, error)
}

type RiskProfileRepository interface {
	Get(ctx context.Context, userID string) (*models.RiskProfile, error)
	Create(ctx context.Context, p *models.RiskProfile) error
	// UpdateExposure swaps the exposure only if it still equals expected.
	UpdateExposure(ctx context.Context, userID string, expected, next decimal.Decimal) error
}

type AuditRepository interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	List(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, error)
}
