package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const defaultWatchlistID = "default"

type WatchlistStore struct {
	db DB
}

var (
	_ domrepo.WatchlistRepository = (*WatchlistStore)(nil)
	_ domrepo.WatchlistMutator    = (*WatchlistStore)(nil)
)

func NewWatchlistStore(db DB) *WatchlistStore { return &WatchlistStore{db: db} }

const watchlistCols = `id, type, coalesce(owner_user_id, ''), max_assets, created_at`

func scanWatchlist(row pgx.Row) (*models.WatchlistContext, error) {
	var w models.WatchlistContext
	var typ string
	if err := row.Scan(&w.ID, &typ, &w.OwnerUserID, &w.MaxAssets, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.Type = models.WatchlistType(typ)
	return &w, nil
}

// EnsureDefault creates the default watchlist if it is missing.
func (s *WatchlistStore) EnsureDefault(ctx context.Context, maxAssets int) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO watchlists (id, type, max_assets, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		defaultWatchlistID, string(models.WatchlistDefault), maxAssets, time.Now().UTC())
	return mapError(err, "ensure default watchlist")
}

func (s *WatchlistStore) Create(ctx context.Context, w *models.WatchlistContext) error {
	var owner any
	if w.OwnerUserID != "" {
		owner = w.OwnerUserID
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO watchlists (id, type, owner_user_id, max_assets, created_at) VALUES ($1, $2, $3, $4, $5)`,
		w.ID, string(w.Type), owner, w.MaxAssets, w.CreatedAt)
	return mapError(err, "watchlist "+w.ID)
}

func (s *WatchlistStore) Get(ctx context.Context, id string) (*models.WatchlistContext, error) {
	w, err := scanWatchlist(s.db.QueryRow(ctx, `SELECT `+watchlistCols+` FROM watchlists WHERE id = $1`, id))
	return w, mapError(err, "watchlist "+id)
}

func (s *WatchlistStore) Default(ctx context.Context) (*models.WatchlistContext, error) {
	w, err := scanWatchlist(s.db.QueryRow(ctx,
		`SELECT `+watchlistCols+` FROM watchlists WHERE type = $1 ORDER BY created_at LIMIT 1`,
		string(models.WatchlistDefault)))
	return w, mapError(err, "default watchlist")
}

func (s *WatchlistStore) PersonalFor(ctx context.Context, userID string) (*models.WatchlistContext, error) {
	w, err := scanWatchlist(s.db.QueryRow(ctx,
		`SELECT `+watchlistCols+` FROM watchlists WHERE type = $1 AND owner_user_id = $2`,
		string(models.WatchlistPersonal), userID))
	return w, mapError(err, "personal watchlist for "+userID)
}

func (s *WatchlistStore) Items(ctx context.Context, watchlistID string) ([]models.WatchlistItem, error) {
	rows, err := s.db.Query(ctx,
		`SELECT watchlist_id, asset_id, tier, added_at FROM watchlist_items
		 WHERE watchlist_id = $1 ORDER BY tier, asset_id`, watchlistID)
	if err != nil {
		return nil, mapError(err, "watchlist items")
	}
	defer rows.Close()

	out := make([]models.WatchlistItem, 0)
	for rows.Next() {
		var it models.WatchlistItem
		if err := rows.Scan(&it.WatchlistID, &it.AssetID, &it.Tier, &it.AddedAt); err != nil {
			return nil, fmt.Errorf("scan watchlist item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// querier is satisfied by both DB and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Apply records the mutation key and performs the change in one
// transaction. A key that is already recorded is a no-op.
func (s *WatchlistStore) Apply(ctx context.Context, m models.WatchlistMutation) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx,
		`INSERT INTO watchlist_mutations (mutation_key, watchlist_id, asset_id, kind, applied_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (mutation_key) DO NOTHING`,
		m.Key, m.WatchlistID, m.AssetID, string(m.Kind), time.Now().UTC())
	if err != nil {
		return mapError(err, "record mutation "+m.Key)
	}
	if tag.RowsAffected() == 0 {
		return tx.Rollback(ctx)
	}

	switch m.Kind {
	case models.SuggestionAdd:
		err = addAsset(ctx, tx, m.WatchlistID, m.AssetID)
	case models.SuggestionRemove:
		err = removeAsset(ctx, tx, m.WatchlistID, m.AssetID)
	case models.SuggestionPromote, models.SuggestionDemote:
		err = shiftTier(ctx, tx, m.WatchlistID, m.AssetID, m.TierDelta())
	default:
		err = fmt.Errorf("%w: kind %q", models.ErrValidation, m.Kind)
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AddAsset inserts the asset at the default tier, enforcing the capacity
// under a row lock on the watchlist.
func (s *WatchlistStore) AddAsset(ctx context.Context, watchlistID, assetID string) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = addAsset(ctx, tx, watchlistID, assetID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *WatchlistStore) RemoveAsset(ctx context.Context, watchlistID, assetID string) error {
	return removeAsset(ctx, s.db, watchlistID, assetID)
}

func (s *WatchlistStore) ShiftTier(ctx context.Context, watchlistID, assetID string, delta int) error {
	return shiftTier(ctx, s.db, watchlistID, assetID, delta)
}

func addAsset(ctx context.Context, q querier, watchlistID, assetID string) error {
	var maxAssets, count int
	if err := q.QueryRow(ctx, `SELECT max_assets FROM watchlists WHERE id = $1 FOR UPDATE`, watchlistID).Scan(&maxAssets); err != nil {
		return mapError(err, "watchlist "+watchlistID)
	}
	if err := q.QueryRow(ctx, `SELECT count(*) FROM watchlist_items WHERE watchlist_id = $1`, watchlistID).Scan(&count); err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	if maxAssets > 0 && count >= maxAssets {
		return fmt.Errorf("%w: watchlist %s is full", models.ErrValidation, watchlistID)
	}
	if _, err := q.Exec(ctx,
		`INSERT INTO watchlist_items (watchlist_id, asset_id, tier, added_at) VALUES ($1, $2, $3, $4)`,
		watchlistID, assetID, models.DefaultTier, time.Now().UTC()); err != nil {
		err = mapError(err, assetID+" on "+watchlistID)
		if errors.Is(err, models.ErrDuplicateKey) {
			err = fmt.Errorf("%w: %s already on %s", models.ErrStateConflict, assetID, watchlistID)
		}
		return err
	}
	return nil
}

func removeAsset(ctx context.Context, q querier, watchlistID, assetID string) error {
	tag, err := q.Exec(ctx, `DELETE FROM watchlist_items WHERE watchlist_id = $1 AND asset_id = $2`, watchlistID, assetID)
	if err != nil {
		return mapError(err, "remove asset")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s not on %s", models.ErrNotFound, assetID, watchlistID)
	}
	return nil
}

func shiftTier(ctx context.Context, q querier, watchlistID, assetID string, delta int) error {
	var tier int
	err := q.QueryRow(ctx,
		`UPDATE watchlist_items SET tier = tier + $3
		 WHERE watchlist_id = $1 AND asset_id = $2 AND tier + $3 BETWEEN $4 AND $5
		 RETURNING tier`,
		watchlistID, assetID, delta, models.TopTier, models.BottomTier).Scan(&tier)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return mapError(err, "shift tier")
	}
	var exists bool
	if err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM watchlist_items WHERE watchlist_id = $1 AND asset_id = $2)`,
		watchlistID, assetID).Scan(&exists); err != nil {
		return mapError(err, "shift tier")
	}
	if !exists {
		return fmt.Errorf("%w: %s not on %s", models.ErrNotFound, assetID, watchlistID)
	}
	return fmt.Errorf("%w: tier out of range", models.ErrValidation)
}
