package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"

	"github.com/jackc/pgx/v5"
)

type SuggestionStore struct {
	db DB
}

var _ domrepo.SuggestionRepository = (*SuggestionStore)(nil)

func NewSuggestionStore(db DB) *SuggestionStore { return &SuggestionStore{db: db} }

const suggestionCols = `id, asset_id, watchlist_id, kind, confidence, reasoning::text, status,
	created_at, updated_at, expires_at, coalesce(reviewed_by, ''), reviewed_at, coalesce(review_notes, '')`

func scanSuggestion(row pgx.Row, extra ...any) (*models.Suggestion, error) {
	var s models.Suggestion
	var kind, status, reasoning string
	dest := []any{
		&s.ID, &s.AssetID, &s.WatchlistID, &kind, &s.Confidence, &reasoning, &status,
		&s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt, &s.ReviewedBy, &s.ReviewedAt, &s.ReviewNotes,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	s.Kind = models.SuggestionKind(kind)
	s.Status = models.SuggestionStatus(status)
	s.Reasoning = json.RawMessage(reasoning)
	return &s, nil
}

// UpsertPending relies on the partial unique index over open suggestions.
// A pending row is refreshed in place; an approved row is left untouched.
// xmax = 0 only holds for freshly inserted rows.
func (st *SuggestionStore) UpsertPending(ctx context.Context, s *models.Suggestion) (*models.Suggestion, bool, error) {
	reasoning := string(s.Reasoning)
	if reasoning == "" {
		reasoning = "{}"
	}
	var created bool
	out, err := scanSuggestion(st.db.QueryRow(ctx, `
		INSERT INTO suggestions (id, asset_id, watchlist_id, kind, confidence, reasoning, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, 'pending', $7, $8, $9)
		ON CONFLICT (watchlist_id, asset_id, kind) WHERE status IN ('pending', 'approved')
		DO UPDATE SET
			confidence = CASE WHEN suggestions.status = 'pending' THEN EXCLUDED.confidence ELSE suggestions.confidence END,
			reasoning  = CASE WHEN suggestions.status = 'pending' THEN EXCLUDED.reasoning ELSE suggestions.reasoning END,
			updated_at = CASE WHEN suggestions.status = 'pending' THEN EXCLUDED.updated_at ELSE suggestions.updated_at END,
			expires_at = CASE WHEN suggestions.status = 'pending' THEN EXCLUDED.expires_at ELSE suggestions.expires_at END
		RETURNING `+suggestionCols+`, (xmax = 0)`,
		s.ID, s.AssetID, s.WatchlistID, string(s.Kind), s.Confidence, reasoning, s.CreatedAt, s.UpdatedAt, s.ExpiresAt,
	), &created)
	if err != nil {
		return nil, false, mapError(err, "upsert suggestion")
	}
	return out, created, nil
}

func (st *SuggestionStore) Get(ctx context.Context, id string) (*models.Suggestion, error) {
	s, err := scanSuggestion(st.db.QueryRow(ctx, `SELECT `+suggestionCols+` FROM suggestions WHERE id = $1`, id))
	return s, mapError(err, "suggestion "+id)
}

func (st *SuggestionStore) List(ctx context.Context, f models.SuggestionFilter) ([]*models.Suggestion, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.WatchlistID != "" {
		add("watchlist_id = $%d", f.WatchlistID)
	}
	if f.AssetID != "" {
		add("asset_id = $%d", f.AssetID)
	}
	q := `SELECT ` + suggestionCols + ` FROM suggestions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))
	return st.query(ctx, q, args...)
}

func (st *SuggestionStore) query(ctx context.Context, q string, args ...any) ([]*models.Suggestion, error) {
	rows, err := st.db.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, "list suggestions")
	}
	defer rows.Close()
	out := make([]*models.Suggestion, 0)
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (st *SuggestionStore) Transition(ctx context.Context, t models.SuggestionTransition) (*models.Suggestion, error) {
	if !t.Expected.CanTransition(t.Next) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrStateConflict, t.Expected, t.Next)
	}
	s, err := scanSuggestion(st.db.QueryRow(ctx, `
		UPDATE suggestions SET
			status       = $3,
			updated_at   = $4,
			reviewed_by  = CASE WHEN $5 <> '' THEN $5 ELSE reviewed_by END,
			reviewed_at  = CASE WHEN $5 <> '' THEN $6 ELSE reviewed_at END,
			review_notes = CASE WHEN $5 <> '' THEN $7 ELSE review_notes END
		WHERE id = $1 AND status = $2
		RETURNING `+suggestionCols,
		t.ID, string(t.Expected), string(t.Next), t.At, t.ReviewedBy, t.ReviewedAt, t.Notes))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapError(err, "transition suggestion")
	}

	var status string
	if err := st.db.QueryRow(ctx, `SELECT status FROM suggestions WHERE id = $1`, t.ID).Scan(&status); err != nil {
		return nil, mapError(err, "suggestion "+t.ID)
	}
	return nil, fmt.Errorf("%w: suggestion %s is %s, expected %s", models.ErrStateConflict, t.ID, status, t.Expected)
}

func (st *SuggestionStore) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*models.Suggestion, error) {
	return st.query(ctx, `SELECT `+suggestionCols+` FROM suggestions
		WHERE status IN ('pending', 'approved') AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`, now, limit)
}
