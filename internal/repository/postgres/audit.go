package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
)

type AuditStore struct {
	db DB
}

var _ domrepo.AuditRepository = (*AuditStore)(nil)

func NewAuditStore(db DB) *AuditStore { return &AuditStore{db: db} }

func (st *AuditStore) Append(ctx context.Context, e *models.AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = st.db.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, details, ts)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, string(details), e.Timestamp)
	return mapError(err, "append audit entry")
}

func (st *AuditStore) List(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("entity_type", f.EntityType)
	add("entity_id", f.EntityID)
	add("actor_id", f.ActorID)

	q := `SELECT id, actor_id, action, entity_type, entity_id, coalesce(details::text, 'null'), ts FROM audit_log`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY ts DESC LIMIT $%d`, len(args))

	rows, err := st.db.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, "list audit")
	}
	defer rows.Close()
	out := make([]*models.AuditEntry, 0)
	for rows.Next() {
		var e models.AuditEntry
		var details string
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
