package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
	applogger "CascadeAdvisor/pkg/logger"
)

// AuditSchema creates the append-only audit table. ReplacingMergeTree on id
// collapses retried inserts of the same entry.
var AuditSchema = []string{`
	CREATE TABLE IF NOT EXISTS audit_log (
		id          String,
		actor_id    String,
		action      LowCardinality(String),
		entity_type LowCardinality(String),
		entity_id   String,
		details     String,
		ts          DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree
	ORDER BY (entity_type, entity_id, ts, id)`,
}

// CHAuditStore implements AuditRepository on ClickHouse.
type CHAuditStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.AuditRepository = (*CHAuditStore)(nil)

func NewCHAuditStore(db *sql.DB, l *applogger.Logger) *CHAuditStore {
	return &CHAuditStore{db: db, l: l}
}

func (s *CHAuditStore) Append(ctx context.Context, e *models.AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, details, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, string(details), e.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *CHAuditStore) List(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, error) {
	start := time.Now()
	q, args := auditListQuery(f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse audit_list query error",
				applogger.String("entity_type", f.EntityType),
				applogger.String("entity_id", f.EntityID),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	out := make([]*models.AuditEntry, 0)
	for rows.Next() {
		var (
			e       models.AuditEntry
			details string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if details != "" && details != "null" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse audit_list ok",
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func auditListQuery(f models.AuditFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	for _, c := range []struct{ col, val string }{
		{"entity_type", f.EntityType},
		{"entity_id", f.EntityID},
		{"actor_id", f.ActorID},
	} {
		if c.val != "" {
			where = append(where, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	q := `SELECT id, actor_id, action, entity_type, entity_id, details, ts FROM audit_log FINAL`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)
	return q, args
}
