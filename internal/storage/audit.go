package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mission-control/internal/model"
)

// InsertAuditEntry appends an entry to the audit log. The table rejects
// updates and deletes; seq is assigned by the database.
func (db *DB) InsertAuditEntry(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(e.Details)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("storage: marshal audit details: %w", err)
	}

	err = db.pool.QueryRow(ctx,
		`INSERT INTO audit_log (id, agent, action, details, status, executed_at, duration_ms, error_message)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)
		 RETURNING seq`,
		e.ID, e.Agent, string(e.Action), detailsJSON, string(e.Status),
		e.ExecutedAt, e.DurationMS, e.ErrorMessage,
	).Scan(&e.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return model.AuditEntry{}, fmt.Errorf("storage: insert audit entry %s: %w", e.ID, ErrConflict)
		}
		return model.AuditEntry{}, fmt.Errorf("storage: insert audit entry: %w", err)
	}
	return e, nil
}

// QueryAuditEntries returns audit entries newest first, ties broken by
// insertion order. Paging is offset based.
func (db *DB) QueryAuditEntries(ctx context.Context, f model.AuditFilter, limit, offset int) ([]model.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Agent != "" {
		args = append(args, f.Agent)
		where = append(where, fmt.Sprintf("agent = $%d", len(args)))
	}
	if f.Text != "" {
		args = append(args, LikePattern(f.Text))
		n := len(args)
		where = append(where, fmt.Sprintf("(agent ILIKE $%d OR action ILIKE $%d OR status ILIKE $%d)", n, n, n))
	}

	query := `SELECT id, seq, agent, action, details, status, executed_at, duration_ms, error_message FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY executed_at DESC, seq DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []model.AuditEntry{}
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(
			&e.ID, &e.Seq, &e.Agent, &e.Action, &e.Details, &e.Status,
			&e.ExecutedAt, &e.DurationMS, &e.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("storage: scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: query audit entries: %w", err)
	}
	return entries, nil
}

// LikePattern turns free text into a substring LIKE pattern with the
// wildcard characters escaped. Both backends use backslash as the escape.
func LikePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
