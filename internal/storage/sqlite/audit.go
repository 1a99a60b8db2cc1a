package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/storage"
)

// InsertAuditEntry appends an entry to the audit log.
func (s *Store) InsertAuditEntry(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = now()
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("sqlite: marshal audit details: %w", err)
	}

	var durationMS sql.NullInt64
	if e.DurationMS != nil {
		durationMS = sql.NullInt64{Int64: *e.DurationMS, Valid: true}
	}
	var errMsg sql.NullString
	if e.ErrorMessage != nil {
		errMsg = sql.NullString{String: *e.ErrorMessage, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, agent, action, details, status, executed_at, duration_ms, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Agent, string(e.Action), string(details), string(e.Status),
		micros(e.ExecutedAt), durationMS, errMsg,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.AuditEntry{}, fmt.Errorf("sqlite: insert audit entry %s: %w", e.ID, storage.ErrConflict)
		}
		return model.AuditEntry{}, fmt.Errorf("sqlite: insert audit entry: %w", err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return model.AuditEntry{}, fmt.Errorf("sqlite: audit entry seq: %w", err)
	}
	s.changed("audit_log", "insert", e.ID)
	return e, nil
}

// QueryAuditEntries returns audit entries newest first, ties broken by seq.
func (s *Store) QueryAuditEntries(ctx context.Context, f model.AuditFilter, limit, offset int) ([]model.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, f.Agent)
	}
	if f.Text != "" {
		p := storage.LikePattern(f.Text)
		where = append(where, `(agent LIKE ? ESCAPE '\' OR action LIKE ? ESCAPE '\' OR status LIKE ? ESCAPE '\')`)
		args = append(args, p, p, p)
	}
	query := `SELECT id, seq, agent, action, details, status, executed_at, duration_ms, error_message FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY executed_at DESC, seq DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []model.AuditEntry{}
	for rows.Next() {
		var (
			e          model.AuditEntry
			id         string
			details    string
			executedAt int64
			durationMS sql.NullInt64
			errMsg     sql.NullString
		)
		if err := rows.Scan(&id, &e.Seq, &e.Agent, &e.Action, &details, &e.Status, &executedAt, &durationMS, &errMsg); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("sqlite: audit entry id: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("sqlite: audit entry details: %w", err)
		}
		e.ExecutedAt = fromMicros(executedAt)
		if durationMS.Valid {
			e.DurationMS = &durationMS.Int64
		}
		if errMsg.Valid {
			e.ErrorMessage = &errMsg.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query audit entries: %w", err)
	}
	return entries, nil
}
