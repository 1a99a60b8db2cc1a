package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/storage"
)

const emailColumns = `id, from_email, to_email, subject, body, client, priority, requires_approval,
	analysis, status, received_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// InsertEmail adds an email to the queue.
func (s *Store) InsertEmail(ctx context.Context, e model.Email) (model.Email, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	ts := now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = ts
	}
	e.UpdatedAt = ts
	if e.Status == "" {
		e.Status = model.EmailPending
	}
	var analysis sql.NullString
	if e.Analysis != nil {
		b, err := json.Marshal(e.Analysis)
		if err != nil {
			return model.Email{}, fmt.Errorf("sqlite: marshal email analysis: %w", err)
		}
		analysis = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_queue (`+emailColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.FromEmail, e.ToEmail, e.Subject, e.Body, e.Client, e.Priority, e.RequiresApproval,
		analysis, string(e.Status), nullMicros(e.ReceivedAt), micros(e.CreatedAt), micros(e.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Email{}, fmt.Errorf("sqlite: insert email %s: %w", e.ID, storage.ErrConflict)
		}
		return model.Email{}, fmt.Errorf("sqlite: insert email: %w", err)
	}
	s.changed("email_queue", "insert", e.ID)
	return e, nil
}

// GetEmail returns one queued email.
func (s *Store) GetEmail(ctx context.Context, id uuid.UUID) (model.Email, error) {
	e, err := scanEmail(s.db.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM email_queue WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Email{}, fmt.Errorf("sqlite: email %s: %w", id, storage.ErrNotFound)
		}
		return model.Email{}, fmt.Errorf("sqlite: get email: %w", err)
	}
	return e, nil
}

// ListEmails returns up to limit emails newest first; limit <= 0 returns
// them all. An empty statuses slice means every status.
func (s *Store) ListEmails(ctx context.Context, statuses []model.EmailStatus, limit int) ([]model.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM email_queue`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list emails: %w", err)
	}
	defer func() { _ = rows.Close() }()

	emails := []model.Email{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan email: %w", err)
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list emails: %w", err)
	}
	return emails, nil
}

// UpdateEmailStatus sets an email's status and returns the updated row.
func (s *Store) UpdateEmailStatus(ctx context.Context, id uuid.UUID, status model.EmailStatus) (model.Email, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_queue SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), micros(now()), id.String(),
	)
	if err != nil {
		return model.Email{}, fmt.Errorf("sqlite: update email status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Email{}, fmt.Errorf("sqlite: email %s: %w", id, storage.ErrNotFound)
	}
	s.changed("email_queue", "update", id)
	return s.GetEmail(ctx, id)
}

// InsertApproval records a decision against an email.
func (s *Store) InsertApproval(ctx context.Context, a model.Approval) (model.Approval, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	ts := now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = ts
	}
	if a.RequestedAt.IsZero() {
		a.RequestedAt = ts
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, email_queue_id, approval_type, request_body, status,
		                        approved_by, approved_at, notes, requested_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.EmailQueueID.String(), string(a.ApprovalType), a.RequestBody, string(a.Status),
		a.ApprovedBy, nullMicros(a.ApprovedAt), a.Notes, micros(a.RequestedAt), micros(a.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return model.Approval{}, fmt.Errorf("sqlite: approval for email %s: %w", a.EmailQueueID, storage.ErrNotFound)
		}
		return model.Approval{}, fmt.Errorf("sqlite: insert approval: %w", err)
	}
	s.changed("approvals", "insert", a.ID)
	return a, nil
}

// ListApprovalsForEmail returns the approvals recorded against an email, oldest first.
func (s *Store) ListApprovalsForEmail(ctx context.Context, emailID uuid.UUID) ([]model.Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email_queue_id, approval_type, request_body, status, approved_by,
		        approved_at, notes, requested_at, created_at
		 FROM approvals WHERE email_queue_id = ? ORDER BY created_at ASC, rowid ASC`, emailID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite: list approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	approvals := []model.Approval{}
	for rows.Next() {
		var (
			a                      model.Approval
			id, email              string
			approvedAt             sql.NullInt64
			notes                  sql.NullString
			requestedAt, createdAt int64
		)
		if err := rows.Scan(&id, &email, &a.ApprovalType, &a.RequestBody, &a.Status, &a.ApprovedBy,
			&approvedAt, &notes, &requestedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan approval: %w", err)
		}
		a.ID = uuid.MustParse(id)
		a.EmailQueueID = uuid.MustParse(email)
		a.ApprovedAt = timePtr(approvedAt)
		if notes.Valid {
			a.Notes = &notes.String
		}
		a.RequestedAt = fromMicros(requestedAt)
		a.CreatedAt = fromMicros(createdAt)
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list approvals: %w", err)
	}
	return approvals, nil
}

func scanEmail(row rowScanner) (model.Email, error) {
	var (
		e                    model.Email
		id                   string
		body, client         sql.NullString
		priority             sql.NullInt64
		analysis             sql.NullString
		receivedAt           sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&id, &e.FromEmail, &e.ToEmail, &e.Subject, &body, &client, &priority,
		&e.RequiresApproval, &analysis, &e.Status, &receivedAt, &createdAt, &updatedAt); err != nil {
		return model.Email{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return model.Email{}, fmt.Errorf("email id: %w", err)
	}
	e.ID = parsed
	if body.Valid {
		e.Body = &body.String
	}
	if client.Valid {
		e.Client = &client.String
	}
	if priority.Valid {
		p := int(priority.Int64)
		e.Priority = &p
	}
	if analysis.Valid {
		if err := json.Unmarshal([]byte(analysis.String), &e.Analysis); err != nil {
			return model.Email{}, fmt.Errorf("email analysis: %w", err)
		}
	}
	e.ReceivedAt = timePtr(receivedAt)
	e.CreatedAt = fromMicros(createdAt)
	e.UpdatedAt = fromMicros(updatedAt)
	return e, nil
}
