package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mission-control/internal/model"
)

const emailColumns = `id, from_email, to_email, subject, body, client, priority, requires_approval,
	analysis, status, received_at, created_at, updated_at`

// InsertEmail adds an email to the queue.
func (db *DB) InsertEmail(ctx context.Context, e model.Email) (model.Email, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = model.EmailPending
	}

	var analysisJSON []byte
	if e.Analysis != nil {
		var err error
		if analysisJSON, err = json.Marshal(e.Analysis); err != nil {
			return model.Email{}, fmt.Errorf("storage: marshal email analysis: %w", err)
		}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO email_queue (`+emailColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13)`,
		e.ID, e.FromEmail, e.ToEmail, e.Subject, e.Body, e.Client, e.Priority, e.RequiresApproval,
		analysisJSON, string(e.Status), e.ReceivedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Email{}, fmt.Errorf("storage: insert email %s: %w", e.ID, ErrConflict)
		}
		return model.Email{}, fmt.Errorf("storage: insert email: %w", err)
	}
	return e, nil
}

// GetEmail returns one queued email.
func (db *DB) GetEmail(ctx context.Context, id uuid.UUID) (model.Email, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+emailColumns+` FROM email_queue WHERE id = $1`, id)
	e, err := scanEmail(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Email{}, fmt.Errorf("storage: email %s: %w", id, ErrNotFound)
		}
		return model.Email{}, fmt.Errorf("storage: get email: %w", err)
	}
	return e, nil
}

// ListEmails returns up to limit emails newest first; limit <= 0 returns
// them all. An empty statuses slice means every status.
func (db *DB) ListEmails(ctx context.Context, statuses []model.EmailStatus, limit int) ([]model.Email, error) {
	var (
		rows pgx.Rows
		err  error
		lim  any = limit
	)
	if limit <= 0 {
		lim = nil // LIMIT NULL
	}
	if len(statuses) == 0 {
		rows, err = db.pool.Query(ctx,
			`SELECT `+emailColumns+` FROM email_queue ORDER BY created_at DESC, id DESC LIMIT $1`, lim)
	} else {
		ss := make([]string, len(statuses))
		for i, s := range statuses {
			ss[i] = string(s)
		}
		rows, err = db.pool.Query(ctx,
			`SELECT `+emailColumns+` FROM email_queue WHERE status = ANY($1)
			 ORDER BY created_at DESC, id DESC LIMIT $2`, ss, lim)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list emails: %w", err)
	}
	defer rows.Close()

	emails := []model.Email{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan email: %w", err)
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list emails: %w", err)
	}
	return emails, nil
}

// UpdateEmailStatus sets an email's status and returns the updated row.
func (db *DB) UpdateEmailStatus(ctx context.Context, id uuid.UUID, status model.EmailStatus) (model.Email, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE email_queue SET status = $2, updated_at = $3 WHERE id = $1 RETURNING `+emailColumns,
		id, string(status), time.Now().UTC().Truncate(time.Microsecond),
	)
	e, err := scanEmail(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Email{}, fmt.Errorf("storage: email %s: %w", id, ErrNotFound)
		}
		return model.Email{}, fmt.Errorf("storage: update email status: %w", err)
	}
	return e, nil
}

// InsertApproval records a decision against an email.
func (db *DB) InsertApproval(ctx context.Context, a model.Approval) (model.Approval, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.RequestedAt.IsZero() {
		a.RequestedAt = now
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO approvals (id, email_queue_id, approval_type, request_body, status,
		                        approved_by, approved_at, notes, requested_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.EmailQueueID, string(a.ApprovalType), a.RequestBody, string(a.Status),
		a.ApprovedBy, a.ApprovedAt, a.Notes, a.RequestedAt, a.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return model.Approval{}, fmt.Errorf("storage: approval for email %s: %w", a.EmailQueueID, ErrNotFound)
		}
		return model.Approval{}, fmt.Errorf("storage: insert approval: %w", err)
	}
	return a, nil
}

// ListApprovalsForEmail returns the approvals recorded against an email, oldest first.
func (db *DB) ListApprovalsForEmail(ctx context.Context, emailID uuid.UUID) ([]model.Approval, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, email_queue_id, approval_type, request_body, status, approved_by,
		        approved_at, notes, requested_at, created_at
		 FROM approvals WHERE email_queue_id = $1 ORDER BY created_at ASC, id ASC`, emailID)
	if err != nil {
		return nil, fmt.Errorf("storage: list approvals: %w", err)
	}
	defer rows.Close()

	approvals := []model.Approval{}
	for rows.Next() {
		var a model.Approval
		if err := rows.Scan(
			&a.ID, &a.EmailQueueID, &a.ApprovalType, &a.RequestBody, &a.Status, &a.ApprovedBy,
			&a.ApprovedAt, &a.Notes, &a.RequestedAt, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list approvals: %w", err)
	}
	return approvals, nil
}

func scanEmail(row pgx.Row) (model.Email, error) {
	var e model.Email
	err := row.Scan(
		&e.ID, &e.FromEmail, &e.ToEmail, &e.Subject, &e.Body, &e.Client, &e.Priority,
		&e.RequiresApproval, &e.Analysis, &e.Status, &e.ReceivedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}
