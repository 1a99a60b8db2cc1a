package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mission-control/internal/model"
)

const notificationColumns = `id, type, title, body, agent, priority, status, metadata,
	action_url, created_at, read_at`

// InsertNotification adds a notification to the inbox.
func (db *DB) InsertNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	if n.Status == "" {
		n.Status = model.NotificationUnread
	}
	if n.Priority == "" {
		n.Priority = model.PriorityNormal
	}
	meta, err := marshalObject(n.Metadata)
	if err != nil {
		return model.Notification{}, fmt.Errorf("storage: marshal notification metadata: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO notifications (`+notificationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11)`,
		n.ID, n.Type, n.Title, n.Body, n.Agent, string(n.Priority), string(n.Status), meta,
		n.ActionURL, n.CreatedAt, n.ReadAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Notification{}, fmt.Errorf("storage: insert notification %s: %w", n.ID, ErrConflict)
		}
		return model.Notification{}, fmt.Errorf("storage: insert notification: %w", err)
	}
	return n, nil
}

// GetNotification returns one notification.
func (db *DB) GetNotification(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	n, err := scanNotification(db.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Notification{}, fmt.Errorf("storage: notification %s: %w", id, ErrNotFound)
		}
		return model.Notification{}, fmt.Errorf("storage: get notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns up to limit notifications that are not
// dismissed, newest first.
func (db *DB) ListNotifications(ctx context.Context, f model.NotificationFilter, limit int) ([]model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE status <> 'dismissed'`
	var args []any
	if f.Type != "" {
		args = append(args, f.Type)
		query += ` AND type = $` + strconv.Itoa(len(args))
	}
	if f.UnreadOnly {
		query += ` AND status = 'unread'`
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list notifications: %w", err)
	}
	defer rows.Close()

	out := []model.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list notifications: %w", err)
	}
	return out, nil
}

// SetNotificationStatus moves a notification to status. Marking it read
// stamps read_at once; later reads keep the first stamp.
func (db *DB) SetNotificationStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus, at time.Time) (model.Notification, error) {
	n, err := scanNotification(db.pool.QueryRow(ctx,
		`UPDATE notifications SET status = $2,
		     read_at = CASE WHEN $2 = 'read' THEN COALESCE(read_at, $3) ELSE read_at END
		 WHERE id = $1 RETURNING `+notificationColumns,
		id, string(status), at.UTC().Truncate(time.Microsecond)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Notification{}, fmt.Errorf("storage: notification %s: %w", id, ErrNotFound)
		}
		return model.Notification{}, fmt.Errorf("storage: set notification status: %w", err)
	}
	return n, nil
}

// MarkAllNotificationsRead marks every unread notification read and
// returns how many changed.
func (db *DB) MarkAllNotificationsRead(ctx context.Context, at time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE notifications SET status = 'read', read_at = $1 WHERE status = 'unread'`,
		at.UTC().Truncate(time.Microsecond))
	if err != nil {
		return 0, fmt.Errorf("storage: mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (model.Notification, error) {
	var n model.Notification
	err := row.Scan(
		&n.ID, &n.Type, &n.Title, &n.Body, &n.Agent, &n.Priority, &n.Status, &n.Metadata,
		&n.ActionURL, &n.CreatedAt, &n.ReadAt,
	)
	return n, err
}
