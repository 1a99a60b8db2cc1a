package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/storage"
)

const notificationColumns = `id, type, title, body, agent, priority, status, metadata,
	action_url, created_at, read_at`

// InsertNotification adds a notification to the inbox.
func (s *Store) InsertNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}
	if n.Status == "" {
		n.Status = model.NotificationUnread
	}
	if n.Priority == "" {
		n.Priority = model.PriorityNormal
	}
	meta, err := jsonText(n.Metadata)
	if err != nil {
		return model.Notification{}, fmt.Errorf("sqlite: marshal notification metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.Type, n.Title, n.Body, n.Agent, string(n.Priority), string(n.Status), meta,
		n.ActionURL, micros(n.CreatedAt), nullMicros(n.ReadAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Notification{}, fmt.Errorf("sqlite: insert notification %s: %w", n.ID, storage.ErrConflict)
		}
		return model.Notification{}, fmt.Errorf("sqlite: insert notification: %w", err)
	}
	s.changed("notifications", "insert", n.ID)
	return n, nil
}

// GetNotification returns one notification.
func (s *Store) GetNotification(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, fmt.Errorf("sqlite: notification %s: %w", id, storage.ErrNotFound)
		}
		return model.Notification{}, fmt.Errorf("sqlite: get notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns up to limit notifications that are not
// dismissed, newest first.
func (s *Store) ListNotifications(ctx context.Context, f model.NotificationFilter, limit int) ([]model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE status <> 'dismissed'`
	var args []any
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.UnreadOnly {
		query += ` AND status = 'unread'`
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list notifications: %w", err)
	}
	return out, nil
}

// SetNotificationStatus moves a notification to status. Marking it read
// stamps read_at once.
func (s *Store) SetNotificationStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus, at time.Time) (model.Notification, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?,
		     read_at = CASE WHEN ? = 'read' THEN COALESCE(read_at, ?) ELSE read_at END
		 WHERE id = ?`,
		string(status), string(status), micros(at), id.String(),
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("sqlite: set notification status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Notification{}, fmt.Errorf("sqlite: notification %s: %w", id, storage.ErrNotFound)
	}
	s.changed("notifications", "update", id)
	return s.GetNotification(ctx, id)
}

// MarkAllNotificationsRead marks every unread notification read.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'read', read_at = ? WHERE status = 'unread'`, micros(at))
	if err != nil {
		return 0, fmt.Errorf("sqlite: mark notifications read: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.changed("notifications", "update", uuid.Nil)
	}
	return n, nil
}

func scanNotification(row rowScanner) (model.Notification, error) {
	var (
		n                      model.Notification
		id                     string
		body, agent, actionURL sql.NullString
		meta                   sql.NullString
		createdAt              int64
		readAt                 sql.NullInt64
	)
	if err := row.Scan(&id, &n.Type, &n.Title, &body, &agent, &n.Priority, &n.Status, &meta,
		&actionURL, &createdAt, &readAt); err != nil {
		return model.Notification{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return model.Notification{}, fmt.Errorf("notification id: %w", err)
	}
	n.ID = parsed
	if body.Valid {
		n.Body = &body.String
	}
	if agent.Valid {
		n.Agent = &agent.String
	}
	if actionURL.Valid {
		n.ActionURL = &actionURL.String
	}
	if n.Metadata, err = jsonObject(meta); err != nil {
		return model.Notification{}, fmt.Errorf("notification metadata: %w", err)
	}
	n.CreatedAt = fromMicros(createdAt)
	n.ReadAt = timePtr(readAt)
	return n, nil
}
