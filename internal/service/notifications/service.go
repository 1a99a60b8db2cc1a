// Package notifications keeps the operator's inbox. Agents post
// notifications; the operator reads and dismisses them and sets
// reminders, which are notifications of type reminder.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mission-control/internal/model"
)

// Listing limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

var (
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("notifications: invalid input")
	// ErrDismissed is returned when marking a dismissed notification read.
	ErrDismissed = errors.New("notifications: notification was dismissed")
)

// Store is the persistence the inbox needs.
type Store interface {
	InsertNotification(ctx context.Context, n model.Notification) (model.Notification, error)
	GetNotification(ctx context.Context, id uuid.UUID) (model.Notification, error)
	ListNotifications(ctx context.Context, f model.NotificationFilter, limit int) ([]model.Notification, error)
	SetNotificationStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus, at time.Time) (model.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, at time.Time) (int64, error)
}

// Service manages notifications.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Service.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// PostInput is a new notification.
type PostInput struct {
	Type      string
	Title     string
	Body      string
	Agent     string
	Priority  string
	Metadata  map[string]any
	ActionURL string
}

// Post adds an unread notification to the inbox.
func (s *Service) Post(ctx context.Context, in PostInput) (model.Notification, error) {
	if err := model.ValidateNotificationType(in.Type); err != nil {
		return model.Notification{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Notification{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	prio, err := model.ParsePriority(in.Priority)
	if err != nil {
		return model.Notification{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	n := model.Notification{
		Type:      in.Type,
		Title:     title,
		Body:      optional(in.Body),
		Agent:     optional(in.Agent),
		Priority:  prio,
		Status:    model.NotificationUnread,
		Metadata:  in.Metadata,
		ActionURL: optional(in.ActionURL),
		CreatedAt: s.now(),
	}
	out, err := s.store.InsertNotification(ctx, n)
	if err != nil {
		return model.Notification{}, fmt.Errorf("notifications: post: %w", err)
	}
	return out, nil
}

// Remind sets a reminder for the operator. A zero due time is omitted.
func (s *Service) Remind(ctx context.Context, actor, title, body, priority string, due time.Time) (model.Notification, error) {
	var meta map[string]any
	if !due.IsZero() {
		meta = map[string]any{"due": due.UTC().Format(time.RFC3339)}
	}
	return s.Post(ctx, PostInput{
		Type:     model.NotificationReminder,
		Title:    title,
		Body:     body,
		Agent:    actor,
		Priority: priority,
		Metadata: meta,
	})
}

// Inbox lists notifications that are not dismissed, newest first, with
// unread and urgent counts over the listed rows.
func (s *Service) Inbox(ctx context.Context, f model.NotificationFilter, limit int) (model.Inbox, error) {
	if f.Type != "" {
		if err := model.ValidateNotificationType(f.Type); err != nil {
			return model.Inbox{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	list, err := s.store.ListNotifications(ctx, f, limit)
	if err != nil {
		return model.Inbox{}, fmt.Errorf("notifications: list: %w", err)
	}
	box := model.Inbox{Notifications: list}
	for _, n := range list {
		if n.Status != model.NotificationUnread {
			continue
		}
		box.Unread++
		if n.Priority == model.PriorityUrgent {
			box.Urgent++
		}
	}
	return box, nil
}

// MarkRead marks one notification read. The first read time is kept.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return model.Notification{}, fmt.Errorf("notifications: mark read: %w", err)
	}
	if n.Status == model.NotificationDismissed {
		return model.Notification{}, fmt.Errorf("%w: %s", ErrDismissed, id)
	}
	out, err := s.store.SetNotificationStatus(ctx, id, model.NotificationRead, s.now())
	if err != nil {
		return model.Notification{}, fmt.Errorf("notifications: mark read: %w", err)
	}
	return out, nil
}

// Dismiss hides a notification from the inbox. Dismissing twice is a no-op.
func (s *Service) Dismiss(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	out, err := s.store.SetNotificationStatus(ctx, id, model.NotificationDismissed, s.now())
	if err != nil {
		return model.Notification{}, fmt.Errorf("notifications: dismiss: %w", err)
	}
	return out, nil
}

// MarkAllRead marks every unread notification read and returns how many
// changed.
func (s *Service) MarkAllRead(ctx context.Context) (int64, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("notifications: mark all read: %w", err)
	}
	s.logger.Info("notifications marked read", "count", n)
	return n, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
