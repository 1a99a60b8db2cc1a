package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationStatus tracks whether the operator has seen a notification.
type NotificationStatus string

const (
	NotificationUnread    NotificationStatus = "unread"
	NotificationRead      NotificationStatus = "read"
	NotificationDismissed NotificationStatus = "dismissed"
)

// ParseNotificationStatus validates a notification status string.
func ParseNotificationStatus(s string) (NotificationStatus, error) {
	switch NotificationStatus(s) {
	case NotificationUnread, NotificationRead, NotificationDismissed:
		return NotificationStatus(s), nil
	default:
		return "", fmt.Errorf("unknown notification status %q", s)
	}
}

// Priority ranks a notification.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority validates a priority. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityNormal, nil
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	default:
		return "", fmt.Errorf("priority must be urgent, high, normal or low, got %q", s)
	}
}

// Notification types. Reminders are notifications of type reminder that
// the operator creates, usually with metadata.due.
const (
	NotificationEmailInbound = "email_inbound"
	NotificationEmailSent    = "email_sent"
	NotificationEscalation   = "escalation"
	NotificationApproval     = "approval"
	NotificationHeartbeat    = "heartbeat"
	NotificationOutreach     = "outreach"
	NotificationRepo         = "repo"
	NotificationSystem       = "system"
	NotificationReminder     = "reminder"
)

var notificationTypes = map[string]bool{
	NotificationEmailInbound: true,
	NotificationEmailSent:    true,
	NotificationEscalation:   true,
	NotificationApproval:     true,
	NotificationHeartbeat:    true,
	NotificationOutreach:     true,
	NotificationRepo:         true,
	NotificationSystem:       true,
	NotificationReminder:     true,
}

// ValidateNotificationType checks t against the known types.
func ValidateNotificationType(t string) error {
	if notificationTypes[t] {
		return nil
	}
	return fmt.Errorf("unknown notification type %q", t)
}

// Notification is an item in the operator's inbox.
type Notification struct {
	ID        uuid.UUID          `json:"id"`
	Type      string             `json:"type"`
	Title     string             `json:"title"`
	Body      *string            `json:"body,omitempty"`
	Agent     *string            `json:"agent,omitempty"`
	Priority  Priority           `json:"priority"`
	Status    NotificationStatus `json:"status"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	ActionURL *string            `json:"action_url,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	ReadAt    *time.Time         `json:"read_at,omitempty"`
}

// NotificationFilter narrows an inbox listing. Dismissed notifications
// are never listed.
type NotificationFilter struct {
	Type       string `json:"type,omitempty"`
	UnreadOnly bool   `json:"unread_only,omitempty"`
}

// Inbox is a notification listing with counts over the listed rows.
type Inbox struct {
	Notifications []Notification `json:"notifications"`
	Unread        int            `json:"unread"`
	Urgent        int            `json:"urgent"` // unread and urgent
}
