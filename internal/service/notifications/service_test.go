package notifications_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/service/notifications"
	"github.com/ashita-ai/mission-control/internal/storage"
	"github.com/ashita-ai/mission-control/internal/testutil"
)

func newService(t *testing.T) *notifications.Service {
	t.Helper()
	return notifications.New(testutil.NewSQLite(t), testutil.TestLogger())
}

func TestPostValidates(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   notifications.PostInput
	}{
		{"unknown type", notifications.PostInput{Type: "billing", Title: "x"}},
		{"missing title", notifications.PostInput{Type: model.NotificationSystem, Title: " "}},
		{"bad priority", notifications.PostInput{Type: model.NotificationSystem, Title: "x", Priority: "critical"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Post(ctx, tt.in)
			assert.ErrorIs(t, err, notifications.ErrInvalidInput)
		})
	}
}

func TestPostDefaults(t *testing.T) {
	svc := newService(t)
	n, err := svc.Post(context.Background(), notifications.PostInput{
		Type:  model.NotificationEscalation,
		Title: "Lead asked for pricing",
		Agent: "Alex",
	})
	require.NoError(t, err)
	assert.Equal(t, model.NotificationUnread, n.Status)
	assert.Equal(t, model.PriorityNormal, n.Priority)
	require.NotNil(t, n.Agent)
	assert.Equal(t, "Alex", *n.Agent)
	assert.Nil(t, n.Body)
	assert.Nil(t, n.ReadAt)
}

func TestInboxCountsAndHidesDismissed(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	urgent, err := svc.Post(ctx, notifications.PostInput{Type: model.NotificationEscalation, Title: "a", Priority: "urgent"})
	require.NoError(t, err)
	_, err = svc.Post(ctx, notifications.PostInput{Type: model.NotificationEmailSent, Title: "b"})
	require.NoError(t, err)
	gone, err := svc.Post(ctx, notifications.PostInput{Type: model.NotificationSystem, Title: "c", Priority: "urgent"})
	require.NoError(t, err)

	_, err = svc.Dismiss(ctx, gone.ID)
	require.NoError(t, err)

	box, err := svc.Inbox(ctx, model.NotificationFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, box.Notifications, 2)
	assert.Equal(t, 2, box.Unread)
	assert.Equal(t, 1, box.Urgent)

	_, err = svc.MarkRead(ctx, urgent.ID)
	require.NoError(t, err)
	box, err = svc.Inbox(ctx, model.NotificationFilter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, box.Unread)
	assert.Equal(t, 0, box.Urgent)

	box, err = svc.Inbox(ctx, model.NotificationFilter{UnreadOnly: true}, 0)
	require.NoError(t, err)
	require.Len(t, box.Notifications, 1)
	assert.Equal(t, "b", box.Notifications[0].Title)

	box, err = svc.Inbox(ctx, model.NotificationFilter{Type: model.NotificationEscalation}, 0)
	require.NoError(t, err)
	require.Len(t, box.Notifications, 1)

	_, err = svc.Inbox(ctx, model.NotificationFilter{Type: "billing"}, 0)
	assert.ErrorIs(t, err, notifications.ErrInvalidInput)
}

func TestMarkReadKeepsFirstReadTime(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	n, err := svc.Post(ctx, notifications.PostInput{Type: model.NotificationSystem, Title: "x"})
	require.NoError(t, err)

	first, err := svc.MarkRead(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)
	assert.Equal(t, model.NotificationRead, first.Status)

	time.Sleep(2 * time.Millisecond)
	second, err := svc.MarkRead(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, second.ReadAt)
	assert.True(t, first.ReadAt.Equal(*second.ReadAt))
}

func TestMarkReadAfterDismissConflicts(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	n, err := svc.Post(ctx, notifications.PostInput{Type: model.NotificationSystem, Title: "x"})
	require.NoError(t, err)

	_, err = svc.Dismiss(ctx, n.ID)
	require.NoError(t, err)
	_, err = svc.Dismiss(ctx, n.ID)
	require.NoError(t, err, "dismissing twice is a no-op")

	_, err = svc.MarkRead(ctx, n.ID)
	assert.ErrorIs(t, err, notifications.ErrDismissed)
}

func TestUnknownNotification(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, err := svc.MarkRead(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = svc.Dismiss(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkAllRead(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		_, err := svc.Post(ctx, notifications.PostInput{Type: model.NotificationHeartbeat, Title: title})
		require.NoError(t, err)
	}

	n, err := svc.MarkAllRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = svc.MarkAllRead(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	box, err := svc.Inbox(ctx, model.NotificationFilter{}, 0)
	require.NoError(t, err)
	assert.Zero(t, box.Unread)
	for _, item := range box.Notifications {
		assert.NotNil(t, item.ReadAt)
	}
}

func TestRemind(t *testing.T) {
	svc := newService(t)
	due := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	n, err := svc.Remind(context.Background(), "Josh", "Call the accountant", "", "high", due)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationReminder, n.Type)
	assert.Equal(t, model.PriorityHigh, n.Priority)
	require.NotNil(t, n.Agent)
	assert.Equal(t, "Josh", *n.Agent)
	assert.Equal(t, "2026-11-02T09:00:00Z", n.Metadata["due"])

	n, err = svc.Remind(context.Background(), "Josh", "No due date", "", "", time.Time{})
	require.NoError(t, err)
	assert.Nil(t, n.Metadata)
}
