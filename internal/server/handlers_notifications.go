package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mission-control/internal/ctxutil"
	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/service/notifications"
)

// HandleInbox handles GET /v1/notifications?type=&unread=&limit=.
func (h *Handlers) HandleInbox(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", notifications.DefaultListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	q := r.URL.Query()
	var unread bool
	if v := q.Get("unread"); v != "" {
		if unread, err = strconv.ParseBool(v); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unread must be a boolean")
			return
		}
	}

	box, err := h.notifications.Inbox(r.Context(), model.NotificationFilter{
		Type:       q.Get("type"),
		UnreadOnly: unread,
	}, limit)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list notifications")
		return
	}
	writeJSON(w, r, http.StatusOK, box)
}

// HandlePostNotification handles POST /v1/notifications. The notification
// is attributed to the caller.
func (h *Handlers) HandlePostNotification(w http.ResponseWriter, r *http.Request) {
	var req model.PostNotificationRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	n, err := h.notifications.Post(r.Context(), notifications.PostInput{
		Type:      req.Type,
		Title:     req.Title,
		Body:      req.Body,
		Agent:     ctxutil.ActorFromContext(r.Context()),
		Priority:  string(req.Priority),
		Metadata:  req.Metadata,
		ActionURL: req.ActionURL,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to post notification")
		return
	}
	writeJSON(w, r, http.StatusCreated, n)
}

// HandleMarkNotificationRead handles POST /v1/notifications/{id}/read.
func (h *Handlers) HandleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := notificationID(w, r)
	if !ok {
		return
	}
	n, err := h.notifications.MarkRead(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to mark notification read")
		return
	}
	writeJSON(w, r, http.StatusOK, n)
}

// HandleDismissNotification handles POST /v1/notifications/{id}/dismiss.
func (h *Handlers) HandleDismissNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := notificationID(w, r)
	if !ok {
		return
	}
	n, err := h.notifications.Dismiss(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to dismiss notification")
		return
	}
	writeJSON(w, r, http.StatusOK, n)
}

// HandleMarkAllNotificationsRead handles POST /v1/notifications/read-all.
func (h *Handlers) HandleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkAllRead(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "failed to mark notifications read")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"marked": n})
}

// HandleCreateReminder handles POST /v1/reminders.
func (h *Handlers) HandleCreateReminder(w http.ResponseWriter, r *http.Request) {
	var req model.ReminderRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	var due time.Time
	if req.Due != nil {
		due = *req.Due
	}
	n, err := h.notifications.Remind(r.Context(), ctxutil.ActorFromContext(r.Context()),
		req.Title, req.Body, string(req.Priority), due)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to create reminder")
		return
	}
	writeJSON(w, r, http.StatusCreated, n)
}

func notificationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notification id")
		return uuid.Nil, false
	}
	return id, true
}
