package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	// ErrCodePartialFailure marks a multi-step write that stopped part way.
	ErrCodePartialFailure = "PARTIAL_FAILURE"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SetRunStateRequest is the request body for PUT /v1/kill-switch.
type SetRunStateRequest struct {
	Status RunStatus `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

// ToggleRunStateRequest is the optional request body for POST /v1/kill-switch/toggle.
type ToggleRunStateRequest struct {
	Reason string `json:"reason,omitempty"`
}

// TransitionResponse reports a run state write. AuditError is set when the
// state changed but its audit entry could not be written.
type TransitionResponse struct {
	RunState   RunState    `json:"run_state"`
	Previous   RunStatus   `json:"previous_status"`
	AuditEntry *AuditEntry `json:"audit_entry,omitempty"`
	AuditError string      `json:"audit_error,omitempty"`
}

// FileFlagRequest is the request body for POST /api/kill-switch/file.
type FileFlagRequest struct {
	Status string `json:"status"`
}

// AppendAuditRequest is the request body for POST /v1/audit.
type AppendAuditRequest struct {
	Agent        string         `json:"agent"`
	Action       AuditAction    `json:"action"`
	Details      map[string]any `json:"details,omitempty"`
	Status       AuditStatus    `json:"status"`
	DurationMS   *int64         `json:"duration_ms,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
}

// AuditPage is one page of an audit query. The counts describe this page
// only, never the whole log.
type AuditPage struct {
	Entries      []AuditEntry `json:"entries"`
	Page         int          `json:"page"`
	PageSize     int          `json:"page_size"`
	HasMore      bool         `json:"has_more"`
	Total        int          `json:"total"`
	SuccessCount int          `json:"success_count"`
	FailureCount int          `json:"failure_count"`
	Agents       []string     `json:"agents"`
}

// DecisionRequest is the request body for POST /v1/approvals/{email_id}/decision.
type DecisionRequest struct {
	Decision Decision     `json:"decision"`
	Type     ApprovalType `json:"type,omitempty"`
}

// DecisionResponse reports a completed approval decision.
type DecisionResponse struct {
	Email      Email      `json:"email"`
	Approval   Approval   `json:"approval"`
	AuditEntry AuditEntry `json:"audit_entry"`
}

// EnqueueEmailRequest is the request body for POST /v1/emails.
type EnqueueEmailRequest struct {
	FromEmail        string         `json:"from_email"`
	ToEmail          string         `json:"to_email"`
	Subject          string         `json:"subject"`
	Body             *string        `json:"body,omitempty"`
	Client           *string        `json:"client,omitempty"`
	Priority         *int           `json:"priority,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	Analysis         map[string]any `json:"analysis,omitempty"`
	Status           EmailStatus    `json:"status,omitempty"`
	ReceivedAt       *time.Time     `json:"received_at,omitempty"`
}

// AgentStatusRequest is the request body for PUT /v1/agents/{name}/status.
type AgentStatusRequest struct {
	Status      AgentStatus `json:"status"`
	CurrentTask *string     `json:"current_task,omitempty"`
	Role        string      `json:"role,omitempty"`
}

// AgentsResponse lists the registry with its online count.
type AgentsResponse struct {
	Agents []Agent `json:"agents"`
	Online int     `json:"online"`
	Total  int     `json:"total"`
}

// UpdateSettingsRequest is the request body for PUT /v1/settings.
type UpdateSettingsRequest struct {
	Settings map[string]json.RawMessage `json:"settings"`
}

// EnqueueTaskRequest is the request body for POST /v1/tasks.
type EnqueueTaskRequest struct {
	Agent    string         `json:"agent,omitempty"`
	TaskType string         `json:"task_type"`
	Status   TaskStatus     `json:"status,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// TaskProgressRequest is the request body for PATCH /v1/tasks/{id}.
type TaskProgressRequest struct {
	Status TaskStatus     `json:"status"`
	Result map[string]any `json:"result,omitempty"`
}

// PostNotificationRequest is the request body for POST /v1/notifications.
type PostNotificationRequest struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Priority  Priority       `json:"priority,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ActionURL string         `json:"action_url,omitempty"`
}

// ReminderRequest is the request body for POST /v1/reminders.
type ReminderRequest struct {
	Title    string     `json:"title"`
	Body     string     `json:"body,omitempty"`
	Priority Priority   `json:"priority,omitempty"`
	Due      *time.Time `json:"due,omitempty"`
}

// JobStatus is a scheduled job with its most recent recorded run.
type JobStatus struct {
	ScheduledJob
	LastRunAt  *time.Time  `json:"last_run_at,omitempty"`
	LastStatus AuditStatus `json:"last_status,omitempty"`
	LastRunID  *uuid.UUID  `json:"last_run_id,omitempty"`
}

// StatusPage is the system overview served by GET /v1/status.
type StatusPage struct {
	RunState   RunState    `json:"run_state"`
	Agents     []Agent     `json:"agents"`
	Online     int         `json:"online"`
	Jobs       []JobStatus `json:"jobs"`
	JobsOK     int         `json:"jobs_ok"`
	JobsFailed int         `json:"jobs_failed"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Store    string `json:"store"`
	Uptime   int64  `json:"uptime_seconds"`
	RunState string `json:"run_state,omitempty"`
}
