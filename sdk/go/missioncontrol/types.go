package missioncontrol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Flag file words accepted by WriteFlagFile.
const (
	FlagStop    = "STOP"
	FlagRunning = "RUNNING"
)

// Decisions accepted by Decide.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// RunState is the kill switch.
type RunState struct {
	ID          uuid.UUID `json:"id"`
	Status      string    `json:"status"`
	TriggeredAt time.Time `json:"triggered_at"`
	TriggeredBy string    `json:"triggered_by"`
	Reason      string    `json:"reason"`
}

// Running reports whether agents may proceed.
func (s RunState) Running() bool { return s.Status == StatusRunning }

// Transition is the result of SetRunState or Toggle. AuditError is set
// when the state changed but could not be audited.
type Transition struct {
	RunState       RunState    `json:"run_state"`
	PreviousStatus string      `json:"previous_status"`
	AuditEntry     *AuditEntry `json:"audit_entry,omitempty"`
	AuditError     string      `json:"audit_error,omitempty"`
}

// FlagFileResult reports where a flag word was written.
type FlagFileResult struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// AuditEntry is one audit log record.
type AuditEntry struct {
	ID           uuid.UUID      `json:"id"`
	Seq          int64          `json:"seq"`
	Agent        string         `json:"agent"`
	Action       string         `json:"action"`
	Details      map[string]any `json:"details"`
	Status       string         `json:"status"`
	ExecutedAt   time.Time      `json:"executed_at"`
	DurationMS   *int64         `json:"duration_ms,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
}

// RecordEventRequest is an audit entry to append. Agent defaults to the
// caller and Status to "success". Only operators may set another Agent.
// Action is email_sent, email_analyzed or a scheduled job action.
type RecordEventRequest struct {
	Agent        string         `json:"agent,omitempty"`
	Action       string         `json:"action"`
	Details      map[string]any `json:"details,omitempty"`
	Status       string         `json:"status,omitempty"`
	DurationMS   *int64         `json:"duration_ms,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
}

// AuditQuery filters QueryAudit. Agent is exact; Text is a substring of
// agent, action or status.
type AuditQuery struct {
	Agent    string
	Text     string
	Page     int
	PageSize int
}

// AuditPage is one page of audit entries. Counts cover this page only.
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

// Email is a row of the email queue.
type Email struct {
	ID               uuid.UUID      `json:"id"`
	FromEmail        string         `json:"from_email"`
	ToEmail          string         `json:"to_email"`
	Subject          string         `json:"subject"`
	Body             *string        `json:"body,omitempty"`
	Client           *string        `json:"client,omitempty"`
	Priority         *int           `json:"priority,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	Analysis         map[string]any `json:"analysis,omitempty"`
	Status           string         `json:"status"`
	ReceivedAt       *time.Time     `json:"received_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// EnqueueEmailRequest adds an email to the queue. Emails that require
// approval are held for the operator.
type EnqueueEmailRequest struct {
	FromEmail        string         `json:"from_email"`
	ToEmail          string         `json:"to_email"`
	Subject          string         `json:"subject"`
	Body             *string        `json:"body,omitempty"`
	Client           *string        `json:"client,omitempty"`
	Priority         *int           `json:"priority,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	Analysis         map[string]any `json:"analysis,omitempty"`
	ReceivedAt       *time.Time     `json:"received_at,omitempty"`
}

// Approval is the record of a human decision.
type Approval struct {
	ID           uuid.UUID  `json:"id"`
	EmailQueueID uuid.UUID  `json:"email_queue_id"`
	ApprovalType string     `json:"approval_type"`
	RequestBody  string     `json:"request_body"`
	Status       string     `json:"status"`
	ApprovedBy   string     `json:"approved_by"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	RequestedAt  time.Time  `json:"requested_at"`
}

// DecisionResult holds the three records a decision wrote.
type DecisionResult struct {
	Email      Email      `json:"email"`
	Approval   Approval   `json:"approval"`
	AuditEntry AuditEntry `json:"audit_entry"`
}

// Agent is a registry entry.
type Agent struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	Status       string     `json:"status"`
	CurrentTask  *string    `json:"current_task,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
	HealthCheck  bool       `json:"health_check"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AgentList is the registry with its online count.
type AgentList struct {
	Agents []Agent `json:"agents"`
	Online int     `json:"online"`
	Total  int     `json:"total"`
}

// AgentStatusRequest reports an agent's status.
type AgentStatusRequest struct {
	Status      string  `json:"status"`
	CurrentTask *string `json:"current_task,omitempty"`
	Role        string  `json:"role,omitempty"`
}

// AgentStatusChange is the result of SetAgentStatus.
type AgentStatusChange struct {
	Agent          Agent       `json:"agent"`
	Changed        bool        `json:"changed"`
	PreviousStatus string      `json:"previous_status,omitempty"`
	AuditEntry     *AuditEntry `json:"audit_entry,omitempty"`
	AuditError     string      `json:"audit_error,omitempty"`
}

// Setting is one configuration key.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JobStatus is a scheduled job with its most recent run.
type JobStatus struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Action     string     `json:"action"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastRunID  *uuid.UUID `json:"last_run_id,omitempty"`
}

// StatusPage is the system overview.
type StatusPage struct {
	RunState   RunState    `json:"run_state"`
	Agents     []Agent     `json:"agents"`
	Online     int         `json:"online"`
	Jobs       []JobStatus `json:"jobs"`
	JobsOK     int         `json:"jobs_ok"`
	JobsFailed int         `json:"jobs_failed"`
}

// Task is an entry on the agent task queue.
type Task struct {
	ID          uuid.UUID      `json:"id"`
	Agent       string         `json:"agent"`
	TaskType    string         `json:"task_type"`
	Status      string         `json:"status"`
	Payload     map[string]any `json:"payload,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	RetryCount  int            `json:"retry_count"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TaskQuery filters the task board. Zero fields are omitted.
type TaskQuery struct {
	Agent  string
	Status string
	Limit  int
}

// TaskBoard is the latest tasks with counts by status.
type TaskBoard struct {
	Tasks     []Task `json:"tasks"`
	Queued    int    `json:"queued"`
	Executing int    `json:"executing"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Today     int    `json:"today"`
	Total     int    `json:"total"`
}

// EnqueueTaskRequest queues a task. Agent defaults to the caller; only
// operators may name another agent.
type EnqueueTaskRequest struct {
	Agent    string         `json:"agent,omitempty"`
	TaskType string         `json:"task_type"`
	Status   string         `json:"status,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Notification is an item in the operator's inbox.
type Notification struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      *string        `json:"body,omitempty"`
	Agent     *string        `json:"agent,omitempty"`
	Priority  string         `json:"priority"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ActionURL *string        `json:"action_url,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
}

// NotificationRequest posts a notification under the caller's name.
type NotificationRequest struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Priority  string         `json:"priority,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ActionURL string         `json:"action_url,omitempty"`
}

// Inbox is a notification listing with unread and urgent counts.
type Inbox struct {
	Notifications []Notification `json:"notifications"`
	Unread        int            `json:"unread"`
	Urgent        int            `json:"urgent"`
}

// Health is the server's health report.
type Health struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Store    string `json:"store"`
	Uptime   int64  `json:"uptime_seconds"`
	RunState string `json:"run_state,omitempty"`
}

// Event is one server-sent change notification.
type Event struct {
	Name string
	Data json.RawMessage
}
