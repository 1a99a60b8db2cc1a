package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a queued agent task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskExecuting TaskStatus = "executing"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// ParseTaskStatus validates a task status string.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case TaskQueued, TaskExecuting, TaskCompleted, TaskFailed, TaskSkipped:
		return TaskStatus(s), nil
	default:
		return "", fmt.Errorf("unknown task status %q", s)
	}
}

// Finished reports whether the task reached an end state.
func (s TaskStatus) Finished() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// Task types agents put on the queue. Other types are accepted as-is.
const (
	TaskTypeEmailSend       = "email_send"
	TaskTypeEmailAnalysis   = "email_analysis"
	TaskTypeTerminalCommand = "terminal_command"
	TaskTypeCronJob         = "cron_job"
	TaskTypeReminder        = "reminder"
	TaskTypeTaskExecution   = "task_execution"
)

// Task is a unit of agent work on the task queue. Agents write and
// advance these rows; the API only lists them and accepts agent reports.
type Task struct {
	ID          uuid.UUID      `json:"id"`
	Agent       string         `json:"agent"`
	TaskType    string         `json:"task_type"`
	Status      TaskStatus     `json:"status"`
	Payload     map[string]any `json:"payload,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	RetryCount  int            `json:"retry_count"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TaskFilter narrows a task listing. Empty fields match everything.
type TaskFilter struct {
	Agent  string     `json:"agent,omitempty"`
	Status TaskStatus `json:"status,omitempty"`
}

// TaskBoard is the task queue view: the latest tasks and counts by
// status computed over them.
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
