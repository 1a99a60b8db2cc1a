// Package tasks serves the agent task queue. Agents put their work on
// the queue and report progress; the dashboard reads it as a board.
package tasks

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
	ErrInvalidInput = errors.New("tasks: invalid input")
	// ErrNotOwner is returned when an agent reports on another agent's task.
	ErrNotOwner = errors.New("tasks: task belongs to another agent")
)

// Store is the persistence the queue needs.
type Store interface {
	InsertTask(ctx context.Context, t model.Task) (model.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (model.Task, error)
	UpdateTask(ctx context.Context, t model.Task) (model.Task, error)
	ListTasks(ctx context.Context, f model.TaskFilter, limit int) ([]model.Task, error)
}

// Service reads and writes the task queue.
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

// EnqueueInput is a new task reported by an agent.
type EnqueueInput struct {
	Agent    string
	TaskType string
	Status   model.TaskStatus // empty means queued
	Payload  map[string]any
}

// Enqueue adds a task. A task reported as already executing or finished
// gets the matching timestamps.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (model.Task, error) {
	in.Agent = strings.TrimSpace(in.Agent)
	if err := model.ValidateAgentName(in.Agent); err != nil {
		return model.Task{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(in.TaskType) == "" {
		return model.Task{}, fmt.Errorf("%w: task_type is required", ErrInvalidInput)
	}
	if in.Status == "" {
		in.Status = model.TaskQueued
	}
	if _, err := model.ParseTaskStatus(string(in.Status)); err != nil {
		return model.Task{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	t := model.Task{
		Agent:    in.Agent,
		TaskType: strings.TrimSpace(in.TaskType),
		Payload:  in.Payload,
	}
	advance(&t, in.Status, s.now())
	out, err := s.store.InsertTask(ctx, t)
	if err != nil {
		return model.Task{}, fmt.Errorf("tasks: enqueue: %w", err)
	}
	return out, nil
}

// ProgressInput is a status report on an existing task.
type ProgressInput struct {
	ID     uuid.UUID
	Status model.TaskStatus
	Result map[string]any // nil keeps the stored result
	Actor  string
	// AnyOwner lets an operator report on any agent's task.
	AnyOwner bool
}

// Progress moves a task to a new status. Any status may follow any
// other; concurrent reports are last-write-wins. Leaving failed for
// queued or executing counts as a retry.
func (s *Service) Progress(ctx context.Context, in ProgressInput) (model.Task, error) {
	if _, err := model.ParseTaskStatus(string(in.Status)); err != nil {
		return model.Task{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	t, err := s.store.GetTask(ctx, in.ID)
	if err != nil {
		return model.Task{}, fmt.Errorf("tasks: progress: %w", err)
	}
	if !in.AnyOwner && t.Agent != in.Actor {
		return model.Task{}, fmt.Errorf("%w: %s", ErrNotOwner, t.Agent)
	}

	prev := t.Status
	advance(&t, in.Status, s.now())
	if in.Result != nil {
		t.Result = in.Result
	}
	out, err := s.store.UpdateTask(ctx, t)
	if err != nil {
		return model.Task{}, fmt.Errorf("tasks: progress: %w", err)
	}
	s.logger.Debug("task progressed", "task_id", t.ID, "agent", t.Agent, "from", prev, "to", t.Status)
	return out, nil
}

// advance sets status and the lifecycle fields that follow from it.
func advance(t *model.Task, to model.TaskStatus, at time.Time) {
	if t.Status == model.TaskFailed && (to == model.TaskQueued || to == model.TaskExecuting) {
		t.RetryCount++
	}
	switch {
	case to == model.TaskQueued:
		t.StartedAt, t.CompletedAt = nil, nil
	case to == model.TaskExecuting:
		if t.StartedAt == nil || t.Status.Finished() {
			t.StartedAt = &at
		}
		t.CompletedAt = nil
	case to.Finished():
		if t.StartedAt == nil {
			t.StartedAt = &at
		}
		t.CompletedAt = &at
	}
	t.Status = to
}

// Board returns the latest tasks matching f with counts over them. Today
// counts tasks created since midnight UTC.
func (s *Service) Board(ctx context.Context, f model.TaskFilter, limit int) (model.TaskBoard, error) {
	if f.Status != "" {
		if _, err := model.ParseTaskStatus(string(f.Status)); err != nil {
			return model.TaskBoard{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	list, err := s.store.ListTasks(ctx, f, limit)
	if err != nil {
		return model.TaskBoard{}, fmt.Errorf("tasks: list: %w", err)
	}

	b := model.TaskBoard{Tasks: list, Total: len(list)}
	midnight := s.now().Truncate(24 * time.Hour)
	for _, t := range list {
		switch t.Status {
		case model.TaskQueued:
			b.Queued++
		case model.TaskExecuting:
			b.Executing++
		case model.TaskCompleted:
			b.Completed++
		case model.TaskFailed:
			b.Failed++
		case model.TaskSkipped:
			b.Skipped++
		}
		if !t.CreatedAt.Before(midnight) {
			b.Today++
		}
	}
	return b, nil
}
