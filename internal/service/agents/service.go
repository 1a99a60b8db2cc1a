// Package agents keeps the registry of automation agents and their last
// self-reported status.
package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/storage"
)

// ErrInvalidInput wraps validation failures.
var ErrInvalidInput = errors.New("agents: invalid input")

// Store is the persistence the registry needs.
type Store interface {
	UpsertAgentStatus(ctx context.Context, u storage.AgentStatusUpdate) (model.Agent, model.AgentStatus, error)
	GetAgent(ctx context.Context, name string) (model.Agent, error)
	ListAgents(ctx context.Context) ([]model.Agent, error)
	InsertAuditEntry(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error)
}

// StatusInput is one status report.
type StatusInput struct {
	Name        string
	Status      model.AgentStatus
	CurrentTask *string
	Role        string // empty keeps the stored role
}

// StatusChange is the outcome of SetStatus. Previous is "" for a newly
// registered agent. Audit is nil when the status did not change or the
// audit write failed (AuditErr).
type StatusChange struct {
	Agent    model.Agent
	Previous model.AgentStatus
	Changed  bool
	Audit    *model.AuditEntry
	AuditErr error
}

// Service reads and writes agent status.
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

// SetStatus upserts the agent's status and stamps last_activity. Any
// status may follow any other. A change of status is audited as
// agent_status_changed; the status write stands even if the audit fails.
func (s *Service) SetStatus(ctx context.Context, in StatusInput) (StatusChange, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := model.ValidateAgentName(in.Name); err != nil {
		return StatusChange{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := model.ParseAgentStatus(string(in.Status)); err != nil {
		return StatusChange{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	at := s.now()
	agent, prev, err := s.store.UpsertAgentStatus(ctx, storage.AgentStatusUpdate{
		Name:        in.Name,
		Role:        in.Role,
		Status:      in.Status,
		CurrentTask: in.CurrentTask,
		At:          at,
	})
	if err != nil {
		return StatusChange{}, fmt.Errorf("agents: set status: %w", err)
	}

	out := StatusChange{Agent: agent, Previous: prev, Changed: prev != in.Status}
	if !out.Changed {
		return out, nil
	}

	from := any(nil)
	if prev != "" {
		from = string(prev)
	}
	entry, err := s.store.InsertAuditEntry(ctx, model.AuditEntry{
		Agent:      agent.Name,
		Action:     model.ActionAgentStatusChanged,
		Details:    map[string]any{"from": from, "to": string(in.Status)},
		Status:     model.AuditSuccess,
		ExecutedAt: at,
	})
	if err != nil {
		s.logger.Error("agent status changed but audit append failed",
			"agent", agent.Name, "from", prev, "to", in.Status, "error", err)
		out.AuditErr = fmt.Errorf("agents: audit status change: %w", err)
		return out, nil
	}
	out.Audit = &entry

	s.logger.Info("agent status changed", "agent", agent.Name, "from", prev, "to", in.Status)
	return out, nil
}

// Get returns one agent by name.
func (s *Service) Get(ctx context.Context, name string) (model.Agent, error) {
	a, err := s.store.GetAgent(ctx, name)
	if err != nil {
		return model.Agent{}, fmt.Errorf("agents: get: %w", err)
	}
	return a, nil
}

// List returns all agents ordered by name.
func (s *Service) List(ctx context.Context) ([]model.Agent, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("agents: list: %w", err)
	}
	return agents, nil
}
