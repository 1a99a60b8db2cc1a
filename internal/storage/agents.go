package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mission-control/internal/model"
)

const agentColumns = `id, name, role, status, current_task, last_activity, health_check, created_at, updated_at`

// AgentStatusUpdate is a self-reported agent status.
type AgentStatusUpdate struct {
	Name        string
	Role        string // kept as-is when empty
	Status      model.AgentStatus
	CurrentTask *string
	At          time.Time
}

// UpsertAgentStatus creates or updates the named agent's status. It
// returns the stored agent and the status it had before the write, or ""
// if the agent did not exist.
func (db *DB) UpsertAgentStatus(ctx context.Context, u AgentStatusUpdate) (model.Agent, model.AgentStatus, error) {
	if u.At.IsZero() {
		u.At = time.Now().UTC()
	}
	u.At = u.At.Truncate(time.Microsecond)

	// prev reads the pre-statement snapshot, so it sees the old status.
	var (
		a    model.Agent
		prev *string
	)
	err := db.pool.QueryRow(ctx,
		`WITH prev AS (SELECT status FROM agents WHERE name = $2)
		 INSERT INTO agents (id, name, role, status, current_task, last_activity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		 ON CONFLICT (name) DO UPDATE SET
		     role = CASE WHEN EXCLUDED.role = '' THEN agents.role ELSE EXCLUDED.role END,
		     status = EXCLUDED.status,
		     current_task = EXCLUDED.current_task,
		     last_activity = EXCLUDED.last_activity,
		     updated_at = EXCLUDED.updated_at
		 RETURNING `+agentColumns+`, (SELECT status FROM prev)`,
		uuid.New(), u.Name, u.Role, string(u.Status), u.CurrentTask, u.At,
	).Scan(
		&a.ID, &a.Name, &a.Role, &a.Status, &a.CurrentTask, &a.LastActivity,
		&a.HealthCheck, &a.CreatedAt, &a.UpdatedAt, &prev,
	)
	if err != nil {
		return model.Agent{}, "", fmt.Errorf("storage: upsert agent status: %w", err)
	}
	var previous model.AgentStatus
	if prev != nil {
		previous = model.AgentStatus(*prev)
	}
	return a, previous, nil
}

// GetAgent returns the named agent.
func (db *DB) GetAgent(ctx context.Context, name string) (model.Agent, error) {
	var a model.Agent
	err := db.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = $1`, name).Scan(
		&a.ID, &a.Name, &a.Role, &a.Status, &a.CurrentTask, &a.LastActivity,
		&a.HealthCheck, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("storage: agent %s: %w", name, ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns every registered agent ordered by name.
func (db *DB) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	agents := []model.Agent{}
	for rows.Next() {
		var a model.Agent
		if err := rows.Scan(
			&a.ID, &a.Name, &a.Role, &a.Status, &a.CurrentTask, &a.LastActivity,
			&a.HealthCheck, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	return agents, nil
}
