package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/storage"
)

const agentColumns = `id, name, role, status, current_task, last_activity, health_check, created_at, updated_at`

// UpsertAgentStatus creates or updates the named agent's status and returns
// the stored agent with the status it had before, or "" if it was new.
func (s *Store) UpsertAgentStatus(ctx context.Context, u storage.AgentStatusUpdate) (model.Agent, model.AgentStatus, error) {
	at := u.At
	if at.IsZero() {
		at = now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Agent{}, "", fmt.Errorf("sqlite: begin upsert agent tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev model.AgentStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM agents WHERE name = ?`, u.Name).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.Agent{}, "", fmt.Errorf("sqlite: read agent status: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO agents (id, name, role, status, current_task, last_activity, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
		     role = CASE WHEN excluded.role = '' THEN agents.role ELSE excluded.role END,
		     status = excluded.status,
		     current_task = excluded.current_task,
		     last_activity = excluded.last_activity,
		     updated_at = excluded.updated_at`,
		uuid.NewString(), u.Name, u.Role, string(u.Status), u.CurrentTask,
		micros(at), micros(at), micros(at),
	); err != nil {
		return model.Agent{}, "", fmt.Errorf("sqlite: upsert agent status: %w", err)
	}

	a, err := scanAgent(tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = ?`, u.Name))
	if err != nil {
		return model.Agent{}, "", fmt.Errorf("sqlite: read upserted agent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Agent{}, "", fmt.Errorf("sqlite: commit upsert agent tx: %w", err)
	}
	op := "update"
	if prev == "" {
		op = "insert"
	}
	s.changed("agents", op, a.ID)
	return a, prev, nil
}

// GetAgent returns the named agent.
func (s *Store) GetAgent(ctx context.Context, name string) (model.Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = ?`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("sqlite: agent %s: %w", name, storage.ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("sqlite: get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns every registered agent ordered by name.
func (s *Store) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	agents := []model.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list agents: %w", err)
	}
	return agents, nil
}

func scanAgent(row rowScanner) (model.Agent, error) {
	var (
		a                    model.Agent
		id                   string
		task                 sql.NullString
		lastActivity         sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&id, &a.Name, &a.Role, &a.Status, &task, &lastActivity,
		&a.HealthCheck, &createdAt, &updatedAt); err != nil {
		return model.Agent{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return model.Agent{}, fmt.Errorf("agent id: %w", err)
	}
	a.ID = parsed
	if task.Valid {
		a.CurrentTask = &task.String
	}
	a.LastActivity = timePtr(lastActivity)
	a.CreatedAt = fromMicros(createdAt)
	a.UpdatedAt = fromMicros(updatedAt)
	return a, nil
}
