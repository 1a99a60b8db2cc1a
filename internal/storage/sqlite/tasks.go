package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/storage"
)

const taskColumns = `id, agent, task_type, status, payload, result, retry_count,
	created_at, started_at, completed_at, updated_at`

// jsonText encodes a JSON object column; nil stays NULL.
func jsonText(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func jsonObject(v sql.NullString) (map[string]any, error) {
	if !v.Valid {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(v.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// InsertTask puts a task on the queue.
func (s *Store) InsertTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	ts := now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = ts
	}
	t.UpdatedAt = ts
	if t.Status == "" {
		t.Status = model.TaskQueued
	}
	payload, err := jsonText(t.Payload)
	if err != nil {
		return model.Task{}, fmt.Errorf("sqlite: marshal task payload: %w", err)
	}
	result, err := jsonText(t.Result)
	if err != nil {
		return model.Task{}, fmt.Errorf("sqlite: marshal task result: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_queue (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.Agent, t.TaskType, string(t.Status), payload, result, t.RetryCount,
		micros(t.CreatedAt), nullMicros(t.StartedAt), nullMicros(t.CompletedAt), micros(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Task{}, fmt.Errorf("sqlite: insert task %s: %w", t.ID, storage.ErrConflict)
		}
		return model.Task{}, fmt.Errorf("sqlite: insert task: %w", err)
	}
	s.changed("task_queue", "insert", t.ID)
	return t, nil
}

// GetTask returns one task.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task_queue WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, fmt.Errorf("sqlite: task %s: %w", id, storage.ErrNotFound)
		}
		return model.Task{}, fmt.Errorf("sqlite: get task: %w", err)
	}
	return t, nil
}

// UpdateTask overwrites a task's progress fields. Last write wins.
func (s *Store) UpdateTask(ctx context.Context, t model.Task) (model.Task, error) {
	result, err := jsonText(t.Result)
	if err != nil {
		return model.Task{}, fmt.Errorf("sqlite: marshal task result: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_queue SET status = ?, result = ?, retry_count = ?, started_at = ?,
		     completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(t.Status), result, t.RetryCount, nullMicros(t.StartedAt), nullMicros(t.CompletedAt),
		micros(now()), t.ID.String(),
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("sqlite: update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Task{}, fmt.Errorf("sqlite: task %s: %w", t.ID, storage.ErrNotFound)
	}
	s.changed("task_queue", "update", t.ID)
	return s.GetTask(ctx, t.ID)
}

// ListTasks returns up to limit tasks newest first.
func (s *Store) ListTasks(ctx context.Context, f model.TaskFilter, limit int) ([]model.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, f.Agent)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + taskColumns + ` FROM task_queue`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		t                      model.Task
		id                     string
		payload, result        sql.NullString
		startedAt, completedAt sql.NullInt64
		createdAt, updatedAt   int64
	)
	if err := row.Scan(&id, &t.Agent, &t.TaskType, &t.Status, &payload, &result, &t.RetryCount,
		&createdAt, &startedAt, &completedAt, &updatedAt); err != nil {
		return model.Task{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return model.Task{}, fmt.Errorf("task id: %w", err)
	}
	t.ID = parsed
	if t.Payload, err = jsonObject(payload); err != nil {
		return model.Task{}, fmt.Errorf("task payload: %w", err)
	}
	if t.Result, err = jsonObject(result); err != nil {
		return model.Task{}, fmt.Errorf("task result: %w", err)
	}
	t.CreatedAt = fromMicros(createdAt)
	t.StartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	t.UpdatedAt = fromMicros(updatedAt)
	return t, nil
}
