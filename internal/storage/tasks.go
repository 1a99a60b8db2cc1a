package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mission-control/internal/model"
)

const taskColumns = `id, agent, task_type, status, payload, result, retry_count,
	created_at, started_at, completed_at, updated_at`

// marshalObject encodes a JSON object column; nil stays SQL NULL.
func marshalObject(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// InsertTask puts a task on the queue.
func (db *DB) InsertTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = model.TaskQueued
	}
	payload, err := marshalObject(t.Payload)
	if err != nil {
		return model.Task{}, fmt.Errorf("storage: marshal task payload: %w", err)
	}
	result, err := marshalObject(t.Result)
	if err != nil {
		return model.Task{}, fmt.Errorf("storage: marshal task result: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO task_queue (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8, $9, $10, $11)`,
		t.ID, t.Agent, t.TaskType, string(t.Status), payload, result, t.RetryCount,
		t.CreatedAt, t.StartedAt, t.CompletedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Task{}, fmt.Errorf("storage: insert task %s: %w", t.ID, ErrConflict)
		}
		return model.Task{}, fmt.Errorf("storage: insert task: %w", err)
	}
	return t, nil
}

// GetTask returns one task.
func (db *DB) GetTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	t, err := scanTask(db.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM task_queue WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, fmt.Errorf("storage: task %s: %w", id, ErrNotFound)
		}
		return model.Task{}, fmt.Errorf("storage: get task: %w", err)
	}
	return t, nil
}

// UpdateTask overwrites a task's progress fields: status, result, retry
// count and the lifecycle timestamps. Last write wins.
func (db *DB) UpdateTask(ctx context.Context, t model.Task) (model.Task, error) {
	result, err := marshalObject(t.Result)
	if err != nil {
		return model.Task{}, fmt.Errorf("storage: marshal task result: %w", err)
	}
	row := db.pool.QueryRow(ctx,
		`UPDATE task_queue SET status = $2, result = $3::jsonb, retry_count = $4,
		     started_at = $5, completed_at = $6, updated_at = $7
		 WHERE id = $1 RETURNING `+taskColumns,
		t.ID, string(t.Status), result, t.RetryCount, t.StartedAt, t.CompletedAt,
		time.Now().UTC().Truncate(time.Microsecond),
	)
	out, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, fmt.Errorf("storage: task %s: %w", t.ID, ErrNotFound)
		}
		return model.Task{}, fmt.Errorf("storage: update task: %w", err)
	}
	return out, nil
}

// ListTasks returns up to limit tasks newest first.
func (db *DB) ListTasks(ctx context.Context, f model.TaskFilter, limit int) ([]model.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.Agent != "" {
		args = append(args, f.Agent)
		where = append(where, "agent = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	query := `SELECT ` + taskColumns + ` FROM task_queue`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID, &t.Agent, &t.TaskType, &t.Status, &t.Payload, &t.Result, &t.RetryCount,
		&t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.UpdatedAt,
	)
	return t, err
}
