package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mission-control/internal/model"
)

// ProvisionRunState creates the kill switch singleton if it does not exist.
// Reports whether a row was inserted.
func (db *DB) ProvisionRunState(ctx context.Context, s model.RunState) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO kill_switch (id, status, triggered_at, triggered_by, reason)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		s.ID, string(s.Status), s.TriggeredAt, s.TriggeredBy, s.Reason,
	)
	if err != nil {
		return false, fmt.Errorf("storage: provision run state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetRunState returns the kill switch row with the given id.
func (db *DB) GetRunState(ctx context.Context, id uuid.UUID) (model.RunState, error) {
	var s model.RunState
	err := db.pool.QueryRow(ctx,
		`SELECT id, status, triggered_at, triggered_by, reason FROM kill_switch WHERE id = $1`, id,
	).Scan(&s.ID, &s.Status, &s.TriggeredAt, &s.TriggeredBy, &s.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunState{}, fmt.Errorf("storage: run state: %w", ErrNotFound)
		}
		return model.RunState{}, fmt.Errorf("storage: get run state: %w", err)
	}
	return s, nil
}

// UpdateRunState overwrites the kill switch row in place. There is no
// version check: concurrent writers are last-write-wins.
func (db *DB) UpdateRunState(ctx context.Context, s model.RunState) (model.RunState, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE kill_switch SET status = $2, triggered_at = $3, triggered_by = $4, reason = $5
		 WHERE id = $1`,
		s.ID, string(s.Status), s.TriggeredAt, s.TriggeredBy, s.Reason,
	)
	if err != nil {
		return model.RunState{}, fmt.Errorf("storage: update run state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.RunState{}, fmt.Errorf("storage: update run state: %w", ErrNotFound)
	}
	return s, nil
}
