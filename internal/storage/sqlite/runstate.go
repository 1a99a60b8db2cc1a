package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/storage"
)

// ProvisionRunState creates the kill switch singleton if it does not exist.
func (s *Store) ProvisionRunState(ctx context.Context, rs model.RunState) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO kill_switch (id, status, triggered_at, triggered_by, reason)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		rs.ID.String(), string(rs.Status), micros(rs.TriggeredAt), rs.TriggeredBy, rs.Reason,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: provision run state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		s.changed("kill_switch", "insert", rs.ID)
	}
	return n == 1, nil
}

// GetRunState returns the kill switch row with the given id.
func (s *Store) GetRunState(ctx context.Context, id uuid.UUID) (model.RunState, error) {
	var (
		rs  model.RunState
		rid string
		at  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, triggered_at, triggered_by, reason FROM kill_switch WHERE id = ?`, id.String(),
	).Scan(&rid, &rs.Status, &at, &rs.TriggeredBy, &rs.Reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunState{}, fmt.Errorf("sqlite: run state: %w", storage.ErrNotFound)
		}
		return model.RunState{}, fmt.Errorf("sqlite: get run state: %w", err)
	}
	rs.ID = uuid.MustParse(rid)
	rs.TriggeredAt = fromMicros(at)
	return rs, nil
}

// UpdateRunState overwrites the kill switch row in place, last write wins.
func (s *Store) UpdateRunState(ctx context.Context, rs model.RunState) (model.RunState, error) {
	rs.TriggeredAt = rs.TriggeredAt.UTC().Truncate(time.Microsecond)
	res, err := s.db.ExecContext(ctx,
		`UPDATE kill_switch SET status = ?, triggered_at = ?, triggered_by = ?, reason = ? WHERE id = ?`,
		string(rs.Status), micros(rs.TriggeredAt), rs.TriggeredBy, rs.Reason, rs.ID.String(),
	)
	if err != nil {
		return model.RunState{}, fmt.Errorf("sqlite: update run state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.RunState{}, fmt.Errorf("sqlite: update run state: %w", storage.ErrNotFound)
	}
	s.changed("kill_switch", "update", rs.ID)
	return rs, nil
}
