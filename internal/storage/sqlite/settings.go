package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ashita-ai/mission-control/internal/model"
)

// UpsertSettings writes every key in one transaction and returns the stored rows.
func (s *Store) UpsertSettings(ctx context.Context, values map[string]json.RawMessage) ([]model.Setting, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin upsert settings tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]model.Setting, 0, len(keys))
	for _, k := range keys {
		v := values[k]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, string(v), micros(ts),
		); err != nil {
			return nil, fmt.Errorf("sqlite: upsert setting %s: %w", k, err)
		}
		out = append(out, model.Setting{Key: k, Value: v, UpdatedAt: ts})
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit upsert settings tx: %w", err)
	}
	return out, nil
}

// ListSettings returns every setting ordered by key.
func (s *Store) ListSettings(ctx context.Context) ([]model.Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM system_config ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list settings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	settings := []model.Setting{}
	for rows.Next() {
		var (
			st  model.Setting
			raw string
			at  int64
		)
		if err := rows.Scan(&st.Key, &raw, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan setting: %w", err)
		}
		st.Value = json.RawMessage(raw)
		st.UpdatedAt = fromMicros(at)
		settings = append(settings, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list settings: %w", err)
	}
	return settings, nil
}
