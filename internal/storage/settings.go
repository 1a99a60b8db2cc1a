package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/ashita-ai/mission-control/internal/model"
)

// UpsertSettings writes every key in one transaction and returns the stored
// rows. Keys are written in sorted order; a deadlock or serialization
// failure retries the whole transaction.
func (db *DB) UpsertSettings(ctx context.Context, values map[string]json.RawMessage) ([]model.Setting, error) {
	var out []model.Setting
	err := WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		var err error
		out, err = db.upsertSettings(ctx, values)
		return err
	})
	return out, err
}

func (db *DB) upsertSettings(ctx context.Context, values map[string]json.RawMessage) ([]model.Setting, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin upsert settings tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC().Truncate(time.Microsecond)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]model.Setting, 0, len(keys))
	for _, k := range keys {
		v := values[k]
		if _, err := tx.Exec(ctx,
			`INSERT INTO system_config (key, value, updated_at) VALUES ($1, $2::jsonb, $3)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			k, []byte(v), now,
		); err != nil {
			return nil, fmt.Errorf("storage: upsert setting %s: %w", k, err)
		}
		out = append(out, model.Setting{Key: k, Value: v, UpdatedAt: now})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: commit upsert settings tx: %w", err)
	}
	return out, nil
}

// ListSettings returns every setting ordered by key.
func (db *DB) ListSettings(ctx context.Context) ([]model.Setting, error) {
	rows, err := db.pool.Query(ctx, `SELECT key, value::text, updated_at FROM system_config ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list settings: %w", err)
	}
	defer rows.Close()

	settings := []model.Setting{}
	for rows.Next() {
		var (
			s   model.Setting
			raw string
		)
		if err := rows.Scan(&s.Key, &raw, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan setting: %w", err)
		}
		s.Value = json.RawMessage(raw)
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list settings: %w", err)
	}
	return settings, nil
}
