// Package settings reads and writes the system configuration table.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/ashita-ai/mission-control/internal/model"
)

// ErrInvalidInput wraps validation failures.
var ErrInvalidInput = errors.New("settings: invalid input")

const maxKeyLen = 64

// Store is the persistence settings need.
type Store interface {
	UpsertSettings(ctx context.Context, values map[string]json.RawMessage) ([]model.Setting, error)
	ListSettings(ctx context.Context) ([]model.Setting, error)
	InsertAuditEntry(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error)
}

// Service manages settings.
type Service struct {
	store  Store
	logger *slog.Logger
}

// New creates a Service.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// List returns every setting ordered by key.
func (s *Service) List(ctx context.Context) ([]model.Setting, error) {
	out, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	return out, nil
}

// Map returns the settings keyed by name.
func (s *Service) Map(ctx context.Context) (map[string]json.RawMessage, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(list))
	for _, st := range list {
		out[st.Key] = st.Value
	}
	return out, nil
}

// String returns a string-valued setting, or "" when it is absent or not
// a JSON string.
func (s *Service) String(ctx context.Context, key string) (string, error) {
	m, err := s.Map(ctx)
	if err != nil {
		return "", err
	}
	var v string
	if raw, ok := m[key]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return v, nil
}

// UpdateResult holds the stored rows. AuditErr is set when the settings
// were written but the audit entry was not.
type UpdateResult struct {
	Settings []model.Setting
	AuditErr error
}

// Update upserts values and appends a settings_updated audit entry credited
// to the system. The settings write stands even if the audit fails.
func (s *Service) Update(ctx context.Context, values map[string]json.RawMessage, actor string) (UpdateResult, error) {
	if len(values) == 0 {
		return UpdateResult{}, fmt.Errorf("%w: no settings given", ErrInvalidInput)
	}
	if actor == "" {
		return UpdateResult{}, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	for k, v := range values {
		if k == "" || len(k) > maxKeyLen || strings.ContainsAny(k, " \t\r\n") {
			return UpdateResult{}, fmt.Errorf("%w: invalid key %q", ErrInvalidInput, k)
		}
		if !json.Valid(v) {
			return UpdateResult{}, fmt.Errorf("%w: value for %q is not valid JSON", ErrInvalidInput, k)
		}
	}

	stored, err := s.store.UpsertSettings(ctx, values)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("settings: update: %w", err)
	}

	keys := slices.Sorted(maps.Keys(values))
	if _, err := s.store.InsertAuditEntry(ctx, model.AuditEntry{
		Agent:   model.SystemActor,
		Action:  model.ActionSettingsUpdated,
		Details: map[string]any{"updated_by": actor, "keys": keys},
		Status:  model.AuditSuccess,
	}); err != nil {
		s.logger.Error("settings updated but audit append failed", "keys", keys, "error", err)
		return UpdateResult{Settings: stored, AuditErr: fmt.Errorf("settings: audit update: %w", err)}, nil
	}

	s.logger.Info("settings updated", "keys", keys, "actor", actor)
	return UpdateResult{Settings: stored}, nil
}
