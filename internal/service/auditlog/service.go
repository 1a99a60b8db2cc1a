// Package auditlog appends domain events to the append-only audit log and
// serves them back filtered and paginated.
package auditlog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/telemetry"
)

// Paging limits.
const (
	DefaultPageSize    = 50
	MaxPageSize        = 500
	DefaultRecentLimit = 20
)

// ErrInvalidInput wraps validation failures.
var ErrInvalidInput = errors.New("auditlog: invalid input")

// Store is the persistence the audit log needs.
type Store interface {
	InsertAuditEntry(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error)
	QueryAuditEntries(ctx context.Context, f model.AuditFilter, limit, offset int) ([]model.AuditEntry, error)
}

// Service writes and reads the audit log.
type Service struct {
	store   Store
	logger  *slog.Logger
	appends metric.Int64Counter
}

// New creates a Service.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		appends: telemetry.Counter(telemetry.Meter("mission-control/auditlog"),
			"mc.audit.appends", "Audit entries appended by action"),
	}
}

// Append records an event. It never overwrites prior entries.
func (s *Service) Append(ctx context.Context, agent string, action model.AuditAction, details map[string]any, status model.AuditStatus) (model.AuditEntry, error) {
	return s.Record(ctx, model.AuditEntry{Agent: agent, Action: action, Details: details, Status: status})
}

// Record appends a fully specified entry, including the optional duration
// and error message agents report for scheduled jobs.
func (s *Service) Record(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error) {
	if e.Agent == "" {
		return model.AuditEntry{}, fmt.Errorf("%w: agent is required", ErrInvalidInput)
	}
	if err := model.ValidateAuditAction(e.Action); err != nil {
		return model.AuditEntry{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := model.ValidateAuditStatus(e.Status); err != nil {
		return model.AuditEntry{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if e.DurationMS != nil && *e.DurationMS < 0 {
		return model.AuditEntry{}, fmt.Errorf("%w: duration_ms must be non-negative", ErrInvalidInput)
	}

	out, err := s.store.InsertAuditEntry(ctx, e)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("auditlog: append: %w", err)
	}
	s.appends.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(out.Action))))
	return out, nil
}

// RecordExternal is Record for entries submitted by agents over the API or
// MCP. Service-owned actions are refused with ErrInvalidInput.
func (s *Service) RecordExternal(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error) {
	if err := model.ValidateExternalAuditAction(e.Action); err != nil {
		return model.AuditEntry{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.Record(ctx, e)
}

// NormalizePageSize applies the default and the upper bound.
func NormalizePageSize(pageSize int) int {
	switch {
	case pageSize <= 0:
		return DefaultPageSize
	case pageSize > MaxPageSize:
		return MaxPageSize
	default:
		return pageSize
	}
}

// Query returns one page, newest first. Pages are offset based
// (offset = page*pageSize), so entries appended between two calls shift
// later pages. The summary counts cover the returned page only.
func (s *Service) Query(ctx context.Context, f model.AuditFilter, page, pageSize int) (model.AuditPage, error) {
	if page < 0 {
		return model.AuditPage{}, fmt.Errorf("%w: page must be non-negative", ErrInvalidInput)
	}
	pageSize = NormalizePageSize(pageSize)

	// One extra row tells us whether another page exists.
	entries, err := s.store.QueryAuditEntries(ctx, f, pageSize+1, page*pageSize)
	if err != nil {
		return model.AuditPage{}, fmt.Errorf("auditlog: query: %w", err)
	}
	hasMore := len(entries) > pageSize
	if hasMore {
		entries = entries[:pageSize]
	}

	p := model.AuditPage{
		Entries:  entries,
		Page:     page,
		PageSize: pageSize,
		HasMore:  hasMore,
	}
	p.Total, p.SuccessCount, p.FailureCount, p.Agents = Summarize(entries)
	return p, nil
}

// Summarize counts the given entries: total, successes, failures and the
// sorted distinct agents.
func Summarize(entries []model.AuditEntry) (total, success, failure int, agents []string) {
	seen := make(map[string]bool)
	agents = []string{}
	for _, e := range entries {
		switch e.Status {
		case model.AuditSuccess:
			success++
		case model.AuditFailure:
			failure++
		}
		if !seen[e.Agent] {
			seen[e.Agent] = true
			agents = append(agents, e.Agent)
		}
	}
	slices.Sort(agents)
	return len(entries), success, failure, agents
}

// All walks every matching entry page by page. The sequence is lazy and
// restartable: each range over it starts again from the first page.
// Iteration stops at the first error, which is yielded with a zero entry.
func (s *Service) All(ctx context.Context, f model.AuditFilter, pageSize int) iter.Seq2[model.AuditEntry, error] {
	pageSize = NormalizePageSize(pageSize)
	return func(yield func(model.AuditEntry, error) bool) {
		for page := 0; ; page++ {
			p, err := s.Query(ctx, f, page, pageSize)
			if err != nil {
				yield(model.AuditEntry{}, err)
				return
			}
			for _, e := range p.Entries {
				if !yield(e, nil) {
					return
				}
			}
			if !p.HasMore {
				return
			}
		}
	}
}

// Recent returns the newest entries for the activity feed.
func (s *Service) Recent(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxPageSize)
	entries, err := s.store.QueryAuditEntries(ctx, model.AuditFilter{}, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("auditlog: recent: %w", err)
	}
	return entries, nil
}
