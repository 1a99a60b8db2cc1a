// Package killswitch owns the shared run state that every agent must
// check before acting, and the audit trail of its transitions.
//
// The run state and its audit entry are two independent writes. The state
// is written first and never rolled back: stopping is the safety-critical
// direction, so a failed audit write is reported to the caller but does
// not undo the stop. Propagation to the enforcement surface (flag file,
// webhook, Redis key) is best effort and may not arrive.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/storage"
	"github.com/ashita-ai/mission-control/internal/telemetry"
)

// ErrInvalidInput wraps validation failures of Set arguments.
var ErrInvalidInput = errors.New("killswitch: invalid input")

// ProvisionReason is recorded on the singleton when it is first created.
const ProvisionReason = "Provisioned"

// DefaultNotifyTimeout bounds a single enforcement notification.
const DefaultNotifyTimeout = 5 * time.Second

// Store is the persistence the kill switch needs.
type Store interface {
	ProvisionRunState(ctx context.Context, s model.RunState) (bool, error)
	GetRunState(ctx context.Context, id uuid.UUID) (model.RunState, error)
	UpdateRunState(ctx context.Context, s model.RunState) (model.RunState, error)
	InsertAuditEntry(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error)
}

// Notifier propagates a run status to an out-of-process enforcement surface.
type Notifier interface {
	NotifyRunState(ctx context.Context, status model.RunStatus) error
}

// Transition is the outcome of Set.
type Transition struct {
	State     model.RunState
	Previous  model.RunStatus
	Redundant bool // the status did not change
	Audit     *model.AuditEntry
	// AuditErr is set when the state was written but its audit entry was
	// not. The state change stands.
	AuditErr error
}

// Service reads and writes the kill switch.
type Service struct {
	store         Store
	notifier      Notifier
	notifyTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time

	transitions metric.Int64Counter
	inflight    sync.WaitGroup
}

// New creates a Service. notifier may be nil, in which case no enforcement
// surface is updated. A zero notifyTimeout uses DefaultNotifyTimeout.
func New(store Store, notifier Notifier, notifyTimeout time.Duration, logger *slog.Logger) *Service {
	if notifyTimeout <= 0 {
		notifyTimeout = DefaultNotifyTimeout
	}
	return &Service{
		store:         store,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		transitions: telemetry.Counter(telemetry.Meter("mission-control/killswitch"),
			"mc.kill_switch.transitions", "Kill switch writes by target status"),
	}
}

// Provision creates the singleton in the running state if it does not
// exist yet. Safe to call on every start.
func (s *Service) Provision(ctx context.Context) (bool, error) {
	created, err := s.store.ProvisionRunState(ctx, model.RunState{
		ID:          model.RunStateID,
		Status:      model.RunStatusRunning,
		TriggeredAt: s.now(),
		TriggeredBy: model.SystemActor,
		Reason:      ProvisionReason,
	})
	if err != nil {
		return false, fmt.Errorf("killswitch: provision: %w", err)
	}
	if created {
		s.logger.Info("kill switch provisioned", "status", model.RunStatusRunning)
	}
	return created, nil
}

// Get returns the current run state. It returns storage.ErrNotFound if the
// singleton was never provisioned; no default is assumed.
func (s *Service) Get(ctx context.Context) (model.RunState, error) {
	st, err := s.store.GetRunState(ctx, model.RunStateID)
	if err != nil {
		return model.RunState{}, fmt.Errorf("killswitch: get: %w", err)
	}
	return st, nil
}

// GetOrDefault is Get with an explicit fallback for a missing singleton.
// The returned bool reports whether the state came from the store.
func (s *Service) GetOrDefault(ctx context.Context, fallback model.RunStatus) (model.RunState, bool, error) {
	st, err := s.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return model.RunState{
			ID:          model.RunStateID,
			Status:      fallback,
			TriggeredBy: model.SystemActor,
			Reason:      "not provisioned",
		}, false, nil
	}
	if err != nil {
		return model.RunState{}, false, err
	}
	return st, true, nil
}

// Set writes a new run state and then appends its audit entry. Setting the
// current status again is not a no-op: the record is rewritten and the
// audit entry is marked redundant. Concurrent calls are last-write-wins
// and each one is audited.
func (s *Service) Set(ctx context.Context, status model.RunStatus, actor, reason string) (Transition, error) {
	if _, err := model.ParseRunStatus(string(status)); err != nil {
		return Transition{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if actor == "" {
		return Transition{}, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	if reason == "" {
		if status == model.RunStatusStopped {
			s.logger.Warn("kill switch stopped without a reason", "actor", actor)
			reason = model.DefaultStopReason
		} else {
			reason = model.DefaultResumeReason
		}
	}

	prev, err := s.store.GetRunState(ctx, model.RunStateID)
	if err != nil {
		return Transition{}, fmt.Errorf("killswitch: read current state: %w", err)
	}

	next, err := s.store.UpdateRunState(ctx, model.RunState{
		ID:          model.RunStateID,
		Status:      status,
		TriggeredAt: s.now(),
		TriggeredBy: actor,
		Reason:      reason,
	})
	if err != nil {
		return Transition{}, fmt.Errorf("killswitch: write state: %w", err)
	}
	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	s.logger.Info("kill switch set",
		"status", status, "previous", prev.Status, "actor", actor, "reason", reason)

	s.notify(status)

	t := Transition{
		State:     next,
		Previous:  prev.Status,
		Redundant: prev.Status == status,
	}
	details := map[string]any{
		"previous_status": string(prev.Status),
		"reason":          reason,
	}
	if t.Redundant {
		details["redundant"] = true
	}
	entry, err := s.store.InsertAuditEntry(ctx, model.AuditEntry{
		Agent:      actor,
		Action:     status.TransitionAction(),
		Details:    details,
		Status:     model.AuditSuccess,
		ExecutedAt: next.TriggeredAt,
	})
	if err != nil {
		t.AuditErr = fmt.Errorf("killswitch: append audit entry: %w", err)
		s.logger.Error("kill switch state written but audit entry failed",
			"status", status, "actor", actor, "error", err)
		return t, nil
	}
	t.Audit = &entry
	return t, nil
}

// Toggle flips the current state. An empty reason uses the default for
// the target status.
func (s *Service) Toggle(ctx context.Context, actor, reason string) (Transition, error) {
	cur, err := s.Get(ctx)
	if err != nil {
		return Transition{}, err
	}
	return s.Set(ctx, cur.Status.Opposite(), actor, reason)
}

// Wait blocks until in-flight enforcement notifications have finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// notify runs detached from the request: it is never retried and its
// failure never reaches the caller.
func (s *Service) notify(status model.RunStatus) {
	if s.notifier == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyRunState(ctx, status); err != nil {
			s.logger.Debug("kill switch notification not delivered", "status", status, "error", err)
		}
	}()
}
