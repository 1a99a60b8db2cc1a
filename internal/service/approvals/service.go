// Package approvals implements the human-in-the-loop review of emails the
// automation held back, plus the email queue agents write to.
//
// A decision is three independent writes in a fixed order: the email
// status, the approval record, then the audit entry. There is no
// transaction around them. If a later step fails the earlier writes stand
// and the caller gets a *PartialDecisionError naming the failed step; no
// success entry is written in its place.
package approvals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/telemetry"
)

// Listing limits.
const (
	DefaultHistoryLimit = 20
	DefaultQueueLimit   = 30
	MaxListLimit        = 500
)

// DefaultMailAgent is the agent credited in decision audit entries.
const DefaultMailAgent = "Sophia CSM"

var (
	// ErrNotAwaitingApproval is returned when deciding an email that is not held.
	ErrNotAwaitingApproval = errors.New("approvals: email is not awaiting approval")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("approvals: invalid input")
)

// Step names a write in the decision sequence.
type Step string

const (
	StepEmailStatus Step = "update_email_status"
	StepApproval    Step = "insert_approval"
	StepAudit       Step = "append_audit"
)

// PartialDecisionError reports a decision that stopped after the email
// status was written. Email (and Approval, when it was written) hold what
// was committed.
type PartialDecisionError struct {
	Step     Step
	Email    model.Email
	Approval *model.Approval
	Err      error
}

func (e *PartialDecisionError) Error() string {
	return fmt.Sprintf("approvals: decision partially applied, %s failed: %v", e.Step, e.Err)
}

func (e *PartialDecisionError) Unwrap() error { return e.Err }

// Store is the persistence the approval workflow needs.
type Store interface {
	InsertEmail(ctx context.Context, e model.Email) (model.Email, error)
	GetEmail(ctx context.Context, id uuid.UUID) (model.Email, error)
	ListEmails(ctx context.Context, statuses []model.EmailStatus, limit int) ([]model.Email, error)
	UpdateEmailStatus(ctx context.Context, id uuid.UUID, status model.EmailStatus) (model.Email, error)
	InsertApproval(ctx context.Context, a model.Approval) (model.Approval, error)
	InsertAuditEntry(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error)
}

// Service runs the approval workflow.
type Service struct {
	store     Store
	mailAgent string
	logger    *slog.Logger
	now       func() time.Time

	decisions metric.Int64Counter
}

// New creates a Service. An empty mailAgent uses DefaultMailAgent.
func New(store Store, mailAgent string, logger *slog.Logger) *Service {
	if mailAgent == "" {
		mailAgent = DefaultMailAgent
	}
	return &Service{
		store:     store,
		mailAgent: mailAgent,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		decisions: telemetry.Counter(telemetry.Meter("mission-control/approvals"),
			"mc.approvals.decisions", "Approval decisions by outcome"),
	}
}

// ListPending returns every email awaiting approval, newest first. It is
// not capped: a held email must never drop out of the review list.
func (s *Service) ListPending(ctx context.Context) ([]model.Email, error) {
	emails, err := s.store.ListEmails(ctx, []model.EmailStatus{model.EmailAwaitingApproval}, 0)
	if err != nil {
		return nil, fmt.Errorf("approvals: list pending: %w", err)
	}
	return emails, nil
}

// History returns decided emails, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]model.Email, error) {
	emails, err := s.store.ListEmails(ctx,
		[]model.EmailStatus{model.EmailApproved, model.EmailRejected}, clampLimit(limit, DefaultHistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("approvals: history: %w", err)
	}
	return emails, nil
}

// ListQueue returns the most recent emails in any status.
func (s *Service) ListQueue(ctx context.Context, limit int) ([]model.Email, error) {
	emails, err := s.store.ListEmails(ctx, nil, clampLimit(limit, DefaultQueueLimit))
	if err != nil {
		return nil, fmt.Errorf("approvals: list queue: %w", err)
	}
	return emails, nil
}

// Enqueue adds an email written by an agent. Emails that require approval
// and carry no explicit status are held for review.
func (s *Service) Enqueue(ctx context.Context, e model.Email) (model.Email, error) {
	if strings.TrimSpace(e.FromEmail) == "" {
		return model.Email{}, fmt.Errorf("%w: from_email is required", ErrInvalidInput)
	}
	switch {
	case e.Status == "" && e.RequiresApproval:
		e.Status = model.EmailAwaitingApproval
	case e.Status == "":
		e.Status = model.EmailPending
	default:
		if _, err := model.ParseEmailStatus(string(e.Status)); err != nil {
			return model.Email{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	out, err := s.store.InsertEmail(ctx, e)
	if err != nil {
		return model.Email{}, fmt.Errorf("approvals: enqueue: %w", err)
	}
	return out, nil
}

// DecideInput is a human verdict on one held email.
type DecideInput struct {
	EmailID  uuid.UUID
	Decision model.Decision
	Actor    string
	Type     model.ApprovalType // empty means routine_response
	Notes    *string
}

// DecideResult holds the three records a completed decision wrote.
type DecideResult struct {
	Email    model.Email
	Approval model.Approval
	Audit    model.AuditEntry
}

// Decide applies a decision. The email must be awaiting approval when it
// is read; the check and the write are not atomic.
func (s *Service) Decide(ctx context.Context, in DecideInput) (DecideResult, error) {
	if _, err := model.ParseDecision(string(in.Decision)); err != nil {
		return DecideResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	typ, err := model.ParseApprovalType(string(in.Type))
	if err != nil {
		return DecideResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.Actor == "" {
		return DecideResult{}, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}

	email, err := s.store.GetEmail(ctx, in.EmailID)
	if err != nil {
		return DecideResult{}, fmt.Errorf("approvals: decide: %w", err)
	}
	if email.Status != model.EmailAwaitingApproval {
		return DecideResult{}, fmt.Errorf("%w: email %s is %s", ErrNotAwaitingApproval, email.ID, email.Status)
	}

	// Step 1. Nothing else is written if this fails.
	email, err = s.store.UpdateEmailStatus(ctx, email.ID, in.Decision.EmailStatus())
	if err != nil {
		return DecideResult{}, fmt.Errorf("approvals: decide: %s: %w", StepEmailStatus, err)
	}
	s.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(in.Decision))))

	// Step 2.
	decidedAt := s.now()
	approval, err := s.store.InsertApproval(ctx, model.Approval{
		EmailQueueID: email.ID,
		ApprovalType: typ,
		RequestBody:  model.ApprovalSummary(typ, in.Decision, email.FromEmail, email.Subject),
		Status:       model.ApprovalStatus(in.Decision),
		ApprovedBy:   in.Actor,
		ApprovedAt:   &decidedAt,
		Notes:        in.Notes,
		RequestedAt:  email.CreatedAt,
	})
	if err != nil {
		s.logger.Error("approval decision partially applied",
			"email_id", email.ID, "decision", in.Decision, "step", StepApproval, "error", err)
		return DecideResult{}, &PartialDecisionError{Step: StepApproval, Email: email, Err: err}
	}

	// Step 3.
	entry, err := s.store.InsertAuditEntry(ctx, model.AuditEntry{
		Agent:  s.mailAgent,
		Action: in.Decision.AuditAction(),
		Details: map[string]any{
			"email_id":   email.ID.String(),
			"from":       email.FromEmail,
			"subject":    email.Subject,
			"client":     email.ClientName(),
			"decided_by": in.Actor,
		},
		Status:     model.AuditSuccess,
		ExecutedAt: decidedAt,
	})
	if err != nil {
		s.logger.Error("approval decision partially applied",
			"email_id", email.ID, "decision", in.Decision, "step", StepAudit, "error", err)
		return DecideResult{}, &PartialDecisionError{Step: StepAudit, Email: email, Approval: &approval, Err: err}
	}

	s.logger.Info("email decided", "email_id", email.ID, "decision", in.Decision, "actor", in.Actor)
	return DecideResult{Email: email, Approval: approval, Audit: entry}, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, MaxListLimit)
}
