package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmailStatus is the lifecycle state of a queued email.
type EmailStatus string

const (
	EmailPending          EmailStatus = "pending"
	EmailAnalyzing        EmailStatus = "analyzing"
	EmailAwaitingApproval EmailStatus = "awaiting_approval"
	EmailApproved         EmailStatus = "approved"
	EmailRejected         EmailStatus = "rejected"
	EmailSent             EmailStatus = "sent"
)

// ParseEmailStatus validates an email status string.
func ParseEmailStatus(s string) (EmailStatus, error) {
	switch EmailStatus(s) {
	case EmailPending, EmailAnalyzing, EmailAwaitingApproval, EmailApproved, EmailRejected, EmailSent:
		return EmailStatus(s), nil
	default:
		return "", fmt.Errorf("unknown email status %q", s)
	}
}

// Email is a row of the email queue. Agents write these as they triage
// inbound mail; Analysis is produced by the external AI process.
type Email struct {
	ID               uuid.UUID      `json:"id"`
	FromEmail        string         `json:"from_email"`
	ToEmail          string         `json:"to_email"`
	Subject          string         `json:"subject"`
	Body             *string        `json:"body,omitempty"`
	Client           *string        `json:"client,omitempty"`
	Priority         *int           `json:"priority,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	Analysis         map[string]any `json:"analysis,omitempty"`
	Status           EmailStatus    `json:"status"`
	ReceivedAt       *time.Time     `json:"received_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// ClientName returns the client slug or "" when unset.
func (e Email) ClientName() string {
	if e.Client == nil {
		return ""
	}
	return *e.Client
}

// Decision is a human verdict on a held email.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ParseDecision validates a decision string.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApproved, DecisionRejected:
		return Decision(s), nil
	default:
		return "", fmt.Errorf("decision must be %q or %q, got %q", DecisionApproved, DecisionRejected, s)
	}
}

// EmailStatus returns the email status the decision moves to.
func (d Decision) EmailStatus() EmailStatus {
	if d == DecisionApproved {
		return EmailApproved
	}
	return EmailRejected
}

// AuditAction returns the audit action recorded for the decision.
func (d Decision) AuditAction() AuditAction {
	if d == DecisionApproved {
		return ActionEmailApproved
	}
	return ActionEmailRejected
}

// ApprovalType distinguishes routine drafts from escalations.
type ApprovalType string

const (
	ApprovalRoutine    ApprovalType = "routine_response"
	ApprovalEscalation ApprovalType = "escalation_response"
)

// ParseApprovalType validates an approval type; empty means routine.
func ParseApprovalType(s string) (ApprovalType, error) {
	switch ApprovalType(s) {
	case "", ApprovalRoutine:
		return ApprovalRoutine, nil
	case ApprovalEscalation:
		return ApprovalEscalation, nil
	default:
		return "", fmt.Errorf("unknown approval type %q", s)
	}
}

// ApprovalStatus is the state of an approval record.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval records a human decision against a held email.
type Approval struct {
	ID           uuid.UUID      `json:"id"`
	EmailQueueID uuid.UUID      `json:"email_queue_id"`
	ApprovalType ApprovalType   `json:"approval_type"`
	RequestBody  string         `json:"request_body"`
	Status       ApprovalStatus `json:"status"`
	ApprovedBy   string         `json:"approved_by"`
	ApprovedAt   *time.Time     `json:"approved_at,omitempty"`
	Notes        *string        `json:"notes,omitempty"`
	RequestedAt  time.Time      `json:"requested_at"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ApprovalSummary builds the human-readable request body stored with an
// approval. Routine approvals read "Approved email from a@b: Subject";
// escalations read "approved — a@b: Subject".
func ApprovalSummary(t ApprovalType, d Decision, from, subject string) string {
	if t == ApprovalEscalation {
		return fmt.Sprintf("%s — %s: %s", d, from, subject)
	}
	word := string(d)
	word = strings.ToUpper(word[:1]) + word[1:]
	return fmt.Sprintf("%s email from %s: %s", word, from, subject)
}
