package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction is the kind of event recorded in the audit log.
type AuditAction string

// Governed actions.
const (
	ActionKillSwitchActivated   AuditAction = "kill_switch_activated"
	ActionKillSwitchDeactivated AuditAction = "kill_switch_deactivated"
	ActionEmailApproved         AuditAction = "email_approved"
	ActionEmailRejected         AuditAction = "email_rejected"
	ActionAgentStatusChanged    AuditAction = "agent_status_changed"
	ActionEmailSent             AuditAction = "email_sent"
	ActionEmailAnalyzed         AuditAction = "email_analyzed"
	ActionSettingsUpdated       AuditAction = "settings_updated"
)

var governedActions = map[AuditAction]bool{
	ActionKillSwitchActivated:   true,
	ActionKillSwitchDeactivated: true,
	ActionEmailApproved:         true,
	ActionEmailRejected:         true,
	ActionAgentStatusChanged:    true,
	ActionEmailSent:             true,
	ActionEmailAnalyzed:         true,
	ActionSettingsUpdated:       true,
}

// serviceOwnedActions are written only by Mission Control itself as a side
// effect of the matching operation. Agents cannot record them directly.
var serviceOwnedActions = map[AuditAction]bool{
	ActionKillSwitchActivated:   true,
	ActionKillSwitchDeactivated: true,
	ActionEmailApproved:         true,
	ActionEmailRejected:         true,
	ActionAgentStatusChanged:    true,
	ActionSettingsUpdated:       true,
}

// ServiceOwned reports whether a is recorded only by Mission Control.
func (a AuditAction) ServiceOwned() bool { return serviceOwnedActions[a] }

// AuditStatus is the outcome of a recorded action.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailure AuditStatus = "failure"
	AuditPending AuditStatus = "pending"
)

// AuditEntry is one append-only audit log record. Entries are never
// updated or deleted; Seq breaks ties between equal ExecutedAt values.
type AuditEntry struct {
	ID           uuid.UUID      `json:"id"`
	Seq          int64          `json:"seq"`
	Agent        string         `json:"agent"`
	Action       AuditAction    `json:"action"`
	Details      map[string]any `json:"details"`
	Status       AuditStatus    `json:"status"`
	ExecutedAt   time.Time      `json:"executed_at"`
	DurationMS   *int64         `json:"duration_ms,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
}

// ValidateAuditAction checks the action against the governed vocabulary
// and the scheduled job catalogue.
func ValidateAuditAction(a AuditAction) error {
	if governedActions[a] {
		return nil
	}
	if _, ok := JobByAction(string(a)); ok {
		return nil
	}
	return fmt.Errorf("unknown audit action %q", a)
}

// ValidateExternalAuditAction is ValidateAuditAction for entries submitted
// by callers: service-owned actions are refused.
func ValidateExternalAuditAction(a AuditAction) error {
	if err := ValidateAuditAction(a); err != nil {
		return err
	}
	if a.ServiceOwned() {
		return fmt.Errorf("audit action %q is recorded by mission control and cannot be submitted", a)
	}
	return nil
}

// ValidateAuditStatus checks the outcome value.
func ValidateAuditStatus(s AuditStatus) error {
	switch s {
	case AuditSuccess, AuditFailure, AuditPending:
		return nil
	default:
		return fmt.Errorf("audit status must be success, failure or pending, got %q", s)
	}
}

// AuditFilter narrows an audit query. Agent is an exact match; Text is a
// case-insensitive substring matched against agent, action and status.
type AuditFilter struct {
	Agent string `json:"agent,omitempty"`
	Text  string `json:"q,omitempty"`
}
