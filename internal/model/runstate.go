package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStateID is the fixed identity of the kill switch singleton. Every
// deployment has exactly one row with this id.
var RunStateID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// RunStatus is the shared on/off flag agents must check before acting.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusStopped RunStatus = "stopped"
)

// Default reasons applied when an operator toggles without giving one.
const (
	DefaultStopReason   = "Manual emergency stop"
	DefaultResumeReason = "Resume operations"
	SystemActor         = "System"
)

// RunState is the kill switch singleton. Only the current state is kept;
// transitions are recorded in the audit log.
type RunState struct {
	ID          uuid.UUID `json:"id"`
	Status      RunStatus `json:"status"`
	TriggeredAt time.Time `json:"triggered_at"`
	TriggeredBy string    `json:"triggered_by"`
	Reason      string    `json:"reason"`
}

// Running reports whether agents may proceed.
func (s RunState) Running() bool {
	return s.Status == RunStatusRunning
}

// ParseRunStatus validates a status string.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunStatusRunning, RunStatusStopped:
		return RunStatus(s), nil
	default:
		return "", fmt.Errorf("status must be %q or %q, got %q", RunStatusRunning, RunStatusStopped, s)
	}
}

// Opposite returns the status a toggle moves to.
func (s RunStatus) Opposite() RunStatus {
	if s == RunStatusStopped {
		return RunStatusRunning
	}
	return RunStatusStopped
}

// TransitionAction returns the audit action recorded when moving to s.
func (s RunStatus) TransitionAction() AuditAction {
	if s == RunStatusStopped {
		return ActionKillSwitchActivated
	}
	return ActionKillSwitchDeactivated
}

// FlagValue is the word written to the file flag consumed by agents.
func (s RunStatus) FlagValue() string {
	if s == RunStatusStopped {
		return FlagStop
	}
	return FlagRunning
}

// File flag contents.
const (
	FlagStop    = "STOP"
	FlagRunning = "RUNNING"
)

// ParseFlagValue maps a file flag word back to a run status.
func ParseFlagValue(v string) (RunStatus, error) {
	switch v {
	case FlagStop:
		return RunStatusStopped, nil
	case FlagRunning:
		return RunStatusRunning, nil
	default:
		return "", fmt.Errorf("flag value must be %q or %q, got %q", FlagStop, FlagRunning, v)
	}
}
