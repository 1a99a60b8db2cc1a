package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the self-reported state of an automation agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentIdle    AgentStatus = "idle"
	AgentOffline AgentStatus = "offline"
	AgentError   AgentStatus = "error"
)

// ParseAgentStatus validates an agent status. Any status may follow any
// other; only the value itself is checked.
func ParseAgentStatus(s string) (AgentStatus, error) {
	switch AgentStatus(s) {
	case AgentOnline, AgentIdle, AgentOffline, AgentError:
		return AgentStatus(s), nil
	default:
		return "", fmt.Errorf("agent status must be online, idle, offline or error, got %q", s)
	}
}

// Agent is a named automation unit external to this service. The registry
// only stores what agents (or operators) last reported.
type Agent struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	Role         string      `json:"role"`
	Status       AgentStatus `json:"status"`
	CurrentTask  *string     `json:"current_task,omitempty"`
	LastActivity *time.Time  `json:"last_activity,omitempty"`
	HealthCheck  bool        `json:"health_check"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// CountByStatus counts agents in the given status. The dashboard derives
// its "online" figure this way instead of asking the store.
func CountByStatus(agents []Agent, status AgentStatus) int {
	n := 0
	for _, a := range agents {
		if a.Status == status {
			n++
		}
	}
	return n
}

// ValidateAgentName checks that an agent name is usable as a key.
// Names are display strings ("Sophia CSM"), so spaces are allowed.
func ValidateAgentName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("agent name is required")
	}
	if len(name) > 128 {
		return fmt.Errorf("agent name must be at most 128 characters")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c == 0x7f {
			return fmt.Errorf("agent name contains control character at position %d", i)
		}
	}
	return nil
}
