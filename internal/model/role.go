package model

// Role is the access level carried by an API token.
type Role string

const (
	// RoleOperator is a human operator: may flip the kill switch and decide approvals.
	RoleOperator Role = "operator"
	// RoleAgent is an automation agent: may record events, report status and enqueue email.
	RoleAgent Role = "agent"
	// RoleReader may only read.
	RoleReader Role = "reader"
)

// RoleRank returns the numeric rank of a role (higher = more privileges).
func RoleRank(r Role) int {
	switch r {
	case RoleOperator:
		return 3
	case RoleAgent:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole Role) bool {
	return RoleRank(r) >= RoleRank(minRole)
}
