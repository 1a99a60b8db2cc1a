// Package missioncontrol provides a Go client for the Mission Control API.
package missioncontrol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error represents an error from the Mission Control API with the HTTP
// status code and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	// Details is the raw error details object, when the server sent one.
	Details json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("missioncontrol: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func statusIs(err error, code int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == code
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return statusIs(err, 404) }

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool { return statusIs(err, 401) }

// IsForbidden returns true if the error is a 403.
func IsForbidden(err error) bool { return statusIs(err, 403) }

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool { return statusIs(err, 429) }

// IsConflict returns true if the error is a 409. Deciding an email that is
// no longer awaiting approval returns a conflict.
func IsConflict(err error) bool { return statusIs(err, 409) }

// PartialFailure describes an approval decision that stopped part way.
type PartialFailure struct {
	FailedStep string    `json:"failed_step"`
	Email      Email     `json:"email"`
	Approval   *Approval `json:"approval,omitempty"`
}

// AsPartialFailure extracts the committed state from a PARTIAL_FAILURE
// error. ok is false for any other error.
func AsPartialFailure(err error) (pf PartialFailure, ok bool) {
	var e *Error
	if !errors.As(err, &e) || e.Code != "PARTIAL_FAILURE" || len(e.Details) == 0 {
		return PartialFailure{}, false
	}
	if json.Unmarshal(e.Details, &pf) != nil {
		return PartialFailure{}, false
	}
	return pf, true
}
