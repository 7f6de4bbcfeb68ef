package rollout

import (
	"errors"
	"fmt"
)

// Rejection codes returned to callers.
const (
	CodeRegressionDetected = "regression_detected"
	CodeMinHoursNotMet     = "min_hours_not_met"
	CodeNoRolloutStages    = "no_rollout_stages"
	CodePolicyNotFound     = "policy_not_found"
	CodeConcurrentAdvance  = "concurrent_advance"
)

var (
	ErrRegressionDetected = errors.New("regression detected")
	ErrMinDwellNotMet     = errors.New("minimum dwell time not met")
	ErrNoRolloutStages    = errors.New("no rollout stages defined")
	ErrPolicyNotFound     = errors.New("policy not found")
	ErrConcurrentAdvance  = errors.New("rollout advanced concurrently")
)

var codeSentinels = map[string]error{
	CodeRegressionDetected: ErrRegressionDetected,
	CodeMinHoursNotMet:     ErrMinDwellNotMet,
	CodeNoRolloutStages:    ErrNoRolloutStages,
	CodePolicyNotFound:     ErrPolicyNotFound,
	CodeConcurrentAdvance:  ErrConcurrentAdvance,
}

// RejectionError is a typed refusal to advance. State is unchanged.
type RejectionError struct {
	Code    string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("rollout rejected [%s]: %s", e.Code, e.Message)
}

// Is matches the sentinel for e.Code.
func (e *RejectionError) Is(target error) bool {
	return codeSentinels[e.Code] == target
}

// NewRejectionError creates a new RejectionError.
func NewRejectionError(code, message string, details ...string) *RejectionError {
	return &RejectionError{Code: code, Message: message, Details: details}
}
