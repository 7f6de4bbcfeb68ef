package policy

import (
	"errors"
	"fmt"
)

// ErrInvalidPolicy classifies every compile rejection.
var ErrInvalidPolicy = errors.New("invalid policy")

// ConfigError reports a policy document that failed to parse or validate.
// Rejected documents are never persisted.
type ConfigError struct {
	Field   string // Dotted field path, empty for whole-document failures
	Message string // Human-readable reason
	Cause   error  // Underlying parse or schema error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("policy config error: %s: %v", msg, e.Cause)
	}
	return "policy config error: " + msg
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is matches ErrInvalidPolicy.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidPolicy
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string, cause error) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}
