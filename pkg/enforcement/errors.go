package enforcement

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTeamNotInScope is returned when the caller's team is outside the
	// policy's team scope.
	ErrTeamNotInScope = errors.New("team not in scope")

	// ErrActionBlocked is returned when the requested operation is in the
	// runtime disabled set.
	ErrActionBlocked = errors.New("action blocked")

	// ErrStoreUnavailable is returned when policy or override state could
	// not be read. The gate fails closed.
	ErrStoreUnavailable = errors.New("governance state unavailable")
)

// BlockedError is returned for every policy denial. It matches
// ErrActionBlocked or ErrTeamNotInScope with errors.Is.
type BlockedError struct {
	// Code is "action_blocked" or "team_not_in_scope".
	Code string

	Service  string
	TeamID   string
	Action   string
	Disabled []string

	// Reason is the override reason recorded when the block was written.
	Reason string

	// AuditID references the policy_block audit entry, when it was written.
	AuditID string
}

// NewBlockedError builds the denial for req from a disallowing decision.
func NewBlockedError(req Request, d *Decision) *BlockedError {
	return &BlockedError{
		Code:     d.Code,
		Service:  req.Service,
		TeamID:   req.TeamID,
		Action:   req.Action,
		Disabled: d.Disabled,
		Reason:   d.Reason,
		AuditID:  d.AuditID,
	}
}

// Error renders the wire form "blocked_by_policy:<detail>".
func (e *BlockedError) Error() string {
	if e.Code == CodeTeamNotInScope {
		return "blocked_by_policy:team_not_in_scope:" + e.TeamID
	}
	return "blocked_by_policy:" + strings.Join(e.Disabled, ",")
}

// Is matches the sentinel for the denial kind.
func (e *BlockedError) Is(target error) bool {
	switch target {
	case ErrActionBlocked:
		return e.Code == CodeActionBlocked
	case ErrTeamNotInScope:
		return e.Code == CodeTeamNotInScope
	}
	return false
}

// UnavailableError wraps a store failure that made the gate fail closed.
type UnavailableError struct {
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("enforcement failed closed [operation=%s]: %v", e.Operation, e.Cause)
}

// Unwrap returns both the sentinel and the cause.
func (e *UnavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Cause}
}
