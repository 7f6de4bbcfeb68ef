package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/policy/evaluator"
	"mercator-hq/sentinel/pkg/snapshot"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write loses a race.
	ErrConflict = errors.New("conflicting write")
)

// Wildcard in a disabled set blocks every guarded operation.
const Wildcard = "*"

// RuntimeOverride is the singleton record of currently disabled operations.
type RuntimeOverride struct {
	Disabled  []string  `json:"disabled"`
	Reason    string    `json:"reason"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Revision increases by one on every write.
	Revision int64 `json:"revision"`
}

// Blocks reports whether operation is disabled, either by name or by the
// wildcard.
func (o *RuntimeOverride) Blocks(operation string) bool {
	if o == nil {
		return false
	}
	return slices.Contains(o.Disabled, Wildcard) ||
		(operation != "" && slices.Contains(o.Disabled, operation))
}

// RolloutState is the singleton staged-rollout position.
type RolloutState struct {
	// StageIndex is -1 before the first advance.
	StageIndex int       `json:"stageIndex"`
	Percent    int       `json:"percent"`
	UpdatedAt  time.Time `json:"updatedAt"`
	ApprovedBy string    `json:"approvedBy,omitempty"`
	Revision   int64     `json:"revision"`
}

// InitialRollout is the state reported before any advance was persisted.
func InitialRollout() RolloutState {
	return RolloutState{StageIndex: -1}
}

// AlertRecord aggregates one evaluation pass that triggered rules.
type AlertRecord struct {
	ID             string                    `json:"id"`
	CreatedAt      time.Time                 `json:"createdAt"`
	Type           string                    `json:"type"`
	Severity       policy.Severity           `json:"severity"`
	Message        string                    `json:"message"`
	RulesTriggered []evaluator.TriggeredRule `json:"rulesTriggered,omitempty"`
	Messages       []string                  `json:"messages,omitempty"`
	GovernanceDate string                    `json:"governanceDate,omitempty"`
	PolicyID       string                    `json:"policyId,omitempty"`

	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy string     `json:"resolvedBy,omitempty"`
}

// Alert types written by the engine.
const (
	AlertTypeGovernance = "governance"
	AlertTypeDrift      = "policy_drift"
)

// AlertFilter narrows ListAlerts. Zero values match everything.
type AlertFilter struct {
	Type     string
	Resolved *bool
	Since    time.Time
	Limit    int
}

// Match reports whether a passes the filter, ignoring Limit.
func (f AlertFilter) Match(a *AlertRecord) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Resolved != nil && a.Resolved != *f.Resolved {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// PolicyStore persists compiled policy documents. Only documents that
// passed policy.Compile are ever written.
type PolicyStore interface {
	PutPolicy(ctx context.Context, doc *policy.Document) error
	// GetPolicy returns ErrNotFound when id is absent.
	GetPolicy(ctx context.Context, id string) (*policy.Document, error)
	// ListPolicies returns every stored document ordered by id.
	ListPolicies(ctx context.Context) ([]*policy.Document, error)
}

// OverrideStore holds the runtime override singleton.
type OverrideStore interface {
	// GetOverride returns ErrNotFound when no override was ever written.
	GetOverride(ctx context.Context) (*RuntimeOverride, error)
	// ReplaceOverride overwrites the disabled set (replace, not union) and
	// returns the stored record with its new revision.
	ReplaceOverride(ctx context.Context, o RuntimeOverride) (*RuntimeOverride, error)
}

// RolloutStore holds the rollout singleton.
type RolloutStore interface {
	// GetRollout returns InitialRollout when nothing was persisted.
	GetRollout(ctx context.Context) (RolloutState, error)
	// CompareAndSwapRollout writes next only if the stored stage index still
	// equals expectedIdx. A lost race returns ErrConflict.
	CompareAndSwapRollout(ctx context.Context, expectedIdx int, next RolloutState) (RolloutState, error)
}

// AlertStore holds append-only alert records.
type AlertStore interface {
	// AppendAlert assigns ID and CreatedAt when unset.
	AppendAlert(ctx context.Context, a *AlertRecord) error
	// ListAlerts returns matching alerts newest first.
	ListAlerts(ctx context.Context, f AlertFilter) ([]*AlertRecord, error)
	// ResolveAlert marks an alert resolved. Resolving twice keeps the first
	// resolution. Unknown ids return ErrNotFound.
	ResolveAlert(ctx context.Context, id, by string, at time.Time) (*AlertRecord, error)
}

// SnapshotStore keeps received metrics snapshots.
type SnapshotStore interface {
	// PutSnapshot stores s keyed by date and team; a later snapshot for the
	// same key overwrites the earlier one.
	PutSnapshot(ctx context.Context, s snapshot.Snapshot) error
	// LatestSnapshot returns the most recently received snapshot, or
	// ErrNotFound.
	LatestSnapshot(ctx context.Context) (*snapshot.Snapshot, error)
}

// Store is the full durable state used by the engine.
type Store interface {
	PolicyStore
	OverrideStore
	RolloutStore
	AlertStore
	SnapshotStore

	// Ping checks connectivity for readiness probes.
	Ping(ctx context.Context) error
	Close() error
}

// StoreError wraps an infrastructure failure from a backend.
type StoreError struct {
	Backend   string // "memory", "sqlite", "redis"
	Operation string // Operation that failed
	Cause     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a new StoreError.
func NewStoreError(backend, operation string, cause error) *StoreError {
	return &StoreError{Backend: backend, Operation: operation, Cause: cause}
}

// IsUnavailable reports whether err is an infrastructure failure rather
// than a not-found or conflict outcome.
func IsUnavailable(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return false
	}
	var se *StoreError
	return errors.As(err, &se) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
