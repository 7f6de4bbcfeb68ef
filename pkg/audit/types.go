package audit

import (
	"context"
	"time"

	"mercator-hq/sentinel/pkg/policy"
)

// Actions recorded by the governance engine.
const (
	ActionPolicyCompile  = "policy_compile"
	ActionPolicyBlock    = "policy_block"
	ActionRolloutAdvance = "rollout_advance"
	ActionBlockRiskyOps  = "governance_block_risky_ops"
	ActionBlockAll       = "governance_block_all"
	ActionEscalate       = "governance_escalate"
	ActionOverrideClear  = "override_clear"
	ActionAlertResolve   = "alert_resolve"
)

// Actor identifies who caused an entry.
type Actor struct {
	UID  string `json:"uid"`
	Role string `json:"role,omitempty"`
}

// Subject identifies what an entry is about.
type Subject struct {
	UID      string `json:"uid,omitempty"`
	TeamID   string `json:"teamId,omitempty"`
	Service  string `json:"service,omitempty"`
	PolicyID string `json:"policyId,omitempty"`
}

// Model references the model version a decision concerned.
type Model struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// PolicyInfo records which rules matched and the resulting risk.
type PolicyInfo struct {
	MatchedRules []string        `json:"matchedRules"`
	Risk         policy.Severity `json:"risk"`
}

// PIIInfo records whether PII was redacted from Input/Output.
type PIIInfo struct {
	Redacted bool     `json:"redacted"`
	Fields   []string `json:"fields"`
}

// Consent records the legal basis for processing.
type Consent struct {
	Basis string   `json:"basis"`
	Scope []string `json:"scope"`
}

// Links references related records for explanation.
type Links struct {
	AlertID      string   `json:"alertId,omitempty"`
	SnapshotDate string   `json:"snapshotDate,omitempty"`
	Related      []string `json:"related,omitempty"`
}

// Integrity holds the content hash computed at write time.
type Integrity struct {
	SHA256 string `json:"sha256"`
}

// Entry is one append-only audit record. Entries are never updated or
// deleted once written.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	Actor     Actor          `json:"actor"`
	Action    string         `json:"action"`
	Subject   Subject        `json:"subject"`
	Model     *Model         `json:"model,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Policy    PolicyInfo     `json:"policy"`
	PII       PIIInfo        `json:"pii"`
	Consent   *Consent       `json:"consent,omitempty"`
	Links     *Links         `json:"links,omitempty"`
	Error     string         `json:"error,omitempty"`
	Integrity Integrity      `json:"integrity"`
}

// Receipt is returned for every persisted entry.
type Receipt struct {
	ID     string `json:"id"`
	SHA256 string `json:"sha256"`
}

// Query filters audit entries. Zero values match everything. Results are
// ordered newest first.
type Query struct {
	Start      time.Time `json:"start,omitempty"` // Inclusive
	End        time.Time `json:"end,omitempty"`   // Inclusive
	ActorUID   string    `json:"actorUid,omitempty"`
	SubjectUID string    `json:"subjectUid,omitempty"`
	TeamID     string    `json:"teamId,omitempty"`
	Action     string    `json:"action,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Match reports whether e passes the filters, ignoring pagination.
func (q *Query) Match(e *Entry) bool {
	if q == nil {
		return true
	}
	if !q.Start.IsZero() && e.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && e.Timestamp.After(q.End) {
		return false
	}
	if q.ActorUID != "" && e.Actor.UID != q.ActorUID {
		return false
	}
	if q.SubjectUID != "" && e.Subject.UID != q.SubjectUID {
		return false
	}
	if q.TeamID != "" && e.Subject.TeamID != q.TeamID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	return true
}

// Storage persists audit entries. It has no update or delete operation.
type Storage interface {
	// Append writes e. Writing an existing ID fails.
	Append(ctx context.Context, e *Entry) error

	// Get returns the entry with id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Entry, error)

	// Query returns matching entries newest first.
	Query(ctx context.Context, q *Query) ([]*Entry, error)

	// Count returns the number of matching entries, ignoring pagination.
	Count(ctx context.Context, q *Query) (int64, error)

	Close() error
}
