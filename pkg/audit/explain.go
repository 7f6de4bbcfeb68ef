package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mercator-hq/sentinel/pkg/policy"
)

// PolicyLookup resolves the policy an entry refers to.
type PolicyLookup interface {
	GetPolicy(ctx context.Context, id string) (*policy.Document, error)
}

// Explanation joins an entry with the context needed to read it.
type Explanation struct {
	Entry *Entry `json:"entry"`

	// Why is the reconstructed reasoning chain, one line per fact.
	Why []string `json:"why"`

	// Policy is the referenced policy document, when it still exists.
	Policy *policy.Document `json:"policy,omitempty"`

	// Verified reports whether the stored hash matches the entry body.
	Verified bool `json:"verified"`
}

// Explainer answers "why did this happen" for a stored entry.
type Explainer struct {
	storage  Storage
	policies PolicyLookup
	logger   *slog.Logger
}

// NewExplainer creates an explainer. policies may be nil.
func NewExplainer(storage Storage, policies PolicyLookup) *Explainer {
	return &Explainer{
		storage:  storage,
		policies: policies,
		logger:   slog.Default().With("component", "audit.explainer"),
	}
}

// Explain loads entry id and reconstructs its reasoning chain. Returns
// ErrNotFound for unknown ids.
func (x *Explainer) Explain(ctx context.Context, id string) (*Explanation, error) {
	if id == "" {
		return nil, NewQueryError("id", "id is required")
	}
	e, err := x.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	verified, err := Verify(e)
	if err != nil {
		x.logger.Warn("hash verification failed", "entry_id", id, "error", err)
	}

	out := &Explanation{
		Entry:    e,
		Why:      WhyChain(e),
		Verified: verified,
	}

	if x.policies != nil && e.Subject.PolicyID != "" {
		doc, err := x.policies.GetPolicy(ctx, e.Subject.PolicyID)
		if err != nil {
			x.logger.Debug("referenced policy unavailable",
				"entry_id", id,
				"policy_id", e.Subject.PolicyID,
				"error", err,
			)
		} else {
			out.Policy = doc
		}
	}
	return out, nil
}

// WhyChain renders the facts recorded on e in a fixed order: matched
// rules, linked records, model, action, error.
func WhyChain(e *Entry) []string {
	why := []string{}
	if len(e.Policy.MatchedRules) > 0 {
		why = append(why, "policy matched: "+strings.Join(e.Policy.MatchedRules, ", "))
	}
	if e.Links != nil {
		if e.Links.AlertID != "" {
			why = append(why, "alert: "+e.Links.AlertID)
		}
		if e.Links.SnapshotDate != "" {
			why = append(why, "snapshot: "+e.Links.SnapshotDate)
		}
		if n := len(e.Links.Related); n > 0 {
			why = append(why, fmt.Sprintf("related records: %d", n))
		}
	}
	if e.Model != nil && e.Model.Name != "" {
		version := e.Model.Version
		if version == "" {
			version = "unknown"
		}
		why = append(why, fmt.Sprintf("model: %s (v%s)", e.Model.Name, version))
	}
	if e.Action != "" {
		why = append(why, "action: "+e.Action)
	}
	if e.Error != "" {
		why = append(why, "error: "+e.Error)
	}
	return why
}
