// Package evaluator implements the pure rule evaluation step of the
// governance engine: snapshot × rules → triggered rules.
package evaluator

import (
	"fmt"

	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/snapshot"
)

// TriggeredRule is a rule whose condition held, with the observed value.
type TriggeredRule struct {
	policy.Rule `yaml:",inline"`

	// CurrentValue is the metric value that satisfied the rule.
	CurrentValue float64 `json:"currentValue"`
}

// Describe renders "metric op value (current: v) → action".
func (t TriggeredRule) Describe() string {
	return fmt.Sprintf("%s (current: %s) → %s", t.Rule.String(), policy.FormatNumber(t.CurrentValue), t.Action)
}

// Compare applies op to observed and target. Unknown operators never match.
// Equality is exact float comparison.
func Compare(op policy.Operator, observed, target float64) bool {
	switch op {
	case policy.OpLessThan:
		return observed < target
	case policy.OpGreaterThan:
		return observed > target
	case policy.OpLessEqual:
		return observed <= target
	case policy.OpGreaterEqual:
		return observed >= target
	case policy.OpEqual:
		return observed == target
	default:
		return false
	}
}

// Evaluate returns every rule whose metric is present in snap and whose
// comparison holds, in rule order. Rules are independent: several may
// trigger on the same metric and there is no short-circuit.
func Evaluate(snap *snapshot.Snapshot, rules []policy.Rule) []TriggeredRule {
	var triggered []TriggeredRule
	for _, r := range rules {
		v, ok := snap.Value(r.Metric)
		if !ok {
			continue
		}
		if Compare(r.Operator, v, r.Value) {
			triggered = append(triggered, TriggeredRule{Rule: r, CurrentValue: v})
		}
	}
	return triggered
}

// ByAction groups triggered rules by action kind, preserving order.
func ByAction(triggered []TriggeredRule) map[policy.ActionKind][]TriggeredRule {
	out := make(map[policy.ActionKind][]TriggeredRule)
	for _, t := range triggered {
		out[t.Action] = append(out[t.Action], t)
	}
	return out
}

// Strings renders each triggered rule as "metric op value".
func Strings(triggered []TriggeredRule) []string {
	out := make([]string, len(triggered))
	for i, t := range triggered {
		out[i] = t.Rule.String()
	}
	return out
}
