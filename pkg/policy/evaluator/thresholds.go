package evaluator

import (
	"fmt"
	"sort"

	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/snapshot"
)

// Default rollout gate thresholds, used when a threshold entry omits them.
const (
	DefaultPassRateTarget        = 0.9
	DefaultRegressionCountTarget = 3
)

// CheckThresholds compares snap against every declared threshold and
// returns the violations as "metric op target (current: v)". Metrics absent
// from the snapshot are skipped. A threshold without an operator or value
// always passes.
func CheckThresholds(thresholds map[string]policy.Threshold, snap *snapshot.Snapshot) []string {
	metrics := make([]string, 0, len(thresholds))
	for m := range thresholds {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	var violations []string
	for _, metric := range metrics {
		t := thresholds[metric]
		v, ok := snap.Value(metric)
		if !ok || t.Op == "" || t.Value == nil {
			continue
		}
		if !Compare(t.Op, v, *t.Value) {
			violations = append(violations, fmt.Sprintf("%s %s %s (current: %s)",
				metric, t.Op, policy.FormatNumber(*t.Value), policy.FormatNumber(v)))
		}
	}
	return violations
}

// RegressionGate evaluates the rollout quality gate: passRate and
// regressionCount against their thresholds. Only metrics with a declared
// threshold are checked; a missing op or value falls back to >= 0.9 and
// <= 3 respectively, and a missing snapshot metric passes. snap may be nil.
func RegressionGate(thresholds map[string]policy.Threshold, snap *snapshot.Snapshot) []string {
	type gate struct {
		metric   string
		op       policy.Operator
		target   float64
		fallback float64
	}
	gates := []gate{
		{snapshot.MetricPassRate, policy.OpGreaterEqual, DefaultPassRateTarget, 1},
		{snapshot.MetricRegressionCount, policy.OpLessEqual, DefaultRegressionCountTarget, 0},
	}

	var violations []string
	for _, g := range gates {
		t, declared := thresholds[g.metric]
		if !declared || snap == nil {
			continue
		}
		op, target := g.op, g.target
		if t.Op != "" {
			op = t.Op
		}
		if t.Value != nil {
			target = *t.Value
		}
		current := snap.ValueOr(g.metric, g.fallback)
		if !Compare(op, current, target) {
			violations = append(violations, fmt.Sprintf("%s %s %s (current: %s)",
				g.metric, op, policy.FormatNumber(target), policy.FormatNumber(current)))
		}
	}
	return violations
}
