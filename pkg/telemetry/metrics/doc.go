// Package metrics provides Prometheus metrics for the Sentinel governance
// engine.
//
// # Metrics Categories
//
//   - Evaluation: snapshots evaluated and rules triggered per action kind
//   - Dispatch: actions dispatched, notifications sent, overrides written
//   - Enforcement: gate decisions by result code and check latency
//   - Rollout: advance attempts by outcome and the current stage
//   - Audit: ledger writes by action and status
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordEvaluation("default-governance", 2, 3*time.Millisecond)
//	collector.RecordEnforcement("action_blocked", 400*time.Microsecond)
//	http.Handle("/metrics", collector.Handler())
//
// # Cardinality
//
// Rule labels come from policy documents and are bounded by a
// CardinalityLimiter; rules beyond the limit are reported as "other".
// Every other label is drawn from a closed set.
//
// # Disabled Collection
//
// When MetricsConfig.Enabled is false every Record method is a no-op but
// the registry and handler still work.
package metrics
