// Package policy defines governance policy documents and their compiler.
//
// A policy document declares:
//   - rules: metric conditions mapped to one of five action kinds
//   - actions: typed configuration for each action kind
//   - scope: the services and teams the policy governs
//   - thresholds: quality gates for staged rollout
//   - rollout: ordered stages with minimum dwell hours
//
// Documents are authored as YAML and only become durable through Compile,
// which checks them against a JSON Schema and a set of semantic rules
// before stamping compiledAt/compiledBy:
//
//	doc, err := policy.Compile(src, "alice", time.Now())
//	if err != nil {
//		var cfgErr *policy.ConfigError
//		errors.As(err, &cfgErr) // always true for compile failures
//	}
//
// Subpackages provide the pure rule evaluator, a file watcher that
// recompiles on change, and a Git source for GitOps workflows.
package policy
