// Sentinel is a policy-as-code governance engine for AI quality operations.
//
// It evaluates daily quality snapshots against a YAML governance policy,
// dispatches the triggered actions (alerts, runtime blocks, tuning runs),
// gates risky operations on the resulting overrides and records every
// decision in a tamper-evident audit ledger.
//
// Usage:
//
//	# Start the API server, scheduler and NATS ingest
//	sentinel run --config sentinel.yaml
//
//	# Write the built-in policy and compile it
//	sentinel policy init policy.yaml
//	sentinel policy compile policy.yaml --by alice
//
//	# Ask whether a deploy may proceed (exit status 3 when blocked)
//	sentinel enforce --service checkout --team team-a --action deploy_model
//
//	# Advance the staged rollout
//	sentinel rollout advance --by alice
//
//	# Export every audit entry a user appears in
//	sentinel audit export --uid alice --format csv
package main

func main() {
	Execute()
}
