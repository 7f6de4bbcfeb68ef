// Package server exposes the governance engine over HTTP.
//
// Routes are mounted on a chi router behind a recovery, request ID,
// trace propagation and access log chain. Request bodies under /v1 are
// capped at the configured MaxBodyBytes.
//
// # Routes
//
//	POST   /v1/policies                compile and store a YAML policy
//	GET    /v1/policies[/{id}]         list or fetch compiled policies
//	POST   /v1/snapshots               evaluate a metrics snapshot
//	POST   /v1/events                  roll up raw events and evaluate (?buffer=true defers)
//	POST   /v1/enforce                 gate decision, 403 when blocked
//	GET    /v1/rollout                 rollout status
//	POST   /v1/rollout/advance         advance one stage
//	GET    /v1/overrides               current runtime override
//	DELETE /v1/overrides               clear every runtime block
//	GET    /v1/alerts                  list alerts (type, resolved, since, limit)
//	POST   /v1/alerts/{id}/resolve     resolve an alert
//	POST   /v1/drift/check             compare stored policy with runtime state
//	GET    /v1/audit                   query the ledger
//	GET    /v1/audit/export?uid=       subject access export, json or csv
//	GET    /v1/audit/{id}[/explain]    one entry, or its explanation
//
// Health, readiness, version and Prometheus metrics are served at the
// paths configured under telemetry.
//
// Admin callers identify themselves with the X-Sentinel-Actor header or a
// ?by= query parameter; the name is recorded as the audit actor.
//
// # Errors
//
// Failures are JSON objects with an "error" code. Rollout rejections use
// the rejection code with 409 (404 for policy_not_found), enforcement
// denials carry the blocked_by_policy wire string with 403, invalid
// policies return 400 and unreadable governance state returns 503.
package server
