// Package health serves liveness and readiness probes.
//
// Liveness only reports that the process is up. Readiness runs every
// registered check concurrently, each under its own timeout; the engine
// registers the state store ping, the audit ledger ping and policy
// availability. Any failing check turns readiness into 503 "degraded".
package health
