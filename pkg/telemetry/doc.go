// Package telemetry groups the observability packages used by Sentinel.
//
//   - logging: slog setup with PII redaction and context fields
//   - metrics: Prometheus collectors for evaluation, dispatch, enforcement,
//     rollout and audit
//   - tracing: OpenTelemetry tracer provider, sampling and propagation
//   - health: liveness and readiness probes
//
// Every subpackage is configured from config.TelemetryConfig.
package telemetry
