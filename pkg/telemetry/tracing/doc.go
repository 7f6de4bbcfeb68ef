// Package tracing configures OpenTelemetry for Sentinel.
//
// New installs a global tracer provider exporting over OTLP/gRPC and the
// W3C trace-context propagator. Components never hold a *Tracer; they
// call otel.Tracer("mercator-hq/sentinel/<pkg>") and pick up whatever
// provider is installed, so with tracing disabled every span is a no-op.
//
// Span names used across the engine:
//
//	engine.OnSnapshot
//	dispatch.Dispatch
//	enforcement.Check
//	rollout.Advance
//	ingest.handle
//
// Trace context crosses process boundaries as traceparent headers on HTTP
// requests (HTTPMiddleware) and NATS messages (Extract on msg.Header).
package tracing
