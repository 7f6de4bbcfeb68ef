// Package logging configures the process-wide log/slog logger.
//
// New builds a JSON or text handler and, when PII redaction is enabled,
// wraps it in a RedactingHandler so every component logging through
// slog.Default() is covered. Setup installs the result as the default.
//
// Components derive their logger once:
//
//	logger := slog.Default().With("component", "rollout.controller")
//
// Request-scoped fields travel on the context:
//
//	ctx = logging.WithRequestID(ctx, id)
//	ctx = logging.WithActor(ctx, "alice")
//	logging.FromContext(ctx, logger).Info("rollout advanced")
//
// # PII Redaction
//
// String attribute values are scanned for emails, phone numbers, SSNs,
// card numbers, bearer tokens, API keys and password assignments. Values
// under sensitive keys (password, secret, token, api_key, ...) are masked
// regardless of content.
package logging
