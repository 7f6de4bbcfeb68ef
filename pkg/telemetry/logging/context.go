package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	// RequestIDKey carries the HTTP or message request ID.
	RequestIDKey contextKey = "request_id"

	// ActorKey carries the uid of whoever triggered the operation.
	ActorKey contextKey = "actor"

	// TeamKey carries the team an enforcement call is made for.
	TeamKey contextKey = "team"

	// ServiceKey carries the calling service.
	ServiceKey contextKey = "service"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// WithActor adds the acting uid to the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetActor retrieves the acting uid from the context.
func GetActor(ctx context.Context) string {
	return stringValue(ctx, ActorKey)
}

// WithTeam adds a team ID to the context.
func WithTeam(ctx context.Context, team string) context.Context {
	return context.WithValue(ctx, TeamKey, team)
}

// GetTeam retrieves the team ID from the context.
func GetTeam(ctx context.Context) string {
	return stringValue(ctx, TeamKey)
}

// WithService adds a service name to the context.
func WithService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, ServiceKey, service)
}

// GetService retrieves the service name from the context.
func GetService(ctx context.Context) string {
	return stringValue(ctx, ServiceKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// Fields returns the context's log fields as key/value pairs, including
// the active span's trace and span IDs.
func Fields(ctx context.Context) []any {
	var fields []any
	for _, key := range []contextKey{RequestIDKey, ActorKey, TeamKey, ServiceKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	return fields
}

// FromContext returns logger with the context's fields attached. A nil
// logger means slog.Default().
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	fields := Fields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
