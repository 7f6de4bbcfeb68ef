package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Governance attribute keys, under the "sentinel." namespace.
const (
	AttrPolicyID     = "sentinel.policy.id"
	AttrSnapshotDate = "sentinel.snapshot.date"
	AttrTeam         = "sentinel.team"
	AttrService      = "sentinel.service"
	AttrOperation    = "sentinel.operation"
	AttrActor        = "sentinel.actor"
	AttrTriggered    = "sentinel.rules.triggered"
	AttrSeverity     = "sentinel.severity"
	AttrDecision     = "sentinel.enforcement.code"
)

// SetSnapshotAttributes tags an evaluation span.
func SetSnapshotAttributes(span trace.Span, policyID, date string, triggered int) {
	span.SetAttributes(
		attribute.String(AttrPolicyID, policyID),
		attribute.String(AttrSnapshotDate, date),
		attribute.Int(AttrTriggered, triggered),
	)
}

// SetRequestAttributes tags an enforcement or API span with the caller.
func SetRequestAttributes(span trace.Span, service, team, operation, actor string) {
	attrs := make([]attribute.KeyValue, 0, 4)
	for _, kv := range []struct{ key, value string }{
		{AttrService, service},
		{AttrTeam, team},
		{AttrOperation, operation},
		{AttrActor, actor},
	} {
		if kv.value != "" {
			attrs = append(attrs, attribute.String(kv.key, kv.value))
		}
	}
	span.SetAttributes(attrs...)
}
