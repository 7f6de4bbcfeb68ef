package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/sentinel/pkg/audit"
	"mercator-hq/sentinel/pkg/audit/export"
	"mercator-hq/sentinel/pkg/drift"
	"mercator-hq/sentinel/pkg/enforcement"
	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/rollout"
	"mercator-hq/sentinel/pkg/store"
)

const systemActor = "system"

// CompileResult is returned by CompilePolicy.
type CompileResult struct {
	Policy  *policy.Document `json:"policy"`
	AuditID string           `json:"auditId"`
}

// CompilePolicy compiles src, persists the document and records a
// policy_compile audit entry. Invalid sources return *policy.ConfigError
// and nothing is stored.
func (e *Engine) CompilePolicy(ctx context.Context, src []byte, compiledBy string) (*CompileResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.CompilePolicy")
	defer span.End()

	doc, err := policy.Compile(src, compiledBy, e.now())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("policy.id", doc.ID), attribute.String("policy.version", doc.Version))

	if err := e.store.PutPolicy(ctx, doc); err != nil {
		return nil, fmt.Errorf("store policy %s: %w", doc.ID, err)
	}

	receipt, err := e.recorder.Record(ctx, &audit.Entry{
		Actor:   audit.Actor{UID: doc.CompiledBy, Role: "admin"},
		Action:  audit.ActionPolicyCompile,
		Subject: audit.Subject{PolicyID: doc.ID},
		Input:   map[string]any{"policyId": doc.ID, "version": doc.Version},
		Output:  map[string]any{"success": true},
		Policy:  audit.PolicyInfo{MatchedRules: []string{}, Risk: policy.SeverityLow},
		Consent: &audit.Consent{Basis: "legitimate_interest", Scope: []string{"ops"}},
	})
	result := &CompileResult{Policy: doc, AuditID: receipt.ID}
	if err != nil {
		return result, fmt.Errorf("audit policy compile: %w", err)
	}

	e.logger.Info("policy compiled",
		"policy_id", doc.ID,
		"version", doc.Version,
		"rules", len(doc.Rules),
		"compiled_by", doc.CompiledBy,
	)
	return result, nil
}

// GetPolicy returns the stored document id. ErrNotFound when absent.
func (e *Engine) GetPolicy(ctx context.Context, id string) (*policy.Document, error) {
	if id == "" {
		id = e.config.PolicyID
	}
	return e.store.GetPolicy(ctx, id)
}

// ListPolicies returns every stored document.
func (e *Engine) ListPolicies(ctx context.Context) ([]*policy.Document, error) {
	return e.store.ListPolicies(ctx)
}

// Override returns the current runtime override, or an empty one when
// none has been written.
func (e *Engine) Override(ctx context.Context) (*store.RuntimeOverride, error) {
	o, err := e.store.GetOverride(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &store.RuntimeOverride{Disabled: []string{}}, nil
	}
	return o, err
}

// ClearOverrides replaces the runtime override with an empty set and
// records an override_clear audit entry.
func (e *Engine) ClearOverrides(ctx context.Context, actor, reason string) (*store.RuntimeOverride, error) {
	if actor == "" {
		actor = systemActor
	}
	if reason == "" {
		reason = "cleared by " + actor
	}

	prev, err := e.Override(ctx)
	if err != nil {
		return nil, err
	}

	o, err := e.store.ReplaceOverride(ctx, store.RuntimeOverride{
		Disabled:  []string{},
		Reason:    reason,
		UpdatedBy: actor,
		UpdatedAt: e.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("clear overrides: %w", err)
	}

	if _, err := e.recorder.Record(ctx, &audit.Entry{
		Actor:   audit.Actor{UID: actor, Role: "admin"},
		Action:  audit.ActionOverrideClear,
		Subject: audit.Subject{PolicyID: e.config.PolicyID},
		Input:   map[string]any{"previous": stringsToAny(prev.Disabled), "reason": reason},
		Output:  map[string]any{"revision": o.Revision},
		Policy:  audit.PolicyInfo{MatchedRules: []string{}, Risk: policy.SeverityMedium},
	}); err != nil {
		return o, fmt.Errorf("audit override clear: %w", err)
	}
	e.logger.Warn("runtime overrides cleared", "actor", actor, "previous", prev.Disabled)
	return o, nil
}

// Alerts lists alert records matching f.
func (e *Engine) Alerts(ctx context.Context, f store.AlertFilter) ([]*store.AlertRecord, error) {
	return e.store.ListAlerts(ctx, f)
}

// ResolveAlert marks alert id resolved by actor and records an
// alert_resolve audit entry.
func (e *Engine) ResolveAlert(ctx context.Context, id, actor string) (*store.AlertRecord, error) {
	if actor == "" {
		actor = systemActor
	}
	a, err := e.store.ResolveAlert(ctx, id, actor, e.now().UTC())
	if err != nil {
		return nil, err
	}
	if _, err := e.recorder.Record(ctx, &audit.Entry{
		Actor:   audit.Actor{UID: actor, Role: "admin"},
		Action:  audit.ActionAlertResolve,
		Subject: audit.Subject{PolicyID: a.PolicyID},
		Input:   map[string]any{"alertId": a.ID, "type": a.Type},
		Policy:  audit.PolicyInfo{MatchedRules: []string{}, Risk: policy.SeverityLow},
		Links:   &audit.Links{AlertID: a.ID, SnapshotDate: a.GovernanceDate},
	}); err != nil {
		return a, fmt.Errorf("audit alert resolve: %w", err)
	}
	return a, nil
}

// Enforce guards an operation. See enforcement.Gate.Enforce.
func (e *Engine) Enforce(ctx context.Context, req enforcement.Request) error {
	d, err := e.Check(ctx, req)
	if err != nil {
		return err
	}
	if d.Allowed {
		return nil
	}
	return enforcement.NewBlockedError(req, d)
}

// Check returns the gate decision for req without translating denials
// into errors.
func (e *Engine) Check(ctx context.Context, req enforcement.Request) (*enforcement.Decision, error) {
	start := time.Now()
	d, err := e.gate.Check(ctx, req)
	if e.metrics != nil && d != nil {
		e.metrics.RecordEnforcement(d.Code, time.Since(start))
	}
	return d, err
}

// Advance moves the rollout one stage forward.
func (e *Engine) Advance(ctx context.Context, approvedBy string) (*rollout.AdvanceResult, error) {
	res, err := e.controller.Advance(ctx, approvedBy)
	if e.metrics == nil {
		return res, err
	}
	var rej *rollout.RejectionError
	switch {
	case err == nil:
		e.metrics.RecordRolloutAdvance("advanced")
		e.metrics.SetRolloutStage(res.StageIndex, res.Percent)
	case errors.As(err, &rej):
		e.metrics.RecordRolloutAdvance(rej.Code)
	default:
		e.metrics.RecordRolloutAdvance("error")
	}
	return res, err
}

// RolloutStatus reports the rollout position.
func (e *Engine) RolloutStatus(ctx context.Context) (*rollout.Status, error) {
	st, err := e.controller.Status(ctx)
	if err == nil && e.metrics != nil {
		e.metrics.SetRolloutStage(st.State.StageIndex, st.State.Percent)
	}
	return st, err
}

// CheckDrift compares the stored policy with the runtime state and raises
// a policy_drift alert when they disagree.
func (e *Engine) CheckDrift(ctx context.Context) (*drift.Report, error) {
	ctx, span := e.tracer.Start(ctx, "engine.CheckDrift")
	defer span.End()

	report, err := e.drift.Run(ctx)
	if report != nil {
		span.SetAttributes(attribute.Int("drift.count", len(report.Drift)))
		if report.Alert != nil && e.metrics != nil {
			e.metrics.RecordAlert(report.Alert.Type, string(report.Alert.Severity))
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	return report, err
}

// QueryAudit returns matching entries and the total count ignoring
// pagination.
func (e *Engine) QueryAudit(ctx context.Context, q *audit.Query) ([]*audit.Entry, int64, error) {
	entries, err := e.storage.Query(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	count := *q
	count.Limit, count.Offset = 0, 0
	total, err := e.storage.Count(ctx, &count)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// AuditEntry returns a single entry.
func (e *Engine) AuditEntry(ctx context.Context, id string) (*audit.Entry, error) {
	return e.storage.Get(ctx, id)
}

// Explain reconstructs why entry id was written.
func (e *Engine) Explain(ctx context.Context, id string) (*audit.Explanation, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Explain", trace.WithAttributes(attribute.String("audit.id", id)))
	defer span.End()
	return e.explainer.Explain(ctx, id)
}

// ExportSubject collects every entry uid appears in.
func (e *Engine) ExportSubject(ctx context.Context, uid string, limit int) (*export.SubjectReport, error) {
	return export.SubjectExport(ctx, e.storage, uid, limit)
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
