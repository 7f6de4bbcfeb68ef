// Package rollout implements the staged rollout state machine.
//
// Advance moves the rollout singleton one stage forward when the latest
// snapshot passes the regression gate and the target stage's minimum
// dwell time has elapsed since the last transition. The stage index never
// decreases; once the last stage is reached further advances stay there.
// The write is a compare-and-swap on the stage index read at the start of
// the call, so of several concurrent advances exactly one wins.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/sentinel/pkg/audit"
	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/policy/evaluator"
	"mercator-hq/sentinel/pkg/store"
)

// AdvanceResult is returned by a successful advance.
type AdvanceResult struct {
	Percent       int    `json:"percent"`
	StageIndex    int    `json:"stageIndex"`
	PreviousIndex int    `json:"previousIndex"`
	TotalStages   int    `json:"totalStages"`
	AuditID       string `json:"auditId,omitempty"`
}

// Status describes the current rollout position.
type Status struct {
	State       store.RolloutState `json:"state"`
	Stages      []policy.Stage     `json:"stages"`
	TotalStages int                `json:"totalStages"`
	Complete    bool               `json:"complete"`

	// NextStage and EligibleAt are unset once the last stage is reached.
	NextStage  *policy.Stage `json:"nextStage,omitempty"`
	EligibleAt *time.Time    `json:"eligibleAt,omitempty"`

	// Violations lists regression gate failures on the latest snapshot.
	Violations []string `json:"violations,omitempty"`
}

// Controller drives rollout transitions.
type Controller struct {
	policies  store.PolicyStore
	rollouts  store.RolloutStore
	snapshots store.SnapshotStore
	recorder  *audit.Recorder
	policyID  string
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewController creates a controller for the rollout declared by policyID.
func NewController(policies store.PolicyStore, rollouts store.RolloutStore, snapshots store.SnapshotStore, recorder *audit.Recorder, policyID string) *Controller {
	if policyID == "" {
		policyID = policy.DefaultPolicyID
	}
	return &Controller{
		policies:  policies,
		rollouts:  rollouts,
		snapshots: snapshots,
		recorder:  recorder,
		policyID:  policyID,
		now:       time.Now,
		logger:    slog.Default().With("component", "rollout.controller"),
		tracer:    otel.Tracer("mercator-hq/sentinel/rollout"),
	}
}

// Advance attempts one stage transition approved by approvedBy (default
// "system"). Rejections return *RejectionError; store failures are
// returned as-is.
func (c *Controller) Advance(ctx context.Context, approvedBy string) (*AdvanceResult, error) {
	if approvedBy == "" {
		approvedBy = "system"
	}
	ctx, span := c.tracer.Start(ctx, "rollout.Advance", trace.WithAttributes(
		attribute.String("approved_by", approvedBy),
	))
	defer span.End()

	doc, err := c.loadPolicy(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	stages := doc.Rollout.Stages

	current, err := c.rollouts.GetRollout(ctx)
	if err != nil {
		return nil, fmt.Errorf("read rollout state: %w", err)
	}

	violations, err := c.regressionCheck(ctx, doc)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		c.logger.Warn("regression detected, rollout halted", "violations", violations)
		return nil, NewRejectionError(CodeRegressionDetected, "Quality metrics below threshold", violations...)
	}

	nextIdx := min(current.StageIndex+1, len(stages)-1)
	next := stages[nextIdx]
	now := c.now().UTC()

	if !current.UpdatedAt.IsZero() {
		elapsed := now.Sub(current.UpdatedAt).Hours()
		if elapsed < next.MinHours {
			return nil, NewRejectionError(CodeMinHoursNotMet, fmt.Sprintf(
				"Must wait %s hours before advancing. %.1f hours elapsed.",
				policy.FormatNumber(next.MinHours), elapsed))
		}
	}

	written, err := c.rollouts.CompareAndSwapRollout(ctx, current.StageIndex, store.RolloutState{
		StageIndex: nextIdx,
		Percent:    next.Percent,
		UpdatedAt:  now,
		ApprovedBy: approvedBy,
	})
	if errors.Is(err, store.ErrConflict) {
		c.logger.Info("lost rollout advance race",
			"expected_index", current.StageIndex,
			"actual_index", written.StageIndex,
		)
		return nil, NewRejectionError(CodeConcurrentAdvance, fmt.Sprintf(
			"rollout moved from stage %d to %d during this request", current.StageIndex, written.StageIndex))
	}
	if err != nil {
		return nil, fmt.Errorf("write rollout state: %w", err)
	}

	result := &AdvanceResult{
		Percent:       written.Percent,
		StageIndex:    written.StageIndex,
		PreviousIndex: current.StageIndex,
		TotalStages:   len(stages),
	}

	receipt, err := c.recorder.Record(ctx, &audit.Entry{
		Actor:   audit.Actor{UID: approvedBy, Role: "admin"},
		Action:  audit.ActionRolloutAdvance,
		Subject: audit.Subject{PolicyID: doc.ID},
		Input: map[string]any{
			"from":    current.StageIndex,
			"to":      nextIdx,
			"percent": next.Percent,
		},
		Output: map[string]any{
			"success":    true,
			"newPercent": next.Percent,
		},
		Policy:  audit.PolicyInfo{MatchedRules: []string{"rollout"}, Risk: policy.SeverityMedium},
		Consent: &audit.Consent{Basis: "legitimate", Scope: []string{"ops"}},
	})
	if err != nil {
		// The transition is durable; the caller learns the audit write failed.
		return result, fmt.Errorf("audit rollout advance: %w", err)
	}
	result.AuditID = receipt.ID

	span.SetAttributes(
		attribute.Int("rollout.from", current.StageIndex),
		attribute.Int("rollout.to", nextIdx),
		attribute.Int("rollout.percent", next.Percent),
	)
	c.logger.Info("rollout advanced",
		"from", current.StageIndex,
		"to", nextIdx,
		"percent", next.Percent,
		"approved_by", approvedBy,
	)
	return result, nil
}

// Status reports the rollout position and whether the next advance would
// pass the regression gate.
func (c *Controller) Status(ctx context.Context) (*Status, error) {
	doc, err := c.loadPolicy(ctx)
	var rej *RejectionError
	if errors.As(err, &rej) && rej.Code == CodeNoRolloutStages {
		doc, err = &policy.Document{}, nil
	}
	if err != nil {
		return nil, err
	}

	state, err := c.rollouts.GetRollout(ctx)
	if err != nil {
		return nil, fmt.Errorf("read rollout state: %w", err)
	}
	violations, err := c.regressionCheck(ctx, doc)
	if err != nil {
		return nil, err
	}

	stages := doc.Rollout.Stages
	st := &Status{
		State:       state,
		Stages:      stages,
		TotalStages: len(stages),
		Complete:    len(stages) > 0 && state.StageIndex >= len(stages)-1,
		Violations:  violations,
	}
	if st.Stages == nil {
		st.Stages = []policy.Stage{}
	}
	if !st.Complete && len(stages) > 0 {
		next := stages[state.StageIndex+1]
		st.NextStage = &next
		eligible := state.UpdatedAt
		if !eligible.IsZero() {
			eligible = eligible.Add(time.Duration(next.MinHours * float64(time.Hour)))
			st.EligibleAt = &eligible
		}
	}
	return st, nil
}

func (c *Controller) loadPolicy(ctx context.Context) (*policy.Document, error) {
	doc, err := c.policies.GetPolicy(ctx, c.policyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewRejectionError(CodePolicyNotFound, "policy not found: "+c.policyID)
	}
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	if len(doc.Rollout.Stages) == 0 {
		return nil, NewRejectionError(CodeNoRolloutStages, "no rollout stages defined")
	}
	return doc, nil
}

// regressionCheck gates on the most recently received snapshot. No
// snapshot yet means nothing has regressed.
func (c *Controller) regressionCheck(ctx context.Context, doc *policy.Document) ([]string, error) {
	snap, err := c.snapshots.LatestSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest snapshot: %w", err)
	}
	return evaluator.RegressionGate(doc.Thresholds, snap), nil
}
