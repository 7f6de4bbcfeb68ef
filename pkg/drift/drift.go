// Package drift compares the stored policy against the runtime state it
// is supposed to produce.
//
// Drift is reported as short machine-readable messages:
//
//	runtime_missing                           blocking rules exist but no override was ever written
//	blockOps_missing:<ops>                    an active override does not cover the policy's disableIntent
//	unblockOps_still_blocked:<ops>            the override disables operations the policy no longer names
//	rollout_percent_mismatch:expected=X,actual=Y
//
// Detect is pure; Watcher loads the state, records a policy_drift alert
// and notifies when anything is found.
package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"mercator-hq/sentinel/pkg/dispatch"
	"mercator-hq/sentinel/pkg/notify"
	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/store"
)

// Drift message prefixes.
const (
	RuntimeMissing         = "runtime_missing"
	BlockOpsMissing        = "blockOps_missing"
	UnblockOpsStillBlocked = "unblockOps_still_blocked"
	RolloutPercentMismatch = "rollout_percent_mismatch"
)

// Detect returns the drift between doc and the runtime state. override is
// nil when none was ever written.
func Detect(doc *policy.Document, override *store.RuntimeOverride, state store.RolloutState) []string {
	var drift []string

	if doc.HasBlockingRules() && override == nil {
		drift = append(drift, RuntimeMissing)
	}

	intent := disableIntent(doc)
	if override != nil && len(override.Disabled) > 0 {
		var missing []string
		for _, op := range intent {
			if !override.Blocks(op) {
				missing = append(missing, op)
			}
		}
		if len(missing) > 0 {
			drift = append(drift, BlockOpsMissing+":"+strings.Join(missing, ","))
		}

		var stale []string
		for _, op := range override.Disabled {
			if op != store.Wildcard && !slices.Contains(intent, op) {
				stale = append(stale, op)
			}
		}
		if len(stale) > 0 {
			drift = append(drift, UnblockOpsStillBlocked+":"+strings.Join(stale, ","))
		}
	}

	stages := doc.Rollout.Stages
	if state.StageIndex >= 0 && state.StageIndex < len(stages) {
		if expected := stages[state.StageIndex].Percent; expected != state.Percent {
			drift = append(drift, fmt.Sprintf("%s:expected=%d,actual=%d", RolloutPercentMismatch, expected, state.Percent))
		}
	}
	return drift
}

// disableIntent is the set block_risky_ops would write, or nil when no
// rule can trigger it.
func disableIntent(doc *policy.Document) []string {
	if doc.Actions.BlockRiskyOps == nil {
		return nil
	}
	for _, r := range doc.Rules {
		if r.Action == policy.ActionBlockRiskyOps {
			return doc.Actions.BlockRiskyOps.DisableIntent
		}
	}
	return nil
}

// FormatMessage renders drift for notification channels.
func FormatMessage(drift []string) string {
	var b strings.Builder
	b.WriteString("Policy Drift Detected\n\nDrifts:")
	for _, d := range drift {
		b.WriteString("\n• ")
		b.WriteString(d)
	}
	b.WriteString("\n\nPlease review and align policies.")
	return b.String()
}

// Report is the outcome of one watcher run.
type Report struct {
	PolicyID string             `json:"policyId"`
	Drift    []string           `json:"drift"`
	Alert    *store.AlertRecord `json:"alert,omitempty"`
}

// Watcher checks one policy for drift.
type Watcher struct {
	policies  store.PolicyStore
	overrides store.OverrideStore
	rollouts  store.RolloutStore
	alerts    store.AlertStore
	notifiers []dispatch.Notifier
	policyID  string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewWatcher creates a drift watcher for policyID.
func NewWatcher(st store.Store, policyID string, notifiers ...dispatch.Notifier) *Watcher {
	if policyID == "" {
		policyID = policy.DefaultPolicyID
	}
	return &Watcher{
		policies:  st,
		overrides: st,
		rollouts:  st,
		alerts:    st,
		notifiers: notifiers,
		policyID:  policyID,
		timeout:   10 * time.Second,
		logger:    slog.Default().With("component", "drift.watcher"),
	}
}

// Run performs one drift check. A missing policy is not an error; the
// report is empty. Notification failures are logged only.
func (w *Watcher) Run(ctx context.Context) (*Report, error) {
	report := &Report{PolicyID: w.policyID}

	doc, err := w.policies.GetPolicy(ctx, w.policyID)
	if errors.Is(err, store.ErrNotFound) {
		w.logger.Info("no policy stored, skipping drift check", "policy_id", w.policyID)
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	override, err := w.overrides.GetOverride(ctx)
	if errors.Is(err, store.ErrNotFound) {
		override, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read override: %w", err)
	}

	state, err := w.rollouts.GetRollout(ctx)
	if err != nil {
		return nil, fmt.Errorf("read rollout state: %w", err)
	}

	report.Drift = Detect(doc, override, state)
	if len(report.Drift) == 0 {
		w.logger.Debug("no policy drift", "policy_id", w.policyID)
		return report, nil
	}
	w.logger.Warn("policy drift detected", "policy_id", w.policyID, "drift", report.Drift)

	text := FormatMessage(report.Drift)
	alert := &store.AlertRecord{
		Type:     store.AlertTypeDrift,
		Severity: policy.SeverityMedium,
		Message:  text,
		Messages: report.Drift,
		PolicyID: w.policyID,
	}
	if err := w.alerts.AppendAlert(ctx, alert); err != nil {
		return report, fmt.Errorf("append drift alert: %w", err)
	}
	report.Alert = alert

	msg := notify.Message{
		Subject:  "[Sentinel] Policy Drift Detected",
		Text:     text,
		Severity: policy.SeverityMedium,
	}
	for _, n := range w.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, w.timeout)
		if err := n.Send(sendCtx, msg); err != nil {
			w.logger.Warn("drift notification failed", "channel", n.Channel(), "error", err)
		}
		cancel()
	}
	return report, nil
}
