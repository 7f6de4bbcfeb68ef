// Package dispatch turns triggered rules into governance side effects.
//
// BuildActions groups triggered rules into one Action per kind. Action is
// a closed set of five variants and Dispatcher.Dispatch handles each in an
// exhaustive type switch:
//
//	AlertAction          notify enabled channels
//	BlockRiskyOpsAction  replace the runtime disabled set with disableIntent
//	TuneSystemAction     invoke the external tuning entry point
//	BlockAllAction       replace the disabled set with "*"
//	EscalateAction       record escalation intent in the audit log
//
// Channel delivery and tuning are injected capabilities. Their failures
// are logged and reported in Result.Failures without stopping the pass.
// Store and audit write failures are returned.
package dispatch

import (
	"slices"

	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/policy/evaluator"
)

// Action is one governance response. The set of implementations is closed.
type Action interface {
	Kind() policy.ActionKind
	// Triggers returns the rules that selected this action.
	Triggers() []evaluator.TriggeredRule
	action()
}

type triggers []evaluator.TriggeredRule

func (t triggers) Triggers() []evaluator.TriggeredRule { return t }
func (triggers) action()                               {}

// AlertAction notifies the enabled channels.
type AlertAction struct {
	triggers
	NotifySlack bool
	NotifyEmail bool
}

// BlockRiskyOpsAction disables the listed operations.
type BlockRiskyOpsAction struct {
	triggers
	DisableIntent []string
}

// TuneSystemAction invokes a tuning entry point.
type TuneSystemAction struct {
	triggers
	Invoke string
}

// BlockAllAction disables every guarded operation.
type BlockAllAction struct {
	triggers
	Reason string
}

// EscalateAction records escalation intent.
type EscalateAction struct {
	triggers
	Contacts []string
}

func (AlertAction) Kind() policy.ActionKind         { return policy.ActionAlert }
func (BlockRiskyOpsAction) Kind() policy.ActionKind { return policy.ActionBlockRiskyOps }
func (TuneSystemAction) Kind() policy.ActionKind    { return policy.ActionTuneSystem }
func (BlockAllAction) Kind() policy.ActionKind      { return policy.ActionBlockAll }
func (EscalateAction) Kind() policy.ActionKind      { return policy.ActionEscalate }

// DefaultBlockAllReason is written when block_all has no configured reason.
const DefaultBlockAllReason = "Governance Policy: emergency - all operations blocked"

// BuildActions returns one action per kind that has triggered rules, in
// policy.ActionKinds order, configured from cfg. Rules with an unknown
// action kind are ignored.
func BuildActions(triggered []evaluator.TriggeredRule, cfg policy.Actions) []Action {
	grouped := evaluator.ByAction(triggered)

	var out []Action
	for _, kind := range policy.ActionKinds {
		rules := grouped[kind]
		if len(rules) == 0 {
			continue
		}
		t := triggers(rules)
		switch kind {
		case policy.ActionAlert:
			a := AlertAction{triggers: t}
			if cfg.Alert != nil {
				a.NotifySlack = cfg.Alert.NotifySlack
				a.NotifyEmail = cfg.Alert.NotifyEmail
			}
			out = append(out, a)
		case policy.ActionBlockRiskyOps:
			a := BlockRiskyOpsAction{triggers: t, DisableIntent: []string{}}
			if cfg.BlockRiskyOps != nil {
				a.DisableIntent = slices.Clone(cfg.BlockRiskyOps.DisableIntent)
			}
			out = append(out, a)
		case policy.ActionTuneSystem:
			out = append(out, TuneSystemAction{triggers: t, Invoke: cfg.TuningEntryPoint()})
		case policy.ActionBlockAll:
			a := BlockAllAction{triggers: t, Reason: DefaultBlockAllReason}
			if cfg.BlockAll != nil && cfg.BlockAll.Reason != "" {
				a.Reason = cfg.BlockAll.Reason
			}
			out = append(out, a)
		case policy.ActionEscalate:
			a := EscalateAction{triggers: t}
			if cfg.Escalate != nil {
				a.Contacts = slices.Clone(cfg.Escalate.Contacts)
			}
			out = append(out, a)
		}
	}
	return out
}

// Severity returns the highest severity across actions, or "" when
// actions is empty.
func Severity(actions []Action) policy.Severity {
	var sev policy.Severity
	for _, a := range actions {
		sev = policy.MaxSeverity(sev, a.Kind().Severity())
	}
	return sev
}
