// Package enforcement implements the precondition check every guarded
// operation calls before it runs.
//
// The check order is fixed:
//
//  1. no policy document: allow
//  2. service outside scope.services: allow
//  3. team outside scope.teams: deny (team_not_in_scope)
//  4. action in the runtime disabled set, or the set holds "*": deny
//  5. otherwise allow
//
// Allow paths write nothing. Every policy denial writes one policy_block
// audit entry. A store read failure or timeout denies without auditing.
package enforcement

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/sentinel/pkg/audit"
	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/store"
)

// Decision codes.
const (
	CodeAllowed           = "allowed"
	CodePolicyAbsent      = "policy_absent"
	CodeServiceOutOfScope = "service_out_of_scope"
	CodeTeamNotInScope    = "team_not_in_scope"
	CodeActionBlocked     = "action_blocked"
	CodeStoreUnavailable  = "store_unavailable"
)

const (
	matchedRuleRuntimeOps = "runtimeOps.disabled"
	matchedRuleScopeTeams = "scope.teams"
	defaultTimeout        = 2 * time.Second
)

// Request identifies a guarded operation.
type Request struct {
	Service string `json:"service"`
	TeamID  string `json:"teamId,omitempty"`
	Action  string `json:"action,omitempty"`

	// ActorUID is recorded on denial audit entries. Default: "system"
	ActorUID string `json:"actorUid,omitempty"`
}

// Decision is the outcome of a check.
type Decision struct {
	Allowed  bool     `json:"allowed"`
	Code     string   `json:"code"`
	Reason   string   `json:"reason,omitempty"`
	Disabled []string `json:"disabled,omitempty"`
	AuditID  string   `json:"auditId,omitempty"`
}

// Config configures the gate.
type Config struct {
	// PolicyID is the document consulted for scope.
	// Default: policy.DefaultPolicyID
	PolicyID string

	// Timeout bounds the store reads of one check.
	// Default: 2 seconds
	Timeout time.Duration
}

// Gate is the enforcement gate.
type Gate struct {
	policies  store.PolicyStore
	overrides store.OverrideStore
	recorder  *audit.Recorder
	config    Config
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewGate creates a gate.
func NewGate(policies store.PolicyStore, overrides store.OverrideStore, recorder *audit.Recorder, cfg Config) *Gate {
	if cfg.PolicyID == "" {
		cfg.PolicyID = policy.DefaultPolicyID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Gate{
		policies:  policies,
		overrides: overrides,
		recorder:  recorder,
		config:    cfg,
		logger:    slog.Default().With("component", "enforcement.gate"),
		tracer:    otel.Tracer("mercator-hq/sentinel/enforcement"),
	}
}

// Enforce returns nil when req may proceed. Denials return *BlockedError;
// store failures return *UnavailableError.
func (g *Gate) Enforce(ctx context.Context, req Request) error {
	d, err := g.Check(ctx, req)
	if err != nil {
		return err
	}
	if d.Allowed {
		return nil
	}
	return NewBlockedError(req, d)
}

// Check evaluates req and returns the decision. The error is non-nil only
// when state could not be read, in which case the decision is a denial
// with CodeStoreUnavailable.
func (g *Gate) Check(ctx context.Context, req Request) (*Decision, error) {
	ctx, span := g.tracer.Start(ctx, "enforcement.Check", trace.WithAttributes(
		attribute.String("service", req.Service),
		attribute.String("team.id", req.TeamID),
		attribute.String("action", req.Action),
	))
	defer span.End()

	d, err := g.check(ctx, req)
	span.SetAttributes(
		attribute.Bool("decision.allowed", d.Allowed),
		attribute.String("decision.code", d.Code),
	)
	if err != nil {
		span.RecordError(err)
	}
	return d, err
}

func (g *Gate) check(ctx context.Context, req Request) (*Decision, error) {
	readCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	doc, err := g.policies.GetPolicy(readCtx, g.config.PolicyID)
	if errors.Is(err, store.ErrNotFound) {
		g.logger.Warn("policy document absent, allowing", "policy_id", g.config.PolicyID, "service", req.Service)
		return &Decision{Allowed: true, Code: CodePolicyAbsent}, nil
	}
	if err != nil {
		return g.unavailable("get_policy", err)
	}

	if !doc.ServiceInScope(req.Service) {
		g.logger.Debug("service outside policy scope", "service", req.Service)
		return &Decision{Allowed: true, Code: CodeServiceOutOfScope}, nil
	}

	if !doc.TeamAllowed(req.TeamID) {
		d := &Decision{
			Code:   CodeTeamNotInScope,
			Reason: "team_not_in_scope:" + req.TeamID,
		}
		d.AuditID = g.audit(ctx, req, doc.ID, matchedRuleScopeTeams, d.Reason,
			(&BlockedError{Code: CodeTeamNotInScope, TeamID: req.TeamID}).Error())
		return d, nil
	}

	o, err := g.overrides.GetOverride(readCtx)
	if errors.Is(err, store.ErrNotFound) {
		return &Decision{Allowed: true, Code: CodeAllowed}, nil
	}
	if err != nil {
		return g.unavailable("get_override", err)
	}

	if o.Blocks(req.Action) {
		d := &Decision{
			Code:     CodeActionBlocked,
			Reason:   o.Reason,
			Disabled: slices.Clone(o.Disabled),
		}
		d.AuditID = g.audit(ctx, req, doc.ID, matchedRuleRuntimeOps, "action_blocked:"+req.Action,
			"blocked_by_policy:"+strings.Join(o.Disabled, ","))
		g.logger.Warn("operation blocked",
			"service", req.Service,
			"team_id", req.TeamID,
			"action", req.Action,
			"disabled", o.Disabled,
		)
		return d, nil
	}

	return &Decision{Allowed: true, Code: CodeAllowed}, nil
}

func (g *Gate) unavailable(op string, err error) (*Decision, error) {
	g.logger.Error("governance state unavailable, denying", "operation", op, "error", err)
	return &Decision{Code: CodeStoreUnavailable, Reason: err.Error()},
		&UnavailableError{Operation: op, Cause: err}
}

// audit writes the denial entry and returns its ID. A failed write is
// logged; the denial stands.
func (g *Gate) audit(ctx context.Context, req Request, policyID, matchedRule, outputReason, errText string) string {
	actor := req.ActorUID
	if actor == "" {
		actor = "system"
	}
	receipt, err := g.recorder.Record(ctx, &audit.Entry{
		Actor:   audit.Actor{UID: actor, Role: "system"},
		Action:  audit.ActionPolicyBlock,
		Subject: audit.Subject{TeamID: req.TeamID, Service: req.Service, PolicyID: policyID},
		Input: map[string]any{
			"service": req.Service,
			"teamId":  req.TeamID,
			"action":  req.Action,
		},
		Output: map[string]any{
			"blocked": true,
			"reason":  outputReason,
		},
		Policy:  audit.PolicyInfo{MatchedRules: []string{matchedRule}, Risk: policy.SeverityHigh},
		Consent: &audit.Consent{Basis: "legitimate", Scope: []string{"ops"}},
		Error:   errText,
	})
	if err != nil {
		g.logger.Error("failed to audit denial", "service", req.Service, "action", req.Action, "error", err)
		return ""
	}
	return receipt.ID
}
