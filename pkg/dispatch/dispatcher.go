package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/sentinel/pkg/audit"
	"mercator-hq/sentinel/pkg/notify"
	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/policy/evaluator"
	"mercator-hq/sentinel/pkg/snapshot"
	"mercator-hq/sentinel/pkg/store"
)

// Notifier delivers an alert on one channel. Channel names "slack" and
// "email" are gated by the alert action's notifySlack and notifyEmail
// flags; any other channel is always notified.
type Notifier interface {
	Channel() string
	Send(ctx context.Context, msg notify.Message) error
}

// Tuner triggers an external tuning entry point.
type Tuner interface {
	Invoke(ctx context.Context, name string) error
}

// Config bounds the injected capabilities.
type Config struct {
	// NotifyTimeout bounds each channel send.
	// Default: 10 seconds
	NotifyTimeout time.Duration

	// TuneTimeout bounds the tuning call.
	// Default: 30 seconds
	TuneTimeout time.Duration
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() *Config {
	return &Config{
		NotifyTimeout: 10 * time.Second,
		TuneTimeout:   30 * time.Second,
	}
}

// Context identifies who and what a dispatch pass is for.
type Context struct {
	PolicyID string

	// Actor is recorded on audit entries and overrides. Default: "system"
	Actor string
}

// Failure is a non-fatal capability error from a dispatch pass.
type Failure struct {
	Kind   policy.ActionKind `json:"kind"`
	Target string            `json:"target"`
	Error  string            `json:"error"`
}

// Result summarises one dispatch pass.
type Result struct {
	Actions          []policy.ActionKind `json:"actions"`
	Severity         policy.Severity     `json:"severity,omitempty"`
	AlertsSent       int                 `json:"alertsSent"`
	OverridesWritten int                 `json:"overridesWritten"`
	TuningInvoked    bool                `json:"tuningInvoked"`
	AuditEntries     []audit.Receipt     `json:"auditEntries"`
	Alert            *store.AlertRecord  `json:"alert,omitempty"`
	Failures         []Failure           `json:"failures,omitempty"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithNotifiers registers alert channels.
func WithNotifiers(n ...Notifier) Option {
	return func(d *Dispatcher) { d.notifiers = append(d.notifiers, n...) }
}

// WithTuner registers the tuning capability.
func WithTuner(t Tuner) Option {
	return func(d *Dispatcher) { d.tuner = t }
}

// WithConfig overrides the default timeouts.
func WithConfig(cfg *Config) Option {
	return func(d *Dispatcher) {
		if cfg == nil {
			return
		}
		if cfg.NotifyTimeout > 0 {
			d.config.NotifyTimeout = cfg.NotifyTimeout
		}
		if cfg.TuneTimeout > 0 {
			d.config.TuneTimeout = cfg.TuneTimeout
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher executes governance actions.
type Dispatcher struct {
	overrides store.OverrideStore
	alerts    store.AlertStore
	recorder  *audit.Recorder
	notifiers []Notifier
	tuner     Tuner
	config    *Config
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates a dispatcher writing overrides and alerts to the given
// stores and audit entries through recorder.
func New(overrides store.OverrideStore, alerts store.AlertStore, recorder *audit.Recorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		overrides: overrides,
		alerts:    alerts,
		recorder:  recorder,
		config:    DefaultConfig(),
		now:       time.Now,
		logger:    slog.Default().With("component", "dispatch.dispatcher"),
		tracer:    otel.Tracer("mercator-hq/sentinel/dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs every action selected by triggered and writes exactly one
// governance AlertRecord for the pass. An empty triggered list is a no-op.
//
// Actions run in policy.ActionKinds order, so when block_risky_ops and
// block_all fire together the wildcard override is the one left in place.
// A failed override or audit write does not stop later actions; all such
// errors are joined into the returned error alongside a partial Result.
func (d *Dispatcher) Dispatch(ctx context.Context, triggered []evaluator.TriggeredRule, cfg policy.Actions, snap *snapshot.Snapshot, dctx Context) (*Result, error) {
	result := &Result{Actions: []policy.ActionKind{}, AuditEntries: []audit.Receipt{}}
	if len(triggered) == 0 {
		return result, nil
	}
	if dctx.Actor == "" {
		dctx.Actor = "system"
	}
	if snap == nil {
		snap = &snapshot.Snapshot{}
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.Dispatch", trace.WithAttributes(
		attribute.String("governance.date", snap.Date),
		attribute.String("policy.id", dctx.PolicyID),
		attribute.Int("rules.triggered", len(triggered)),
	))
	defer span.End()

	actions := BuildActions(triggered, cfg)
	result.Severity = Severity(actions)
	for _, a := range actions {
		result.Actions = append(result.Actions, a.Kind())
	}

	p := &pass{
		Dispatcher: d,
		result:     result,
		snap:       snap,
		dctx:       dctx,
		alertID:    uuid.NewString(),
		message: notify.Message{
			Subject:  notify.DefaultSubject,
			Text:     notify.FormatMessage(snap.Date, triggered),
			Severity: result.Severity,
			Date:     snap.Date,
		},
	}

	var errs []error
	for _, a := range actions {
		if err := p.run(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Kind(), err))
		}
	}

	alert := &store.AlertRecord{
		ID:             p.alertID,
		CreatedAt:      d.now().UTC(),
		Type:           store.AlertTypeGovernance,
		Severity:       result.Severity,
		Message:        p.message.Text,
		RulesTriggered: triggered,
		GovernanceDate: snap.Date,
		PolicyID:       dctx.PolicyID,
	}
	if err := d.alerts.AppendAlert(ctx, alert); err != nil {
		errs = append(errs, fmt.Errorf("append alert: %w", err))
	} else {
		result.Alert = alert
	}

	d.logger.Info("dispatch complete",
		"date", snap.Date,
		"policy_id", dctx.PolicyID,
		"triggered", len(triggered),
		"actions", result.Actions,
		"severity", result.Severity,
		"alerts_sent", result.AlertsSent,
		"overrides_written", result.OverridesWritten,
		"failures", len(result.Failures),
	)

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch incomplete")
	}
	return result, err
}

// pass carries the state of one Dispatch call.
type pass struct {
	*Dispatcher
	result  *Result
	snap    *snapshot.Snapshot
	dctx    Context
	alertID string
	message notify.Message
}

func (p *pass) run(ctx context.Context, a Action) error {
	switch act := a.(type) {
	case AlertAction:
		p.notifyAll(ctx, act)
		return nil
	case BlockRiskyOpsAction:
		reason := "Governance Policy: " + strings.Join(evaluator.Strings(act.Triggers()), ", ")
		return p.block(ctx, act, act.DisableIntent, reason, audit.ActionBlockRiskyOps)
	case TuneSystemAction:
		p.tune(ctx, act)
		return nil
	case BlockAllAction:
		return p.block(ctx, act, []string{store.Wildcard}, act.Reason, audit.ActionBlockAll)
	case EscalateAction:
		_, err := p.record(ctx, act, audit.ActionEscalate, map[string]any{
			"contacts": stringsToAny(act.Contacts),
		})
		return err
	default:
		panic(fmt.Sprintf("dispatch: unhandled action %T", a))
	}
}

func (p *pass) notifyAll(ctx context.Context, act AlertAction) {
	for _, n := range p.notifiers {
		channel := n.Channel()
		switch {
		case channel == notify.ChannelSlack && !act.NotifySlack,
			channel == notify.ChannelEmail && !act.NotifyEmail:
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, p.config.NotifyTimeout)
		err := n.Send(sendCtx, p.message)
		cancel()
		if err != nil {
			p.logger.Error("alert delivery failed", "channel", channel, "error", err)
			p.result.Failures = append(p.result.Failures, Failure{
				Kind:   policy.ActionAlert,
				Target: channel,
				Error:  err.Error(),
			})
			continue
		}
		p.result.AlertsSent++
		p.logger.Info("alert delivered", "channel", channel)
	}
}

func (p *pass) tune(ctx context.Context, act TuneSystemAction) {
	fail := func(err error) {
		p.logger.Error("tuning invocation failed", "entry_point", act.Invoke, "error", err)
		p.result.Failures = append(p.result.Failures, Failure{
			Kind:   policy.ActionTuneSystem,
			Target: act.Invoke,
			Error:  err.Error(),
		})
	}
	if p.tuner == nil {
		fail(errors.New("no tuner configured"))
		return
	}

	tuneCtx, cancel := context.WithTimeout(ctx, p.config.TuneTimeout)
	defer cancel()
	if err := p.tuner.Invoke(tuneCtx, act.Invoke); err != nil {
		fail(err)
		return
	}
	p.result.TuningInvoked = true
	p.logger.Info("tuning invoked", "entry_point", act.Invoke)
}

// block replaces the runtime override and audits the change.
func (p *pass) block(ctx context.Context, act Action, disabled []string, reason, auditAction string) error {
	if disabled == nil {
		disabled = []string{}
	}
	written, err := p.overrides.ReplaceOverride(ctx, store.RuntimeOverride{
		Disabled:  disabled,
		Reason:    reason,
		UpdatedBy: p.dctx.Actor,
		UpdatedAt: p.now().UTC(),
	})
	if err != nil {
		p.logger.Error("override write failed", "action", act.Kind(), "error", err)
		return err
	}
	p.result.OverridesWritten++
	p.logger.Warn("runtime operations blocked",
		"action", act.Kind(),
		"disabled", written.Disabled,
		"revision", written.Revision,
	)

	_, err = p.record(ctx, act, auditAction, map[string]any{
		"disabled": stringsToAny(written.Disabled),
		"reason":   reason,
		"revision": written.Revision,
	})
	return err
}

func (p *pass) record(ctx context.Context, act Action, action string, output map[string]any) (audit.Receipt, error) {
	rules := evaluator.Strings(act.Triggers())
	observed := make(map[string]any, len(act.Triggers()))
	for _, t := range act.Triggers() {
		observed[t.Metric] = t.CurrentValue
	}

	receipt, err := p.recorder.Record(ctx, &audit.Entry{
		Actor:   audit.Actor{UID: p.dctx.Actor, Role: "governance"},
		Action:  action,
		Subject: audit.Subject{TeamID: p.snap.TeamID, PolicyID: p.dctx.PolicyID},
		Input: map[string]any{
			"date":    p.snap.Date,
			"metrics": observed,
		},
		Output: output,
		Policy: audit.PolicyInfo{MatchedRules: rules, Risk: act.Kind().Severity()},
		Links:  &audit.Links{AlertID: p.alertID, SnapshotDate: p.snap.Date},
	})
	if err != nil {
		return audit.Receipt{}, err
	}
	p.result.AuditEntries = append(p.result.AuditEntries, receipt)
	return receipt, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
