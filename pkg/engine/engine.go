// Package engine wires the governance components together and exposes the
// operations the HTTP API, the NATS subscriber, the scheduler and the CLI
// drive: snapshot evaluation, policy compilation, enforcement, rollout,
// drift checks, override and alert administration, and audit reads.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/sentinel/pkg/audit"
	"mercator-hq/sentinel/pkg/dispatch"
	"mercator-hq/sentinel/pkg/drift"
	"mercator-hq/sentinel/pkg/enforcement"
	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/policy/evaluator"
	"mercator-hq/sentinel/pkg/rollout"
	"mercator-hq/sentinel/pkg/snapshot"
	"mercator-hq/sentinel/pkg/store"
	"mercator-hq/sentinel/pkg/telemetry/metrics"
)

// Config holds the engine-level settings.
type Config struct {
	// PolicyID is the governing policy document.
	// Default: policy.DefaultPolicyID
	PolicyID string

	// FallbackToDefault evaluates snapshots against policy.DefaultDocument
	// while no document with PolicyID is stored.
	FallbackToDefault bool

	// EnforcementTimeout bounds gate reads. Default: 2 seconds
	EnforcementTimeout time.Duration
}

// Deps are the collaborators an Engine is built from. Store and
// AuditStorage are required.
type Deps struct {
	Store        store.Store
	AuditStorage audit.Storage
	Recorder     *audit.Config
	Dispatch     *dispatch.Config
	Notifiers    []dispatch.Notifier
	Tuner        dispatch.Tuner
	Metrics      *metrics.Collector
}

// Evaluation is the outcome of one OnSnapshot call.
type Evaluation struct {
	PolicyID  string                    `json:"policyId,omitempty"`
	Date      string                    `json:"date"`
	Skipped   bool                      `json:"skipped,omitempty"`
	Triggered []evaluator.TriggeredRule `json:"triggered"`
	Dispatch  *dispatch.Result          `json:"dispatch,omitempty"`
}

// Engine is the governance engine.
type Engine struct {
	config     Config
	store      store.Store
	storage    audit.Storage
	recorder   *audit.Recorder
	dispatcher *dispatch.Dispatcher
	gate       *enforcement.Gate
	controller *rollout.Controller
	drift      *drift.Watcher
	explainer  *audit.Explainer
	metrics    *metrics.Collector
	events     *snapshot.Buffer

	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// New assembles an engine from deps.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if deps.AuditStorage == nil {
		return nil, errors.New("engine: audit storage is required")
	}
	if cfg.PolicyID == "" {
		cfg.PolicyID = policy.DefaultPolicyID
	}

	e := &Engine{
		config:  cfg,
		store:   deps.Store,
		storage: deps.AuditStorage,
		metrics: deps.Metrics,
		events:  snapshot.NewBuffer(),
		now:     time.Now,
		logger:  slog.Default().With("component", "engine"),
		tracer:  otel.Tracer("mercator-hq/sentinel/engine"),
	}

	ledger := deps.AuditStorage
	notifiers := deps.Notifiers
	if e.metrics != nil {
		ledger = &meteredStorage{Storage: ledger, metrics: e.metrics}
		notifiers = make([]dispatch.Notifier, len(deps.Notifiers))
		for i, n := range deps.Notifiers {
			notifiers[i] = &meteredNotifier{Notifier: n, metrics: e.metrics}
		}
	}

	e.recorder = audit.NewRecorder(ledger, deps.Recorder)
	opts := []dispatch.Option{dispatch.WithNotifiers(notifiers...), dispatch.WithConfig(deps.Dispatch)}
	if deps.Tuner != nil {
		opts = append(opts, dispatch.WithTuner(deps.Tuner))
	}
	e.dispatcher = dispatch.New(deps.Store, deps.Store, e.recorder, opts...)
	e.gate = enforcement.NewGate(deps.Store, deps.Store, e.recorder, enforcement.Config{
		PolicyID: cfg.PolicyID,
		Timeout:  cfg.EnforcementTimeout,
	})
	e.controller = rollout.NewController(deps.Store, deps.Store, deps.Store, e.recorder, cfg.PolicyID)
	e.drift = drift.NewWatcher(deps.Store, cfg.PolicyID, notifiers...)
	e.explainer = audit.NewExplainer(deps.AuditStorage, deps.Store)
	return e, nil
}

// PolicyID returns the governing policy id.
func (e *Engine) PolicyID() string { return e.config.PolicyID }

// Store returns the state store.
func (e *Engine) Store() store.Store { return e.store }

// AuditStorage returns the audit ledger.
func (e *Engine) AuditStorage() audit.Storage { return e.storage }

// Metrics returns the collector, or nil when metrics are not wired.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Events returns the buffer raw quality events accumulate in until the
// next rollup.
func (e *Engine) Events() *snapshot.Buffer { return e.events }

// OnSnapshot persists snap, evaluates it against the governing policy and
// dispatches the triggered actions. When the policy is absent and fallback
// is disabled the snapshot is stored and evaluation is skipped.
func (e *Engine) OnSnapshot(ctx context.Context, snap snapshot.Snapshot) (*Evaluation, error) {
	ctx, span := e.tracer.Start(ctx, "engine.OnSnapshot", trace.WithAttributes(
		attribute.String("snapshot.date", snap.Date),
		attribute.String("team.id", snap.TeamID),
		attribute.Int("snapshot.metrics", len(snap.Metrics)),
	))
	defer span.End()

	if snap.Date == "" {
		snap.Date = e.now().UTC().Format(time.DateOnly)
	}
	if snap.ReceivedAt.IsZero() {
		snap.ReceivedAt = e.now().UTC()
	}
	if err := e.store.PutSnapshot(ctx, snap); err != nil {
		span.SetStatus(codes.Error, "put snapshot")
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}

	result := &Evaluation{Date: snap.Date, Triggered: []evaluator.TriggeredRule{}}
	doc, err := e.governingPolicy(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "load policy")
		return nil, err
	}
	if doc == nil {
		e.logger.Info("no governing policy, skipping evaluation", "policy_id", e.config.PolicyID, "date", snap.Date)
		result.Skipped = true
		return result, nil
	}
	result.PolicyID = doc.ID

	start := time.Now()
	triggered := evaluator.Evaluate(&snap, doc.Rules)
	if e.metrics != nil {
		e.metrics.RecordEvaluation(doc.ID, len(triggered), time.Since(start))
		for _, t := range triggered {
			e.metrics.RecordTriggered(t.Name(), string(t.Action))
		}
	}
	span.SetAttributes(attribute.Int("rules.triggered", len(triggered)))
	if len(triggered) == 0 {
		e.logger.Debug("snapshot healthy", "policy_id", doc.ID, "date", snap.Date)
		return result, nil
	}
	result.Triggered = triggered

	res, err := e.dispatcher.Dispatch(ctx, triggered, doc.Actions, &snap, dispatch.Context{PolicyID: doc.ID})
	result.Dispatch = res
	e.recordDispatch(res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch")
		return result, err
	}
	e.logger.Info("governance actions dispatched",
		"policy_id", doc.ID,
		"date", snap.Date,
		"triggered", len(triggered),
		"actions", res.Actions,
		"severity", res.Severity,
	)
	return result, nil
}

// IngestEvents rolls events up into a snapshot for date and evaluates it.
func (e *Engine) IngestEvents(ctx context.Context, date string, events []snapshot.Event) (*Evaluation, error) {
	if date == "" {
		date = e.now().UTC().Format(time.DateOnly)
	}
	return e.OnSnapshot(ctx, snapshot.Rollup(date, events))
}

// RollupBuffered drains the event buffer and evaluates the rollup. An
// empty buffer is a no-op returning nil.
func (e *Engine) RollupBuffered(ctx context.Context) (*Evaluation, error) {
	events := e.events.Drain()
	if len(events) == 0 {
		return nil, nil
	}
	return e.IngestEvents(ctx, "", events)
}

// governingPolicy returns the stored policy, the built-in default when
// fallback is enabled, or nil.
func (e *Engine) governingPolicy(ctx context.Context) (*policy.Document, error) {
	doc, err := e.store.GetPolicy(ctx, e.config.PolicyID)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load policy %s: %w", e.config.PolicyID, err)
	}
	if !e.config.FallbackToDefault {
		return nil, nil
	}
	return policy.DefaultDocument(), nil
}

func (e *Engine) recordDispatch(res *dispatch.Result, err error) {
	if e.metrics == nil || res == nil {
		return
	}
	for _, kind := range res.Actions {
		e.metrics.RecordAction(string(kind))
	}
	e.metrics.RecordOverrides(res.OverridesWritten)
	for _, f := range res.Failures {
		e.metrics.RecordDispatchFailure(string(f.Kind))
	}
	if res.Alert != nil {
		e.metrics.RecordAlert(res.Alert.Type, string(res.Alert.Severity))
	}
	if err != nil {
		e.metrics.RecordDispatchFailure("infrastructure")
	}
}

// Close releases the stores.
func (e *Engine) Close() error {
	return errors.Join(e.store.Close(), e.storage.Close())
}
