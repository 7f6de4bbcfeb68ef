package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sentinel/pkg/audit"
	auditstorage "mercator-hq/sentinel/pkg/audit/storage"
	"mercator-hq/sentinel/pkg/config"
	"mercator-hq/sentinel/pkg/dispatch"
	"mercator-hq/sentinel/pkg/enforcement"
	"mercator-hq/sentinel/pkg/notify"
	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/snapshot"
	"mercator-hq/sentinel/pkg/store"
	"mercator-hq/sentinel/pkg/store/memory"
	"mercator-hq/sentinel/pkg/telemetry/health"
	"mercator-hq/sentinel/pkg/telemetry/metrics"
)

type recordingNotifier struct {
	channel string
	mu      sync.Mutex
	sent    []notify.Message
	err     error
}

func (n *recordingNotifier) Channel() string { return n.channel }

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	engine   *Engine
	store    *memory.Store
	ledger   *auditstorage.MemoryStorage
	slack    *recordingNotifier
	registry *prometheus.Registry
}

func newFixture(t *testing.T, fallback bool) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		ledger:   auditstorage.NewMemoryStorage(),
		slack:    &recordingNotifier{channel: notify.ChannelSlack},
		registry: prometheus.NewRegistry(),
	}
	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test"}, f.registry)

	e, err := New(Config{FallbackToDefault: fallback}, Deps{
		Store:        f.store,
		AuditStorage: f.ledger,
		Notifiers:    []dispatch.Notifier{f.slack},
		Metrics:      collector,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	e.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	f.engine = e
	return f
}

func (f *fixture) entries(t *testing.T, action string) []*audit.Entry {
	t.Helper()
	entries, err := f.ledger.Query(context.Background(), &audit.Query{Action: action})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	return entries
}

func TestNew_RequiresStores(t *testing.T) {
	if _, err := New(Config{}, Deps{AuditStorage: auditstorage.NewMemoryStorage()}); err == nil {
		t.Error("expected error without store")
	}
	if _, err := New(Config{}, Deps{Store: memory.New()}); err == nil {
		t.Error("expected error without audit storage")
	}
}

func TestOnSnapshot_FallbackPolicy(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	eval, err := f.engine.OnSnapshot(ctx, snapshot.Snapshot{
		Date:    "2026-03-01",
		Metrics: map[string]float64{"passRate": 0.6, "regressionCount": 1},
	})
	if err != nil {
		t.Fatalf("OnSnapshot() error = %v", err)
	}
	if eval.Skipped {
		t.Fatal("evaluation should not be skipped with fallback enabled")
	}
	if eval.PolicyID != policy.DefaultPolicyID {
		t.Errorf("PolicyID = %q", eval.PolicyID)
	}
	if len(eval.Triggered) != 2 {
		t.Fatalf("triggered = %d, want 2 (passRate < 0.9 and passRate < 0.7)", len(eval.Triggered))
	}
	if eval.Dispatch == nil || eval.Dispatch.Severity != policy.SeverityCritical {
		t.Errorf("dispatch = %+v, want critical severity", eval.Dispatch)
	}

	o, err := f.engine.Override(ctx)
	if err != nil {
		t.Fatalf("Override() error = %v", err)
	}
	if !o.Blocks("deploy_model") {
		t.Errorf("override %v should block everything after block_all", o.Disabled)
	}

	alerts, err := f.engine.Alerts(ctx, store.AlertFilter{Type: store.AlertTypeGovernance})
	if err != nil {
		t.Fatalf("Alerts() error = %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(alerts))
	}
	if f.slack.count() != 1 {
		t.Errorf("slack sends = %d, want 1", f.slack.count())
	}

	latest, err := f.store.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if latest.ReceivedAt.IsZero() {
		t.Error("ReceivedAt should be stamped")
	}

	if got := counterValue(t, f.registry, "test_governance_actions_total", "kind", "block_all"); got != 1 {
		t.Errorf("block_all actions metric = %v, want 1", got)
	}
}

func TestOnSnapshot_NoPolicySkips(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	eval, err := f.engine.OnSnapshot(ctx, snapshot.Snapshot{
		Metrics: map[string]float64{"passRate": 0.1},
	})
	if err != nil {
		t.Fatalf("OnSnapshot() error = %v", err)
	}
	if !eval.Skipped {
		t.Error("expected skipped evaluation")
	}
	if eval.Date != "2026-03-01" {
		t.Errorf("Date = %q, want clock date", eval.Date)
	}
	if _, err := f.store.LatestSnapshot(ctx); err != nil {
		t.Errorf("snapshot should still be stored: %v", err)
	}
	if _, err := f.store.GetOverride(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("no override expected, got err = %v", err)
	}
}

func TestOnSnapshot_HealthySnapshot(t *testing.T) {
	f := newFixture(t, true)
	eval, err := f.engine.OnSnapshot(context.Background(), snapshot.Snapshot{
		Date:    "2026-03-01",
		Metrics: map[string]float64{"passRate": 0.97, "regressionCount": 0, "avgLatency": 120},
	})
	if err != nil {
		t.Fatalf("OnSnapshot() error = %v", err)
	}
	if len(eval.Triggered) != 0 || eval.Dispatch != nil {
		t.Errorf("healthy snapshot dispatched: %+v", eval)
	}
	if f.slack.count() != 0 {
		t.Error("no notification expected")
	}
}

func TestIngestEvents(t *testing.T) {
	f := newFixture(t, true)
	passed, failed := true, false
	events := []snapshot.Event{
		{Type: "eval", Passed: &passed},
		{Type: "eval", Passed: &failed},
		{Type: "eval", Passed: &failed},
	}

	eval, err := f.engine.IngestEvents(context.Background(), "2026-02-28", events)
	if err != nil {
		t.Fatalf("IngestEvents() error = %v", err)
	}
	if eval.Date != "2026-02-28" {
		t.Errorf("Date = %q", eval.Date)
	}
	if len(eval.Triggered) == 0 {
		t.Error("a pass rate of 1/3 should trigger rules")
	}
}

func TestRollupBuffered(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	eval, err := f.engine.RollupBuffered(ctx)
	if err != nil || eval != nil {
		t.Fatalf("empty buffer: eval = %v, err = %v", eval, err)
	}

	passed := true
	f.engine.Events().Add(snapshot.Event{Type: "eval", Passed: &passed})
	eval, err = f.engine.RollupBuffered(ctx)
	if err != nil {
		t.Fatalf("RollupBuffered() error = %v", err)
	}
	if eval == nil || eval.Date != "2026-03-01" {
		t.Errorf("eval = %+v", eval)
	}
	if f.engine.Events().Len() != 0 {
		t.Error("buffer should be drained")
	}
}

func TestCompilePolicy(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.engine.CompilePolicy(ctx, []byte(policy.DefaultSource), "alice")
	if err != nil {
		t.Fatalf("CompilePolicy() error = %v", err)
	}
	if res.AuditID == "" {
		t.Error("AuditID should be set")
	}
	if _, err := f.engine.GetPolicy(ctx, ""); err != nil {
		t.Errorf("GetPolicy() error = %v", err)
	}

	entries := f.entries(t, audit.ActionPolicyCompile)
	if len(entries) != 1 {
		t.Fatalf("policy_compile entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Actor.UID != "alice" || e.Actor.Role != "admin" {
		t.Errorf("actor = %+v", e.Actor)
	}
	if e.Policy.Risk != policy.SeverityLow {
		t.Errorf("risk = %q, want low", e.Policy.Risk)
	}
	if e.Subject.PolicyID != policy.DefaultPolicyID {
		t.Errorf("subject = %+v", e.Subject)
	}
}

func TestCompilePolicy_InvalidNotStored(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.engine.CompilePolicy(ctx, []byte("id: broken\nrules:\n  - metric: passRate\n    operator: \"!=\"\n    value: 1\n    action: alert\n"), "bob")
	var cfgErr *policy.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *policy.ConfigError", err)
	}
	if _, err := f.engine.GetPolicy(ctx, "broken"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("invalid policy persisted: err = %v", err)
	}
	if n := len(f.entries(t, audit.ActionPolicyCompile)); n != 0 {
		t.Errorf("policy_compile entries = %d, want 0", n)
	}
}

func TestClearOverrides(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if _, err := f.store.ReplaceOverride(ctx, store.RuntimeOverride{Disabled: []string{store.Wildcard}, Reason: "block_all"}); err != nil {
		t.Fatalf("ReplaceOverride() error = %v", err)
	}

	o, err := f.engine.ClearOverrides(ctx, "carol", "")
	if err != nil {
		t.Fatalf("ClearOverrides() error = %v", err)
	}
	if len(o.Disabled) != 0 || o.UpdatedBy != "carol" {
		t.Errorf("override = %+v", o)
	}

	entries := f.entries(t, audit.ActionOverrideClear)
	if len(entries) != 1 {
		t.Fatalf("override_clear entries = %d, want 1", len(entries))
	}
	if prev, _ := entries[0].Input["previous"].([]any); len(prev) != 1 || prev[0] != store.Wildcard {
		t.Errorf("previous = %v", entries[0].Input["previous"])
	}
}

func TestEnforce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if _, err := f.engine.CompilePolicy(ctx, []byte(policy.DefaultSource), ""); err != nil {
		t.Fatalf("CompilePolicy() error = %v", err)
	}

	req := enforcement.Request{Service: "checkout", TeamID: "team-a", Action: "deploy_model"}
	if err := f.engine.Enforce(ctx, req); err != nil {
		t.Fatalf("Enforce() before block = %v", err)
	}

	if _, err := f.store.ReplaceOverride(ctx, store.RuntimeOverride{Disabled: []string{"deploy_model"}, Reason: "regressions"}); err != nil {
		t.Fatal(err)
	}
	err := f.engine.Enforce(ctx, req)
	if !errors.Is(err, enforcement.ErrActionBlocked) {
		t.Fatalf("Enforce() = %v, want ErrActionBlocked", err)
	}
	if !strings.HasPrefix(err.Error(), "blocked_by_policy:") {
		t.Errorf("error = %q", err)
	}
	if n := len(f.entries(t, audit.ActionPolicyBlock)); n != 1 {
		t.Errorf("policy_block entries = %d, want 1", n)
	}

	if got := counterValue(t, f.registry, "test_governance_enforcement_decisions_total", "code", enforcement.CodeActionBlocked); got != 1 {
		t.Errorf("blocked decisions metric = %v, want 1", got)
	}
}

func TestAdvance_RecordsMetrics(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if _, err := f.engine.CompilePolicy(ctx, []byte(policy.DefaultSource), ""); err != nil {
		t.Fatal(err)
	}

	res, err := f.engine.Advance(ctx, "dana")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.StageIndex != 0 || res.Percent != 10 {
		t.Errorf("result = %+v", res)
	}

	// Second stage requires 24h dwell.
	if _, err := f.engine.Advance(ctx, "dana"); err == nil {
		t.Fatal("expected min_hours_not_met rejection")
	}

	advanced := counterValue(t, f.registry, "test_governance_rollout_advances_total", "outcome", "advanced")
	rejected := counterValue(t, f.registry, "test_governance_rollout_advances_total", "outcome", "min_hours_not_met")
	if advanced != 1 || rejected != 1 {
		t.Errorf("advanced = %v, rejected = %v", advanced, rejected)
	}
}

func TestResolveAlert(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	alert := &store.AlertRecord{Type: store.AlertTypeGovernance, Severity: policy.SeverityHigh, Message: "x"}
	if err := f.store.AppendAlert(ctx, alert); err != nil {
		t.Fatal(err)
	}

	got, err := f.engine.ResolveAlert(ctx, alert.ID, "erin")
	if err != nil {
		t.Fatalf("ResolveAlert() error = %v", err)
	}
	if !got.Resolved || got.ResolvedBy != "erin" {
		t.Errorf("alert = %+v", got)
	}
	entries := f.entries(t, audit.ActionAlertResolve)
	if len(entries) != 1 || entries[0].Links == nil || entries[0].Links.AlertID != alert.ID {
		t.Errorf("alert_resolve entries = %+v", entries)
	}

	if _, err := f.engine.ResolveAlert(ctx, "missing", "erin"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ResolveAlert(missing) = %v, want ErrNotFound", err)
	}
}

func TestCheckDrift(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if _, err := f.engine.CompilePolicy(ctx, []byte(policy.DefaultSource), ""); err != nil {
		t.Fatal(err)
	}

	report, err := f.engine.CheckDrift(ctx)
	if err != nil {
		t.Fatalf("CheckDrift() error = %v", err)
	}
	if len(report.Drift) == 0 || report.Alert == nil {
		t.Fatalf("report = %+v, want runtime_missing drift", report)
	}
	if f.slack.count() != 1 {
		t.Errorf("slack sends = %d, want 1", f.slack.count())
	}
}

func TestQueryAudit_TotalIgnoresPagination(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.engine.CompilePolicy(ctx, []byte(policy.DefaultSource), ""); err != nil {
			t.Fatal(err)
		}
	}

	entries, total, err := f.engine.QueryAudit(ctx, &audit.Query{Limit: 2})
	if err != nil {
		t.Fatalf("QueryAudit() error = %v", err)
	}
	if len(entries) != 2 || total != 3 {
		t.Errorf("len = %d, total = %d", len(entries), total)
	}

	explanation, err := f.engine.Explain(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if !explanation.Verified {
		t.Error("entry hash should verify")
	}
}

func TestRegisterHealthChecks(t *testing.T) {
	tests := []struct {
		name     string
		fallback bool
		compile  bool
		want     string
	}{
		{"fallback without policy", true, false, health.StatusReady},
		{"no policy no fallback", false, false, health.StatusDegraded},
		{"compiled policy", false, true, health.StatusReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.fallback)
			if tt.compile {
				if _, err := f.engine.CompilePolicy(context.Background(), []byte(policy.DefaultSource), ""); err != nil {
					t.Fatal(err)
				}
			}
			checker := health.New(time.Second)
			f.engine.RegisterHealthChecks(checker)
			status := checker.CheckReadiness(context.Background())
			if status.Status != tt.want {
				t.Errorf("status = %q, want %q (%+v)", status.Status, tt.want, status.Checks)
			}
		})
	}
}

func TestMeteredNotifier_CountsFailures(t *testing.T) {
	f := newFixture(t, true)
	f.slack.err = errors.New("webhook down")

	if _, err := f.engine.OnSnapshot(context.Background(), snapshot.Snapshot{
		Date:    "2026-03-01",
		Metrics: map[string]float64{"passRate": 0.85},
	}); err != nil {
		t.Fatalf("OnSnapshot() error = %v", err)
	}
	if got := counterValue(t, f.registry, "test_governance_notifications_total", "channel", notify.ChannelSlack, "status", "error"); got != 1 {
		t.Errorf("failed notifications = %v, want 1", got)
	}
}

func TestOpen_MemoryBackends(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Store.Backend = "memory"
	cfg.Audit.Backend = "memory"

	e, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer e.Close()
	if e.Metrics() == nil {
		t.Error("metrics collector should be wired")
	}
	if e.PolicyID() != cfg.Policy.PolicyID {
		t.Errorf("PolicyID() = %q", e.PolicyID())
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Store.Backend = "etcd"
	if _, err := Open(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for unknown store backend")
	}
}

func TestNotifiers(t *testing.T) {
	cfg := &config.NotifyConfig{
		Slack:     config.SlackConfig{Enabled: true, WebhookURL: "http://example.invalid"},
		Email:     config.EmailConfig{Enabled: true, SMTPHost: "smtp.example.invalid"},
		RateLimit: config.RateLimitConfig{PerMinute: 10, Burst: 1},
	}
	ns := Notifiers(cfg)
	if len(ns) != 2 {
		t.Fatalf("len = %d, want 2", len(ns))
	}
	if ns[0].Channel() != notify.ChannelSlack || ns[1].Channel() != notify.ChannelEmail {
		t.Errorf("channels = %s, %s", ns[0].Channel(), ns[1].Channel())
	}
	if _, ok := ns[0].(*notify.RateLimited); !ok {
		t.Errorf("notifier %T should be rate limited", ns[0])
	}
}

// counterValue gathers reg and returns the value of counter name for the
// series carrying labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	want := map[string]string{}
	for i := 0; i+1 < len(labels); i += 2 {
		want[labels[i]] = labels[i+1]
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched == len(want) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}
