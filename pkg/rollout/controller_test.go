package rollout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/sentinel/pkg/audit"
	auditstorage "mercator-hq/sentinel/pkg/audit/storage"
	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/snapshot"
	"mercator-hq/sentinel/pkg/store"
	"mercator-hq/sentinel/pkg/store/memory"
)

func floatPtr(v float64) *float64 { return &v }

func rolloutDoc() *policy.Document {
	return &policy.Document{
		ID: "gov",
		Thresholds: map[string]policy.Threshold{
			"passRate":        {Op: policy.OpGreaterEqual, Value: floatPtr(0.9)},
			"regressionCount": {Op: policy.OpLessEqual, Value: floatPtr(3)},
		},
		Rollout: policy.Rollout{Stages: []policy.Stage{
			{Percent: 10, MinHours: 0},
			{Percent: 50, MinHours: 24},
			{Percent: 100, MinHours: 48},
		}},
	}
}

type fixture struct {
	store  *memory.Store
	ledger *auditstorage.MemoryStorage
	ctl    *Controller
	clock  time.Time
}

func newFixture(t *testing.T, doc *policy.Document) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		ledger: auditstorage.NewMemoryStorage(),
		clock:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if doc != nil {
		if err := f.store.PutPolicy(context.Background(), doc); err != nil {
			t.Fatal(err)
		}
	}
	f.ctl = NewController(f.store, f.store, f.store, audit.NewRecorder(f.ledger, nil), "gov")
	f.ctl.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) snapshot(t *testing.T, metrics map[string]float64) {
	t.Helper()
	err := f.store.PutSnapshot(context.Background(), snapshot.Snapshot{
		Date:       f.clock.Format("2006-01-02"),
		Metrics:    metrics,
		ReceivedAt: f.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAdvance_FirstStage(t *testing.T) {
	f := newFixture(t, rolloutDoc())
	ctx := context.Background()

	res, err := f.ctl.Advance(ctx, "alice")
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if res.StageIndex != 0 || res.Percent != 10 || res.TotalStages != 3 || res.PreviousIndex != -1 {
		t.Errorf("result = %+v", res)
	}

	state, _ := f.store.GetRollout(ctx)
	if state.StageIndex != 0 || state.ApprovedBy != "alice" || !state.UpdatedAt.Equal(f.clock) {
		t.Errorf("state = %+v", state)
	}

	e, err := f.ledger.Get(ctx, res.AuditID)
	if err != nil {
		t.Fatalf("audit entry missing: %v", err)
	}
	if e.Action != audit.ActionRolloutAdvance || e.Policy.Risk != policy.SeverityMedium || e.Actor.UID != "alice" {
		t.Errorf("entry = %+v", e)
	}
	if e.Input["from"] != -1.0 || e.Input["to"] != 0.0 {
		t.Errorf("input = %v", e.Input)
	}
}

func TestAdvance_DefaultApprover(t *testing.T) {
	f := newFixture(t, rolloutDoc())
	if _, err := f.ctl.Advance(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	state, _ := f.store.GetRollout(context.Background())
	if state.ApprovedBy != "system" {
		t.Errorf("ApprovedBy = %q, want system", state.ApprovedBy)
	}
}

func TestAdvance_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		doc      *policy.Document
		metrics  map[string]float64
		advances int
		after    time.Duration
		wantCode string
		wantErr  error
		wantMsg  string
	}{
		{
			name:     "policy missing",
			doc:      nil,
			wantCode: CodePolicyNotFound,
			wantErr:  ErrPolicyNotFound,
		},
		{
			name:     "no stages",
			doc:      &policy.Document{ID: "gov"},
			wantCode: CodeNoRolloutStages,
			wantErr:  ErrNoRolloutStages,
		},
		{
			name:     "pass rate regression",
			doc:      rolloutDoc(),
			metrics:  map[string]float64{"passRate": 0.85},
			wantCode: CodeRegressionDetected,
			wantErr:  ErrRegressionDetected,
		},
		{
			name:     "regression count",
			doc:      rolloutDoc(),
			metrics:  map[string]float64{"passRate": 0.95, "regressionCount": 4},
			wantCode: CodeRegressionDetected,
			wantErr:  ErrRegressionDetected,
		},
		{
			name:     "dwell not met",
			doc:      rolloutDoc(),
			advances: 1,
			after:    90 * time.Minute,
			wantCode: CodeMinHoursNotMet,
			wantErr:  ErrMinDwellNotMet,
			wantMsg:  "Must wait 24 hours before advancing. 1.5 hours elapsed.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.doc)
			for i := 0; i < tt.advances; i++ {
				if _, err := f.ctl.Advance(context.Background(), "alice"); err != nil {
					t.Fatal(err)
				}
			}
			f.clock = f.clock.Add(tt.after)
			if tt.metrics != nil {
				f.snapshot(t, tt.metrics)
			}
			before, _ := f.store.GetRollout(context.Background())
			auditBefore, _ := f.ledger.Count(context.Background(), nil)

			_, err := f.ctl.Advance(context.Background(), "bob")
			var rej *RejectionError
			if !errors.As(err, &rej) {
				t.Fatalf("Advance() error = %v, want *RejectionError", err)
			}
			if rej.Code != tt.wantCode || !errors.Is(err, tt.wantErr) {
				t.Errorf("code = %s, want %s", rej.Code, tt.wantCode)
			}
			if tt.wantMsg != "" && rej.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", rej.Message, tt.wantMsg)
			}

			after, _ := f.store.GetRollout(context.Background())
			if after.StageIndex != before.StageIndex || after.Revision != before.Revision {
				t.Errorf("rejection changed state: %+v -> %+v", before, after)
			}
			auditAfter, _ := f.ledger.Count(context.Background(), nil)
			if auditAfter != auditBefore {
				t.Error("rejection wrote an audit entry")
			}
		})
	}
}

func TestAdvance_DefaultThresholdValues(t *testing.T) {
	doc := rolloutDoc()
	doc.Thresholds = map[string]policy.Threshold{"passRate": {}, "regressionCount": {}}

	f := newFixture(t, doc)
	f.snapshot(t, map[string]float64{"passRate": 0.89})
	_, err := f.ctl.Advance(context.Background(), "alice")
	if !errors.Is(err, ErrRegressionDetected) {
		t.Fatalf("Advance() error = %v, want regression against default 0.9", err)
	}
	var rej *RejectionError
	errors.As(err, &rej)
	if len(rej.Details) != 1 || !strings.HasPrefix(rej.Details[0], "passRate >= 0.9") {
		t.Errorf("details = %v", rej.Details)
	}
}

func TestAdvance_MonotonicAndCapped(t *testing.T) {
	f := newFixture(t, rolloutDoc())
	f.snapshot(t, map[string]float64{"passRate": 0.97, "regressionCount": 1})

	wantIdx := []int{0, 1, 2, 2, 2}
	last := -1
	for i, want := range wantIdx {
		res, err := f.ctl.Advance(context.Background(), "alice")
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if res.StageIndex != want {
			t.Errorf("advance %d: index = %d, want %d", i, res.StageIndex, want)
		}
		if res.StageIndex < last {
			t.Fatalf("index decreased from %d to %d", last, res.StageIndex)
		}
		last = res.StageIndex
		f.clock = f.clock.Add(72 * time.Hour)
	}

	state, _ := f.store.GetRollout(context.Background())
	if state.Percent != 100 {
		t.Errorf("final percent = %d, want 100", state.Percent)
	}
}

func TestAdvance_SingleWinner(t *testing.T) {
	f := newFixture(t, rolloutDoc())

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ctl.Advance(context.Background(), "racer")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			var rej *RejectionError
			if !errors.As(err, &rej) || (rej.Code != CodeConcurrentAdvance && rej.Code != CodeMinHoursNotMet) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	state, _ := f.store.GetRollout(context.Background())
	if state.StageIndex != 0 {
		t.Errorf("StageIndex = %d, want 0", state.StageIndex)
	}
	n2, _ := f.ledger.Count(context.Background(), &audit.Query{Action: audit.ActionRolloutAdvance})
	if n2 != 1 {
		t.Errorf("rollout_advance entries = %d, want 1", n2)
	}
}

type conflictingRollouts struct {
	store.RolloutStore
}

func (c conflictingRollouts) CompareAndSwapRollout(ctx context.Context, expected int, next store.RolloutState) (store.RolloutState, error) {
	return store.RolloutState{StageIndex: expected + 1}, store.ErrConflict
}

func TestAdvance_ConflictIsRejection(t *testing.T) {
	f := newFixture(t, rolloutDoc())
	ctl := NewController(f.store, conflictingRollouts{f.store}, f.store, audit.NewRecorder(f.ledger, nil), "gov")

	_, err := ctl.Advance(context.Background(), "alice")
	if !errors.Is(err, ErrConcurrentAdvance) {
		t.Errorf("Advance() error = %v, want ErrConcurrentAdvance", err)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, rolloutDoc())
	ctx := context.Background()

	st, err := f.ctl.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.State.StageIndex != -1 || st.NextStage == nil || st.NextStage.Percent != 10 || st.EligibleAt != nil {
		t.Errorf("initial status = %+v", st)
	}

	if _, err := f.ctl.Advance(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	f.snapshot(t, map[string]float64{"passRate": 0.5})

	st, err = f.ctl.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.NextStage.Percent != 50 {
		t.Errorf("next stage = %+v", st.NextStage)
	}
	if st.EligibleAt == nil || !st.EligibleAt.Equal(f.clock.Add(24*time.Hour)) {
		t.Errorf("EligibleAt = %v", st.EligibleAt)
	}
	if len(st.Violations) != 1 {
		t.Errorf("Violations = %v", st.Violations)
	}
	if st.Complete {
		t.Error("Complete = true after first stage")
	}
}

func TestStatus_NoStages(t *testing.T) {
	f := newFixture(t, &policy.Document{ID: "gov"})
	st, err := f.ctl.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalStages != 0 || st.Complete || st.NextStage != nil {
		t.Errorf("status = %+v", st)
	}
}
