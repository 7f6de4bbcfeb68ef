// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/sentinel/pkg/policy"
	"mercator-hq/sentinel/pkg/policy/evaluator"
	"mercator-hq/sentinel/pkg/snapshot"
	"mercator-hq/sentinel/pkg/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run exercises s against the store.Store contract.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Policies", testPolicies},
		{"OverrideReplace", testOverrideReplace},
		{"RolloutCompareAndSwap", testRolloutCompareAndSwap},
		{"RolloutSingleWinner", testRolloutSingleWinner},
		{"Alerts", testAlerts},
		{"ResolveAlert", testResolveAlert},
		{"Snapshots", testSnapshots},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func testPolicies(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetPolicy(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetPolicy(missing) error = %v, want ErrNotFound", err)
	}

	doc := policy.DefaultDocument()
	doc.CompiledAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc.CompiledBy = "alice"
	if err := s.PutPolicy(ctx, doc); err != nil {
		t.Fatalf("PutPolicy() error = %v", err)
	}
	other := &policy.Document{ID: "a-first", CompiledAt: doc.CompiledAt, CompiledBy: "bob"}
	if err := s.PutPolicy(ctx, other); err != nil {
		t.Fatalf("PutPolicy() error = %v", err)
	}

	got, err := s.GetPolicy(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetPolicy() error = %v", err)
	}
	if got.CompiledBy != "alice" || !got.CompiledAt.Equal(doc.CompiledAt) {
		t.Errorf("compile metadata = %q/%v", got.CompiledBy, got.CompiledAt)
	}
	if len(got.Rules) != len(doc.Rules) {
		t.Errorf("rules = %d, want %d", len(got.Rules), len(doc.Rules))
	}
	if got.Actions.BlockRiskyOps == nil || len(got.Actions.BlockRiskyOps.DisableIntent) == 0 {
		t.Error("block_risky_ops config lost in round trip")
	}

	// Re-putting the same id replaces the document.
	doc.CompiledBy = "carol"
	if err := s.PutPolicy(ctx, doc); err != nil {
		t.Fatalf("PutPolicy() error = %v", err)
	}
	list, err := s.ListPolicies(ctx)
	if err != nil {
		t.Fatalf("ListPolicies() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListPolicies() = %d docs, want 2", len(list))
	}
	if list[0].ID != "a-first" || list[1].ID != doc.ID {
		t.Errorf("ListPolicies() order = %s, %s", list[0].ID, list[1].ID)
	}
	if list[1].CompiledBy != "carol" {
		t.Errorf("replaced CompiledBy = %q", list[1].CompiledBy)
	}
}

func testOverrideReplace(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetOverride(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetOverride() on empty store error = %v, want ErrNotFound", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first, err := s.ReplaceOverride(ctx, store.RuntimeOverride{
		Disabled:  []string{"retuning", "deploy_model"},
		Reason:    "Governance Policy: regressionCount > 3",
		UpdatedBy: "governance",
		UpdatedAt: at,
	})
	if err != nil {
		t.Fatalf("ReplaceOverride() error = %v", err)
	}
	if first.Revision != 1 {
		t.Errorf("first Revision = %d, want 1", first.Revision)
	}

	second, err := s.ReplaceOverride(ctx, store.RuntimeOverride{
		Disabled:  []string{"bulk_alert"},
		Reason:    "second",
		UpdatedAt: at.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("ReplaceOverride() error = %v", err)
	}
	if second.Revision != 2 {
		t.Errorf("second Revision = %d, want 2", second.Revision)
	}

	got, err := s.GetOverride(ctx)
	if err != nil {
		t.Fatalf("GetOverride() error = %v", err)
	}
	// Replace, not union.
	if len(got.Disabled) != 1 || got.Disabled[0] != "bulk_alert" {
		t.Errorf("Disabled = %v, want [bulk_alert]", got.Disabled)
	}
	if got.Reason != "second" || !got.UpdatedAt.Equal(at.Add(time.Minute)) {
		t.Errorf("override = %+v", got)
	}
	if got.Blocks("retuning") {
		t.Error("replaced operation should no longer be blocked")
	}
	if !got.Blocks("bulk_alert") {
		t.Error("bulk_alert should be blocked")
	}

	cleared, err := s.ReplaceOverride(ctx, store.RuntimeOverride{Reason: "cleared", UpdatedAt: at})
	if err != nil {
		t.Fatalf("ReplaceOverride(clear) error = %v", err)
	}
	if len(cleared.Disabled) != 0 || cleared.Revision != 3 {
		t.Errorf("cleared = %+v", cleared)
	}
}

func testRolloutCompareAndSwap(t *testing.T, s store.Store) {
	ctx := context.Background()

	st, err := s.GetRollout(ctx)
	if err != nil {
		t.Fatalf("GetRollout() error = %v", err)
	}
	if st.StageIndex != -1 || st.Percent != 0 {
		t.Fatalf("initial rollout = %+v, want idx -1 percent 0", st)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next, err := s.CompareAndSwapRollout(ctx, -1, store.RolloutState{
		StageIndex: 0, Percent: 10, UpdatedAt: at, ApprovedBy: "alice",
	})
	if err != nil {
		t.Fatalf("CompareAndSwapRollout(-1) error = %v", err)
	}
	if next.Revision != 1 {
		t.Errorf("Revision = %d, want 1", next.Revision)
	}

	// Stale expectation loses.
	cur, err := s.CompareAndSwapRollout(ctx, -1, store.RolloutState{StageIndex: 0, Percent: 10, UpdatedAt: at})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale CAS error = %v, want ErrConflict", err)
	}
	if cur.StageIndex != 0 {
		t.Errorf("conflict should report current state, got idx %d", cur.StageIndex)
	}

	if _, err := s.CompareAndSwapRollout(ctx, 0, store.RolloutState{
		StageIndex: 1, Percent: 50, UpdatedAt: at.Add(time.Hour), ApprovedBy: "bob",
	}); err != nil {
		t.Fatalf("CompareAndSwapRollout(0) error = %v", err)
	}

	st, err = s.GetRollout(ctx)
	if err != nil {
		t.Fatalf("GetRollout() error = %v", err)
	}
	if st.StageIndex != 1 || st.Percent != 50 || st.ApprovedBy != "bob" || st.Revision != 2 {
		t.Errorf("rollout = %+v", st)
	}
	if !st.UpdatedAt.Equal(at.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v", st.UpdatedAt)
	}
}

func testRolloutSingleWinner(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		failures []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompareAndSwapRollout(ctx, -1, store.RolloutState{
				StageIndex: 0, Percent: 10, UpdatedAt: time.Now().UTC(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, store.ErrConflict):
			default:
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("unexpected errors: %v", failures)
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	st, err := s.GetRollout(ctx)
	if err != nil {
		t.Fatalf("GetRollout() error = %v", err)
	}
	if st.StageIndex != 0 || st.Revision != 1 {
		t.Errorf("rollout after race = %+v", st)
	}
}

func testAlerts(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	alerts := []*store.AlertRecord{
		{
			CreatedAt: base,
			Type:      store.AlertTypeGovernance,
			Severity:  policy.SeverityMedium,
			Message:   "passRate low",
			RulesTriggered: []evaluator.TriggeredRule{{
				Rule:         policy.Rule{Metric: "passRate", Operator: policy.OpLessThan, Value: 0.9, Action: policy.ActionAlert},
				CurrentValue: 0.8,
			}},
			GovernanceDate: "2026-03-01",
		},
		{CreatedAt: base.Add(time.Hour), Type: store.AlertTypeDrift, Severity: policy.SeverityMedium, Message: "drift"},
		{CreatedAt: base.Add(2 * time.Hour), Type: store.AlertTypeGovernance, Severity: policy.SeverityCritical, Message: "halt"},
	}
	for _, a := range alerts {
		if err := s.AppendAlert(ctx, a); err != nil {
			t.Fatalf("AppendAlert() error = %v", err)
		}
		if a.ID == "" {
			t.Fatal("AppendAlert should assign an ID")
		}
	}

	all, err := s.ListAlerts(ctx, store.AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListAlerts() = %d, want 3", len(all))
	}
	if all[0].Message != "halt" || all[2].Message != "passRate low" {
		t.Errorf("ListAlerts() not newest first: %s, %s, %s", all[0].Message, all[1].Message, all[2].Message)
	}
	if len(all[2].RulesTriggered) != 1 || all[2].RulesTriggered[0].CurrentValue != 0.8 {
		t.Errorf("RulesTriggered = %+v", all[2].RulesTriggered)
	}

	tests := []struct {
		name   string
		filter store.AlertFilter
		want   []string
	}{
		{"by type", store.AlertFilter{Type: store.AlertTypeGovernance}, []string{"halt", "passRate low"}},
		{"since", store.AlertFilter{Since: base.Add(time.Hour)}, []string{"halt", "drift"}},
		{"limit", store.AlertFilter{Limit: 1}, []string{"halt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListAlerts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListAlerts() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListAlerts() = %d alerts, want %d", len(got), len(tt.want))
			}
			for i, msg := range tt.want {
				if got[i].Message != msg {
					t.Errorf("alert[%d] = %q, want %q", i, got[i].Message, msg)
				}
			}
		})
	}
}

func testResolveAlert(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.ResolveAlert(ctx, "missing", "alice", time.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ResolveAlert(missing) error = %v, want ErrNotFound", err)
	}

	a := &store.AlertRecord{Type: store.AlertTypeGovernance, Severity: policy.SeverityHigh, Message: "m"}
	if err := s.AppendAlert(ctx, a); err != nil {
		t.Fatalf("AppendAlert() error = %v", err)
	}

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	got, err := s.ResolveAlert(ctx, a.ID, "alice", at)
	if err != nil {
		t.Fatalf("ResolveAlert() error = %v", err)
	}
	if !got.Resolved || got.ResolvedBy != "alice" || got.ResolvedAt == nil || !got.ResolvedAt.Equal(at) {
		t.Errorf("resolved alert = %+v", got)
	}

	again, err := s.ResolveAlert(ctx, a.ID, "bob", at.Add(time.Hour))
	if err != nil {
		t.Fatalf("second ResolveAlert() error = %v", err)
	}
	if again.ResolvedBy != "alice" {
		t.Errorf("second resolution overwrote the first: %q", again.ResolvedBy)
	}

	resolved := false
	open, err := s.ListAlerts(ctx, store.AlertFilter{Resolved: &resolved})
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	if len(open) != 0 {
		t.Errorf("unresolved alerts = %d, want 0", len(open))
	}
}

func testSnapshots(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.LatestSnapshot(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LatestSnapshot() on empty store error = %v, want ErrNotFound", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snaps := []snapshot.Snapshot{
		{Date: "2026-03-02", Metrics: map[string]float64{"passRate": 0.95}, ReceivedAt: base},
		{Date: "2026-03-01", Metrics: map[string]float64{"passRate": 0.80}, ReceivedAt: base.Add(time.Hour)},
	}
	for _, snap := range snaps {
		if err := s.PutSnapshot(ctx, snap); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}
	}

	// Latest is by receipt, not by date.
	got, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if got.Date != "2026-03-01" || got.Metrics["passRate"] != 0.80 {
		t.Errorf("LatestSnapshot() = %+v", got)
	}

	// Same date and team overwrites.
	if err := s.PutSnapshot(ctx, snapshot.Snapshot{
		Date: "2026-03-02", Metrics: map[string]float64{"passRate": 0.5}, ReceivedAt: base.Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("PutSnapshot() error = %v", err)
	}
	got, err = s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if got.Date != "2026-03-02" || got.Metrics["passRate"] != 0.5 {
		t.Errorf("LatestSnapshot() after overwrite = %+v", got)
	}
}

func testPing(t *testing.T, s store.Store) {
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
