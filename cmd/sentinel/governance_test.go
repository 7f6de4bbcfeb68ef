package main

import (
	"encoding/json"
	"strings"
	"testing"

	"mercator-hq/sentinel/pkg/cli"
	"mercator-hq/sentinel/pkg/enforcement"
	"mercator-hq/sentinel/pkg/store"
)

func TestEnforceExitCodes(t *testing.T) {
	t.Cleanup(func() {
		execute(t, "", "overrides", "clear", "--by", "test-cleanup")
	})

	out, err := execute(t, `{"date":"2026-03-01","passRate":0.6}`, "snapshot", "evaluate", "-", "-o", "json")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !strings.Contains(out, "block_all") {
		t.Errorf("evaluation %q did not trigger block_all", out)
	}

	out, err = execute(t, "", "enforce", "--service", "checkout", "--team", "team-a", "--action", "deploy_model", "-o", "json")
	if code := exitCodeOf(err); code != cli.ExitBlocked {
		t.Fatalf("exit code = %d (%v), want %d", code, err, cli.ExitBlocked)
	}
	var d enforcement.Decision
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if d.Allowed || d.AuditID == "" {
		t.Errorf("decision = %+v", d)
	}

	if _, err := execute(t, "", "overrides", "clear", "--by", "ops", "--reason", "incident resolved"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := execute(t, "", "enforce", "--service", "checkout", "--action", "deploy_model"); err != nil {
		t.Errorf("enforce after clear: %v", err)
	}
}

func TestRolloutAdvance(t *testing.T) {
	if _, err := execute(t, `{"date":"2026-03-02","passRate":0.95}`, "snapshot", "evaluate", "-"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := execute(t, "", "rollout", "status"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := execute(t, "", "rollout", "advance", "--by", "alice"); err != nil {
		t.Fatalf("first advance: %v", err)
	}

	out, err := execute(t, "", "rollout", "advance", "--by", "alice", "-o", "json")
	if code := exitCodeOf(err); code != cli.ExitRejected {
		t.Fatalf("exit code = %d (%v), want %d", code, err, cli.ExitRejected)
	}
	if !strings.Contains(out, "min_hours_not_met") {
		t.Errorf("rejection %q does not name the soak time", out)
	}
}

func TestAlertsAndDrift(t *testing.T) {
	if _, err := execute(t, `{"date":"2026-03-03","passRate":0.8}`, "snapshot", "evaluate", "-"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	out, err := execute(t, "", "alerts", "list", "--unresolved", "-o", "json")
	if err != nil {
		t.Fatalf("alerts list: %v", err)
	}
	var alerts []*store.AlertRecord
	if err := json.Unmarshal([]byte(out), &alerts); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(alerts) == 0 {
		t.Fatal("expected an unresolved alert")
	}

	if _, err := execute(t, "", "alerts", "resolve", alerts[0].ID, "--by", "ops"); err != nil {
		t.Errorf("resolve: %v", err)
	}
	if _, err := execute(t, "", "alerts", "resolve", "no-such-alert"); err == nil {
		t.Error("resolving an unknown alert should fail")
	}
	if _, err := execute(t, "", "drift", "-o", "json"); err != nil {
		t.Errorf("drift: %v", err)
	}
}

func TestAuditCommands(t *testing.T) {
	execute(t, "", "policy", "compile", "testdata/valid-policy.yaml", "--by", "carol")

	out, err := execute(t, "", "audit", "query", "--actor", "carol", "-o", "json")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var page auditTable
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if page.Total == 0 || len(page.Entries) == 0 {
		t.Fatalf("query returned no entries for carol")
	}

	out, err = execute(t, "", "audit", "verify", "-o", "json")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	var res verifyResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Checked == 0 || len(res.Tampered) != 0 {
		t.Errorf("verify = %+v", res)
	}

	if _, err := execute(t, "", "audit", "explain", page.Entries[0].ID); err != nil {
		t.Errorf("explain: %v", err)
	}

	out, err = execute(t, "", "audit", "export", "--uid", "carol", "--export-format", "csv")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "policy_compile") {
		t.Errorf("export %q does not contain the compile entry", out)
	}
}

func TestAuditFlagErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad start", []string{"audit", "query", "--start", "yesterday"}},
		{"end before start", []string{"audit", "query", "--start", "2026-03-02", "--end", "2026-03-01"}},
		{"negative offset", []string{"audit", "query", "--offset", "-1"}},
		{"export format", []string{"audit", "export", "--uid", "carol", "--export-format", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", tt.args...)
			if code := exitCodeOf(err); code != cli.ExitUsage {
				t.Errorf("exit code = %d (%v), want %d", code, err, cli.ExitUsage)
			}
		})
	}
}

func TestSnapshotEvaluateInvalid(t *testing.T) {
	if _, err := execute(t, `{"date":"2026-03-01"}`, "snapshot", "evaluate", "-"); err == nil {
		t.Error("a snapshot without metrics should be rejected")
	}
}

func TestRunDryRun(t *testing.T) {
	out, err := execute(t, "", "run", "--dry-run")
	if err != nil {
		t.Fatalf("run --dry-run: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("output = %q", out)
	}
}
