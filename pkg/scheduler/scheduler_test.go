package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/sentinel/pkg/config"
	"mercator-hq/sentinel/pkg/drift"
	"mercator-hq/sentinel/pkg/engine"
)

type fakeGovernance struct {
	rollups atomic.Int32
	drifts  atomic.Int32
	err     error
	eval    *engine.Evaluation
}

func (f *fakeGovernance) RollupBuffered(context.Context) (*engine.Evaluation, error) {
	f.rollups.Add(1)
	return f.eval, f.err
}

func (f *fakeGovernance) CheckDrift(context.Context) (*drift.Report, error) {
	f.drifts.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &drift.Report{PolicyID: "default-governance"}, nil
}

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		rollup      string
		drift       string
		wantRunning bool
		wantError   bool
		wantJobs    []string
	}{
		{
			name:        "both jobs hourly",
			rollup:      "0 * * * *",
			drift:       "30 * * * *",
			wantRunning: true,
			wantJobs:    []string{JobRollup, JobDrift},
		},
		{
			name:        "drift only",
			drift:       "*/5 * * * *",
			wantRunning: true,
			wantJobs:    []string{JobDrift},
		},
		{
			name:        "nothing scheduled",
			wantRunning: false,
		},
		{
			name:      "invalid rollup schedule",
			rollup:    "every hour",
			drift:     "30 * * * *",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeGovernance{}, config.SchedulerConfig{
				Enabled:        true,
				RollupSchedule: tt.rollup,
				DriftSchedule:  tt.drift,
			})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := s.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Fatalf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			defer s.Stop()

			if s.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", s.IsRunning(), tt.wantRunning)
			}
			for _, job := range tt.wantJobs {
				if s.NextRun(job) == nil {
					t.Errorf("NextRun(%s) = nil", job)
				}
			}
			if tt.wantError && len(s.entries) != 0 {
				t.Error("no job should be scheduled when a schedule is invalid")
			}
		})
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	s := New(&fakeGovernance{}, config.SchedulerConfig{RollupSchedule: "0 * * * *"})
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.IsRunning() {
		t.Error("scheduler still running after cancel")
	}
	s.Stop()
}

func TestScheduler_Jobs(t *testing.T) {
	tests := []struct {
		name string
		gov  *fakeGovernance
	}{
		{"empty buffer", &fakeGovernance{}},
		{"evaluated", &fakeGovernance{eval: &engine.Evaluation{Date: "2026-03-01"}}},
		{"failing engine", &fakeGovernance{err: errors.New("store down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.gov, config.SchedulerConfig{})
			s.runRollup(context.Background())
			s.runDrift(context.Background())
			if tt.gov.rollups.Load() != 1 || tt.gov.drifts.Load() != 1 {
				t.Errorf("rollups = %d, drifts = %d", tt.gov.rollups.Load(), tt.gov.drifts.Load())
			}
		})
	}
}

func TestScheduler_NextRunUnknownJob(t *testing.T) {
	s := New(&fakeGovernance{}, config.SchedulerConfig{})
	if s.NextRun("retention") != nil {
		t.Error("unscheduled job should have no next run")
	}
}
