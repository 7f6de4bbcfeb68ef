// Package scheduler runs the periodic governance jobs: the hourly rollup
// of buffered quality events into a snapshot, and the policy drift check.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/sentinel/pkg/config"
	"mercator-hq/sentinel/pkg/drift"
	"mercator-hq/sentinel/pkg/engine"
)

// Job names.
const (
	JobRollup = "rollup"
	JobDrift  = "drift"
)

// Governance is the engine surface the jobs drive.
type Governance interface {
	RollupBuffered(ctx context.Context) (*engine.Evaluation, error)
	CheckDrift(ctx context.Context) (*drift.Report, error)
}

// Scheduler runs jobs on cron schedules.
type Scheduler struct {
	gov     Governance
	config  config.SchedulerConfig
	cron    *cron.Cron
	entries map[string]cron.EntryID
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// New creates a scheduler for gov.
func New(gov Governance, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		gov:     gov,
		config:  cfg,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		logger:  slog.Default().With("component", "scheduler"),
	}
}

// Start registers every job with a non-empty schedule and starts the cron
// loop. The scheduler stops when ctx is cancelled. Invalid expressions are
// rejected before anything is scheduled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{JobRollup, s.config.RollupSchedule, s.runRollup},
		{JobDrift, s.config.DriftSchedule, s.runDrift},
	}

	for _, j := range jobs {
		if j.schedule == "" {
			continue
		}
		if _, err := cron.ParseStandard(j.schedule); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", j.name, j.schedule, err)
		}
	}

	for _, j := range jobs {
		if j.schedule == "" {
			s.logger.Info("job not scheduled", "job", j.name)
			continue
		}
		run := j.run
		id, err := s.cron.AddFunc(j.schedule, func() { run(ctx) })
		if err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
		s.entries[j.name] = id
	}
	if len(s.entries) == 0 {
		return nil
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started",
		"rollup_schedule", s.config.RollupSchedule,
		"drift_schedule", s.config.DriftSchedule,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) runRollup(ctx context.Context) {
	eval, err := s.gov.RollupBuffered(ctx)
	if err != nil {
		s.logger.Error("scheduled rollup failed", "error", err)
		return
	}
	if eval == nil {
		s.logger.Debug("no buffered events to roll up")
		return
	}
	s.logger.Info("scheduled rollup evaluated",
		"date", eval.Date,
		"triggered", len(eval.Triggered),
		"skipped", eval.Skipped,
	)
}

func (s *Scheduler) runDrift(ctx context.Context) {
	report, err := s.gov.CheckDrift(ctx)
	if err != nil {
		s.logger.Error("scheduled drift check failed", "error", err)
		return
	}
	s.logger.Info("scheduled drift check completed", "policy_id", report.PolicyID, "drift", len(report.Drift))
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("scheduler stopped")
	}
}

// IsRunning reports whether the cron loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next activation of job, or nil when it is not
// scheduled.
func (s *Scheduler) NextRun(job string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[job]
	if !ok {
		return nil
	}
	next := s.cron.Entry(id).Next
	return &next
}
