// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package scheduler runs registered jobs on intervals or 6-field cron
// expressions. A job never overlaps itself: a trigger that fires while the
// previous execution is still running is dropped, not queued. Run-now
// requests merge with an in-flight execution the same way.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/metrics"
	"github.com/relayarr/relayarr/internal/models"
)

// JobFunc is one job execution.
type JobFunc func(ctx context.Context) error

// Config tunes the scheduler.
type Config struct {
	// TickInterval is the scheduling resolution.
	TickInterval time.Duration
	// ShutdownGrace bounds how long Stop waits for in-flight executions.
	ShutdownGrace time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:  time.Second,
		ShutdownGrace: 30 * time.Second,
	}
}

type job struct {
	def      models.ScheduledJob
	fn       JobFunc
	cron     *CronExpression
	interval time.Duration

	next    time.Time
	running bool
}

// Scheduler owns job registration, planning and execution.
type Scheduler struct {
	db     *database.DB
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds a scheduler over the job store.
func New(db *database.DB, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &Scheduler{
		db:     db,
		cfg:    cfg,
		logger: logging.Component("scheduler"),
		now:    time.Now,
		jobs:   make(map[string]*job),
	}
}

// Register persists the job definition and plans its first run. Cron
// expressions are validated here; a bad expression fails registration
// rather than silently never firing. A persisted future next-run survives
// restarts; a missed one is re-planned and marked estimated.
func (s *Scheduler) Register(ctx context.Context, def models.ScheduledJob, fn JobFunc) error {
	j := &job{def: def, fn: fn}

	switch def.Type {
	case models.JobInterval:
		if def.Interval == nil || def.Interval.Duration() <= 0 {
			return fmt.Errorf("job %s: interval must be positive", def.Name)
		}
		j.interval = def.Interval.Duration()
	case models.JobCron:
		if def.Cron == nil {
			return fmt.Errorf("job %s: cron config missing", def.Name)
		}
		cron, err := ParseCron(def.Cron.Expression)
		if err != nil {
			return fmt.Errorf("job %s: %w", def.Name, err)
		}
		j.cron = cron
	default:
		return fmt.Errorf("job %s: unknown type %q", def.Name, def.Type)
	}

	if err := s.db.UpsertJob(ctx, &j.def); err != nil {
		return fmt.Errorf("persist job %s: %w", def.Name, err)
	}

	now := s.now()
	switch {
	case !j.def.Enabled:
		// Planned on enable.
	case j.def.NextRun != nil && j.def.NextRun.Time.After(now):
		j.next = j.def.NextRun.Time
	case j.def.Type == models.JobInterval && j.def.Interval.RunImmediately && j.def.LastRun == nil:
		j.next = now
	default:
		j.next = s.plan(j, now)
		if err := s.db.SetJobNextRun(ctx, j.def.Name, j.next, true); err != nil {
			s.logger.Warn().Err(err).Str("job", def.Name).Msg("Persist next run failed")
		}
	}

	s.mu.Lock()
	s.jobs[def.Name] = j
	s.mu.Unlock()

	s.logger.Info().Str("job", def.Name).Str("type", string(def.Type)).
		Time("next", j.next).Bool("enabled", def.Enabled).Msg("Job registered")
	return nil
}

// plan computes the execution after now.
func (s *Scheduler) plan(j *job, now time.Time) time.Time {
	if j.cron != nil {
		return j.cron.NextRun(now, time.UTC)
	}
	return now.Add(j.interval)
}

// Start begins the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop halts the loop and waits for in-flight executions up to the
// configured grace. Executions still running after the grace are abandoned
// to their context.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("Scheduler stopped")
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn().Dur("grace", s.cfg.ShutdownGrace).
			Msg("Shutdown grace elapsed with jobs still running")
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick fires every due job.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.def.Enabled || j.next.IsZero() || j.next.After(now) {
			continue
		}
		if j.running {
			// Overlap: drop this trigger and move on to the next slot.
			metrics.JobRuns.WithLabelValues(j.def.Name, "skipped_overlap").Inc()
			s.logger.Debug().Str("job", j.def.Name).Msg("Trigger dropped; previous run still active")
			j.next = s.plan(j, now)
			continue
		}
		j.running = true
		j.next = s.plan(j, now)
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		s.wg.Add(1)
		go s.execute(ctx, j)
	}
}

// RunNow triggers one immediate execution. A request while the job is
// already running merges with the in-flight execution and reports success.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %s not registered", name)
	}
	if j.running {
		s.mu.Unlock()
		s.logger.Debug().Str("job", name).Msg("Run-now merged with in-flight execution")
		return nil
	}
	j.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(ctx, j)
	return nil
}

// SetEnabled toggles a job. Enabling re-plans from now; disabling clears
// the planned run.
func (s *Scheduler) SetEnabled(ctx context.Context, name string, enabled bool) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %s not registered", name)
	}
	j.def.Enabled = enabled
	if enabled {
		j.next = s.plan(j, s.now())
	} else {
		j.next = time.Time{}
	}
	next := j.next
	s.mu.Unlock()

	if err := s.db.SetJobEnabled(ctx, name, enabled); err != nil {
		return err
	}
	if enabled {
		return s.db.SetJobNextRun(ctx, name, next, true)
	}
	return nil
}

// JobSchedule is the replaceable part of a job definition.
type JobSchedule struct {
	Type     models.JobType
	Interval *models.IntervalConfig
	Cron     *models.CronConfig
}

// UpdateJob replaces a registered job's schedule. The new schedule is
// validated before anything changes; an invalid one leaves the job
// untouched. An enabled job is re-planned from now under the new schedule
// and the plan persisted.
func (s *Scheduler) UpdateJob(ctx context.Context, name string, sched JobSchedule) error {
	var (
		interval time.Duration
		cron     *CronExpression
	)
	switch sched.Type {
	case models.JobInterval:
		if sched.Interval == nil || sched.Interval.Duration() <= 0 {
			return fmt.Errorf("job %s: interval must be positive", name)
		}
		interval = sched.Interval.Duration()
	case models.JobCron:
		if sched.Cron == nil {
			return fmt.Errorf("job %s: cron config missing", name)
		}
		parsed, err := ParseCron(sched.Cron.Expression)
		if err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
		cron = parsed
	default:
		return fmt.Errorf("job %s: unknown type %q", name, sched.Type)
	}

	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %s not registered", name)
	}
	j.def.Type = sched.Type
	j.def.Interval = sched.Interval
	j.def.Cron = sched.Cron
	j.interval = interval
	j.cron = cron
	if j.def.Enabled {
		j.next = s.plan(j, s.now())
	}
	def := j.def
	next := j.next
	enabled := j.def.Enabled
	s.mu.Unlock()

	if err := s.db.UpsertJob(ctx, &def); err != nil {
		return fmt.Errorf("persist job %s: %w", name, err)
	}
	if enabled {
		if err := s.db.SetJobNextRun(ctx, name, next, true); err != nil {
			return err
		}
	}
	s.logger.Info().Str("job", name).Str("type", string(sched.Type)).
		Time("next", next).Msg("Job schedule updated")
	return nil
}

// NextRun returns the planned next execution, zero when disabled.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return time.Time{}, false
	}
	return j.next, true
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	defer s.wg.Done()

	start := s.now()
	err := j.fn(ctx)
	elapsed := time.Since(start)

	run := models.LastRun{Time: start.UTC(), Status: models.RunCompleted}
	outcome := "completed"
	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		outcome = "failed"
		s.logger.Error().Err(err).Str("job", j.def.Name).Dur("elapsed", elapsed).
			Msg("Job failed")
	} else {
		s.logger.Debug().Str("job", j.def.Name).Dur("elapsed", elapsed).
			Msg("Job completed")
	}
	metrics.JobRuns.WithLabelValues(j.def.Name, outcome).Inc()
	metrics.JobDuration.WithLabelValues(j.def.Name).Observe(elapsed.Seconds())

	s.mu.Lock()
	j.running = false
	j.def.LastRun = &run
	next := j.next
	s.mu.Unlock()

	var nextPtr *time.Time
	if !next.IsZero() {
		nextPtr = &next
	}
	if err := s.db.RecordJobRun(context.WithoutCancel(ctx), j.def.Name, run, nextPtr); err != nil {
		s.logger.Warn().Err(err).Str("job", j.def.Name).Msg("Record job run failed")
	}
}
