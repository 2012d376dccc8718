// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package models

import "time"

// JobType distinguishes interval jobs from cron jobs.
type JobType string

const (
	JobInterval JobType = "interval"
	JobCron     JobType = "cron"
)

// RunStatus is the outcome of a job execution.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPending   RunStatus = "pending"
)

// IntervalConfig configures an interval job. At least one unit must be
// positive. RunImmediately triggers a run at startup when the job has never
// run before.
type IntervalConfig struct {
	Days           int  `json:"days"`
	Hours          int  `json:"hours"`
	Minutes        int  `json:"minutes"`
	Seconds        int  `json:"seconds"`
	RunImmediately bool `json:"run_immediately,omitempty"`
}

// Duration returns the configured interval as a time.Duration.
func (c IntervalConfig) Duration() time.Duration {
	return time.Duration(c.Days)*24*time.Hour +
		time.Duration(c.Hours)*time.Hour +
		time.Duration(c.Minutes)*time.Minute +
		time.Duration(c.Seconds)*time.Second
}

// CronConfig configures a cron job with a 6-field expression
// (sec min hr dom mon dow).
type CronConfig struct {
	Expression string `json:"expression"`
}

// LastRun records the most recent execution of a job.
type LastRun struct {
	Time   time.Time `json:"time"`
	Status RunStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// NextRun is the planned next execution of a job. Estimated is set when the
// time was derived rather than persisted (e.g. after a restart).
type NextRun struct {
	Time      time.Time `json:"time"`
	Estimated bool      `json:"estimated,omitempty"`
}

// ScheduledJob is a persisted job definition. Names are unique.
type ScheduledJob struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Type      JobType         `json:"type"`
	Interval  *IntervalConfig `json:"interval,omitempty"`
	Cron      *CronConfig     `json:"cron,omitempty"`
	Enabled   bool            `json:"enabled"`
	LastRun   *LastRun        `json:"last_run,omitempty"`
	NextRun   *NextRun        `json:"next_run,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
