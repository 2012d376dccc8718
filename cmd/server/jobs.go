// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package main

import (
	"context"
	"time"

	"github.com/relayarr/relayarr/internal/approval"
	"github.com/relayarr/relayarr/internal/config"
	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/ingest"
	"github.com/relayarr/relayarr/internal/labelsync"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/notify"
	"github.com/relayarr/relayarr/internal/reconcile"
	"github.com/relayarr/relayarr/internal/scheduler"
)

// Jobs without a config knob run on fixed schedules.
const (
	reconcileInterval = 10 * time.Minute
	notifyInterval    = 5 * time.Minute
	// rollingResetSchedule and quotaMaintenanceSchedule are 6-field cron
	// expressions, daily in the early morning.
	rollingResetSchedule     = "0 0 5 * * *"
	quotaMaintenanceSchedule = "0 15 4 * * *"
)

type jobDeps struct {
	cfg        *config.Config
	db         *database.DB
	ingestor   *ingest.Ingestor
	reconciler *reconcile.Reconciler
	notifier   *notify.Notifier
	labels     *labelsync.Syncer
	approvals  *approval.Engine
}

// registerJobs seeds the default scheduled jobs. Existing definitions are
// upserted so operator changes to enablement survive restarts.
func registerJobs(ctx context.Context, sched *scheduler.Scheduler, deps jobDeps) error {
	cfg := deps.cfg

	// A disabled label sync may legitimately carry no schedule; the job is
	// still registered so enabling it later just works.
	labelSchedule := cfg.LabelSync.Schedule
	if labelSchedule == "" {
		labelSchedule = "0 30 3 * * *"
	}

	jobs := []struct {
		def models.ScheduledJob
		fn  scheduler.JobFunc
	}{
		{
			def: intervalJob("self-watchlist", cfg.Ingest.Interval, true, true),
			fn:  deps.ingestor.RunSelf,
		},
		{
			def: intervalJob("others-watchlist", cfg.Ingest.Interval, true, cfg.Plex.FriendSyncEnabled),
			fn:  deps.ingestor.RunFriends,
		},
		{
			def: intervalJob("rss-check", cfg.Ingest.RSSInterval, false,
				cfg.Plex.RSSWatchlistURL != "" || cfg.Plex.RSSFriendsURL != ""),
			fn: deps.ingestor.RunRSS,
		},
		{
			def: intervalJob("reconcile", reconcileInterval, true, true),
			fn:  deps.reconciler.Run,
		},
		{
			def: intervalJob("notify", notifyInterval, false, true),
			fn:  deps.notifier.Run,
		},
		{
			def: cronJob("approval-maintenance", cfg.Approval.MaintenanceSchedule, true),
			fn:  deps.approvals.RunMaintenance,
		},
		{
			def: cronJob("quota-maintenance", quotaMaintenanceSchedule, true),
			fn: func(ctx context.Context) error {
				cutoff := time.Now().UTC().Add(-cfg.Quota.UsageRetention)
				_, err := deps.db.PurgeUsageBefore(ctx, cutoff)
				return err
			},
		},
		{
			def: cronJob("label-sync", labelSchedule, cfg.LabelSync.Enabled),
			fn: func(ctx context.Context) error {
				if err := deps.labels.Run(ctx); err != nil {
					return err
				}
				_, err := deps.labels.Cleanup(ctx)
				return err
			},
		},
		{
			def: cronJob("rolling-reset", rollingResetSchedule, true),
			fn:  deps.reconciler.RunRolling,
		},
	}

	for _, j := range jobs {
		if err := sched.Register(ctx, j.def, j.fn); err != nil {
			return err
		}
	}
	return nil
}

func intervalJob(name string, every time.Duration, immediately, enabled bool) models.ScheduledJob {
	return models.ScheduledJob{
		Name:    name,
		Type:    models.JobInterval,
		Enabled: enabled,
		Interval: &models.IntervalConfig{
			Seconds:        int(every.Seconds()),
			RunImmediately: immediately,
		},
	}
}

func cronJob(name, expression string, enabled bool) models.ScheduledJob {
	return models.ScheduledJob{
		Name:    name,
		Type:    models.JobCron,
		Enabled: enabled,
		Cron:    &models.CronConfig{Expression: expression},
	}
}
