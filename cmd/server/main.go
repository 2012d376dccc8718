// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Command server runs the Relayarr daemon: watchlist ingestion, routing,
// approvals, downstream reconciliation, notifications, label sync, and the
// ops HTTP surface, all supervised under one tree.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relayarr/relayarr/internal/api"
	"github.com/relayarr/relayarr/internal/approval"
	"github.com/relayarr/relayarr/internal/arr"
	"github.com/relayarr/relayarr/internal/config"
	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/ingest"
	"github.com/relayarr/relayarr/internal/labelsync"
	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/metadata"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/notify"
	"github.com/relayarr/relayarr/internal/plex"
	"github.com/relayarr/relayarr/internal/progress"
	"github.com/relayarr/relayarr/internal/ratelimit"
	"github.com/relayarr/relayarr/internal/reconcile"
	"github.com/relayarr/relayarr/internal/routing"
	"github.com/relayarr/relayarr/internal/scheduler"
	"github.com/relayarr/relayarr/internal/supervisor"
	"github.com/relayarr/relayarr/internal/tmdb"
)

func main() {
	if err := run(); err != nil && err != context.Canceled {
		logging.Error().Err(err).Msg("Fatal error")
		os.Exit(1)
	}
}

func run() error {
	store, err := config.LoadStore()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := store.Current()
	logging.Init(cfg.Logging)
	logging.Info().Msg("Relayarr starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.EnsureSystemUser(ctx); err != nil {
		return fmt.Errorf("ensure system user: %w", err)
	}

	governor := ratelimit.New(cfg.RateLimit)
	hc := httpclient.New(cfg.HTTP, governor)

	pc := plex.New(plex.Config{
		Token:           cfg.Plex.Token,
		ServerURL:       cfg.Plex.URL,
		RSSWatchlistURL: cfg.Plex.RSSWatchlistURL,
		RSSFriendsURL:   cfg.Plex.RSSFriendsURL,
		PageSize:        cfg.Ingest.PageSize,
	}, hc)

	var tc *tmdb.Client
	if cfg.TMDB.Enabled {
		tc, err = tmdb.New(tmdb.Config{
			APIKey:    cfg.TMDB.APIKey,
			Region:    cfg.TMDB.Region,
			CachePath: cfg.TMDB.CachePath,
			CacheTTL:  cfg.TMDB.CacheTTL,
		}, hc)
		if err != nil {
			return fmt.Errorf("open metadata cache: %w", err)
		}
		defer func() { _ = tc.Close() }()
	}
	enricher := metadata.New(pc, tc)

	bus := progress.NewBus()
	defer func() { _ = bus.Close() }()

	registry := arr.NewRegistry(hc)
	router := routing.NewEngine(db)
	pipeline := reconcile.NewPipeline(db, registry, router, enricher, bus)
	approvals := approval.NewEngine(db, pipeline, bus, approval.Config{
		Expiry:    cfg.Approval.Expiry,
		Retention: cfg.Approval.Retention,
	})
	pipeline.BindApprovals(approvals)

	ingestor := ingest.New(db, pc, enricher, pipeline, bus, ingest.Config{
		FriendSync: cfg.Plex.FriendSyncEnabled,
	})
	reconciler := reconcile.New(db, registry, pc, approvals, bus, reconcile.DefaultConfig())
	notifier := notify.New(db, hc, notify.Config{
		Chat: notify.ChatSettings{
			Enabled:    cfg.Notifications.Chat.Enabled,
			WebhookURL: cfg.Notifications.Chat.WebhookURL,
		},
		Email: notify.EmailSettings{
			Enabled:  cfg.Notifications.Email.Enabled,
			Host:     cfg.Notifications.Email.Host,
			Port:     cfg.Notifications.Email.Port,
			From:     cfg.Notifications.Email.From,
			Username: cfg.Notifications.Email.Username,
			Password: cfg.Notifications.Email.Password,
			UseTLS:   cfg.Notifications.Email.UseTLS,
		},
		Push: notify.PushSettings{
			Enabled: cfg.Notifications.Push.Enabled,
			URL:     cfg.Notifications.Push.URL,
			Token:   cfg.Notifications.Push.Token,
		},
	})
	labels := labelsync.New(db, pc, registry, bus, labelsync.Config{
		LabelFormat:       cfg.LabelSync.LabelFormat,
		RemovedUserPolicy: labelsync.RemovedUserPolicy(cfg.LabelSync.RemovedUserPolicy),
		SpecialLabel:      cfg.LabelSync.SpecialLabel,
		Concurrency:       cfg.LabelSync.Concurrency,
	})

	sched := scheduler.New(db, scheduler.Config{
		TickInterval:  time.Second,
		ShutdownGrace: cfg.Scheduler.ShutdownGrace,
	})
	deps := jobDeps{
		cfg:        cfg,
		db:         db,
		ingestor:   ingestor,
		reconciler: reconciler,
		notifier:   notifier,
		labels:     labels,
		approvals:  approvals,
	}
	if err := registerJobs(ctx, sched, deps); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	installWebhooks(ctx, db, registry, cfg.Server)

	apiServer := api.New(api.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		Timeout:       cfg.Server.Timeout,
		WebhookSecret: cfg.Server.WebhookSecret,
		RateLimitReqs: cfg.Server.RateLimitReqs,
	}, db, reconciler, bus)

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddDataService(supervisor.Func{Name: "database-health", Run: func(ctx context.Context) error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := db.Ping(ctx); err != nil {
					logging.Warn().Err(err).Msg("Database health check failed")
				}
			}
		}
	}})
	tree.AddJobService(supervisor.Func{Name: "scheduler", Run: func(ctx context.Context) error {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		_ = sched.Stop()
		return ctx.Err()
	}})
	if cfg.Plex.SessionsEnabled && cfg.Plex.URL != "" {
		sessions := plex.NewSessionClient(cfg.Plex.URL, cfg.Plex.Token, reconciler.HandleSession)
		tree.AddJobService(supervisor.Func{Name: "plex-sessions", Run: func(ctx context.Context) error {
			sessions.Start(ctx)
			<-ctx.Done()
			sessions.Stop()
			return ctx.Err()
		}})
	}
	tree.AddAPIService(supervisor.NewHTTPService(apiServer.HTTPServer(), 10*time.Second))

	logging.Info().Int("port", cfg.Server.Port).Msg("Relayarr running")
	return tree.Serve(ctx)
}

// installWebhooks points every configured downstream instance back at the
// webhook receiver. Best effort: an unreachable instance is logged and
// skipped, and nothing is installed when no reachable callback host is
// configured.
func installWebhooks(ctx context.Context, db *database.DB, registry *arr.Registry, server config.ServerConfig) {
	if server.Host == "" || server.Host == "0.0.0.0" || server.Host == "::" {
		logging.Debug().Msg("No reachable callback host configured; webhook install skipped")
		return
	}
	for _, target := range []string{"sonarr", "radarr"} {
		instances, err := db.ListInstances(ctx, models.TargetType(target))
		if err != nil {
			logging.Warn().Err(err).Str("target", target).Msg("Instance listing failed; webhook install skipped")
			continue
		}
		callback := fmt.Sprintf("http://%s:%d/webhook/%s", server.Host, server.Port, target)
		if server.WebhookSecret != "" {
			callback += "?secret=" + server.WebhookSecret
		}
		for i := range instances {
			client := registry.Get(&instances[i])
			if err := client.InstallWebhook(ctx, callback); err != nil {
				logging.Warn().Err(err).Str("instance", instances[i].Name).
					Msg("Webhook install failed")
			}
		}
	}
}
