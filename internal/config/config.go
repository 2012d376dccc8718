// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package config holds all application configuration loaded from defaults,
// an optional YAML file, and environment variables, in that order of
// precedence (env highest). Config is immutable after Load and safe for
// concurrent reads.
package config

import (
	"time"

	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/logging"
)

// Config is the root configuration for Relayarr.
type Config struct {
	Plex          PlexConfig          `koanf:"plex"`
	TMDB          TMDBConfig          `koanf:"tmdb"`
	Ingest        IngestConfig        `koanf:"ingest"`
	Approval      ApprovalConfig      `koanf:"approval"`
	Quota         QuotaConfig         `koanf:"quota"`
	LabelSync     LabelSyncConfig     `koanf:"label_sync"`
	Notifications NotificationsConfig `koanf:"notifications"`
	RateLimit     RateLimitConfig     `koanf:"rate_limit"`
	HTTP          HTTPClientConfig    `koanf:"http"`
	Scheduler     SchedulerConfig     `koanf:"scheduler"`
	Server        ServerConfig        `koanf:"server"`
	Database      database.Config     `koanf:"database"`
	Logging       logging.Config      `koanf:"logging"`
}

// PlexConfig configures the Plex account connection. The token identifies
// the primary account; friends who share their watchlists are discovered
// through it.
type PlexConfig struct {
	Token string `koanf:"token" validate:"required,min=8"`
	URL   string `koanf:"url" validate:"omitempty,http_url"`

	// RSSWatchlistURL and RSSFriendsURL enable the cheap RSS-based change
	// detection path. When unset, every ingest cycle does a full fetch.
	RSSWatchlistURL string `koanf:"rss_watchlist_url" validate:"omitempty,url"`
	RSSFriendsURL   string `koanf:"rss_friends_url" validate:"omitempty,url"`

	// SessionsEnabled opens a websocket to the Plex server for playback
	// session events, which drive rolling monitoring expansion.
	SessionsEnabled bool `koanf:"sessions_enabled"`

	// FriendSyncEnabled controls whether friends' watchlists are ingested.
	FriendSyncEnabled bool `koanf:"friend_sync_enabled"`
}

// TMDBConfig configures the optional metadata enricher.
type TMDBConfig struct {
	Enabled bool   `koanf:"enabled"`
	APIKey  string `koanf:"api_key" validate:"required_if=Enabled true"`
	// Region selects the country for certifications and streaming providers.
	Region string `koanf:"region" validate:"omitempty,len=2"`
	// CachePath is the on-disk metadata cache location.
	CachePath string        `koanf:"cache_path"`
	CacheTTL  time.Duration `koanf:"cache_ttl" validate:"min=0"`
}

// IngestConfig configures the watchlist ingestion pipeline.
type IngestConfig struct {
	// Interval between full watchlist fetches.
	Interval time.Duration `koanf:"interval" validate:"min=1m"`
	// RSSInterval between cheap RSS change checks, when RSS URLs are set.
	RSSInterval time.Duration `koanf:"rss_interval" validate:"min=10s"`
	// PageSize for paged Plex watchlist fetches.
	PageSize int `koanf:"page_size" validate:"min=1,max=300"`
}

// ApprovalConfig configures the approval subsystem.
type ApprovalConfig struct {
	// Expiry is how long a pending request lives before auto-expiring.
	// Zero disables expiry.
	Expiry time.Duration `koanf:"expiry" validate:"min=0"`
	// Retention is how long terminal requests are kept before purge.
	Retention time.Duration `koanf:"retention" validate:"min=0"`
	// MaintenanceSchedule is a 6-field cron expression
	// (sec min hr dom mon dow) for the expiry/purge job.
	MaintenanceSchedule string `koanf:"maintenance_schedule" validate:"required"`
}

// QuotaConfig configures quota bookkeeping maintenance.
type QuotaConfig struct {
	// UsageRetention bounds how long usage events are kept. Must cover the
	// longest configured quota window.
	UsageRetention time.Duration `koanf:"usage_retention" validate:"min=24h"`
}

// RemovedUserLabelPolicy decides what happens to a removed user's labels.
type RemovedUserLabelPolicy string

const (
	// RemovedUserKeep leaves labels in place.
	RemovedUserKeep RemovedUserLabelPolicy = "keep"
	// RemovedUserRemove strips the user's labels from library items.
	RemovedUserRemove RemovedUserLabelPolicy = "remove"
	// RemovedUserSpecial replaces the user's labels with a fixed label.
	RemovedUserSpecial RemovedUserLabelPolicy = "special"
)

// LabelSyncConfig configures watchlist label synchronization against the
// Plex library.
type LabelSyncConfig struct {
	Enabled bool `koanf:"enabled"`
	// LabelFormat renders the label for a user; {user} expands to the
	// user's display name.
	LabelFormat string `koanf:"label_format"`
	// RemovedUserPolicy is keep, remove, or special.
	RemovedUserPolicy RemovedUserLabelPolicy `koanf:"removed_user_policy" validate:"oneof=keep remove special"`
	// SpecialLabel is applied under the special policy.
	SpecialLabel string `koanf:"special_label" validate:"required_if=RemovedUserPolicy special"`
	// Concurrency bounds parallel library mutations.
	Concurrency int `koanf:"concurrency" validate:"min=1,max=20"`
	// Schedule is a 6-field cron expression for the sync job.
	Schedule string `koanf:"schedule" validate:"required_if=Enabled true"`
}

// NotificationsConfig configures the dispatch channels. A channel with no
// endpoint configured is simply skipped at dispatch time.
type NotificationsConfig struct {
	Chat  ChatConfig  `koanf:"chat"`
	Email EmailConfig `koanf:"email"`
	Push  PushConfig  `koanf:"push"`
}

// ChatConfig is a webhook-style chat channel (Discord-compatible).
type ChatConfig struct {
	Enabled    bool   `koanf:"enabled"`
	WebhookURL string `koanf:"webhook_url" validate:"required_if=Enabled true,omitempty,url"`
}

// EmailConfig is SMTP delivery.
type EmailConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host" validate:"required_if=Enabled true"`
	Port     int    `koanf:"port" validate:"required_if=Enabled true,omitempty,min=1,max=65535"`
	From     string `koanf:"from" validate:"required_if=Enabled true,omitempty,email"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	UseTLS   bool   `koanf:"use_tls"`
}

// PushConfig is a token-authenticated push gateway (Gotify-compatible).
type PushConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url" validate:"required_if=Enabled true,omitempty,url"`
	Token   string `koanf:"token" validate:"required_if=Enabled true"`
}

// RateLimitConfig configures the per-endpoint-family request governor.
type RateLimitConfig struct {
	// MinSpacing is the base minimum gap between requests to one family.
	MinSpacing time.Duration `koanf:"min_spacing" validate:"min=0"`
	// JitterFraction randomizes spacing by up to this fraction.
	JitterFraction float64 `koanf:"jitter_fraction" validate:"min=0,max=1"`
	// MaxConcurrent caps in-flight requests per family.
	MaxConcurrent int `koanf:"max_concurrent" validate:"min=1"`
	// DefaultCooldown applies after a 429 without a Retry-After header.
	DefaultCooldown time.Duration `koanf:"default_cooldown" validate:"min=0"`
}

// HTTPClientConfig configures retry behavior for outbound requests.
type HTTPClientConfig struct {
	Timeout       time.Duration `koanf:"timeout" validate:"min=1s"`
	RetryAttempts int           `koanf:"retry_attempts" validate:"min=0,max=10"`
	RetryBaseWait time.Duration `koanf:"retry_base_wait" validate:"min=0"`
	RetryMaxWait  time.Duration `koanf:"retry_max_wait" validate:"min=0"`
}

// SchedulerConfig configures the job scheduler.
type SchedulerConfig struct {
	// ShutdownGrace bounds how long running jobs may finish at shutdown.
	ShutdownGrace time.Duration `koanf:"shutdown_grace" validate:"min=1s"`
}

// ServerConfig configures the ops HTTP surface (health, metrics, webhooks).
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
	// WebhookSecret authenticates inbound Sonarr/Radarr webhooks.
	WebhookSecret string `koanf:"webhook_secret"`
	// RateLimitReqs bounds inbound requests per minute per client.
	RateLimitReqs int `koanf:"rate_limit_reqs" validate:"min=1"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are the
// lowest-priority layer; file and environment values override them.
func defaultConfig() *Config {
	return &Config{
		Plex: PlexConfig{
			URL:               "",
			SessionsEnabled:   true,
			FriendSyncEnabled: true,
		},
		TMDB: TMDBConfig{
			Enabled:   false,
			Region:    "US",
			CachePath: "/data/tmdb-cache",
			CacheTTL:  7 * 24 * time.Hour,
		},
		Ingest: IngestConfig{
			Interval:    20 * time.Minute,
			RSSInterval: 1 * time.Minute,
			PageSize:    100,
		},
		Approval: ApprovalConfig{
			Expiry:              72 * time.Hour,
			Retention:           30 * 24 * time.Hour,
			MaintenanceSchedule: "0 0 * * * *", // hourly
		},
		Quota: QuotaConfig{
			UsageRetention: 45 * 24 * time.Hour,
		},
		LabelSync: LabelSyncConfig{
			Enabled:           false,
			LabelFormat:       "relayarr:{user}",
			RemovedUserPolicy: RemovedUserKeep,
			SpecialLabel:      "relayarr:removed",
			Concurrency:       4,
			Schedule:          "0 30 3 * * *", // daily at 03:30
		},
		RateLimit: RateLimitConfig{
			MinSpacing:      250 * time.Millisecond,
			JitterFraction:  0.2,
			MaxConcurrent:   4,
			DefaultCooldown: 30 * time.Second,
		},
		HTTP: HTTPClientConfig{
			Timeout:       30 * time.Second,
			RetryAttempts: 4,
			RetryBaseWait: 500 * time.Millisecond,
			RetryMaxWait:  30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			ShutdownGrace: 30 * time.Second,
		},
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          7878,
			Timeout:       30 * time.Second,
			RateLimitReqs: 100,
		},
		Database: database.DefaultConfig(),
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
