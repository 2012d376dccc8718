// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in priority
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/relayarr/config.yaml",
	"/etc/relayarr/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources:
//  1. Defaults: built-in values for everything optional
//  2. Config file: optional YAML file, if one exists
//  3. Environment variables: highest priority
//
// The result is validated before being returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// PLEX_TOKEN -> plex.token, LABEL_SYNC_SCHEDULE -> label_sync.schedule
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped so unrelated environment does not pollute
// the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Plex
		"plex_token":              "plex.token",
		"plex_url":                "plex.url",
		"plex_rss_watchlist_url":  "plex.rss_watchlist_url",
		"plex_rss_friends_url":    "plex.rss_friends_url",
		"plex_sessions_enabled":   "plex.sessions_enabled",
		"plex_friend_sync":        "plex.friend_sync_enabled",

		// TMDB
		"tmdb_enabled":    "tmdb.enabled",
		"tmdb_api_key":    "tmdb.api_key",
		"tmdb_region":     "tmdb.region",
		"tmdb_cache_path": "tmdb.cache_path",
		"tmdb_cache_ttl":  "tmdb.cache_ttl",

		// Ingestion
		"ingest_interval":     "ingest.interval",
		"ingest_rss_interval": "ingest.rss_interval",
		"ingest_page_size":    "ingest.page_size",

		// Approvals
		"approval_expiry":               "approval.expiry",
		"approval_retention":            "approval.retention",
		"approval_maintenance_schedule": "approval.maintenance_schedule",

		// Quotas
		"quota_usage_retention": "quota.usage_retention",

		// Label sync
		"label_sync_enabled":             "label_sync.enabled",
		"label_sync_format":              "label_sync.label_format",
		"label_sync_removed_user_policy": "label_sync.removed_user_policy",
		"label_sync_special_label":       "label_sync.special_label",
		"label_sync_concurrency":         "label_sync.concurrency",
		"label_sync_schedule":            "label_sync.schedule",

		// Notification channels
		"chat_enabled":     "notifications.chat.enabled",
		"chat_webhook_url": "notifications.chat.webhook_url",
		"email_enabled":    "notifications.email.enabled",
		"email_host":       "notifications.email.host",
		"email_port":       "notifications.email.port",
		"email_from":       "notifications.email.from",
		"email_username":   "notifications.email.username",
		"email_password":   "notifications.email.password",
		"email_use_tls":    "notifications.email.use_tls",
		"push_enabled":     "notifications.push.enabled",
		"push_url":         "notifications.push.url",
		"push_token":       "notifications.push.token",

		// Outbound rate limiting and retries
		"rate_limit_min_spacing":      "rate_limit.min_spacing",
		"rate_limit_jitter_fraction":  "rate_limit.jitter_fraction",
		"rate_limit_max_concurrent":   "rate_limit.max_concurrent",
		"rate_limit_default_cooldown": "rate_limit.default_cooldown",
		"http_timeout":                "http.timeout",
		"http_retry_attempts":         "http.retry_attempts",
		"http_retry_base_wait":        "http.retry_base_wait",
		"http_retry_max_wait":         "http.retry_max_wait",

		// Scheduler
		"scheduler_shutdown_grace": "scheduler.shutdown_grace",

		// Server
		"server_host":         "server.host",
		"server_port":         "server.port",
		"server_timeout":      "server.timeout",
		"webhook_secret":      "server.webhook_secret",
		"server_rate_limit":   "server.rate_limit_reqs",

		// Database
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
