// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Plex.Token = "plex-token-0123456789"
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("defaults with token should validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing plex token",
			mutate: func(c *Config) { c.Plex.Token = "" },
			want:   "Plex.Token",
		},
		{
			name:   "tmdb enabled without api key",
			mutate: func(c *Config) { c.TMDB.Enabled = true },
			want:   "TMDB.APIKey",
		},
		{
			name:   "label sync concurrency over cap",
			mutate: func(c *Config) { c.LabelSync.Concurrency = 21 },
			want:   "Concurrency",
		},
		{
			name: "label format without placeholder",
			mutate: func(c *Config) {
				c.LabelSync.Enabled = true
				c.LabelSync.LabelFormat = "static"
			},
			want: "{user}",
		},
		{
			name: "retry max below base",
			mutate: func(c *Config) {
				c.HTTP.RetryBaseWait = 10 * time.Second
				c.HTTP.RetryMaxWait = time.Second
			},
			want: "retry_max_wait",
		},
		{
			name: "retention shorter than expiry",
			mutate: func(c *Config) {
				c.Approval.Expiry = 72 * time.Hour
				c.Approval.Retention = time.Hour
			},
			want: "approval.retention",
		},
		{
			name: "chat enabled without webhook",
			mutate: func(c *Config) {
				c.Notifications.Chat.Enabled = true
			},
			want: "WebhookURL",
		},
		{
			name:   "bad removed user policy",
			mutate: func(c *Config) { c.LabelSync.RemovedUserPolicy = "archive" },
			want:   "RemovedUserPolicy",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"PLEX_TOKEN", "plex.token"},
		{"LABEL_SYNC_SCHEDULE", "label_sync.schedule"},
		{"DUCKDB_PATH", "database.path"},
		{"RATE_LIMIT_MIN_SPACING", "rate_limit.min_spacing"},
		{"SOME_RANDOM_VAR", ""},
	}
	for _, tc := range tests {
		if got := envTransformFunc(tc.env); got != tc.want {
			t.Errorf("envTransformFunc(%s) = %q, want %q", tc.env, got, tc.want)
		}
	}
}
