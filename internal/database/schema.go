// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package database

import (
	"context"
	"fmt"
)

// schemaStatements creates all tables and sequences. Statements are
// idempotent (IF NOT EXISTS) so startup re-runs are safe. JSON-structured
// columns (guids, genres, tags, criteria, metadata, routing snapshots) are
// stored as JSON text.
var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS seq_users START 1`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_users'),
		name VARCHAR NOT NULL,
		plex_uuid VARCHAR,
		alias VARCHAR,
		email VARCHAR,
		chat_id VARCHAR,
		notify_email BOOLEAN NOT NULL DEFAULT false,
		notify_chat BOOLEAN NOT NULL DEFAULT false,
		notify_push BOOLEAN NOT NULL DEFAULT false,
		can_sync BOOLEAN NOT NULL DEFAULT true,
		is_primary_token BOOLEAN NOT NULL DEFAULT false,
		requires_approval BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_watchlist START 1`,
	`CREATE TABLE IF NOT EXISTS watchlist_items (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_watchlist'),
		user_id BIGINT NOT NULL,
		key VARCHAR NOT NULL,
		title VARCHAR NOT NULL,
		type VARCHAR NOT NULL,
		thumb VARCHAR,
		added TIMESTAMP,
		guids VARCHAR NOT NULL DEFAULT '[]',
		genres VARCHAR NOT NULL DEFAULT '[]',
		status VARCHAR NOT NULL DEFAULT 'pending',
		series_status VARCHAR,
		movie_status VARCHAR,
		sonarr_instance_id BIGINT,
		radarr_instance_id BIGINT,
		last_notified_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, key)
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_status_history START 1`,
	`CREATE TABLE IF NOT EXISTS watchlist_status_history (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_status_history'),
		watchlist_item_id BIGINT NOT NULL,
		status VARCHAR NOT NULL,
		observed_at TIMESTAMP NOT NULL
	)`,

	// Per-instance junction: one row per (item, instance) an item was
	// submitted to, carrying the per-instance lifecycle.
	`CREATE SEQUENCE IF NOT EXISTS seq_watchlist_instances START 1`,
	`CREATE TABLE IF NOT EXISTS watchlist_instance_status (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_watchlist_instances'),
		watchlist_item_id BIGINT NOT NULL,
		instance_id BIGINT NOT NULL,
		instance_type VARCHAR NOT NULL,
		status VARCHAR NOT NULL DEFAULT 'pending',
		is_primary BOOLEAN NOT NULL DEFAULT false,
		last_notified_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (watchlist_item_id, instance_id)
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_rules START 1`,
	`CREATE TABLE IF NOT EXISTS router_rules (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_rules'),
		name VARCHAR NOT NULL,
		type VARCHAR NOT NULL,
		criteria VARCHAR NOT NULL DEFAULT '{}',
		condition VARCHAR,
		target_type VARCHAR NOT NULL,
		target_instance_id BIGINT NOT NULL,
		root_folder VARCHAR,
		quality_profile VARCHAR,
		tags VARCHAR NOT NULL DEFAULT '[]',
		order_priority INTEGER NOT NULL DEFAULT 50,
		enabled BOOLEAN NOT NULL DEFAULT true,
		search_on_add BOOLEAN,
		season_monitoring VARCHAR,
		series_type VARCHAR,
		minimum_availability VARCHAR,
		monitor VARCHAR,
		require_approval BOOLEAN NOT NULL DEFAULT false,
		metadata VARCHAR,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_instances START 1`,
	`CREATE TABLE IF NOT EXISTS instances (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_instances'),
		name VARCHAR NOT NULL,
		type VARCHAR NOT NULL,
		base_url VARCHAR NOT NULL,
		api_key VARCHAR NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT false,
		synced_instances VARCHAR NOT NULL DEFAULT '[]',
		defaults VARCHAR NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_approvals START 1`,
	`CREATE TABLE IF NOT EXISTS approval_requests (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_approvals'),
		user_id BIGINT NOT NULL,
		content_type VARCHAR NOT NULL,
		content_title VARCHAR NOT NULL,
		content_key VARCHAR NOT NULL,
		content_guids VARCHAR NOT NULL DEFAULT '[]',
		proposed_routing VARCHAR,
		triggered_by VARCHAR NOT NULL,
		approval_reason VARCHAR,
		status VARCHAR NOT NULL DEFAULT 'pending',
		approved_by BIGINT,
		approval_notes VARCHAR,
		expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS quotas (
		user_id BIGINT NOT NULL,
		content_type VARCHAR NOT NULL,
		type VARCHAR NOT NULL,
		quota_limit INTEGER NOT NULL,
		bypass_approval BOOLEAN NOT NULL DEFAULT false,
		weekly_days INTEGER NOT NULL DEFAULT 7,
		monthly_reset_day INTEGER NOT NULL DEFAULT 1,
		month_end_policy VARCHAR NOT NULL DEFAULT 'last-day',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, content_type)
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_usage START 1`,
	`CREATE TABLE IF NOT EXISTS quota_usage_events (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_usage'),
		user_id BIGINT NOT NULL,
		content_type VARCHAR NOT NULL,
		ts TIMESTAMP NOT NULL
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_jobs START 1`,
	`CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_jobs'),
		name VARCHAR NOT NULL UNIQUE,
		type VARCHAR NOT NULL,
		config VARCHAR NOT NULL DEFAULT '{}',
		enabled BOOLEAN NOT NULL DEFAULT true,
		last_run_time TIMESTAMP,
		last_run_status VARCHAR,
		last_run_error VARCHAR,
		next_run_time TIMESTAMP,
		next_run_estimated BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_labels START 1`,
	`CREATE TABLE IF NOT EXISTS label_tracking (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_labels'),
		watchlist_id BIGINT NOT NULL,
		plex_rating_key VARCHAR NOT NULL,
		label_applied VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (watchlist_id, plex_rating_key, label_applied)
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_notifications START 1`,
	`CREATE TABLE IF NOT EXISTS notification_records (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_notifications'),
		watchlist_item_id BIGINT,
		user_id BIGINT,
		type VARCHAR NOT NULL,
		title VARCHAR NOT NULL,
		season INTEGER,
		episode INTEGER,
		sent_to_chat BOOLEAN NOT NULL DEFAULT false,
		sent_to_email BOOLEAN NOT NULL DEFAULT false,
		sent_to_webhook BOOLEAN NOT NULL DEFAULT false,
		sent_to_push BOOLEAN NOT NULL DEFAULT false,
		notification_status VARCHAR NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL
	)`,

	// Rolling monitoring tracking: which shows started minimal and how far
	// monitoring has been expanded since.
	`CREATE SEQUENCE IF NOT EXISTS seq_rolling START 1`,
	`CREATE TABLE IF NOT EXISTS rolling_monitored (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_rolling'),
		watchlist_item_id BIGINT NOT NULL,
		sonarr_instance_id BIGINT NOT NULL,
		initial_monitoring VARCHAR NOT NULL,
		monitored_season INTEGER NOT NULL DEFAULT 1,
		last_activity_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (watchlist_item_id, sonarr_instance_id)
	)`,
}

// initSchema applies the schema statements in order.
func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
