// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/relayarr/relayarr/internal/models"
)

// RollingMonitored tracks a show added with rolling monitoring so the
// reconciler can expand monitoring as viewing progresses and reset shows
// that go inactive.
type RollingMonitored struct {
	ID                int64
	WatchlistItemID   int64
	SonarrInstanceID  int64
	InitialMonitoring models.SeasonMonitoring
	MonitoredSeason   int
	LastActivityAt    time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateRollingMonitored records a rolling-monitored show. Duplicate
// (item, instance) pairs are ignored.
func (db *DB) CreateRollingMonitored(ctx context.Context, r *RollingMonitored) error {
	now := nowUTC()
	if r.MonitoredSeason <= 0 {
		r.MonitoredSeason = 1
	}
	if r.LastActivityAt.IsZero() {
		r.LastActivityAt = now
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO rolling_monitored
			(watchlist_item_id, sonarr_instance_id, initial_monitoring,
			 monitored_season, last_activity_at, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM rolling_monitored
			WHERE watchlist_item_id = ? AND sonarr_instance_id = ?)`,
		r.WatchlistItemID, r.SonarrInstanceID, r.InitialMonitoring,
		r.MonitoredSeason, r.LastActivityAt.UTC(), now, now,
		r.WatchlistItemID, r.SonarrInstanceID)
	if err != nil {
		return fmt.Errorf("create rolling monitored: %w", err)
	}
	return nil
}

// ListRollingMonitored returns every rolling tracking row.
func (db *DB) ListRollingMonitored(ctx context.Context) ([]RollingMonitored, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, watchlist_item_id, sonarr_instance_id, initial_monitoring,
			monitored_season, last_activity_at, created_at, updated_at
		FROM rolling_monitored ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list rolling monitored: %w", err)
	}
	defer closeQuietly(rows)

	var out []RollingMonitored
	for rows.Next() {
		var r RollingMonitored
		if err := rows.Scan(&r.ID, &r.WatchlistItemID, &r.SonarrInstanceID, &r.InitialMonitoring,
			&r.MonitoredSeason, &r.LastActivityAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rolling monitored: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AdvanceRollingSeason records a monitoring expansion and refreshes the
// activity timestamp.
func (db *DB) AdvanceRollingSeason(ctx context.Context, id int64, season int, activityAt time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE rolling_monitored
		SET monitored_season = ?, last_activity_at = ?, updated_at = ?
		WHERE id = ?`, season, activityAt.UTC(), nowUTC(), id)
	if err != nil {
		return fmt.Errorf("advance rolling season: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchRollingActivity refreshes only the activity timestamp.
func (db *DB) TouchRollingActivity(ctx context.Context, id int64, activityAt time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE rolling_monitored SET last_activity_at = ?, updated_at = ? WHERE id = ?`,
		activityAt.UTC(), nowUTC(), id)
	if err != nil {
		return fmt.Errorf("touch rolling activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetRollingMonitored rewinds an inactive show to its starting monitoring
// configuration.
func (db *DB) ResetRollingMonitored(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE rolling_monitored
		SET monitored_season = 1, last_activity_at = ?, updated_at = ?
		WHERE id = ?`, nowUTC(), nowUTC(), id)
	if err != nil {
		return fmt.Errorf("reset rolling monitored: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRollingMonitored fetches one tracking row by (item, instance).
func (db *DB) GetRollingMonitored(ctx context.Context, itemID, instanceID int64) (*RollingMonitored, error) {
	var r RollingMonitored
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, watchlist_item_id, sonarr_instance_id, initial_monitoring,
			monitored_season, last_activity_at, created_at, updated_at
		FROM rolling_monitored
		WHERE watchlist_item_id = ? AND sonarr_instance_id = ?`, itemID, instanceID).Scan(
		&r.ID, &r.WatchlistItemID, &r.SonarrInstanceID, &r.InitialMonitoring,
		&r.MonitoredSeason, &r.LastActivityAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rolling monitored: %w", err)
	}
	return &r, nil
}
