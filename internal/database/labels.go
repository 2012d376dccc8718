// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package database

import (
	"context"
	"fmt"

	"github.com/relayarr/relayarr/internal/models"
)

// UpsertLabelTracking records one applied label, keyed uniquely by
// (watchlist_id, rating_key, label). Re-recording the same triple is a
// no-op, making label application idempotent.
func (db *DB) UpsertLabelTracking(ctx context.Context, t *models.LabelTracking) error {
	now := nowUTC()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO label_tracking (watchlist_id, plex_rating_key, label_applied, created_at)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM label_tracking
			WHERE watchlist_id = ? AND plex_rating_key = ? AND label_applied = ?)`,
		t.WatchlistID, t.PlexRatingKey, t.Label, now,
		t.WatchlistID, t.PlexRatingKey, t.Label)
	if err != nil {
		return fmt.Errorf("upsert label tracking: %w", err)
	}
	return nil
}

// DeleteLabelTracking removes the tracking row for one applied label.
func (db *DB) DeleteLabelTracking(ctx context.Context, watchlistID int64, ratingKey, label string) error {
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM label_tracking
		WHERE watchlist_id = ? AND plex_rating_key = ? AND label_applied = ?`,
		watchlistID, ratingKey, label)
	if err != nil {
		return fmt.Errorf("delete label tracking: %w", err)
	}
	return nil
}

// ListLabelsForRatingKey returns every tracked label on one library entity.
func (db *DB) ListLabelsForRatingKey(ctx context.Context, ratingKey string) ([]models.LabelTracking, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, watchlist_id, plex_rating_key, label_applied, created_at
		FROM label_tracking WHERE plex_rating_key = ? ORDER BY id`, ratingKey)
	if err != nil {
		return nil, fmt.Errorf("list labels for rating key: %w", err)
	}
	defer closeQuietly(rows)
	return collectLabels(rows)
}

// ListAllLabelTracking returns every tracking row.
func (db *DB) ListAllLabelTracking(ctx context.Context) ([]models.LabelTracking, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, watchlist_id, plex_rating_key, label_applied, created_at
		FROM label_tracking ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list label tracking: %w", err)
	}
	defer closeQuietly(rows)
	return collectLabels(rows)
}

func collectLabels(rows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
}) ([]models.LabelTracking, error) {
	var out []models.LabelTracking
	for rows.Next() {
		var t models.LabelTracking
		if err := rows.Scan(&t.ID, &t.WatchlistID, &t.PlexRatingKey, &t.Label, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan label tracking: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteOrphanedLabelTracking removes tracking rows whose watchlist item no
// longer exists. Returns the number of rows removed.
func (db *DB) DeleteOrphanedLabelTracking(ctx context.Context) (int, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM label_tracking
		WHERE watchlist_id NOT IN (SELECT id FROM watchlist_items)`)
	if err != nil {
		return 0, fmt.Errorf("delete orphaned label tracking: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
