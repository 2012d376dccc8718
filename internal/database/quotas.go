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

// UpsertQuota creates or replaces the quota for (user, content type).
func (db *DB) UpsertQuota(ctx context.Context, q *models.Quota) error {
	if q.WeeklyDays <= 0 {
		q.WeeklyDays = 7
	}
	if q.MonthlyReset <= 0 {
		q.MonthlyReset = 1
	}
	if q.MonthEnd == "" {
		q.MonthEnd = models.MonthEndLastDay
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := nowUTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE quotas SET type = ?, quota_limit = ?, bypass_approval = ?,
				weekly_days = ?, monthly_reset_day = ?, month_end_policy = ?, updated_at = ?
			WHERE user_id = ? AND content_type = ?`,
			q.Type, q.Limit, q.BypassApproval,
			q.WeeklyDays, q.MonthlyReset, q.MonthEnd, now,
			q.UserID, q.ContentType)
		if err != nil {
			return fmt.Errorf("update quota: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			q.UpdatedAt = now
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO quotas (user_id, content_type, type, quota_limit, bypass_approval,
				weekly_days, monthly_reset_day, month_end_policy, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.UserID, q.ContentType, q.Type, q.Limit, q.BypassApproval,
			q.WeeklyDays, q.MonthlyReset, q.MonthEnd, now, now)
		if err != nil {
			return fmt.Errorf("insert quota: %w", err)
		}
		q.CreatedAt, q.UpdatedAt = now, now
		return nil
	})
}

// GetQuota fetches the quota for (user, content type), or ErrNotFound when
// the user has no quota configured.
func (db *DB) GetQuota(ctx context.Context, userID int64, contentType models.ContentType) (*models.Quota, error) {
	var q models.Quota
	err := db.conn.QueryRowContext(ctx, `
		SELECT user_id, content_type, type, quota_limit, bypass_approval,
			weekly_days, monthly_reset_day, month_end_policy, created_at, updated_at
		FROM quotas WHERE user_id = ? AND content_type = ?`,
		userID, contentType).Scan(
		&q.UserID, &q.ContentType, &q.Type, &q.Limit, &q.BypassApproval,
		&q.WeeklyDays, &q.MonthlyReset, &q.MonthEnd, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return &q, nil
}

// DeleteQuota removes the quota for (user, content type).
func (db *DB) DeleteQuota(ctx context.Context, userID int64, contentType models.ContentType) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM quotas WHERE user_id = ? AND content_type = ?`, userID, contentType)
	if err != nil {
		return fmt.Errorf("delete quota: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordUsage appends one quota consumption event.
func (db *DB) RecordUsage(ctx context.Context, userID int64, contentType models.ContentType, ts time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO quota_usage_events (user_id, content_type, ts) VALUES (?, ?, ?)`,
		userID, contentType, ts.UTC())
	if err != nil {
		return fmt.Errorf("record quota usage: %w", err)
	}
	return nil
}

// CountUsageSince counts usage events for (user, content type) at or after
// the window start.
func (db *DB) CountUsageSince(ctx context.Context, userID int64, contentType models.ContentType, since time.Time) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM quota_usage_events
		WHERE user_id = ? AND content_type = ? AND ts >= ?`,
		userID, contentType, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count quota usage: %w", err)
	}
	return n, nil
}

// PurgeUsageBefore deletes usage events older than the cutoff; quota windows
// never look back further than the longest configured window.
func (db *DB) PurgeUsageBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM quota_usage_events WHERE ts < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge quota usage: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
