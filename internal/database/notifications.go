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

	"github.com/relayarr/relayarr/internal/models"
)

const notificationColumns = `id, watchlist_item_id, user_id, type, title, season, episode,
	sent_to_chat, sent_to_email, sent_to_webhook, sent_to_push, notification_status, created_at`

func scanNotification(row interface{ Scan(...interface{}) error }) (*models.NotificationRecord, error) {
	var n models.NotificationRecord
	var itemID, userID sql.NullInt64
	var season, episode sql.NullInt32
	err := row.Scan(&n.ID, &itemID, &userID, &n.Type, &n.Title, &season, &episode,
		&n.SentToChat, &n.SentToEmail, &n.SentToWebhook, &n.SentToPush, &n.Status, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.WatchlistItemID = int64Ptr(itemID)
	n.UserID = int64Ptr(userID)
	n.Season = intPtr(season)
	n.Episode = intPtr(episode)
	return &n, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// findNotification runs the de-dup lookup on a connection or transaction.
// A nil userID, season or episode only matches NULL, never 0.
func findNotification(ctx context.Context, q rowQuerier, userID *int64, nType models.NotificationType, title string, season, episode *int) (*models.NotificationRecord, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_records
		WHERE type = ? AND title = ?`
	args := []interface{}{nType, title}

	if userID != nil {
		query += ` AND user_id = ?`
		args = append(args, *userID)
	} else {
		query += ` AND user_id IS NULL`
	}
	if season != nil {
		query += ` AND season = ?`
		args = append(args, *season)
	} else {
		query += ` AND season IS NULL`
	}
	if episode != nil {
		query += ` AND episode = ?`
		args = append(args, *episode)
	} else {
		query += ` AND episode IS NULL`
	}
	query += ` ORDER BY id DESC LIMIT 1`

	n, err := scanNotification(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return n, nil
}

// FindNotification looks up a record by the primary de-dup key
// (user, type, title, season, episode).
func (db *DB) FindNotification(ctx context.Context, userID *int64, nType models.NotificationType, title string, season, episode *int) (*models.NotificationRecord, error) {
	return findNotification(ctx, db.conn, userID, nType, title, season, episode)
}

// FindNotificationForEvent looks up the newest record for an event
// regardless of which user owns it. The sync-detection pass uses this to
// spot content already announced through another user's acquisition.
func (db *DB) FindNotificationForEvent(ctx context.Context, nType models.NotificationType, title string, season, episode *int) (*models.NotificationRecord, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_records
		WHERE type = ? AND title = ?`
	args := []interface{}{nType, title}

	if season != nil {
		query += ` AND season = ?`
		args = append(args, *season)
	} else {
		query += ` AND season IS NULL`
	}
	if episode != nil {
		query += ` AND episode = ?`
		args = append(args, *episode)
	} else {
		query += ` AND episode IS NULL`
	}
	query += ` ORDER BY id DESC LIMIT 1`

	n, err := scanNotification(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find notification for event: %w", err)
	}
	return n, nil
}

func insertNotification(ctx context.Context, q rowQuerier, n *models.NotificationRecord) error {
	if n.Status == "" {
		n.Status = models.NotificationActive
	}
	now := nowUTC()
	row := q.QueryRowContext(ctx, `
		INSERT INTO notification_records (watchlist_item_id, user_id, type, title, season, episode,
			sent_to_chat, sent_to_email, sent_to_webhook, sent_to_push, notification_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		nullInt64(n.WatchlistItemID), nullInt64(n.UserID), n.Type, n.Title,
		nullInt(n.Season), nullInt(n.Episode),
		n.SentToChat, n.SentToEmail, n.SentToWebhook, n.SentToPush, n.Status, now)
	if err := row.Scan(&n.ID); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	n.CreatedAt = now
	return nil
}

// InsertNotification records a notification with its per-channel outcomes
// in one write.
func (db *DB) InsertNotification(ctx context.Context, n *models.NotificationRecord) error {
	return insertNotification(ctx, db.conn, n)
}

// ClaimNotification runs the de-dup check and the insert in one transaction
// per (user, event). Returns false without touching the record when a prior
// record for the same key already exists; two concurrent claims for the
// same key yield exactly one insert.
func (db *DB) ClaimNotification(ctx context.Context, n *models.NotificationRecord) (bool, error) {
	claimed := false
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := findNotification(ctx, tx, n.UserID, n.Type, n.Title, n.Season, n.Episode)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := insertNotification(ctx, tx, n); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

// UpdateNotificationOutcome writes the per-channel flags of a claimed
// record in one statement.
func (db *DB) UpdateNotificationOutcome(ctx context.Context, n *models.NotificationRecord) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE notification_records
		SET sent_to_chat = ?, sent_to_email = ?, sent_to_webhook = ?, sent_to_push = ?
		WHERE id = ?`,
		n.SentToChat, n.SentToEmail, n.SentToWebhook, n.SentToPush, n.ID)
	if err != nil {
		return fmt.Errorf("update notification outcome: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNotification removes a record. Dispatch releases a claim this way
// when every requested channel failed, so the next run retries.
func (db *DB) DeleteNotification(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM notification_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}
