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

const watchlistColumns = `id, user_id, key, title, type, thumb, added,
	guids, genres, status, series_status, movie_status,
	sonarr_instance_id, radarr_instance_id, last_notified_at, created_at, updated_at`

func scanWatchlistItem(row interface{ Scan(...interface{}) error }) (*models.WatchlistItem, error) {
	var it models.WatchlistItem
	var thumb, seriesStatus, movieStatus sql.NullString
	var added, lastNotified sql.NullTime
	var sonarrID, radarrID sql.NullInt64
	var guids, genres string

	err := row.Scan(&it.ID, &it.UserID, &it.Key, &it.Title, &it.Type, &thumb, &added,
		&guids, &genres, &it.Status, &seriesStatus, &movieStatus,
		&sonarrID, &radarrID, &lastNotified, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}

	it.Thumb = stringOr(thumb)
	it.Added = timePtr(added)
	it.SeriesStatus = models.SeriesStatus(stringOr(seriesStatus))
	it.MovieStatus = models.MovieStatus(stringOr(movieStatus))
	it.SonarrInstanceID = int64Ptr(sonarrID)
	it.RadarrInstanceID = int64Ptr(radarrID)
	it.LastNotifiedAt = timePtr(lastNotified)
	if err := unmarshalJSON(guids, &it.GUIDs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(genres, &it.Genres); err != nil {
		return nil, err
	}
	return &it, nil
}

// CreateWatchlistItem inserts one watchlist row for a user.
func (db *DB) CreateWatchlistItem(ctx context.Context, it *models.WatchlistItem) error {
	guids, err := marshalJSON(it.GUIDs, "[]")
	if err != nil {
		return err
	}
	genres, err := marshalJSON(it.Genres, "[]")
	if err != nil {
		return err
	}
	if it.Status == "" {
		it.Status = models.StatusPending
	}

	now := nowUTC()
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO watchlist_items (user_id, key, title, type, thumb, added,
			guids, genres, status, series_status, movie_status,
			sonarr_instance_id, radarr_instance_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		it.UserID, it.Key, it.Title, it.Type, nullString(it.Thumb), nullTime(it.Added),
		guids, genres, it.Status, nullString(string(it.SeriesStatus)), nullString(string(it.MovieStatus)),
		nullInt64(it.SonarrInstanceID), nullInt64(it.RadarrInstanceID), now, now)
	if err := row.Scan(&it.ID); err != nil {
		return fmt.Errorf("insert watchlist item (user=%d key=%s): %w", it.UserID, it.Key, err)
	}
	it.CreatedAt, it.UpdatedAt = now, now
	return nil
}

// UpdateWatchlistMetadata rewrites an item's display metadata. Lifecycle
// fields are untouched; those belong to the reconciler's bulk update path.
func (db *DB) UpdateWatchlistMetadata(ctx context.Context, it *models.WatchlistItem) error {
	guids, err := marshalJSON(it.GUIDs, "[]")
	if err != nil {
		return fmt.Errorf("marshal guids: %w", err)
	}
	genres, err := marshalJSON(it.Genres, "[]")
	if err != nil {
		return fmt.Errorf("marshal genres: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE watchlist_items
		SET title = ?, thumb = ?, guids = ?, genres = ?, updated_at = ?
		WHERE id = ?`,
		it.Title, nullString(it.Thumb), guids, genres, nowUTC(), it.ID)
	if err != nil {
		return fmt.Errorf("update watchlist metadata: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetWatchlistItem fetches a row by (user, key).
func (db *DB) GetWatchlistItem(ctx context.Context, userID int64, key string) (*models.WatchlistItem, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+watchlistColumns+` FROM watchlist_items WHERE user_id = ? AND key = ?`,
		userID, key)
	it, err := scanWatchlistItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get watchlist item: %w", err)
	}
	return it, nil
}

// GetWatchlistItemByID fetches a row by id.
func (db *DB) GetWatchlistItemByID(ctx context.Context, id int64) (*models.WatchlistItem, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+watchlistColumns+` FROM watchlist_items WHERE id = ?`, id)
	it, err := scanWatchlistItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get watchlist item %d: %w", id, err)
	}
	return it, nil
}

// ListWatchlistItems returns all items for one user.
func (db *DB) ListWatchlistItems(ctx context.Context, userID int64) ([]models.WatchlistItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+watchlistColumns+` FROM watchlist_items WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list watchlist items: %w", err)
	}
	defer closeQuietly(rows)
	return collectItems(rows)
}

// ListAllWatchlistItems returns every item of the given content type.
func (db *DB) ListAllWatchlistItems(ctx context.Context, contentType models.ContentType) ([]models.WatchlistItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+watchlistColumns+` FROM watchlist_items WHERE type = ? ORDER BY id`, contentType)
	if err != nil {
		return nil, fmt.Errorf("list watchlist items by type: %w", err)
	}
	defer closeQuietly(rows)
	return collectItems(rows)
}

// FindWatchlistByKey returns every user's row for one external key.
func (db *DB) FindWatchlistByKey(ctx context.Context, key string) ([]models.WatchlistItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+watchlistColumns+` FROM watchlist_items WHERE key = ? ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("find watchlist by key: %w", err)
	}
	defer closeQuietly(rows)
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]models.WatchlistItem, error) {
	var items []models.WatchlistItem
	for rows.Next() {
		it, err := scanWatchlistItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watchlist item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// DeleteWatchlistItems removes the given keys for one user, cascading to the
// per-instance junction and label tracking. Used when items leave a user's
// watchlist; other users' rows are untouched.
func (db *DB) DeleteWatchlistItems(ctx context.Context, userID int64, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			var id int64
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM watchlist_items WHERE user_id = ? AND key = ?`,
				userID, key).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("lookup item for delete: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM label_tracking WHERE watchlist_id = ?`, id); err != nil {
				return fmt.Errorf("cascade label tracking: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM watchlist_instance_status WHERE watchlist_item_id = ?`, id); err != nil {
				return fmt.Errorf("cascade instance junction: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM watchlist_items WHERE id = ?`, id); err != nil {
				return fmt.Errorf("delete watchlist item %d: %w", id, err)
			}
		}
		return nil
	})
}

// InstanceJunction is one per-instance lifecycle row for a watchlist item.
type InstanceJunction struct {
	WatchlistItemID int64
	InstanceID      int64
	InstanceType    models.TargetType
	Status          models.WatchlistStatus
	IsPrimary       bool
}

// BulkUpdateWatchlist applies the reconciler's minimal update set plus any
// per-instance junction rows in one transaction. A status regression from
// notified fails with ErrStatusRegression and rolls back the whole batch;
// callers filter regressions out before submitting.
func (db *DB) BulkUpdateWatchlist(ctx context.Context, updates []models.WatchlistUpdate, junctions []InstanceJunction) (int, error) {
	applied := 0
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		now := nowUTC()
		for i := range updates {
			n, err := applyWatchlistUpdate(ctx, tx, &updates[i], now)
			if err != nil {
				return err
			}
			applied += n
		}
		for i := range junctions {
			if err := upsertJunction(ctx, tx, &junctions[i], now); err != nil {
				return err
			}
		}
		return nil
	})
	return applied, err
}

func applyWatchlistUpdate(ctx context.Context, tx *sql.Tx, u *models.WatchlistUpdate, now interface{}) (int, error) {
	if u.IsEmpty() {
		return 0, nil
	}

	if u.Status != nil {
		var current models.WatchlistStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM watchlist_items WHERE user_id = ? AND key = ?`,
			u.UserID, u.Key).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil // reconciler never creates items
		}
		if err != nil {
			return 0, fmt.Errorf("read current status: %w", err)
		}
		if !current.CanAdvanceTo(*u.Status) {
			return 0, fmt.Errorf("%w: %s -> %s (user=%d key=%s)",
				ErrStatusRegression, current, *u.Status, u.UserID, u.Key)
		}
	}

	set := "updated_at = ?"
	args := []interface{}{now}
	if u.Added != nil {
		set += ", added = ?"
		args = append(args, *u.Added)
	}
	if u.Status != nil {
		set += ", status = ?"
		args = append(args, *u.Status)
	}
	if u.SeriesStatus != nil {
		set += ", series_status = ?"
		args = append(args, string(*u.SeriesStatus))
	}
	if u.MovieStatus != nil {
		set += ", movie_status = ?"
		args = append(args, string(*u.MovieStatus))
	}
	if u.SonarrInstanceID != nil {
		set += ", sonarr_instance_id = ?"
		args = append(args, *u.SonarrInstanceID)
	}
	if u.RadarrInstanceID != nil {
		set += ", radarr_instance_id = ?"
		args = append(args, *u.RadarrInstanceID)
	}
	if u.LastNotifiedAt != nil {
		set += ", last_notified_at = ?"
		args = append(args, *u.LastNotifiedAt)
	}
	args = append(args, u.UserID, u.Key)

	res, err := tx.ExecContext(ctx,
		`UPDATE watchlist_items SET `+set+` WHERE user_id = ? AND key = ?`, args...)
	if err != nil {
		return 0, fmt.Errorf("apply watchlist update (user=%d key=%s): %w", u.UserID, u.Key, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func upsertJunction(ctx context.Context, tx *sql.Tx, j *InstanceJunction, now interface{}) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE watchlist_instance_status
		SET status = ?, is_primary = ?, updated_at = ?
		WHERE watchlist_item_id = ? AND instance_id = ?`,
		j.Status, j.IsPrimary, now, j.WatchlistItemID, j.InstanceID)
	if err != nil {
		return fmt.Errorf("update instance junction: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO watchlist_instance_status
			(watchlist_item_id, instance_id, instance_type, status, is_primary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.WatchlistItemID, j.InstanceID, j.InstanceType, j.Status, j.IsPrimary, now, now)
	if err != nil {
		return fmt.Errorf("insert instance junction: %w", err)
	}
	return nil
}

// ResetWatchlistStatus is the explicit reset path: it rewinds an item to
// pending regardless of current status and records the reset in history.
func (db *DB) ResetWatchlistStatus(ctx context.Context, userID int64, key string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := nowUTC()
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM watchlist_items WHERE user_id = ? AND key = ?`,
			userID, key).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup item for reset: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE watchlist_items
			SET status = ?, last_notified_at = NULL, updated_at = ?
			WHERE id = ?`, models.StatusPending, now, id); err != nil {
			return fmt.Errorf("reset status: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO watchlist_status_history (watchlist_item_id, status, observed_at)
			VALUES (?, ?, ?)`, id, models.StatusPending, now); err != nil {
			return fmt.Errorf("record reset: %w", err)
		}
		return nil
	})
}

// AppendStatusHistory records an observed status without touching the live
// row. The reconciler uses this to backfill grabbed observations on items
// already notified.
func (db *DB) AppendStatusHistory(ctx context.Context, entry *models.StatusHistoryEntry) error {
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO watchlist_status_history (watchlist_item_id, status, observed_at)
		VALUES (?, ?, ?) RETURNING id`,
		entry.WatchlistItemID, entry.Status, entry.ObservedAt)
	if err := row.Scan(&entry.ID); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

// ListStatusHistory returns the history entries for one item, oldest first.
func (db *DB) ListStatusHistory(ctx context.Context, itemID int64) ([]models.StatusHistoryEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, watchlist_item_id, status, observed_at
		FROM watchlist_status_history WHERE watchlist_item_id = ? ORDER BY observed_at, id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer closeQuietly(rows)

	var entries []models.StatusHistoryEntry
	for rows.Next() {
		var e models.StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.WatchlistItemID, &e.Status, &e.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
