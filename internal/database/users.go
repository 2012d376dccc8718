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

const userColumns = `id, name, plex_uuid, alias, email, chat_id,
	notify_email, notify_chat, notify_push,
	can_sync, is_primary_token, requires_approval, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	var plexUUID, alias, email, chatID sql.NullString
	err := row.Scan(&u.ID, &u.Name, &plexUUID, &alias, &email, &chatID,
		&u.Notify.Email, &u.Notify.Chat, &u.Notify.Push,
		&u.CanSync, &u.IsPrimaryToken, &u.RequiresApproval,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.PlexUUID = stringOr(plexUUID)
	u.Alias = stringOr(alias)
	u.Email = stringOr(email)
	u.ChatID = stringOr(chatID)
	return &u, nil
}

// EnsureSystemUser creates the undeletable "System" user with id 0 if it
// does not exist yet.
func (db *DB) EnsureSystemUser(ctx context.Context) error {
	now := nowUTC()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO users (id, name, can_sync, created_at, updated_at)
		SELECT ?, 'System', false, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM users WHERE id = ?)`,
		models.SystemUserID, now, now, models.SystemUserID)
	if err != nil {
		return fmt.Errorf("insert system user: %w", err)
	}
	return nil
}

// CreateUser inserts a new user. At most one user may hold the primary
// token; inserting a second primary clears the flag on the previous holder.
func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := nowUTC()
		if u.IsPrimaryToken {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET is_primary_token = false, updated_at = ? WHERE is_primary_token`, now); err != nil {
				return fmt.Errorf("clear previous primary token: %w", err)
			}
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO users (name, plex_uuid, alias, email, chat_id,
				notify_email, notify_chat, notify_push,
				can_sync, is_primary_token, requires_approval, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			u.Name, nullString(u.PlexUUID), nullString(u.Alias), nullString(u.Email), nullString(u.ChatID),
			u.Notify.Email, u.Notify.Chat, u.Notify.Push,
			u.CanSync, u.IsPrimaryToken, u.RequiresApproval, now, now)
		if err := row.Scan(&u.ID); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		u.CreatedAt, u.UpdatedAt = now, now
		return nil
	})
}

// GetUser fetches a user by id.
func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// GetUserByPlexUUID fetches a user by their Plex account uuid.
func (db *DB) GetUserByPlexUUID(ctx context.Context, uuid string) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE plex_uuid = ?`, uuid)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by uuid: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by id.
func (db *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer closeQuietly(rows)

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUser rewrites a user's mutable fields.
func (db *DB) UpdateUser(ctx context.Context, u *models.User) error {
	now := nowUTC()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE users SET name = ?, alias = ?, email = ?, chat_id = ?,
			notify_email = ?, notify_chat = ?, notify_push = ?,
			can_sync = ?, requires_approval = ?, updated_at = ?
		WHERE id = ?`,
		u.Name, nullString(u.Alias), nullString(u.Email), nullString(u.ChatID),
		u.Notify.Email, u.Notify.Chat, u.Notify.Push,
		u.CanSync, u.RequiresApproval, now, u.ID)
	if err != nil {
		return fmt.Errorf("update user %d: %w", u.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	u.UpdatedAt = now
	return nil
}

// DeleteUser removes a user and cascades to their watchlist items, label
// tracking and quota records. The system user is undeletable.
func (db *DB) DeleteUser(ctx context.Context, id int64) error {
	if id == models.SystemUserID {
		return ErrSystemUser
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM label_tracking WHERE watchlist_id IN
				(SELECT id FROM watchlist_items WHERE user_id = ?)`, id); err != nil {
			return fmt.Errorf("cascade label tracking: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM watchlist_instance_status WHERE watchlist_item_id IN
				(SELECT id FROM watchlist_items WHERE user_id = ?)`, id); err != nil {
			return fmt.Errorf("cascade instance junction: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM watchlist_items WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("cascade watchlist items: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM quotas WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("cascade quotas: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete user %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
