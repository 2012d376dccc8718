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

const instanceColumns = `id, name, type, base_url, api_key, is_default,
	synced_instances, defaults, created_at, updated_at`

func scanInstance(row interface{ Scan(...interface{}) error }) (*models.Instance, error) {
	var in models.Instance
	var synced, defaults string
	err := row.Scan(&in.ID, &in.Name, &in.Type, &in.BaseURL, &in.APIKey, &in.IsDefault,
		&synced, &defaults, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(synced, &in.SyncedInstances); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(defaults, &in.Defaults); err != nil {
		return nil, err
	}
	return &in, nil
}

// CreateInstance inserts a downstream manager instance, enforcing the
// invariants: at most one default per target type, and only the default may
// carry synced instances.
func (db *DB) CreateInstance(ctx context.Context, in *models.Instance) error {
	if !in.IsDefault && len(in.SyncedInstances) > 0 {
		return fmt.Errorf("non-default instance %q cannot carry synced instances", in.Name)
	}
	synced, err := marshalJSON(in.SyncedInstances, "[]")
	if err != nil {
		return err
	}
	defaults, err := marshalJSON(in.Defaults, "{}")
	if err != nil {
		return err
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := nowUTC()
		if in.IsDefault {
			if _, err := tx.ExecContext(ctx, `
				UPDATE instances SET is_default = false, updated_at = ?
				WHERE type = ? AND is_default`, now, in.Type); err != nil {
				return fmt.Errorf("clear previous default: %w", err)
			}
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO instances (name, type, base_url, api_key, is_default,
				synced_instances, defaults, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			in.Name, in.Type, in.BaseURL, in.APIKey, in.IsDefault, synced, defaults, now, now)
		if err := row.Scan(&in.ID); err != nil {
			return fmt.Errorf("insert instance: %w", err)
		}
		in.CreatedAt, in.UpdatedAt = now, now
		return nil
	})
}

// GetInstance fetches an instance by id.
func (db *DB) GetInstance(ctx context.Context, id int64) (*models.Instance, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)
	in, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance %d: %w", id, err)
	}
	return in, nil
}

// GetDefaultInstance fetches the default instance for a target type.
func (db *DB) GetDefaultInstance(ctx context.Context, target models.TargetType) (*models.Instance, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE type = ? AND is_default`, target)
	in, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default %s instance: %w", target, err)
	}
	return in, nil
}

// ListInstances returns all instances for a target type ordered by id.
func (db *DB) ListInstances(ctx context.Context, target models.TargetType) ([]models.Instance, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE type = ? ORDER BY id`, target)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer closeQuietly(rows)

	var instances []models.Instance
	for rows.Next() {
		in, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, *in)
	}
	return instances, rows.Err()
}

// UpdateInstance rewrites an instance's mutable fields under the same
// invariants as CreateInstance.
func (db *DB) UpdateInstance(ctx context.Context, in *models.Instance) error {
	if !in.IsDefault && len(in.SyncedInstances) > 0 {
		return fmt.Errorf("non-default instance %q cannot carry synced instances", in.Name)
	}
	synced, err := marshalJSON(in.SyncedInstances, "[]")
	if err != nil {
		return err
	}
	defaults, err := marshalJSON(in.Defaults, "{}")
	if err != nil {
		return err
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := nowUTC()
		if in.IsDefault {
			if _, err := tx.ExecContext(ctx, `
				UPDATE instances SET is_default = false, updated_at = ?
				WHERE type = ? AND is_default AND id <> ?`, now, in.Type, in.ID); err != nil {
				return fmt.Errorf("clear previous default: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE instances SET name = ?, base_url = ?, api_key = ?, is_default = ?,
				synced_instances = ?, defaults = ?, updated_at = ?
			WHERE id = ?`,
			in.Name, in.BaseURL, in.APIKey, in.IsDefault, synced, defaults, now, in.ID)
		if err != nil {
			return fmt.Errorf("update instance %d: %w", in.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		in.UpdatedAt = now
		return nil
	})
}

// DeleteInstance removes an instance.
func (db *DB) DeleteInstance(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete instance %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
