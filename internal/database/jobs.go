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

	"github.com/goccy/go-json"

	"github.com/relayarr/relayarr/internal/models"
)

const jobColumns = `id, name, type, config, enabled,
	last_run_time, last_run_status, last_run_error,
	next_run_time, next_run_estimated, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*models.ScheduledJob, error) {
	var j models.ScheduledJob
	var config string
	var lastRunTime, nextRunTime sql.NullTime
	var lastRunStatus, lastRunError sql.NullString
	var nextRunEstimated bool

	err := row.Scan(&j.ID, &j.Name, &j.Type, &config, &j.Enabled,
		&lastRunTime, &lastRunStatus, &lastRunError,
		&nextRunTime, &nextRunEstimated, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	switch j.Type {
	case models.JobInterval:
		var ic models.IntervalConfig
		if err := unmarshalJSON(config, &ic); err != nil {
			return nil, err
		}
		j.Interval = &ic
	case models.JobCron:
		var cc models.CronConfig
		if err := unmarshalJSON(config, &cc); err != nil {
			return nil, err
		}
		j.Cron = &cc
	}

	if lastRunTime.Valid {
		j.LastRun = &models.LastRun{
			Time:   lastRunTime.Time,
			Status: models.RunStatus(stringOr(lastRunStatus)),
			Error:  stringOr(lastRunError),
		}
	}
	if nextRunTime.Valid {
		j.NextRun = &models.NextRun{Time: nextRunTime.Time, Estimated: nextRunEstimated}
	}
	return &j, nil
}

func jobConfigJSON(j *models.ScheduledJob) (string, error) {
	switch j.Type {
	case models.JobInterval:
		if j.Interval == nil {
			return "", fmt.Errorf("interval job %q has no interval config", j.Name)
		}
		data, err := json.Marshal(j.Interval)
		if err != nil {
			return "", fmt.Errorf("marshal interval config: %w", err)
		}
		return string(data), nil
	case models.JobCron:
		if j.Cron == nil {
			return "", fmt.Errorf("cron job %q has no cron config", j.Name)
		}
		data, err := json.Marshal(j.Cron)
		if err != nil {
			return "", fmt.Errorf("marshal cron config: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown job type %q", j.Type)
	}
}

// UpsertJob inserts a job by unique name, or updates its type and config
// when it already exists. The run bookkeeping of an existing job survives.
func (db *DB) UpsertJob(ctx context.Context, j *models.ScheduledJob) error {
	config, err := jobConfigJSON(j)
	if err != nil {
		return err
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := nowUTC()
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM scheduled_jobs WHERE name = ?`, j.Name).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			row := tx.QueryRowContext(ctx, `
				INSERT INTO scheduled_jobs (name, type, config, enabled, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				RETURNING id`,
				j.Name, j.Type, config, j.Enabled, now, now)
			if err := row.Scan(&j.ID); err != nil {
				return fmt.Errorf("insert job %q: %w", j.Name, err)
			}
			j.CreatedAt, j.UpdatedAt = now, now
			return nil
		case err != nil:
			return fmt.Errorf("lookup job %q: %w", j.Name, err)
		default:
			if _, err := tx.ExecContext(ctx, `
				UPDATE scheduled_jobs SET type = ?, config = ?, enabled = ?, updated_at = ?
				WHERE id = ?`, j.Type, config, j.Enabled, now, id); err != nil {
				return fmt.Errorf("update job %q: %w", j.Name, err)
			}
			j.ID = id
			j.UpdatedAt = now
			return nil
		}
	})
}

// GetJob fetches a job by name.
func (db *DB) GetJob(ctx context.Context, name string) (*models.ScheduledJob, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE name = ?`, name)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", name, err)
	}
	return j, nil
}

// ListJobs returns all jobs ordered by name.
func (db *DB) ListJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer closeQuietly(rows)

	var jobs []models.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// SetJobEnabled toggles a job and clears its planned next run when
// disabling (the scheduler re-plans on enable).
func (db *DB) SetJobEnabled(ctx context.Context, name string, enabled bool) error {
	query := `UPDATE scheduled_jobs SET enabled = ?, updated_at = ? WHERE name = ?`
	if !enabled {
		query = `UPDATE scheduled_jobs SET enabled = ?, next_run_time = NULL, updated_at = ? WHERE name = ?`
	}
	res, err := db.conn.ExecContext(ctx, query, enabled, nowUTC(), name)
	if err != nil {
		return fmt.Errorf("set job %q enabled=%t: %w", name, enabled, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordJobRun atomically writes the last-run outcome and the planned next
// run in one statement.
func (db *DB) RecordJobRun(ctx context.Context, name string, run models.LastRun, next *time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET last_run_time = ?, last_run_status = ?, last_run_error = ?,
			next_run_time = ?, next_run_estimated = false, updated_at = ?
		WHERE name = ?`,
		run.Time.UTC(), run.Status, nullString(run.Error),
		nullTime(next), nowUTC(), name)
	if err != nil {
		return fmt.Errorf("record job run %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetJobNextRun writes only the planned next run, marking whether it is an
// estimate (derived after restart or config change).
func (db *DB) SetJobNextRun(ctx context.Context, name string, next time.Time, estimated bool) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE scheduled_jobs SET next_run_time = ?, next_run_estimated = ?, updated_at = ?
		WHERE name = ?`, next.UTC(), estimated, nowUTC(), name)
	if err != nil {
		return fmt.Errorf("set job next run %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
