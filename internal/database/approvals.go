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

const approvalColumns = `id, user_id, content_type, content_title, content_key, content_guids,
	proposed_routing, triggered_by, approval_reason, status, approved_by, approval_notes,
	expires_at, created_at, updated_at`

func scanApproval(row interface{ Scan(...interface{}) error }) (*models.ApprovalRequest, error) {
	var a models.ApprovalRequest
	var guids string
	var proposed, reason, notes sql.NullString
	var approvedBy sql.NullInt64
	var expiresAt sql.NullTime

	err := row.Scan(&a.ID, &a.UserID, &a.ContentType, &a.ContentTitle, &a.ContentKey, &guids,
		&proposed, &a.TriggeredBy, &reason, &a.Status, &approvedBy, &notes,
		&expiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(guids, &a.ContentGUIDs); err != nil {
		return nil, err
	}
	if proposed.Valid && proposed.String != "" {
		var spec models.RoutingSpec
		if err := unmarshalJSON(proposed.String, &spec); err != nil {
			return nil, err
		}
		a.Proposed = &spec
	}
	a.Reason = stringOr(reason)
	a.ApprovedBy = int64Ptr(approvedBy)
	a.ApprovalNotes = stringOr(notes)
	a.ExpiresAt = timePtr(expiresAt)
	return &a, nil
}

// CreateApprovalRequest creates a pending approval. The whole path runs in
// one transaction: an existing pending request for the same (user, key)
// fails with ErrDuplicatePending; an existing expired one is converted back
// to a fresh pending row in place, so the id is reused instead of exploding.
func (db *DB) CreateApprovalRequest(ctx context.Context, a *models.ApprovalRequest) error {
	guids, err := marshalJSON(a.ContentGUIDs, "[]")
	if err != nil {
		return err
	}
	var proposed sql.NullString
	if a.Proposed != nil {
		s, err := marshalJSON(a.Proposed, "{}")
		if err != nil {
			return err
		}
		proposed = sql.NullString{String: s, Valid: true}
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := nowUTC()

		var existingID int64
		var existingStatus models.ApprovalStatus
		err := tx.QueryRowContext(ctx, `
			SELECT id, status FROM approval_requests
			WHERE user_id = ? AND content_key = ? AND status IN ('pending', 'expired')
			ORDER BY CASE status WHEN 'pending' THEN 0 ELSE 1 END, id
			LIMIT 1`, a.UserID, a.ContentKey).Scan(&existingID, &existingStatus)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// No duplicate; fall through to insert.
		case err != nil:
			return fmt.Errorf("check duplicate approval: %w", err)
		case existingStatus == models.ApprovalPending:
			return fmt.Errorf("%w (user=%d key=%s)", ErrDuplicatePending, a.UserID, a.ContentKey)
		default:
			// Expired duplicate: convert it to a fresh pending request.
			_, err := tx.ExecContext(ctx, `
				UPDATE approval_requests
				SET status = 'pending', content_type = ?, content_title = ?, content_guids = ?,
					proposed_routing = ?, triggered_by = ?, approval_reason = ?,
					approved_by = NULL, approval_notes = NULL, expires_at = ?, updated_at = ?
				WHERE id = ?`,
				a.ContentType, a.ContentTitle, guids, proposed, a.TriggeredBy,
				nullString(a.Reason), nullTime(a.ExpiresAt), now, existingID)
			if err != nil {
				return fmt.Errorf("reuse expired approval %d: %w", existingID, err)
			}
			a.ID = existingID
			a.Status = models.ApprovalPending
			a.UpdatedAt = now
			return nil
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO approval_requests (user_id, content_type, content_title, content_key,
				content_guids, proposed_routing, triggered_by, approval_reason, status,
				expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?)
			RETURNING id`,
			a.UserID, a.ContentType, a.ContentTitle, a.ContentKey,
			guids, proposed, a.TriggeredBy, nullString(a.Reason),
			nullTime(a.ExpiresAt), now, now)
		if err := row.Scan(&a.ID); err != nil {
			return fmt.Errorf("insert approval request: %w", err)
		}
		a.Status = models.ApprovalPending
		a.CreatedAt, a.UpdatedAt = now, now
		return nil
	})
}

// GetApprovalRequest fetches a request by id.
func (db *DB) GetApprovalRequest(ctx context.Context, id int64) (*models.ApprovalRequest, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE id = ?`, id)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get approval request %d: %w", id, err)
	}
	return a, nil
}

// ListPendingApprovals returns every pending request ordered by id.
func (db *DB) ListPendingApprovals(ctx context.Context) ([]models.ApprovalRequest, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE status = 'pending' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer closeQuietly(rows)
	return collectApprovals(rows)
}

func collectApprovals(rows *sql.Rows) ([]models.ApprovalRequest, error) {
	var out []models.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// TransitionApproval moves a pending request to a terminal status. Terminal
// requests reject further transitions with ErrTerminalStatus.
func (db *DB) TransitionApproval(ctx context.Context, id int64, to models.ApprovalStatus, approvedBy *int64, notes string) error {
	if !to.IsTerminal() {
		return fmt.Errorf("transition target %q is not terminal", to)
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var current models.ApprovalStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM approval_requests WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read approval status: %w", err)
		}
		if current.IsTerminal() {
			return fmt.Errorf("%w: %d is %s", ErrTerminalStatus, id, current)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE approval_requests
			SET status = ?, approved_by = ?, approval_notes = ?, updated_at = ?
			WHERE id = ?`,
			to, nullInt64(approvedBy), nullString(notes), nowUTC(), id)
		if err != nil {
			return fmt.Errorf("transition approval %d: %w", id, err)
		}
		return nil
	})
}

// ExpireApprovals moves every pending request past its expires_at to
// expired. Returns the number of rows expired.
func (db *DB) ExpireApprovals(ctx context.Context, now time.Time) (int, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE approval_requests SET status = 'expired', updated_at = ?
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= ?`,
		nowUTC(), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire approvals: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeTerminalApprovals deletes terminal requests whose last update is
// older than the cutoff. Returns the number of rows purged.
func (db *DB) PurgeTerminalApprovals(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM approval_requests
		WHERE status IN ('approved', 'rejected', 'expired') AND updated_at < ?`,
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge terminal approvals: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
