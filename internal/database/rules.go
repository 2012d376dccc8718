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
	"sort"
	"strings"

	"github.com/relayarr/relayarr/internal/models"
)

// ruleUpdatableColumns is the whitelist of columns UpdateRouterRule accepts.
// Updates naming anything else are rejected to prevent schema drift.
var ruleUpdatableColumns = map[string]bool{
	"name":                 true,
	"criteria":             true,
	"condition":            true,
	"target_instance_id":   true,
	"root_folder":          true,
	"quality_profile":      true,
	"tags":                 true,
	"order_priority":       true,
	"enabled":              true,
	"search_on_add":        true,
	"season_monitoring":    true,
	"series_type":          true,
	"minimum_availability": true,
	"monitor":              true,
	"require_approval":     true,
	"metadata":             true,
}

const ruleColumns = `id, name, type, criteria, condition, target_type, target_instance_id,
	root_folder, quality_profile, tags, order_priority, enabled,
	search_on_add, season_monitoring, series_type, minimum_availability, monitor,
	require_approval, metadata, created_at, updated_at`

func scanRule(row interface{ Scan(...interface{}) error }) (*models.RouterRule, error) {
	var r models.RouterRule
	var condition, rootFolder, qualityProfile, seasonMonitoring sql.NullString
	var seriesType, minAvail, monitor, metadata sql.NullString
	var searchOnAdd sql.NullBool
	var criteria, tags string

	err := row.Scan(&r.ID, &r.Name, &r.Type, &criteria, &condition, &r.TargetType, &r.TargetInstanceID,
		&rootFolder, &qualityProfile, &tags, &r.Order, &r.Enabled,
		&searchOnAdd, &seasonMonitoring, &seriesType, &minAvail, &monitor,
		&r.RequireApproval, &metadata, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.Criteria = []byte(criteria)
	r.RootFolder = stringOr(rootFolder)
	r.QualityProfile = stringOr(qualityProfile)
	r.SearchOnAdd = boolPtr(searchOnAdd)
	r.SeasonMonitoring = models.SeasonMonitoring(stringOr(seasonMonitoring))
	r.SeriesType = stringOr(seriesType)
	r.MinimumAvailability = stringOr(minAvail)
	r.Monitor = stringOr(monitor)
	if metadata.Valid {
		r.Metadata = []byte(metadata.String)
	}
	if err := unmarshalJSON(tags, &r.Tags); err != nil {
		return nil, err
	}
	if condition.Valid && condition.String != "" {
		var c models.Condition
		if err := unmarshalJSON(condition.String, &c); err != nil {
			return nil, err
		}
		r.Condition = &c
	}
	return &r, nil
}

// CreateRouterRule inserts a rule.
func (db *DB) CreateRouterRule(ctx context.Context, r *models.RouterRule) error {
	tags, err := marshalJSON(r.Tags, "[]")
	if err != nil {
		return err
	}
	var condition sql.NullString
	if r.Condition != nil {
		s, err := marshalJSON(r.Condition, "{}")
		if err != nil {
			return err
		}
		condition = sql.NullString{String: s, Valid: true}
	}
	criteria := string(r.Criteria)
	if criteria == "" {
		criteria = "{}"
	}
	if r.Order == 0 {
		r.Order = models.DefaultRulePriority
	}

	now := nowUTC()
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO router_rules (name, type, criteria, condition, target_type, target_instance_id,
			root_folder, quality_profile, tags, order_priority, enabled,
			search_on_add, season_monitoring, series_type, minimum_availability, monitor,
			require_approval, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		r.Name, r.Type, criteria, condition, r.TargetType, r.TargetInstanceID,
		nullString(r.RootFolder), nullString(r.QualityProfile), tags, r.Order, r.Enabled,
		nullBool(r.SearchOnAdd), nullString(string(r.SeasonMonitoring)), nullString(r.SeriesType),
		nullString(r.MinimumAvailability), nullString(r.Monitor),
		r.RequireApproval, nullString(string(r.Metadata)), now, now)
	if err := row.Scan(&r.ID); err != nil {
		return fmt.Errorf("insert router rule: %w", err)
	}
	r.CreatedAt, r.UpdatedAt = now, now
	return nil
}

// GetRouterRule fetches a rule by id.
func (db *DB) GetRouterRule(ctx context.Context, id int64) (*models.RouterRule, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM router_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get router rule %d: %w", id, err)
	}
	return r, nil
}

// ListEnabledRules returns the enabled rules for one target type, highest
// priority first (ties on lowest id) so callers see deterministic order.
func (db *DB) ListEnabledRules(ctx context.Context, target models.TargetType) ([]models.RouterRule, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM router_rules WHERE target_type = ? AND enabled
		 ORDER BY order_priority DESC, id ASC`, target)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer closeQuietly(rows)

	var rules []models.RouterRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan router rule: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// UpdateRouterRule applies a partial update. Column names outside the
// whitelist return ErrUnknownColumn; nothing is written in that case.
func (db *DB) UpdateRouterRule(ctx context.Context, id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !ruleUpdatableColumns[col] {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]interface{}, 0, len(cols)+2)
	for _, col := range cols {
		sets = append(sets, col+" = ?")
		args = append(args, fields[col])
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, nowUTC(), id)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE router_rules SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update router rule %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRouterRule removes a rule.
func (db *DB) DeleteRouterRule(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM router_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete router rule %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
