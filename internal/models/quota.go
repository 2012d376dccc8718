// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package models

import "time"

// QuotaType selects the accounting window for a per-user quota.
type QuotaType string

const (
	QuotaDaily         QuotaType = "daily"
	QuotaWeeklyRolling QuotaType = "weekly_rolling"
	QuotaMonthly       QuotaType = "monthly"
)

// MonthEndPolicy decides what happens when a monthly quota's reset day does
// not exist in a month (reset day 31 in February, for example).
type MonthEndPolicy string

const (
	// MonthEndLastDay resets on the last day of short months.
	MonthEndLastDay MonthEndPolicy = "last-day"
	// MonthEndSkipMonth produces no reset in short months.
	MonthEndSkipMonth MonthEndPolicy = "skip-month"
	// MonthEndNextMonth resets on the 1st of the following month.
	MonthEndNextMonth MonthEndPolicy = "next-month"
)

// Quota caps how many items of one content type a user may route per window.
// A quota is exceeded when usage >= limit.
type Quota struct {
	UserID         int64          `json:"user_id"`
	ContentType    ContentType    `json:"content_type"`
	Type           QuotaType      `json:"type"`
	Limit          int            `json:"limit"`
	BypassApproval bool           `json:"bypass_approval"`
	WeeklyDays     int            `json:"weekly_days,omitempty"`
	MonthlyReset   int            `json:"monthly_reset_day,omitempty"`
	MonthEnd       MonthEndPolicy `json:"month_end_policy,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// UsageEvent is one append-only quota consumption record.
type UsageEvent struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"user_id"`
	ContentType ContentType `json:"content_type"`
	Timestamp   time.Time   `json:"ts"`
}

// QuotaStatus is the evaluated state of a quota at a point in time.
type QuotaStatus struct {
	Quota    Quota     `json:"quota"`
	Usage    int       `json:"usage"`
	Exceeded bool      `json:"exceeded"`
	Since    time.Time `json:"since"`
}
