// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/metrics"
	"github.com/relayarr/relayarr/internal/models"
)

// windowStart computes when the quota's current accounting window opened.
//
// Daily is a rolling 24 hours, weekly a rolling N days. Monthly anchors on
// the configured reset day; when that day does not exist in a month the
// month-end policy decides whether the reset lands on the last day, is
// skipped entirely, or slides to the 1st of the following month.
func windowStart(q *models.Quota, now time.Time) time.Time {
	switch q.Type {
	case models.QuotaDaily:
		return now.Add(-24 * time.Hour)
	case models.QuotaWeeklyRolling:
		days := q.WeeklyDays
		if days <= 0 {
			days = 7
		}
		return now.AddDate(0, 0, -days)
	case models.QuotaMonthly:
		return monthlyWindowStart(now, q.MonthlyReset, q.MonthEnd)
	default:
		return now.Add(-24 * time.Hour)
	}
}

func monthlyWindowStart(now time.Time, resetDay int, policy models.MonthEndPolicy) time.Time {
	if resetDay <= 0 {
		resetDay = 1
	}
	if policy == "" {
		policy = models.MonthEndLastDay
	}

	year, month := now.Year(), now.Month()
	// Walk back month by month until a reset date at or before now is
	// found. skip-month can skip several short months in a row, so the
	// walk is bounded generously.
	for i := 0; i < 14; i++ {
		if reset := resetDateFor(year, month, resetDay, policy, now.Location()); !reset.IsZero() && !reset.After(now) {
			return reset
		}
		month--
		if month < time.January {
			month = time.December
			year--
		}
	}
	return now.AddDate(0, -1, 0)
}

// resetDateFor returns the reset date anchored in the given month, or zero
// when the policy skips it. A next-month reset belongs to this month but
// falls on the 1st of the following one.
func resetDateFor(year int, month time.Month, day int, policy models.MonthEndPolicy, loc *time.Location) time.Time {
	last := daysInMonth(year, month)
	if day <= last {
		return time.Date(year, month, day, 0, 0, 0, 0, loc)
	}
	switch policy {
	case models.MonthEndSkipMonth:
		return time.Time{}
	case models.MonthEndNextMonth:
		return time.Date(year, month, 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
	default: // last-day
		return time.Date(year, month, last, 0, 0, 0, 0, loc)
	}
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// CheckQuota evaluates the user's quota for one content type. A user with
// no quota returns a nil status. Exceeded means usage has reached the
// limit: usage >= limit.
func (e *Engine) CheckQuota(ctx context.Context, userID int64, ct models.ContentType, now time.Time) (*models.QuotaStatus, error) {
	quota, err := e.db.GetQuota(ctx, userID, ct)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}

	since := windowStart(quota, now)
	usage, err := e.db.CountUsageSince(ctx, userID, ct, since)
	if err != nil {
		return nil, fmt.Errorf("count usage: %w", err)
	}

	status := &models.QuotaStatus{
		Quota:    *quota,
		Usage:    usage,
		Exceeded: usage >= quota.Limit,
		Since:    since,
	}
	switch {
	case !status.Exceeded:
		metrics.QuotaChecks.WithLabelValues("within").Inc()
	case quota.BypassApproval:
		metrics.QuotaChecks.WithLabelValues("bypass").Inc()
	default:
		metrics.QuotaChecks.WithLabelValues("exceeded").Inc()
	}
	return status, nil
}
