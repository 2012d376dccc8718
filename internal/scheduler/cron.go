// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts exactly the 6-field form:
// second minute hour day-of-month month day-of-week.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// CronExpression is a parsed 6-field cron schedule.
type CronExpression struct {
	schedule cron.Schedule
}

// ParseCron parses a 6-field cron expression.
//
// Examples:
//   - "0 0 * * * *" - Every hour on the hour
//   - "0 30 3 * * *" - Daily at 03:30:00
//   - "*/15 * * * * *" - Every 15 seconds
func ParseCron(expr string) (*CronExpression, error) {
	if n := len(strings.Fields(expr)); n != 6 {
		return nil, fmt.Errorf("cron expression must have 6 fields (sec min hr dom mon dow), got %d", n)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression: %w", err)
	}
	return &CronExpression{schedule: schedule}, nil
}

// NextRun returns the first matching time strictly after the given time.
// If loc is nil, UTC is used. The zero time means no match within the
// parser's horizon.
func (c *CronExpression) NextRun(after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return c.schedule.Next(after.In(loc))
}
