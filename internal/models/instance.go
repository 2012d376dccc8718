// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package models

import "time"

// TargetType names the downstream manager flavor an instance or rule targets.
type TargetType string

const (
	TargetSonarr TargetType = "sonarr"
	TargetRadarr TargetType = "radarr"
)

// SeasonMonitoring selects which seasons Sonarr monitors when a series is
// added. The rolling variants start minimal and are expanded by the
// reconciler as viewing progresses.
type SeasonMonitoring string

const (
	MonitorAll                SeasonMonitoring = "all"
	MonitorFuture             SeasonMonitoring = "future"
	MonitorMissing            SeasonMonitoring = "missing"
	MonitorExisting           SeasonMonitoring = "existing"
	MonitorFirstSeason        SeasonMonitoring = "firstSeason"
	MonitorLatestSeason       SeasonMonitoring = "latestSeason"
	MonitorPilot              SeasonMonitoring = "pilot"
	MonitorNone               SeasonMonitoring = "none"
	MonitorPilotRolling       SeasonMonitoring = "pilotRolling"
	MonitorFirstSeasonRolling SeasonMonitoring = "firstSeasonRolling"
)

// IsRolling reports whether the monitoring option expands over time.
func (m SeasonMonitoring) IsRolling() bool {
	return m == MonitorPilotRolling || m == MonitorFirstSeasonRolling
}

// Concrete translates a rolling option to the closest value a Sonarr-like
// manager accepts at submission time. Non-rolling values pass through.
func (m SeasonMonitoring) Concrete() SeasonMonitoring {
	switch m {
	case MonitorPilotRolling:
		return MonitorPilot
	case MonitorFirstSeasonRolling:
		return MonitorFirstSeason
	default:
		return m
	}
}

// InstanceDefaults are the settings applied when a rule carries no override,
// and always applied to synced fan-out targets.
type InstanceDefaults struct {
	RootFolder          string           `json:"root_folder,omitempty"`
	QualityProfile      string           `json:"quality_profile,omitempty"`
	Tags                []string         `json:"tags,omitempty"`
	SearchOnAdd         *bool            `json:"search_on_add,omitempty"`
	SeasonMonitoring    SeasonMonitoring `json:"season_monitoring,omitempty"`
	Monitor             string           `json:"monitor,omitempty"`
	SeriesType          string           `json:"series_type,omitempty"`
	MinimumAvailability string           `json:"minimum_availability,omitempty"`
}

// Instance is a configured downstream manager. At most one instance per
// target type may be the default; only the default may carry synced
// instances.
type Instance struct {
	ID              int64            `json:"id"`
	Name            string           `json:"name"`
	Type            TargetType       `json:"type"`
	BaseURL         string           `json:"base_url"`
	APIKey          string           `json:"api_key"`
	IsDefault       bool             `json:"is_default"`
	SyncedInstances []int64          `json:"synced_instances,omitempty"`
	Defaults        InstanceDefaults `json:"defaults"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
