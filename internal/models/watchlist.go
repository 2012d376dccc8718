// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package models

import (
	"fmt"
	"time"
)

// ContentType distinguishes movies from shows. It decides which downstream
// manager flavor (Radarr-like vs Sonarr-like) an item routes to.
type ContentType string

const (
	ContentTypeMovie ContentType = "movie"
	ContentTypeShow  ContentType = "show"
)

// TargetType returns the downstream manager flavor for the content type.
func (c ContentType) TargetType() TargetType {
	if c == ContentTypeShow {
		return TargetSonarr
	}
	return TargetRadarr
}

// WatchlistStatus is the acquisition lifecycle of a watchlist item. Status
// only advances along pending -> requested -> grabbed -> notified; downgrades
// from notified are forbidden except via an explicit reset.
type WatchlistStatus string

const (
	StatusPending   WatchlistStatus = "pending"
	StatusRequested WatchlistStatus = "requested"
	StatusGrabbed   WatchlistStatus = "grabbed"
	StatusNotified  WatchlistStatus = "notified"
)

var statusRank = map[WatchlistStatus]int{
	StatusPending:   0,
	StatusRequested: 1,
	StatusGrabbed:   2,
	StatusNotified:  3,
}

// Rank returns the position of the status in the lifecycle DAG, or -1 for an
// unknown status.
func (s WatchlistStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s WatchlistStatus) CanAdvanceTo(next WatchlistStatus) bool {
	sr, nr := s.Rank(), next.Rank()
	return sr >= 0 && nr >= 0 && nr > sr
}

// SeriesStatus mirrors Sonarr's notion of whether a show is still airing.
type SeriesStatus string

const (
	SeriesContinuing SeriesStatus = "continuing"
	SeriesEnded      SeriesStatus = "ended"
)

// MovieStatus mirrors Radarr availability. Any other value reported by a
// downstream manager is rejected by the reconciler.
type MovieStatus string

const (
	MovieAvailable   MovieStatus = "available"
	MovieUnavailable MovieStatus = "unavailable"
)

// ValidMovieStatus reports whether a downstream-reported movie status is one
// the reconciler accepts.
func ValidMovieStatus(s MovieStatus) bool {
	return s == MovieAvailable || s == MovieUnavailable
}

// WatchlistItem is a user-intent record that a piece of content should be
// acquired. (UserID, Key) is unique.
type WatchlistItem struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"user_id"`
	Key              string          `json:"key"`
	Title            string          `json:"title"`
	Type             ContentType     `json:"type"`
	Thumb            string          `json:"thumb,omitempty"`
	Added            *time.Time      `json:"added,omitempty"`
	GUIDs            []GUID          `json:"guids"`
	Genres           []string        `json:"genres"`
	Status           WatchlistStatus `json:"status"`
	SeriesStatus     SeriesStatus    `json:"series_status,omitempty"`
	MovieStatus      MovieStatus     `json:"movie_status,omitempty"`
	SonarrInstanceID *int64          `json:"sonarr_instance_id,omitempty"`
	RadarrInstanceID *int64          `json:"radarr_instance_id,omitempty"`
	LastNotifiedAt   *time.Time      `json:"last_notified_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// StatusHistoryEntry is an append-only record of a status observation. The
// reconciler backfills these when downstream reports a state the live status
// can no longer move to (e.g. grabbed seen after notified).
type StatusHistoryEntry struct {
	ID              int64           `json:"id"`
	WatchlistItemID int64           `json:"watchlist_item_id"`
	Status          WatchlistStatus `json:"status"`
	ObservedAt      time.Time       `json:"observed_at"`
}

// WatchlistUpdate is the minimal change set the reconciler emits for one
// item. Nil fields are untouched; only fields beyond the (UserID, Key)
// identity ever appear here.
type WatchlistUpdate struct {
	UserID int64
	Key    string

	Added            *time.Time
	Status           *WatchlistStatus
	SeriesStatus     *SeriesStatus
	MovieStatus      *MovieStatus
	SonarrInstanceID *int64
	RadarrInstanceID *int64
	LastNotifiedAt   *time.Time
}

// IsEmpty reports whether the update carries no changes beyond identity.
func (u *WatchlistUpdate) IsEmpty() bool {
	return u.Added == nil && u.Status == nil && u.SeriesStatus == nil &&
		u.MovieStatus == nil && u.SonarrInstanceID == nil &&
		u.RadarrInstanceID == nil && u.LastNotifiedAt == nil
}

func (u *WatchlistUpdate) String() string {
	return fmt.Sprintf("update(user=%d key=%s)", u.UserID, u.Key)
}
