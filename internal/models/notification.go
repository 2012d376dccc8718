// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package models

import "time"

// NotificationType names what a notification announces.
type NotificationType string

const (
	NotifyMovie        NotificationType = "movie"
	NotifyEpisode      NotificationType = "episode"
	NotifySeason       NotificationType = "season"
	NotifyWatchlistAdd NotificationType = "watchlist_add"
)

// NotificationStatus tracks a notification record's lifecycle. Active records
// suppress duplicates; synced records mark events fulfilled through another
// user's acquisition.
type NotificationStatus string

const (
	NotificationActive NotificationStatus = "active"
	NotificationSynced NotificationStatus = "synced"
)

// NotificationRecord is one dispatched (or suppressed) notification. The
// primary de-dup key is (UserID, Type, Title, Season, Episode); nil season or
// episode is distinct from 0.
type NotificationRecord struct {
	ID              int64              `json:"id"`
	WatchlistItemID *int64             `json:"watchlist_item_id,omitempty"`
	UserID          *int64             `json:"user_id,omitempty"`
	Type            NotificationType   `json:"type"`
	Title           string             `json:"title"`
	Season          *int               `json:"season,omitempty"`
	Episode         *int               `json:"episode,omitempty"`
	SentToChat      bool               `json:"sent_to_chat"`
	SentToEmail     bool               `json:"sent_to_email"`
	SentToWebhook   bool               `json:"sent_to_webhook"`
	SentToPush      bool               `json:"sent_to_push"`
	Status          NotificationStatus `json:"notification_status"`
	CreatedAt       time.Time          `json:"created_at"`
}

// LabelTracking records one library label the system applied, keyed uniquely
// by (WatchlistID, PlexRatingKey, Label). Only tracked labels are ever
// removed during sync.
type LabelTracking struct {
	ID            int64     `json:"id"`
	WatchlistID   int64     `json:"watchlist_id"`
	PlexRatingKey string    `json:"plex_rating_key"`
	Label         string    `json:"label_applied"`
	CreatedAt     time.Time `json:"created_at"`
}
