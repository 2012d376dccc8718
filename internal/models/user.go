// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package models

import "time"

// SystemUserID is the id of the undeletable "System" user created on first
// start. Items and requests originated by Relayarr itself belong to it.
const SystemUserID = 0

// NotifyFlags controls which notification channels a user receives.
type NotifyFlags struct {
	Email bool `json:"email"`
	Chat  bool `json:"chat"`
	Push  bool `json:"push"`
}

// User is a watchlist owner: either the primary-token holder or a friend who
// shares their watchlist. Friends are created when they first appear and only
// deleted by the token owner.
type User struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	PlexUUID         string      `json:"plex_uuid,omitempty"`
	Alias            string      `json:"alias,omitempty"`
	Email            string      `json:"email,omitempty"`
	ChatID           string      `json:"chat_id,omitempty"`
	Notify           NotifyFlags `json:"notify_flags"`
	CanSync          bool        `json:"can_sync"`
	IsPrimaryToken   bool        `json:"is_primary_token"`
	RequiresApproval bool        `json:"requires_approval"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// DisplayName prefers the alias over the account name.
func (u *User) DisplayName() string {
	if u.Alias != "" {
		return u.Alias
	}
	return u.Name
}
