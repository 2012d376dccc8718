// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package models

import "time"

// ApprovalStatus is the request state machine: pending is the only
// non-terminal state; approved, rejected and expired are immutable.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// IsTerminal reports whether the status permits no further transitions.
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalExpired
}

// ApprovalRequest snapshots a routing decision awaiting operator action.
// At most one pending request exists per (UserID, ContentKey).
type ApprovalRequest struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	ContentType   ContentType     `json:"content_type"`
	ContentTitle  string          `json:"content_title"`
	ContentKey    string          `json:"content_key"`
	ContentGUIDs  []GUID          `json:"content_guids"`
	Proposed      *RoutingSpec    `json:"proposed_router_decision,omitempty"`
	TriggeredBy   ApprovalTrigger `json:"triggered_by"`
	Reason        string          `json:"approval_reason,omitempty"`
	Status        ApprovalStatus  `json:"status"`
	ApprovedBy    *int64          `json:"approved_by,omitempty"`
	ApprovalNotes string          `json:"approval_notes,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NoteContentAlreadyAvailable is recorded on requests auto-approved by
// cross-user fulfillment.
const NoteContentAlreadyAvailable = "content already available"
