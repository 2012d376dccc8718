// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package database

import (
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicatePending is returned when creating an approval request
	// for a (user, content_key) that already has a pending one.
	ErrDuplicatePending = errors.New("pending approval already exists")

	// ErrTerminalStatus is returned when mutating an approval request
	// already in a terminal status.
	ErrTerminalStatus = errors.New("approval request is terminal")

	// ErrStatusRegression is returned when a watchlist status update would
	// move backwards without an explicit reset.
	ErrStatusRegression = errors.New("watchlist status cannot regress")

	// ErrUnknownColumn is returned when a rule update names a column
	// outside the whitelist.
	ErrUnknownColumn = errors.New("unknown updatable column")

	// ErrSystemUser is returned on attempts to delete the system user.
	ErrSystemUser = errors.New("system user cannot be deleted")
)

// closeQuietly closes a resource and explicitly ignores any error.
// Cleanup in error paths is best-effort.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
