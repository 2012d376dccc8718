// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package models

import "strings"

// GUID is a source-prefixed content identifier of the form "source:value",
// e.g. "tmdb:12345", "tvdb:9999", "imdb:tt0000001". GUIDs are stored and
// compared lowercase.
type GUID string

// NormalizeGUID lowercases a raw identifier and strips Plex agent URL
// decoration ("com.plexapp.agents.imdb://tt123?lang=en" becomes "imdb:tt123").
func NormalizeGUID(raw string) GUID {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	// Plex agent form: com.plexapp.agents.<source>://<value>?<params>
	if strings.HasPrefix(s, "com.plexapp.agents.") {
		s = strings.TrimPrefix(s, "com.plexapp.agents.")
		if i := strings.Index(s, "?"); i >= 0 {
			s = s[:i]
		}
		s = strings.Replace(s, "://", ":", 1)
		return GUID(s)
	}

	// Discover form: <source>://<value>
	s = strings.Replace(s, "://", ":", 1)
	return GUID(s)
}

// NormalizeGUIDs normalizes a raw identifier list, dropping empties and
// duplicates while preserving order.
func NormalizeGUIDs(raw []string) []GUID {
	seen := make(map[GUID]bool, len(raw))
	out := make([]GUID, 0, len(raw))
	for _, r := range raw {
		g := NormalizeGUID(r)
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}

// Source returns the prefix before the first colon, or "" when absent.
func (g GUID) Source() string {
	if i := strings.Index(string(g), ":"); i >= 0 {
		return string(g)[:i]
	}
	return ""
}

// Value returns the part after the first colon, or the whole GUID when no
// prefix is present.
func (g GUID) Value() string {
	if i := strings.Index(string(g), ":"); i >= 0 {
		return string(g)[i+1:]
	}
	return string(g)
}

// GUIDsIntersect reports whether the two sets share at least one GUID.
// Matching is set-intersection on exact (lowercase) equality.
func GUIDsIntersect(a, b []GUID) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[GUID]bool, len(a))
	for _, g := range a {
		set[g] = true
	}
	for _, g := range b {
		if set[g] {
			return true
		}
	}
	return false
}
