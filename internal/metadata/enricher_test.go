// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package metadata

import (
	"context"
	"testing"

	"github.com/relayarr/relayarr/internal/models"
)

func TestTmdbID(t *testing.T) {
	tests := []struct {
		name  string
		guids []models.GUID
		want  int64
	}{
		{"present", []models.GUID{"imdb:tt1", "tmdb:42"}, 42},
		{"absent", []models.GUID{"imdb:tt1", "tvdb:9"}, 0},
		{"malformed value", []models.GUID{"tmdb:abc"}, 0},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TmdbID(tt.guids); got != tt.want {
				t.Errorf("TmdbID(%v) = %d, want %d", tt.guids, got, tt.want)
			}
		})
	}
}

func TestResolveWithoutTmdb(t *testing.T) {
	e := New(nil, nil)
	item := &models.WatchlistItem{
		Key:    "k",
		Type:   models.ContentTypeMovie,
		Genres: []string{"Drama"},
		GUIDs:  []models.GUID{"tmdb:42"},
	}
	facts := e.Resolve(context.Background(), item)
	if len(facts.Genres) != 1 || facts.Genres[0] != "Drama" {
		t.Errorf("genres = %v", facts.Genres)
	}
	if facts.Language != nil || facts.Year != nil || facts.Certification != nil {
		t.Error("tmdb-derived facts should stay unset when tmdb is disabled")
	}
	if facts.ProvidersKnown {
		t.Error("providers should be unknown when tmdb is disabled")
	}
}
