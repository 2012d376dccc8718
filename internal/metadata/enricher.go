// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package metadata assembles the per-item facts the routing evaluators
// consume. Assembly is best-effort: a failed sub-fetch leaves its fields
// unset and the rest of the facts intact, so one upstream outage degrades
// routing precision instead of blocking ingest.
package metadata

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/plex"
	"github.com/relayarr/relayarr/internal/tmdb"
)

// Facts is the evaluator-facing view of one item. Nil scalar fields mean
// the fact could not be determined; evaluators treat an unknown fact as a
// non-match.
type Facts struct {
	Genres        []string
	Language      *string
	Year          *int
	Rating        *float64
	SeasonCount   *int
	Certification *string
	Providers     []string
	// ProvidersKnown separates "no providers" from "providers unknown".
	ProvidersKnown bool
}

// Enricher resolves item facts from Plex and, when enabled, TMDB.
type Enricher struct {
	plex   *plex.Client
	tmdb   *tmdb.Client // nil when TMDB is disabled
	logger zerolog.Logger
}

// New builds an enricher. tc may be nil; TMDB-derived facts then stay unset.
func New(pc *plex.Client, tc *tmdb.Client) *Enricher {
	return &Enricher{
		plex:   pc,
		tmdb:   tc,
		logger: logging.Component("metadata"),
	}
}

// FillDetails completes a sparse watchlist entry (no GUIDs) from the Plex
// metadata provider. Entries that already carry GUIDs pass through
// unchanged, so repeated runs do not refetch.
func (e *Enricher) FillDetails(ctx context.Context, item *plex.WatchlistItem) error {
	if len(item.GUIDs) > 0 {
		return nil
	}
	full, err := e.plex.GetItemDetails(ctx, item.RatingKey)
	if err != nil {
		return err
	}
	item.GUIDs = full.GUIDs
	if len(item.Genres) == 0 {
		item.Genres = full.Genres
	}
	if item.Thumb == "" {
		item.Thumb = full.Thumb
	}
	if item.AddedAt == nil {
		item.AddedAt = full.AddedAt
	}
	return nil
}

// TmdbID extracts the numeric TMDB id from a normalized GUID set, or 0.
func TmdbID(guids []models.GUID) int64 {
	for _, g := range guids {
		if g.Source() != "tmdb" {
			continue
		}
		id, err := strconv.ParseInt(g.Value(), 10, 64)
		if err == nil && id > 0 {
			return id
		}
	}
	return 0
}

// Resolve assembles the facts for one stored item. Every sub-fetch failure
// is logged and skipped; the returned facts carry whatever was resolvable.
func (e *Enricher) Resolve(ctx context.Context, item *models.WatchlistItem) *Facts {
	facts := &Facts{Genres: item.Genres}

	if e.tmdb == nil {
		return facts
	}
	tmdbID := TmdbID(item.GUIDs)
	if tmdbID == 0 {
		e.logger.Debug().Str("key", item.Key).Msg("No tmdb id; skipping enrichment")
		return facts
	}

	if d, err := e.tmdb.GetDetails(ctx, item.Type, tmdbID); err != nil {
		e.logger.Warn().Err(err).Str("key", item.Key).Msg("Details fetch failed")
	} else {
		facts.Language = &d.OriginalLanguage
		facts.Rating = &d.Rating
		if d.Year > 0 {
			facts.Year = &d.Year
		}
		if item.Type == models.ContentTypeShow {
			facts.SeasonCount = &d.SeasonCount
		}
	}

	if cert, err := e.tmdb.GetCertification(ctx, item.Type, tmdbID); err != nil {
		e.logger.Warn().Err(err).Str("key", item.Key).Msg("Certification fetch failed")
	} else {
		facts.Certification = &cert
	}

	if providers, err := e.tmdb.GetStreamingProviders(ctx, item.Type, tmdbID); err != nil {
		e.logger.Warn().Err(err).Str("key", item.Key).Msg("Provider fetch failed")
	} else {
		facts.Providers = providers
		facts.ProvidersKnown = true
	}

	return facts
}
