// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package arr

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/models"
)

// Movie is a Radarr-like movie record.
type Movie struct {
	ID                  int64  `json:"id,omitempty"`
	Title               string `json:"title"`
	TitleSlug           string `json:"titleSlug,omitempty"`
	TmdbID              int64  `json:"tmdbId,omitempty"`
	ImdbID              string `json:"imdbId,omitempty"`
	Year                int    `json:"year,omitempty"`
	Status              string `json:"status,omitempty"`
	HasFile             bool   `json:"hasFile,omitempty"`
	IsAvailable         bool   `json:"isAvailable,omitempty"`
	Monitored           bool   `json:"monitored"`
	MinimumAvailability string `json:"minimumAvailability,omitempty"`
	QualityProfileID    int    `json:"qualityProfileId,omitempty"`
	RootFolderPath      string `json:"rootFolderPath,omitempty"`
	Tags                []int  `json:"tags,omitempty"`

	AddOptions *movieAddOptions `json:"addOptions,omitempty"`
}

type movieAddOptions struct {
	Monitor        string `json:"monitor,omitempty"`
	SearchForMovie bool   `json:"searchForMovie"`
}

// GUIDs returns the movie's external ids in normalized form.
func (m *Movie) GUIDs() []models.GUID {
	raw := make([]string, 0, 2)
	if m.TmdbID > 0 {
		raw = append(raw, fmt.Sprintf("tmdb:%d", m.TmdbID))
	}
	if m.ImdbID != "" {
		raw = append(raw, "imdb:"+m.ImdbID)
	}
	return models.NormalizeGUIDs(raw)
}

// GetAllMovies fetches every movie the instance manages.
func (c *Client) GetAllMovies(ctx context.Context) ([]Movie, error) {
	var movies []Movie
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/movie"),
		Header: c.header(),
	}, &movies)
	if err != nil {
		return nil, fmt.Errorf("fetch movies: %w", err)
	}
	return movies, nil
}

// LookupMovieByTmdbID resolves a tmdb id to a full movie document ready for
// adding. Returns nil when the id is unknown upstream.
func (c *Client) LookupMovieByTmdbID(ctx context.Context, tmdbID int64) (*Movie, error) {
	query := url.Values{}
	query.Set("tmdbId", strconv.FormatInt(tmdbID, 10))

	var result Movie
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/movie/lookup/tmdb"),
		Query:  query,
		Header: c.header(),
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("lookup movie tmdb:%d: %w", tmdbID, err)
	}
	if result.TmdbID != tmdbID {
		return nil, nil
	}
	return &result, nil
}

// AddMovieOptions are the per-add overrides.
type AddMovieOptions struct {
	RootFolder          string
	QualityProfileID    int
	Tags                []int
	SearchOnAdd         bool
	Monitor             string
	MinimumAvailability string
}

// AddMovie adds a looked-up movie.
func (c *Client) AddMovie(ctx context.Context, lookup *Movie, opts AddMovieOptions) (*Movie, error) {
	monitor := opts.Monitor
	if monitor == "" {
		monitor = "movieOnly"
	}
	availability := opts.MinimumAvailability
	if availability == "" {
		availability = "released"
	}

	payload := *lookup
	payload.ID = 0
	payload.Monitored = true
	payload.RootFolderPath = opts.RootFolder
	payload.QualityProfileID = opts.QualityProfileID
	payload.Tags = opts.Tags
	payload.MinimumAvailability = availability
	payload.AddOptions = &movieAddOptions{
		Monitor:        monitor,
		SearchForMovie: opts.SearchOnAdd,
	}

	var added Movie
	err := c.http.PostJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/movie"),
		Header: c.header(),
	}, payload, &added)
	if err != nil {
		return nil, fmt.Errorf("add movie %q: %w", lookup.Title, err)
	}
	c.logger.Info().Str("title", added.Title).Int64("movie_id", added.ID).
		Str("availability", availability).Msg("Movie added")
	return &added, nil
}
