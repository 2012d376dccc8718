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
	"strings"

	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/models"
)

// Season is one season's monitoring state within a series.
type Season struct {
	SeasonNumber int               `json:"seasonNumber"`
	Monitored    bool              `json:"monitored"`
	Statistics   *SeasonStatistics `json:"statistics,omitempty"`
}

// SeasonStatistics carries the episode counts Sonarr reports per season.
type SeasonStatistics struct {
	EpisodeCount      int `json:"episodeCount"`
	TotalEpisodeCount int `json:"totalEpisodeCount"`
}

// Series is a Sonarr-like series record. Only the fields Relayarr reads or
// writes are mapped; the full upstream document is not round-tripped.
type Series struct {
	ID               int64    `json:"id,omitempty"`
	Title            string   `json:"title"`
	TitleSlug        string   `json:"titleSlug,omitempty"`
	TvdbID           int64    `json:"tvdbId,omitempty"`
	ImdbID           string   `json:"imdbId,omitempty"`
	TmdbID           int64    `json:"tmdbId,omitempty"`
	Status           string   `json:"status,omitempty"`
	Ended            bool     `json:"ended,omitempty"`
	Monitored        bool     `json:"monitored"`
	SeasonFolder     bool     `json:"seasonFolder"`
	SeriesType       string   `json:"seriesType,omitempty"`
	QualityProfileID int      `json:"qualityProfileId,omitempty"`
	RootFolderPath   string   `json:"rootFolderPath,omitempty"`
	Tags             []int    `json:"tags,omitempty"`
	Seasons          []Season `json:"seasons,omitempty"`

	AddOptions *seriesAddOptions `json:"addOptions,omitempty"`
}

type seriesAddOptions struct {
	Monitor                   string `json:"monitor,omitempty"`
	SearchForMissingEpisodes  bool   `json:"searchForMissingEpisodes"`
	SearchForCutoffUnmetItems bool   `json:"searchForCutoffUnmetEpisodes"`
}

// GUIDs returns the series' external ids in normalized form, for
// intersection matching against watchlist items.
func (s *Series) GUIDs() []models.GUID {
	raw := make([]string, 0, 3)
	if s.TvdbID > 0 {
		raw = append(raw, fmt.Sprintf("tvdb:%d", s.TvdbID))
	}
	if s.TmdbID > 0 {
		raw = append(raw, fmt.Sprintf("tmdb:%d", s.TmdbID))
	}
	if s.ImdbID != "" {
		raw = append(raw, "imdb:"+s.ImdbID)
	}
	return models.NormalizeGUIDs(raw)
}

// GetAllSeries fetches every series the instance manages.
func (c *Client) GetAllSeries(ctx context.Context) ([]Series, error) {
	var series []Series
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/series"),
		Header: c.header(),
	}, &series)
	if err != nil {
		return nil, fmt.Errorf("fetch series: %w", err)
	}
	return series, nil
}

// LookupSeriesByTvdbID resolves a tvdb id to a full series document ready
// for adding. Returns nil when the id is unknown upstream.
func (c *Client) LookupSeriesByTvdbID(ctx context.Context, tvdbID int64) (*Series, error) {
	query := url.Values{}
	query.Set("term", "tvdb:"+strconv.FormatInt(tvdbID, 10))

	var results []Series
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/series/lookup"),
		Query:  query,
		Header: c.header(),
	}, &results)
	if err != nil {
		return nil, fmt.Errorf("lookup series tvdb:%d: %w", tvdbID, err)
	}
	for i := range results {
		if results[i].TvdbID == tvdbID {
			return &results[i], nil
		}
	}
	return nil, nil
}

// AddSeriesOptions are the per-add overrides; zero values fall back to the
// instance defaults resolved by the caller.
type AddSeriesOptions struct {
	RootFolder       string
	QualityProfileID int
	Tags             []int
	SearchOnAdd      bool
	Monitoring       models.SeasonMonitoring
	SeriesType       string
}

// AddSeries adds a looked-up series. Rolling monitoring options are
// translated to their concrete form before submission; the caller records
// the rolling state separately.
func (c *Client) AddSeries(ctx context.Context, lookup *Series, opts AddSeriesOptions) (*Series, error) {
	monitor := opts.Monitoring.Concrete()
	if monitor == "" {
		monitor = models.MonitorAll
	}

	payload := *lookup
	payload.ID = 0
	payload.Monitored = true
	payload.SeasonFolder = true
	payload.RootFolderPath = opts.RootFolder
	payload.QualityProfileID = opts.QualityProfileID
	payload.Tags = opts.Tags
	if opts.SeriesType != "" {
		payload.SeriesType = opts.SeriesType
	}
	payload.AddOptions = &seriesAddOptions{
		Monitor:                  string(monitor),
		SearchForMissingEpisodes: opts.SearchOnAdd,
	}

	var added Series
	err := c.http.PostJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/series"),
		Header: c.header(),
	}, payload, &added)
	if err != nil {
		return nil, fmt.Errorf("add series %q: %w", lookup.Title, err)
	}
	c.logger.Info().Str("title", added.Title).Int64("series_id", added.ID).
		Str("monitor", string(monitor)).Msg("Series added")
	return &added, nil
}

// UpdateSeries writes back a modified series document. The reconciler uses
// this to expand rolling-monitored seasons.
func (c *Client) UpdateSeries(ctx context.Context, series *Series) error {
	err := c.http.PutJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL(fmt.Sprintf("/series/%d", series.ID)),
		Header: c.header(),
	}, series, series)
	if err != nil {
		return fmt.Errorf("update series %d: %w", series.ID, err)
	}
	return nil
}

// GetSeriesByID fetches one series document.
func (c *Client) GetSeriesByID(ctx context.Context, id int64) (*Series, error) {
	var series Series
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL(fmt.Sprintf("/series/%d", id)),
		Header: c.header(),
	}, &series)
	if err != nil {
		return nil, fmt.Errorf("fetch series %d: %w", id, err)
	}
	return &series, nil
}

// SearchSeason queues a search command for one season.
func (c *Client) SearchSeason(ctx context.Context, seriesID int64, season int) error {
	cmd := map[string]interface{}{
		"name":         "SeasonSearch",
		"seriesId":     seriesID,
		"seasonNumber": season,
	}
	err := c.http.PostJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/command"),
		Header: c.header(),
	}, cmd, nil)
	if err != nil {
		return fmt.Errorf("queue season search: %w", err)
	}
	return nil
}

// QualityProfile is a downstream quality profile.
type QualityProfile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// GetQualityProfiles fetches the instance's quality profiles.
func (c *Client) GetQualityProfiles(ctx context.Context) ([]QualityProfile, error) {
	var profiles []QualityProfile
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/qualityprofile"),
		Header: c.header(),
	}, &profiles)
	if err != nil {
		return nil, fmt.Errorf("fetch quality profiles: %w", err)
	}
	return profiles, nil
}

// ResolveQualityProfile maps a profile name (or numeric id string) to an id.
// Name matching is case-insensitive. An empty name selects the first profile.
func (c *Client) ResolveQualityProfile(ctx context.Context, name string) (int, error) {
	if id, err := strconv.Atoi(name); err == nil && id > 0 {
		return id, nil
	}
	profiles, err := c.GetQualityProfiles(ctx)
	if err != nil {
		return 0, err
	}
	if len(profiles) == 0 {
		return 0, fmt.Errorf("instance %s-%d has no quality profiles", c.kind, c.instanceID)
	}
	if name == "" {
		return profiles[0].ID, nil
	}
	for _, p := range profiles {
		if strings.EqualFold(p.Name, name) {
			return p.ID, nil
		}
	}
	return 0, fmt.Errorf("quality profile %q not found on %s-%d", name, c.kind, c.instanceID)
}

// RootFolder is a configured storage root.
type RootFolder struct {
	ID   int    `json:"id"`
	Path string `json:"path"`
}

// GetRootFolders fetches the instance's root folders.
func (c *Client) GetRootFolders(ctx context.Context) ([]RootFolder, error) {
	var folders []RootFolder
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/rootfolder"),
		Header: c.header(),
	}, &folders)
	if err != nil {
		return nil, fmt.Errorf("fetch root folders: %w", err)
	}
	return folders, nil
}

// ResolveRootFolder returns the configured path, or the first root folder
// when none is configured.
func (c *Client) ResolveRootFolder(ctx context.Context, path string) (string, error) {
	if path != "" {
		return path, nil
	}
	folders, err := c.GetRootFolders(ctx)
	if err != nil {
		return "", err
	}
	if len(folders) == 0 {
		return "", fmt.Errorf("instance %s-%d has no root folders", c.kind, c.instanceID)
	}
	return folders[0].Path, nil
}
