// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package tmdb enriches watchlist items with the metadata the routing
// evaluators need: certification, streaming providers, original language,
// rating, year, and season count. Responses are cached in a local Badger
// store with a TTL so repeated ingest runs stay cheap.
package tmdb

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/models"
)

// Family is the rate-governor bucket for TMDB calls.
const Family = "tmdb"

// apiBase is a variable so tests can point it at a local server.
var apiBase = "https://api.themoviedb.org/3"

// Config configures the client.
type Config struct {
	APIKey string
	// Region is the ISO 3166-1 country used for certifications and
	// providers, e.g. "US".
	Region string
	// CachePath is the Badger directory; empty runs the cache in memory.
	CachePath string
	// CacheTTL bounds how long a cached response is served.
	CacheTTL time.Duration
}

// Client is the cached TMDB client.
type Client struct {
	cfg    Config
	http   *httpclient.Client
	cache  *badger.DB
	logger zerolog.Logger
}

// New opens the cache and builds the client.
func New(cfg Config, hc *httpclient.Client) (*Client, error) {
	if cfg.Region == "" {
		cfg.Region = "US"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}

	opts := badger.DefaultOptions(cfg.CachePath).WithLogger(nil)
	if cfg.CachePath == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open tmdb cache: %w", err)
	}

	return &Client{
		cfg:    cfg,
		http:   hc,
		cache:  db,
		logger: logging.Component("tmdb"),
	}, nil
}

// Close releases the cache.
func (c *Client) Close() error {
	return c.cache.Close()
}

// get fetches path (with params) through the cache. The cache key is the
// full request path including query, minus credentials.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	cacheKey := []byte("tmdb:" + path + "?" + params.Encode())

	var cached []byte
	err := c.cache.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey)
		if err != nil {
			return err
		}
		cached, err = item.ValueCopy(nil)
		return err
	})
	if err == nil {
		return json.Unmarshal(cached, out)
	}

	query := url.Values{}
	for k, vs := range params {
		query[k] = vs
	}
	query.Set("api_key", c.cfg.APIKey)

	resp, err := c.http.Do(ctx, httpclient.Request{
		Family: Family,
		Method: "GET",
		URL:    apiBase + path,
		Query:  query,
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var buf []byte
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode tmdb response: %w", err)
	}
	buf, err = json.Marshal(out)
	if err != nil {
		return fmt.Errorf("re-encode for cache: %w", err)
	}

	err = c.cache.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(cacheKey, buf).WithTTL(c.cfg.CacheTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		// A cache write failure degrades to uncached operation.
		c.logger.Warn().Err(err).Str("path", path).Msg("Cache write failed")
	}
	return nil
}

// Details is the evaluator-facing metadata slice for one item.
type Details struct {
	TmdbID           int64
	OriginalLanguage string
	Year             int
	Rating           float64
	SeasonCount      int
}

type movieDetails struct {
	ID               int64   `json:"id"`
	OriginalLanguage string  `json:"original_language"`
	ReleaseDate      string  `json:"release_date"`
	VoteAverage      float64 `json:"vote_average"`
}

type showDetails struct {
	ID               int64   `json:"id"`
	OriginalLanguage string  `json:"original_language"`
	FirstAirDate     string  `json:"first_air_date"`
	VoteAverage      float64 `json:"vote_average"`
	NumberOfSeasons  int     `json:"number_of_seasons"`
}

// GetDetails fetches the core metadata for one movie or show.
func (c *Client) GetDetails(ctx context.Context, ct models.ContentType, tmdbID int64) (*Details, error) {
	switch ct {
	case models.ContentTypeMovie:
		var md movieDetails
		if err := c.get(ctx, "/movie/"+strconv.FormatInt(tmdbID, 10), url.Values{}, &md); err != nil {
			return nil, fmt.Errorf("fetch movie %d: %w", tmdbID, err)
		}
		return &Details{
			TmdbID:           md.ID,
			OriginalLanguage: md.OriginalLanguage,
			Year:             yearOf(md.ReleaseDate),
			Rating:           md.VoteAverage,
		}, nil
	case models.ContentTypeShow:
		var sd showDetails
		if err := c.get(ctx, "/tv/"+strconv.FormatInt(tmdbID, 10), url.Values{}, &sd); err != nil {
			return nil, fmt.Errorf("fetch show %d: %w", tmdbID, err)
		}
		return &Details{
			TmdbID:           sd.ID,
			OriginalLanguage: sd.OriginalLanguage,
			Year:             yearOf(sd.FirstAirDate),
			Rating:           sd.VoteAverage,
			SeasonCount:      sd.NumberOfSeasons,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported content type %q", ct)
	}
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

type releaseDatesResponse struct {
	Results []struct {
		ISO31661     string `json:"iso_3166_1"`
		ReleaseDates []struct {
			Certification string `json:"certification"`
		} `json:"release_dates"`
	} `json:"results"`
}

type contentRatingsResponse struct {
	Results []struct {
		ISO31661 string `json:"iso_3166_1"`
		Rating   string `json:"rating"`
	} `json:"results"`
}

// GetCertification returns the region's certification ("PG-13", "TV-MA"),
// or "" when the region carries none.
func (c *Client) GetCertification(ctx context.Context, ct models.ContentType, tmdbID int64) (string, error) {
	id := strconv.FormatInt(tmdbID, 10)
	switch ct {
	case models.ContentTypeMovie:
		var resp releaseDatesResponse
		if err := c.get(ctx, "/movie/"+id+"/release_dates", url.Values{}, &resp); err != nil {
			return "", fmt.Errorf("fetch certifications for movie %d: %w", tmdbID, err)
		}
		for _, r := range resp.Results {
			if !strings.EqualFold(r.ISO31661, c.cfg.Region) {
				continue
			}
			for _, rd := range r.ReleaseDates {
				if rd.Certification != "" {
					return rd.Certification, nil
				}
			}
		}
		return "", nil
	case models.ContentTypeShow:
		var resp contentRatingsResponse
		if err := c.get(ctx, "/tv/"+id+"/content_ratings", url.Values{}, &resp); err != nil {
			return "", fmt.Errorf("fetch ratings for show %d: %w", tmdbID, err)
		}
		for _, r := range resp.Results {
			if strings.EqualFold(r.ISO31661, c.cfg.Region) {
				return r.Rating, nil
			}
		}
		return "", nil
	default:
		return "", fmt.Errorf("unsupported content type %q", ct)
	}
}

type watchProvidersResponse struct {
	Results map[string]struct {
		Flatrate []struct {
			ProviderName string `json:"provider_name"`
		} `json:"flatrate"`
	} `json:"results"`
}

// GetStreamingProviders returns the region's flat-rate streaming provider
// names for one item. An item with no providers returns an empty slice.
func (c *Client) GetStreamingProviders(ctx context.Context, ct models.ContentType, tmdbID int64) ([]string, error) {
	id := strconv.FormatInt(tmdbID, 10)
	var path string
	switch ct {
	case models.ContentTypeMovie:
		path = "/movie/" + id + "/watch/providers"
	case models.ContentTypeShow:
		path = "/tv/" + id + "/watch/providers"
	default:
		return nil, fmt.Errorf("unsupported content type %q", ct)
	}

	var resp watchProvidersResponse
	if err := c.get(ctx, path, url.Values{}, &resp); err != nil {
		return nil, fmt.Errorf("fetch providers for %s %d: %w", ct, tmdbID, err)
	}

	region, ok := resp.Results[strings.ToUpper(c.cfg.Region)]
	if !ok {
		return nil, nil
	}
	providers := make([]string, 0, len(region.Flatrate))
	for _, p := range region.Flatrate {
		if p.ProviderName != "" {
			providers = append(providers, p.ProviderName)
		}
	}
	return providers, nil
}
