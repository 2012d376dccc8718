// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package plex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/models"
)

// WatchlistItem is one entry from any watchlist source, already normalized.
type WatchlistItem struct {
	Key       string
	RatingKey string
	Title     string
	Type      models.ContentType
	Thumb     string
	AddedAt   *time.Time
	GUIDs     []models.GUID
	Genres    []string
}

// mediaContainer is the discover API envelope.
type mediaContainer struct {
	MediaContainer struct {
		Size      int        `json:"size"`
		TotalSize int        `json:"totalSize"`
		Metadata  []metadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

type metadata struct {
	Key       string `json:"key"`
	RatingKey string `json:"ratingKey"`
	GUID      string `json:"guid"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Thumb     string `json:"thumb,omitempty"`
	AddedAt   int64  `json:"addedAt,omitempty"`
	GUIDs     []struct {
		ID string `json:"id"`
	} `json:"Guid,omitempty"`
	Genres []struct {
		Tag string `json:"tag"`
	} `json:"Genre,omitempty"`
}

// GetSelfWatchlist fetches the primary account's full watchlist, page by
// page, deduplicated by key across pages.
func (c *Client) GetSelfWatchlist(ctx context.Context) ([]WatchlistItem, error) {
	var items []WatchlistItem
	seen := make(map[string]bool)

	for start := 0; ; start += c.cfg.PageSize {
		query := url.Values{}
		query.Set("X-Plex-Container-Start", strconv.Itoa(start))
		query.Set("X-Plex-Container-Size", strconv.Itoa(c.cfg.PageSize))
		query.Set("includeFields", "title,type,addedAt,thumb,ratingKey,key")
		query.Set("includeElements", "Guid,Genre")

		var page mediaContainer
		err := c.http.GetJSON(ctx, httpclient.Request{
			Family: FamilyDiscover,
			URL:    discoverBase + "/library/sections/watchlist/all",
			Query:  query,
			Header: headers(c.cfg.Token),
		}, &page)
		if err != nil {
			return nil, fmt.Errorf("fetch self watchlist page %d: %w", start/c.cfg.PageSize, err)
		}

		for _, md := range page.MediaContainer.Metadata {
			item, ok := fromMetadata(md)
			if !ok || seen[item.Key] {
				continue
			}
			seen[item.Key] = true
			items = append(items, item)
		}

		if start+page.MediaContainer.Size >= page.MediaContainer.TotalSize ||
			page.MediaContainer.Size == 0 {
			break
		}
	}
	return items, nil
}

// GetItemDetails fetches one watchlist entry's full metadata (all GUIDs and
// genres) from the metadata provider. Used when a list endpoint returned a
// sparse entry.
func (c *Client) GetItemDetails(ctx context.Context, ratingKey string) (*WatchlistItem, error) {
	var out mediaContainer
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: FamilyDiscover,
		URL:    metadataBase + "/library/metadata/" + url.PathEscape(ratingKey),
		Header: headers(c.cfg.Token),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("fetch item details %s: %w", ratingKey, err)
	}
	if len(out.MediaContainer.Metadata) == 0 {
		return nil, fmt.Errorf("item %s not found", ratingKey)
	}
	item, ok := fromMetadata(out.MediaContainer.Metadata[0])
	if !ok {
		return nil, fmt.Errorf("item %s has unsupported type", ratingKey)
	}
	return &item, nil
}

func fromMetadata(md metadata) (WatchlistItem, bool) {
	var ct models.ContentType
	switch md.Type {
	case "movie":
		ct = models.ContentTypeMovie
	case "show":
		ct = models.ContentTypeShow
	default:
		return WatchlistItem{}, false
	}

	item := WatchlistItem{
		Key:       md.Key,
		RatingKey: md.RatingKey,
		Title:     md.Title,
		Type:      ct,
		Thumb:     md.Thumb,
	}
	if md.AddedAt > 0 {
		t := time.Unix(md.AddedAt, 0).UTC()
		item.AddedAt = &t
	}

	raw := make([]string, 0, len(md.GUIDs)+1)
	for _, g := range md.GUIDs {
		raw = append(raw, g.ID)
	}
	if md.GUID != "" {
		raw = append(raw, md.GUID)
	}
	item.GUIDs = models.NormalizeGUIDs(raw)

	for _, g := range md.Genres {
		if g.Tag != "" {
			item.Genres = append(item.Genres, g.Tag)
		}
	}
	return item, true
}
