// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/models"
)

// RSSItem is one entry from a watchlist RSS feed. Feeds are the cheap
// change-detection path: a new guid in the feed triggers a full fetch.
type RSSItem struct {
	Title    string
	GUIDs    []models.GUID
	Category string
	PubDate  *time.Time
}

type rssEnvelope struct {
	Channel struct {
		Items []struct {
			Title      string   `xml:"title"`
			GUID       string   `xml:"guid"`
			Categories []string `xml:"category"`
			PubDate    string   `xml:"pubDate"`
			Keywords   string   `xml:"keywords"`
		} `xml:"item"`
	} `xml:"channel"`
}

// GetRSSFeed fetches and parses one watchlist RSS feed. An empty feed is a
// valid result (nothing watchlisted), distinguished from fetch failure by
// the nil error.
func (c *Client) GetRSSFeed(ctx context.Context, feedURL string) ([]RSSItem, error) {
	resp, err := c.http.Do(ctx, httpclient.Request{
		Family: FamilyRSS,
		Method: http.MethodGet,
		URL:    feedURL,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch rss feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read rss feed: %w", err)
	}
	return parseRSS(body)
}

func parseRSS(body []byte) ([]RSSItem, error) {
	var env rssEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse rss feed: %w", err)
	}

	items := make([]RSSItem, 0, len(env.Channel.Items))
	for _, it := range env.Channel.Items {
		item := RSSItem{Title: it.Title}
		if len(it.Categories) > 0 {
			item.Category = it.Categories[0]
		}
		if it.GUID != "" {
			item.GUIDs = models.NormalizeGUIDs([]string{it.GUID})
		}
		if it.PubDate != "" {
			if t, err := time.Parse(time.RFC1123Z, it.PubDate); err == nil {
				u := t.UTC()
				item.PubDate = &u
			} else if t, err := time.Parse(time.RFC1123, it.PubDate); err == nil {
				u := t.UTC()
				item.PubDate = &u
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// RSSWatchlistURL returns the configured self-watchlist feed URL, or "".
func (c *Client) RSSWatchlistURL() string { return c.cfg.RSSWatchlistURL }

// RSSFriendsURL returns the configured friends-watchlist feed URL, or "".
func (c *Client) RSSFriendsURL() string { return c.cfg.RSSFriendsURL }
