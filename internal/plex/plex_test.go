// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package plex

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/ratelimit"
)

func newTestHTTP() *httpclient.Client {
	return httpclient.New(httpclient.Config{Timeout: 5 * time.Second},
		ratelimit.New(ratelimit.Config{MaxConcurrent: 4}))
}

func TestGetSelfWatchlistPagination(t *testing.T) {
	pages := []string{
		`{"MediaContainer":{"size":2,"totalSize":3,"Metadata":[
			{"key":"/library/metadata/1","ratingKey":"1","type":"movie","title":"Movie One",
			 "addedAt":1714500000,
			 "Guid":[{"id":"tmdb://101"},{"id":"imdb://tt0000101"}],
			 "Genre":[{"tag":"Drama"}]},
			{"key":"/library/metadata/2","ratingKey":"2","type":"show","title":"Show Two",
			 "Guid":[{"id":"tvdb://202"}]}
		]}}`,
		`{"MediaContainer":{"size":1,"totalSize":3,"Metadata":[
			{"key":"/library/metadata/2","ratingKey":"2","type":"show","title":"Show Two"},
			{"key":"/library/metadata/3","ratingKey":"3","type":"movie","title":"Movie Three"}
		]}}`,
	}
	var call int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Plex-Token"); got != "tok" {
			t.Errorf("token header = %q", got)
		}
		fmt.Fprint(w, pages[call])
		if call < len(pages)-1 {
			call++
		}
	}))
	defer srv.Close()

	c := New(Config{Token: "tok", PageSize: 2}, newTestHTTP())
	// Point the discover fetch at the test server.
	origDiscover := discoverBase
	discoverBase = srv.URL
	defer func() { discoverBase = origDiscover }()

	items, err := c.GetSelfWatchlist(context.Background())
	if err != nil {
		t.Fatalf("GetSelfWatchlist: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3 (dedup across pages)", len(items))
	}
	first := items[0]
	if first.Type != models.ContentTypeMovie || first.Title != "Movie One" {
		t.Errorf("first item = %+v", first)
	}
	wantGUIDs := map[models.GUID]bool{"tmdb:101": true, "imdb:tt0000101": true}
	for _, g := range first.GUIDs {
		if !wantGUIDs[g] {
			t.Errorf("unexpected guid %s", g)
		}
	}
	if first.AddedAt == nil || first.AddedAt.Unix() != 1714500000 {
		t.Errorf("addedAt = %v", first.AddedAt)
	}
	if len(first.Genres) != 1 || first.Genres[0] != "Drama" {
		t.Errorf("genres = %v", first.Genres)
	}
}

func TestFromMetadataSkipsUnsupportedTypes(t *testing.T) {
	if _, ok := fromMetadata(metadata{Type: "artist", Title: "x"}); ok {
		t.Error("artist entries should be skipped")
	}
	if _, ok := fromMetadata(metadata{Type: "movie", Title: "x"}); !ok {
		t.Error("movie entries should pass")
	}
}

func TestParseRSS(t *testing.T) {
	feed := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>My Watchlist</title>
    <item>
      <title>The Movie</title>
      <guid isPermaLink="false">tmdb://42</guid>
      <category>movie</category>
      <pubDate>Sun, 10 May 2026 08:00:00 +0000</pubDate>
    </item>
    <item>
      <title>The Show</title>
      <guid isPermaLink="false">tvdb://77</guid>
      <category>show</category>
    </item>
  </channel>
</rss>`)

	items, err := parseRSS(feed)
	if err != nil {
		t.Fatalf("parseRSS: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Category != "movie" || len(items[0].GUIDs) != 1 || items[0].GUIDs[0] != "tmdb:42" {
		t.Errorf("first item = %+v", items[0])
	}
	if items[0].PubDate == nil {
		t.Error("pubDate not parsed")
	}
	if items[1].GUIDs[0] != "tvdb:77" {
		t.Errorf("second guid = %v", items[1].GUIDs)
	}
}

func TestParseRSSEmptyChannel(t *testing.T) {
	items, err := parseRSS([]byte(`<rss version="2.0"><channel><title>Empty</title></channel></rss>`))
	if err != nil {
		t.Fatalf("parseRSS: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items = %d, want 0", len(items))
	}
}
