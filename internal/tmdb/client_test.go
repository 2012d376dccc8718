// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package tmdb

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

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	orig := apiBase
	apiBase = srv.URL
	t.Cleanup(func() { apiBase = orig })

	hc := httpclient.New(httpclient.Config{Timeout: 5 * time.Second},
		ratelimit.New(ratelimit.Config{MaxConcurrent: 4}))
	c, err := New(Config{APIKey: "k", Region: "US", CacheTTL: time.Minute}, hc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGetDetailsCachesSecondFetch(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.URL.Query().Get("api_key"); got != "k" {
			t.Errorf("api_key = %q", got)
		}
		fmt.Fprint(w, `{"id":42,"original_language":"ko","first_air_date":"2021-09-17",
			"vote_average":8.0,"number_of_seasons":3}`)
	})

	for i := 0; i < 2; i++ {
		d, err := c.GetDetails(context.Background(), models.ContentTypeShow, 42)
		if err != nil {
			t.Fatalf("GetDetails: %v", err)
		}
		if d.OriginalLanguage != "ko" || d.Year != 2021 || d.SeasonCount != 3 {
			t.Errorf("details = %+v", d)
		}
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (second served from cache)", calls)
	}
}

func TestGetCertificationPicksRegion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[
			{"iso_3166_1":"DE","release_dates":[{"certification":"16"}]},
			{"iso_3166_1":"US","release_dates":[{"certification":""},{"certification":"PG-13"}]}
		]}`)
	})

	cert, err := c.GetCertification(context.Background(), models.ContentTypeMovie, 7)
	if err != nil {
		t.Fatalf("GetCertification: %v", err)
	}
	if cert != "PG-13" {
		t.Errorf("cert = %q, want PG-13", cert)
	}
}

func TestGetCertificationMissingRegion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"iso_3166_1":"FR","rating":"12"}]}`)
	})

	cert, err := c.GetCertification(context.Background(), models.ContentTypeShow, 7)
	if err != nil {
		t.Fatalf("GetCertification: %v", err)
	}
	if cert != "" {
		t.Errorf("cert = %q, want empty for absent region", cert)
	}
}

func TestGetStreamingProviders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{
			"US":{"flatrate":[{"provider_name":"Netflix"},{"provider_name":"Hulu"}]},
			"GB":{"flatrate":[{"provider_name":"Sky"}]}
		}}`)
	})

	providers, err := c.GetStreamingProviders(context.Background(), models.ContentTypeMovie, 9)
	if err != nil {
		t.Fatalf("GetStreamingProviders: %v", err)
	}
	if len(providers) != 2 || providers[0] != "Netflix" || providers[1] != "Hulu" {
		t.Errorf("providers = %v", providers)
	}
}

func TestYearOf(t *testing.T) {
	tests := []struct {
		date string
		want int
	}{
		{"2021-09-17", 2021},
		{"", 0},
		{"bad", 0},
	}
	for _, tt := range tests {
		if got := yearOf(tt.date); got != tt.want {
			t.Errorf("yearOf(%q) = %d, want %d", tt.date, got, tt.want)
		}
	}
}
