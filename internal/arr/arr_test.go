// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package arr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/ratelimit"
)

func newTestHTTP() *httpclient.Client {
	return httpclient.New(httpclient.Config{Timeout: 5 * time.Second},
		ratelimit.New(ratelimit.Config{MaxConcurrent: 4}))
}

func newTestClient(t *testing.T, kind models.TargetType, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(&models.Instance{
		ID:      1,
		Name:    "test",
		Type:    kind,
		BaseURL: srv.URL,
		APIKey:  "key",
	}, newTestHTTP())
}

func TestEnsureTagsCreatesMissing(t *testing.T) {
	var created []string
	c := newTestClient(t, models.TargetSonarr, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "key" {
			t.Errorf("api key header = %q", got)
		}
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `[{"id":1,"label":"relayarr:alice"}]`)
		case http.MethodPost:
			var tag Tag
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &tag); err != nil {
				t.Fatalf("decode tag: %v", err)
			}
			created = append(created, tag.Label)
			fmt.Fprintf(w, `{"id":%d,"label":%q}`, 10+len(created), tag.Label)
		}
	})

	ids, err := c.EnsureTags(context.Background(), []string{"Relayarr:Alice", "relayarr:bob"})
	if err != nil {
		t.Fatalf("EnsureTags: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 11 {
		t.Errorf("ids = %v, want [1 11]", ids)
	}
	// Matching is case-insensitive; only the truly missing label is created.
	if len(created) != 1 || created[0] != "relayarr:bob" {
		t.Errorf("created = %v", created)
	}
}

func TestAddSeriesTranslatesRollingMonitoring(t *testing.T) {
	var posted Series
	c := newTestClient(t, models.TargetSonarr, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &posted); err != nil {
			t.Fatalf("decode series: %v", err)
		}
		fmt.Fprint(w, `{"id":42,"title":"Show","tvdbId":100}`)
	})

	lookup := &Series{Title: "Show", TvdbID: 100}
	added, err := c.AddSeries(context.Background(), lookup, AddSeriesOptions{
		RootFolder:       "/tv",
		QualityProfileID: 4,
		Tags:             []int{7},
		SearchOnAdd:      true,
		Monitoring:       models.MonitorPilotRolling,
		SeriesType:       "standard",
	})
	if err != nil {
		t.Fatalf("AddSeries: %v", err)
	}
	if added.ID != 42 {
		t.Errorf("added id = %d", added.ID)
	}
	if posted.AddOptions == nil {
		t.Fatal("addOptions missing from payload")
	}
	// Rolling variants submit their concrete equivalent.
	if posted.AddOptions.Monitor != string(models.MonitorPilot) {
		t.Errorf("monitor = %q, want %q", posted.AddOptions.Monitor, models.MonitorPilot)
	}
	if !posted.AddOptions.SearchForMissingEpisodes {
		t.Error("search on add not propagated")
	}
	if posted.RootFolderPath != "/tv" || posted.QualityProfileID != 4 {
		t.Errorf("overrides not applied: %+v", posted)
	}
	if !posted.Monitored {
		t.Error("series should be monitored")
	}
}

func TestLookupMovieRejectsMismatchedID(t *testing.T) {
	c := newTestClient(t, models.TargetRadarr, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"title":"Other","tmdbId":999}`)
	})

	movie, err := c.LookupMovieByTmdbID(context.Background(), 42)
	if err != nil {
		t.Fatalf("LookupMovieByTmdbID: %v", err)
	}
	if movie != nil {
		t.Errorf("movie = %+v, want nil for mismatched id", movie)
	}
}

func TestAddMovieDefaults(t *testing.T) {
	var posted Movie
	c := newTestClient(t, models.TargetRadarr, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &posted); err != nil {
			t.Fatalf("decode movie: %v", err)
		}
		fmt.Fprint(w, `{"id":7,"title":"Film","tmdbId":42}`)
	})

	lookup := &Movie{Title: "Film", TmdbID: 42}
	if _, err := c.AddMovie(context.Background(), lookup, AddMovieOptions{
		RootFolder:       "/movies",
		QualityProfileID: 1,
	}); err != nil {
		t.Fatalf("AddMovie: %v", err)
	}
	if posted.MinimumAvailability != "released" {
		t.Errorf("minimumAvailability = %q, want released default", posted.MinimumAvailability)
	}
	if posted.AddOptions == nil || posted.AddOptions.Monitor != "movieOnly" {
		t.Errorf("addOptions = %+v", posted.AddOptions)
	}
	if posted.AddOptions.SearchForMovie {
		t.Error("search should default off")
	}
}

func TestResolveQualityProfile(t *testing.T) {
	c := newTestClient(t, models.TargetSonarr, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":1,"name":"Any"},{"id":6,"name":"HD-1080p"}]`)
	})

	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"numeric id passes through", "6", 6, false},
		{"case-insensitive name", "hd-1080p", 6, false},
		{"empty selects first", "", 1, false},
		{"unknown name fails", "4K", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ResolveQualityProfile(context.Background(), tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("id = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInstallWebhookUpdatesExisting(t *testing.T) {
	var method string
	c := newTestClient(t, models.TargetRadarr, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `[{"id":3,"name":"Relayarr"},{"id":4,"name":"Other"}]`)
		default:
			method = r.Method + " " + r.URL.Path
			fmt.Fprint(w, `{}`)
		}
	})

	if err := c.InstallWebhook(context.Background(), "http://relayarr:7878/webhook"); err != nil {
		t.Fatalf("InstallWebhook: %v", err)
	}
	if method != "PUT /api/v3/notification/3" {
		t.Errorf("call = %q, want update of existing webhook", method)
	}
}

func TestSeriesGUIDsNormalized(t *testing.T) {
	s := &Series{TvdbID: 100, TmdbID: 200, ImdbID: "tt0300"}
	guids := s.GUIDs()
	want := []models.GUID{"tvdb:100", "tmdb:200", "imdb:tt0300"}
	if len(guids) != len(want) {
		t.Fatalf("guids = %v", guids)
	}
	for i, g := range want {
		if guids[i] != g {
			t.Errorf("guids[%d] = %s, want %s", i, guids[i], g)
		}
	}
}

func TestRegistryReusesClientOnKeyChange(t *testing.T) {
	r := NewRegistry(newTestHTTP())
	inst := &models.Instance{ID: 1, Type: models.TargetSonarr, BaseURL: "http://a:8989", APIKey: "k1"}

	c1 := r.Get(inst)
	inst.APIKey = "k2"
	c2 := r.Get(inst)
	if c1 != c2 {
		t.Error("key-only change should reuse the client")
	}
	if c2.apiKey != "k2" {
		t.Errorf("apiKey = %q, want rotated key", c2.apiKey)
	}

	inst.BaseURL = "http://b:8989"
	c3 := r.Get(inst)
	if c3 == c2 {
		t.Error("base URL change should rebuild the client")
	}
}
