// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/relayarr/relayarr/internal/approval"
	"github.com/relayarr/relayarr/internal/arr"
	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/metadata"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/plex"
	"github.com/relayarr/relayarr/internal/ratelimit"
	"github.com/relayarr/relayarr/internal/routing"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewForTesting()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestHTTP() *httpclient.Client {
	return httpclient.New(httpclient.Config{Timeout: 5 * time.Second},
		ratelimit.New(ratelimit.Config{MaxConcurrent: 4}))
}

func seedUser(t *testing.T, db *database.DB, name string) *models.User {
	t.Helper()
	u := &models.User{Name: name, PlexUUID: "uuid-" + name, CanSync: true}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func seedItem(t *testing.T, db *database.DB, userID int64, key string, ct models.ContentType, status models.WatchlistStatus, guids ...string) *models.WatchlistItem {
	t.Helper()
	it := &models.WatchlistItem{
		UserID: userID, Key: key, Title: key, Type: ct,
		Status: status, GUIDs: models.NormalizeGUIDs(guids),
	}
	if err := db.CreateWatchlistItem(context.Background(), it); err != nil {
		t.Fatalf("create item: %v", err)
	}
	return it
}

// radarrStub serves the minimal Radarr surface a submission touches.
func radarrStub(t *testing.T, added *atomic.Int32, captured *arr.Movie) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v3/movie/lookup/tmdb":
			json.NewEncoder(w).Encode(arr.Movie{TmdbID: 900, Title: "Shared Movie", Year: 2025})
		case r.URL.Path == "/api/v3/rootfolder":
			w.Write([]byte(`[{"id":1,"path":"/movies"}]`))
		case r.URL.Path == "/api/v3/qualityprofile":
			w.Write([]byte(`[{"id":5,"name":"HD-1080p"}]`))
		case r.URL.Path == "/api/v3/tag" && r.Method == http.MethodGet:
			w.Write([]byte(`[]`))
		case r.URL.Path == "/api/v3/tag" && r.Method == http.MethodPost:
			w.Write([]byte(`{"id":2,"label":"relayarr"}`))
		case r.URL.Path == "/api/v3/movie" && r.Method == http.MethodPost:
			added.Add(1)
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode add payload: %v", err)
			}
			captured.ID = 10
			json.NewEncoder(w).Encode(captured)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestProcessNewItemRoutesToDefaultInstance(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var added atomic.Int32
	var captured arr.Movie
	srv := httptest.NewServer(radarrStub(t, &added, &captured))
	defer srv.Close()

	inst := &models.Instance{
		Name: "radarr-main", Type: models.TargetRadarr,
		BaseURL: srv.URL, APIKey: "key", IsDefault: true,
		Defaults: models.InstanceDefaults{QualityProfile: "HD-1080p", Tags: []string{"relayarr"}},
	}
	if err := db.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("create instance: %v", err)
	}

	user := seedUser(t, db, "alice")
	item := seedItem(t, db, user.ID, "/library/metadata/9", models.ContentTypeMovie,
		models.StatusPending, "tmdb://900")

	hc := newTestHTTP()
	registry := arr.NewRegistry(hc)
	pc := plex.New(plex.Config{Token: "tok"}, hc)
	pipeline := NewPipeline(db, registry, routing.NewEngine(db), metadata.New(pc, nil), nil)
	pipeline.BindApprovals(approval.NewEngine(db, pipeline, nil, approval.Config{
		Expiry: time.Hour, Retention: time.Hour,
	}))

	pipeline.ProcessNewItem(ctx, user, item)

	if added.Load() != 1 {
		t.Fatalf("add calls = %d, want 1", added.Load())
	}
	if captured.RootFolderPath != "/movies" {
		t.Errorf("root folder = %q", captured.RootFolderPath)
	}
	if captured.QualityProfileID != 5 {
		t.Errorf("quality profile = %d", captured.QualityProfileID)
	}
	if len(captured.Tags) != 1 || captured.Tags[0] != 2 {
		t.Errorf("tags = %v", captured.Tags)
	}

	got, err := db.GetWatchlistItem(ctx, user.ID, item.Key)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != models.StatusRequested {
		t.Errorf("status = %s, want requested", got.Status)
	}
	if got.RadarrInstanceID == nil || *got.RadarrInstanceID != inst.ID {
		t.Errorf("radarr instance = %v, want %d", got.RadarrInstanceID, inst.ID)
	}

	// Usage was recorded for the direct route.
	n, err := db.CountUsageSince(ctx, user.ID, models.ContentTypeMovie, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("count usage: %v", err)
	}
	if n != 1 {
		t.Errorf("usage events = %d, want 1", n)
	}
}

func TestProcessNewItemSkipsWithoutInstances(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := seedUser(t, db, "bob")
	item := seedItem(t, db, user.ID, "/library/metadata/11", models.ContentTypeMovie,
		models.StatusPending, "tmdb://1100")

	hc := newTestHTTP()
	pc := plex.New(plex.Config{Token: "tok"}, hc)
	pipeline := NewPipeline(db, arr.NewRegistry(hc), routing.NewEngine(db), metadata.New(pc, nil), nil)

	pipeline.ProcessNewItem(ctx, user, item)

	got, err := db.GetWatchlistItem(ctx, user.ID, item.Key)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("status = %s, want pending (nothing to route to)", got.Status)
	}
}

func TestMergeAdvancesStatusAndBindsInstance(t *testing.T) {
	db := newTestDB(t)
	r := New(db, nil, nil, nil, nil, DefaultConfig())

	items := []models.WatchlistItem{{
		ID: 1, UserID: 1, Key: "/m/1", Type: models.ContentTypeMovie,
		Status: models.StatusRequested,
	}}
	obs := []observation{{
		itemID: 1, instanceID: 3,
		movieStatus: models.MovieAvailable, grabbed: true,
	}}

	updates, junctions, fulfilled := r.merge(context.Background(), items, obs)
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	u := updates[0]
	if u.Status == nil || *u.Status != models.StatusGrabbed {
		t.Errorf("status = %v, want grabbed", u.Status)
	}
	if u.RadarrInstanceID == nil || *u.RadarrInstanceID != 3 {
		t.Errorf("instance = %v, want 3", u.RadarrInstanceID)
	}
	if u.MovieStatus == nil || *u.MovieStatus != models.MovieAvailable {
		t.Errorf("movie status = %v", u.MovieStatus)
	}
	if len(junctions) != 1 || junctions[0].Status != models.StatusGrabbed {
		t.Errorf("junctions = %+v", junctions)
	}
	if len(fulfilled) != 1 {
		t.Errorf("fulfilled = %d, want 1", len(fulfilled))
	}
}

func TestMergeNeverRegressesNotified(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	r := New(db, nil, nil, nil, nil, DefaultConfig())

	user := seedUser(t, db, "carol")
	item := seedItem(t, db, user.ID, "/m/2", models.ContentTypeMovie,
		models.StatusPending, "tmdb://22")
	// Walk the item to notified through the forward-only update path.
	for _, s := range []models.WatchlistStatus{models.StatusRequested, models.StatusGrabbed, models.StatusNotified} {
		status := s
		if _, err := db.BulkUpdateWatchlist(ctx, []models.WatchlistUpdate{
			{UserID: user.ID, Key: item.Key, Status: &status},
		}, nil); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	stored, err := db.GetWatchlistItem(ctx, user.ID, item.Key)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}

	obs := []observation{{itemID: stored.ID, instanceID: 1, movieStatus: models.MovieAvailable, grabbed: true}}
	updates, _, _ := r.merge(ctx, []models.WatchlistItem{*stored}, obs)

	for _, u := range updates {
		if u.Status != nil {
			t.Errorf("status update %v emitted for notified item", *u.Status)
		}
	}

	// The grabbed observation landed in history instead.
	history, err := db.ListStatusHistory(ctx, stored.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 1 || history[0].Status != models.StatusGrabbed {
		t.Errorf("history = %+v, want one grabbed entry", history)
	}
}

func TestMergeRejectsUnknownMovieStatus(t *testing.T) {
	db := newTestDB(t)
	r := New(db, nil, nil, nil, nil, DefaultConfig())

	items := []models.WatchlistItem{{
		ID: 1, UserID: 1, Key: "/m/3", Type: models.ContentTypeMovie,
		Status: models.StatusRequested,
	}}
	obs := []observation{{itemID: 1, instanceID: 2, movieStatus: "inCinemas"}}

	updates, _, _ := r.merge(context.Background(), items, obs)
	for _, u := range updates {
		if u.MovieStatus != nil {
			t.Errorf("unknown movie status %q accepted", *u.MovieStatus)
		}
	}
}

func TestMergeSeriesStatus(t *testing.T) {
	db := newTestDB(t)
	r := New(db, nil, nil, nil, nil, DefaultConfig())

	items := []models.WatchlistItem{{
		ID: 7, UserID: 1, Key: "/s/1", Type: models.ContentTypeShow,
		Status: models.StatusRequested, SeriesStatus: models.SeriesContinuing,
	}}
	obs := []observation{{itemID: 7, instanceID: 4, seriesStatus: models.SeriesEnded}}

	updates, junctions, _ := r.merge(context.Background(), items, obs)
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	if updates[0].SeriesStatus == nil || *updates[0].SeriesStatus != models.SeriesEnded {
		t.Errorf("series status = %v, want ended", updates[0].SeriesStatus)
	}
	if updates[0].SonarrInstanceID == nil || *updates[0].SonarrInstanceID != 4 {
		t.Errorf("instance = %v, want 4", updates[0].SonarrInstanceID)
	}
	if len(junctions) != 1 || junctions[0].InstanceType != models.TargetSonarr {
		t.Errorf("junctions = %+v", junctions)
	}
}

func TestHandleDownstreamEventGrab(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	r := New(db, nil, nil, nil, nil, DefaultConfig())

	user := seedUser(t, db, "dave")
	item := seedItem(t, db, user.ID, "/m/4", models.ContentTypeMovie,
		models.StatusPending, "tmdb://44")

	err := r.HandleDownstreamEvent(ctx, models.TargetRadarr, "Grab",
		models.NormalizeGUIDs([]string{"tmdb://44"}))
	if err != nil {
		t.Fatalf("HandleDownstreamEvent: %v", err)
	}

	got, err := db.GetWatchlistItem(ctx, user.ID, item.Key)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != models.StatusGrabbed {
		t.Errorf("status = %s, want grabbed", got.Status)
	}
}

func TestHandleDownstreamEventIgnoresUnmatched(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	r := New(db, nil, nil, nil, nil, DefaultConfig())

	user := seedUser(t, db, "erin")
	item := seedItem(t, db, user.ID, "/m/5", models.ContentTypeMovie,
		models.StatusPending, "tmdb://55")

	err := r.HandleDownstreamEvent(ctx, models.TargetRadarr, "Download",
		models.NormalizeGUIDs([]string{"tmdb://99999"}))
	if err != nil {
		t.Fatalf("HandleDownstreamEvent: %v", err)
	}

	got, err := db.GetWatchlistItem(ctx, user.ID, item.Key)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestMovieStatusOf(t *testing.T) {
	if got := movieStatusOf(&arr.Movie{HasFile: true}); got != models.MovieAvailable {
		t.Errorf("hasFile -> %s", got)
	}
	if got := movieStatusOf(&arr.Movie{IsAvailable: true}); got != models.MovieUnavailable {
		t.Errorf("no file -> %s", got)
	}
}

func TestGuidID(t *testing.T) {
	guids := models.NormalizeGUIDs([]string{"imdb://tt123", "tvdb://456", "tmdb://789"})
	if got := guidID(guids, "tvdb"); got != 456 {
		t.Errorf("tvdb id = %d, want 456", got)
	}
	if got := guidID(guids, "imdb"); got != 0 {
		t.Errorf("non-numeric imdb id = %d, want 0", got)
	}
	if got := guidID(nil, "tvdb"); got != 0 {
		t.Errorf("empty set = %d, want 0", got)
	}
}

func TestSearchOnAddDefault(t *testing.T) {
	if !searchOnAdd(nil) {
		t.Error("nil preference must default to searching")
	}
	f := false
	if searchOnAdd(&f) {
		t.Error("explicit false must win")
	}
}
