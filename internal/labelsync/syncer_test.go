// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package labelsync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/relayarr/relayarr/internal/arr"
	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/plex"
	"github.com/relayarr/relayarr/internal/ratelimit"
)

// libraryStub serves a one-section movie library with a single entity and
// records every label mutation sent to the section edit endpoint.
type libraryStub struct {
	mu      sync.Mutex
	labels  []string
	added   []string
	removed []string
}

func (ls *libraryStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/library/sections", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"MediaContainer":{"Directory":[{"key":"1","type":"movie"}]}}`)
	})
	mux.HandleFunc("/library/sections/1/all", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			ls.mu.Lock()
			defer ls.mu.Unlock()
			q := r.URL.Query()
			if add := q.Get("label[0].tag.tag"); add != "" {
				ls.added = append(ls.added, add)
				ls.labels = append(ls.labels, add)
			}
			if rm := q.Get("label[].tag.tag-"); rm != "" {
				ls.removed = append(ls.removed, rm)
			}
			return
		}
		ls.mu.Lock()
		defer ls.mu.Unlock()
		labels := ""
		for i, l := range ls.labels {
			if i > 0 {
				labels += ","
			}
			labels += fmt.Sprintf(`{"tag":%q}`, l)
		}
		fmt.Fprintf(w, `{"MediaContainer":{"size":1,"Metadata":[{"ratingKey":"100","title":"The Movie","type":"movie","Guid":[{"id":"tmdb://900"}],"Label":[%s]}]}}`, labels)
	})
	return mux
}

func newTestSyncer(t *testing.T, stub *libraryStub, cfg Config) (*Syncer, *database.DB) {
	t.Helper()
	db, err := database.NewForTesting()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	hc := httpclient.New(httpclient.Config{Timeout: 5 * time.Second},
		ratelimit.New(ratelimit.Config{MaxConcurrent: 4}))
	pc := plex.New(plex.Config{Token: "token", ServerURL: srv.URL}, hc)
	return New(db, pc, arr.NewRegistry(hc), nil, cfg), db
}

func seedOwner(t *testing.T, db *database.DB, name string) (*models.User, *models.WatchlistItem) {
	t.Helper()
	ctx := context.Background()
	user := &models.User{Name: name, CanSync: true}
	if err := db.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	item := &models.WatchlistItem{
		UserID: user.ID, Key: "/m/" + name, Title: "The Movie",
		Type: models.ContentTypeMovie, Status: models.StatusPending,
		GUIDs: []models.GUID{"tmdb:900"},
	}
	if err := db.CreateWatchlistItem(ctx, item); err != nil {
		t.Fatalf("create item: %v", err)
	}
	return user, item
}

func TestRunAddsOwnerLabel(t *testing.T) {
	stub := &libraryStub{}
	s, db := newTestSyncer(t, stub, DefaultConfig())
	ctx := context.Background()
	_, item := seedOwner(t, db, "alice")

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stub.added) != 1 || stub.added[0] != "relayarr:alice" {
		t.Fatalf("added = %v, want [relayarr:alice]", stub.added)
	}
	tracked, err := db.ListLabelsForRatingKey(ctx, "100")
	if err != nil {
		t.Fatalf("list tracked: %v", err)
	}
	if len(tracked) != 1 || tracked[0].Label != "relayarr:alice" || tracked[0].WatchlistID != item.ID {
		t.Errorf("tracked = %+v", tracked)
	}

	// Second run is a no-op: label present and tracked.
	if err := s.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(stub.added) != 1 {
		t.Errorf("added = %v after second run, want one mutation total", stub.added)
	}
}

func TestRunRemovesStaleTrackedLabel(t *testing.T) {
	stub := &libraryStub{labels: []string{"relayarr:alice", "relayarr:bob"}}
	s, db := newTestSyncer(t, stub, DefaultConfig())
	ctx := context.Background()
	_, item := seedOwner(t, db, "alice")

	// bob still exists but dropped the item from his watchlist.
	bob := &models.User{Name: "bob", CanSync: true}
	if err := db.CreateUser(ctx, bob); err != nil {
		t.Fatalf("create user: %v", err)
	}
	for _, label := range []string{"relayarr:alice", "relayarr:bob"} {
		err := db.UpsertLabelTracking(ctx, &models.LabelTracking{
			WatchlistID: item.ID, PlexRatingKey: "100", Label: label,
		})
		if err != nil {
			t.Fatalf("seed tracking: %v", err)
		}
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stub.removed) != 1 || stub.removed[0] != "relayarr:bob" {
		t.Fatalf("removed = %v, want [relayarr:bob]", stub.removed)
	}
	tracked, err := db.ListLabelsForRatingKey(ctx, "100")
	if err != nil {
		t.Fatalf("list tracked: %v", err)
	}
	if len(tracked) != 1 || tracked[0].Label != "relayarr:alice" {
		t.Errorf("tracked = %+v, want only alice", tracked)
	}
}

func TestRunNeverRemovesUntrackedLabels(t *testing.T) {
	// A label someone applied by hand is not ours to delete.
	stub := &libraryStub{labels: []string{"favorites"}}
	s, db := newTestSyncer(t, stub, DefaultConfig())
	seedOwner(t, db, "alice")

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stub.removed) != 0 {
		t.Errorf("removed = %v, want none", stub.removed)
	}
}

func TestRemovedUserPolicy(t *testing.T) {
	tests := []struct {
		name        string
		policy      RemovedUserPolicy
		wantRemoved []string
		wantAdded   []string
	}{
		{"keep", RemovedUserKeep, nil, []string{"relayarr:alice"}},
		{"remove", RemovedUserRemove, []string{"relayarr:ghost"}, []string{"relayarr:alice"}},
		{"special", RemovedUserSpecial, []string{"relayarr:ghost"}, []string{"relayarr:alice", "relayarr:removed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &libraryStub{labels: []string{"relayarr:ghost"}}
			cfg := DefaultConfig()
			cfg.RemovedUserPolicy = tt.policy
			s, db := newTestSyncer(t, stub, cfg)
			ctx := context.Background()
			_, item := seedOwner(t, db, "alice")

			// ghost's user row is gone; only the tracked label remains.
			err := db.UpsertLabelTracking(ctx, &models.LabelTracking{
				WatchlistID: item.ID, PlexRatingKey: "100", Label: "relayarr:ghost",
			})
			if err != nil {
				t.Fatalf("seed tracking: %v", err)
			}

			if err := s.Run(ctx); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := stub.removed; !equalStrings(got, tt.wantRemoved) {
				t.Errorf("removed = %v, want %v", got, tt.wantRemoved)
			}
			if got := stub.added; !equalStrings(got, tt.wantAdded) {
				t.Errorf("added = %v, want %v", got, tt.wantAdded)
			}
		})
	}
}

func TestRemoveAllStripsTrackedLabels(t *testing.T) {
	stub := &libraryStub{labels: []string{"relayarr:alice", "favorites"}}
	s, db := newTestSyncer(t, stub, DefaultConfig())
	ctx := context.Background()
	_, item := seedOwner(t, db, "alice")

	err := db.UpsertLabelTracking(ctx, &models.LabelTracking{
		WatchlistID: item.ID, PlexRatingKey: "100", Label: "relayarr:alice",
	})
	if err != nil {
		t.Fatalf("seed tracking: %v", err)
	}

	if err := s.RemoveAll(ctx, false); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if len(stub.removed) != 1 || stub.removed[0] != "relayarr:alice" {
		t.Errorf("removed = %v, want [relayarr:alice]", stub.removed)
	}
	tracked, err := db.ListAllLabelTracking(ctx)
	if err != nil {
		t.Fatalf("list tracking: %v", err)
	}
	if len(tracked) != 0 {
		t.Errorf("tracking rows = %d after RemoveAll, want 0", len(tracked))
	}
}

func TestCleanupDropsOrphanedTracking(t *testing.T) {
	stub := &libraryStub{labels: []string{"relayarr:alice"}}
	s, db := newTestSyncer(t, stub, DefaultConfig())
	ctx := context.Background()

	err := db.UpsertLabelTracking(ctx, &models.LabelTracking{
		WatchlistID: 9999, PlexRatingKey: "100", Label: "relayarr:alice",
	})
	if err != nil {
		t.Fatalf("seed tracking: %v", err)
	}

	n, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("cleaned = %d, want 1", n)
	}
	if len(stub.removed) != 1 || stub.removed[0] != "relayarr:alice" {
		t.Errorf("removed = %v, want the orphaned label stripped", stub.removed)
	}
}

func TestParseUserLabel(t *testing.T) {
	s := &Syncer{cfg: DefaultConfig()}
	tests := []struct {
		label  string
		name   string
		wantOK bool
	}{
		{"relayarr:alice", "alice", true},
		{"relayarr:", "", false},
		{"favorites", "", false},
		{"relayarr:removed", "removed", true},
	}
	for _, tt := range tests {
		name, ok := s.parseUserLabel(tt.label)
		if ok != tt.wantOK || name != tt.name {
			t.Errorf("parseUserLabel(%q) = (%q, %v), want (%q, %v)",
				tt.label, name, ok, tt.name, tt.wantOK)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int)
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
		if seen[s] < 0 {
			return false
		}
	}
	return true
}
