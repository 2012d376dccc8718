// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/metadata"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/plex"
	"github.com/relayarr/relayarr/internal/ratelimit"
)

type fakeProcessor struct {
	items []*models.WatchlistItem
}

func (p *fakeProcessor) ProcessNewItem(_ context.Context, _ *models.User, item *models.WatchlistItem) {
	p.items = append(p.items, item)
}

func newTestIngestor(t *testing.T) (*Ingestor, *database.DB, *fakeProcessor) {
	t.Helper()
	db, err := database.NewForTesting()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	hc := httpclient.New(httpclient.Config{Timeout: time.Second},
		ratelimit.New(ratelimit.Config{MaxConcurrent: 2}))
	pc := plex.New(plex.Config{Token: "tok"}, hc)
	proc := &fakeProcessor{}
	ing := New(db, pc, metadata.New(pc, nil), proc, nil, Config{FriendSync: true})
	return ing, db, proc
}

func createTestUser(t *testing.T, db *database.DB, name, uuid string) *models.User {
	t.Helper()
	u := &models.User{Name: name, PlexUUID: uuid, CanSync: true}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// Entries carry guids so enrichment short-circuits without a network fetch.
func fetchedItem(key, title string, guids ...string) plex.WatchlistItem {
	return plex.WatchlistItem{
		Key:   key,
		Title: title,
		Type:  models.ContentTypeMovie,
		GUIDs: models.NormalizeGUIDs(guids),
	}
}

func TestReconcileUserAddsAndRemoves(t *testing.T) {
	ing, db, proc := newTestIngestor(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice", "uuid-alice")

	// Stored item that upstream no longer lists.
	gone := &models.WatchlistItem{
		UserID: user.ID, Key: "/library/metadata/old", Title: "Old Movie",
		Type: models.ContentTypeMovie, Status: models.StatusPending,
	}
	if err := db.CreateWatchlistItem(ctx, gone); err != nil {
		t.Fatalf("seed item: %v", err)
	}

	fetched := []plex.WatchlistItem{fetchedItem("/library/metadata/new", "New Movie", "tmdb://500")}
	if err := ing.reconcileUser(ctx, "self-watchlist", user, fetched); err != nil {
		t.Fatalf("reconcileUser: %v", err)
	}

	items, err := db.ListWatchlistItems(ctx, user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].Key != "/library/metadata/new" {
		t.Fatalf("items = %+v, want only the new key", items)
	}
	if items[0].Status != models.StatusPending {
		t.Errorf("status = %s, want pending", items[0].Status)
	}
	if len(proc.items) != 1 || proc.items[0].Key != "/library/metadata/new" {
		t.Errorf("processor saw %d items", len(proc.items))
	}
}

func TestReconcileUserUnchangedItemIsUntouched(t *testing.T) {
	ing, db, proc := newTestIngestor(t)
	ctx := context.Background()
	user := createTestUser(t, db, "bob", "uuid-bob")

	stored := &models.WatchlistItem{
		UserID: user.ID, Key: "/library/metadata/42", Title: "Kept",
		Type: models.ContentTypeMovie, Status: models.StatusGrabbed,
	}
	if err := db.CreateWatchlistItem(ctx, stored); err != nil {
		t.Fatalf("seed item: %v", err)
	}

	fetched := []plex.WatchlistItem{fetchedItem("/library/metadata/42", "Kept", "tmdb://42")}
	if err := ing.reconcileUser(ctx, "self-watchlist", user, fetched); err != nil {
		t.Fatalf("reconcileUser: %v", err)
	}

	got, err := db.GetWatchlistItem(ctx, user.ID, "/library/metadata/42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusGrabbed {
		t.Errorf("status = %s, lifecycle must survive re-ingest", got.Status)
	}
	if len(proc.items) != 0 {
		t.Error("unchanged item must not re-enter processing")
	}
}

func TestAddItemLinksRoutedSibling(t *testing.T) {
	ing, db, proc := newTestIngestor(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "alice", "uuid-alice")
	bob := createTestUser(t, db, "bob", "uuid-bob")

	instanceID := int64(7)
	routed := &models.WatchlistItem{
		UserID: alice.ID, Key: "/library/metadata/9", Title: "Shared Movie",
		Type: models.ContentTypeMovie, Status: models.StatusRequested,
		GUIDs:            models.NormalizeGUIDs([]string{"tmdb://900"}),
		RadarrInstanceID: &instanceID,
	}
	if err := db.CreateWatchlistItem(ctx, routed); err != nil {
		t.Fatalf("seed routed item: %v", err)
	}

	entry := fetchedItem("/library/metadata/9", "Shared Movie", "tmdb://900")
	if err := ing.addItem(ctx, bob, &entry); err != nil {
		t.Fatalf("addItem: %v", err)
	}

	got, err := db.GetWatchlistItem(ctx, bob.ID, "/library/metadata/9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusRequested {
		t.Errorf("status = %s, want requested (linked)", got.Status)
	}
	if got.RadarrInstanceID == nil || *got.RadarrInstanceID != instanceID {
		t.Errorf("radarr instance = %v, want %d", got.RadarrInstanceID, instanceID)
	}
	if len(proc.items) != 0 {
		t.Error("linked item must not be processed as new")
	}
}

func TestAddItemIgnoresUnroutedSibling(t *testing.T) {
	ing, db, proc := newTestIngestor(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "alice", "uuid-alice")
	bob := createTestUser(t, db, "bob", "uuid-bob")

	pending := &models.WatchlistItem{
		UserID: alice.ID, Key: "/library/metadata/10", Title: "Unrouted",
		Type: models.ContentTypeMovie, Status: models.StatusPending,
		GUIDs: models.NormalizeGUIDs([]string{"tmdb://1000"}),
	}
	if err := db.CreateWatchlistItem(ctx, pending); err != nil {
		t.Fatalf("seed item: %v", err)
	}

	entry := fetchedItem("/library/metadata/10", "Unrouted", "tmdb://1000")
	if err := ing.addItem(ctx, bob, &entry); err != nil {
		t.Fatalf("addItem: %v", err)
	}

	got, err := db.GetWatchlistItem(ctx, bob.ID, "/library/metadata/10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if len(proc.items) != 1 {
		t.Errorf("processor saw %d items, want 1", len(proc.items))
	}
}

func TestEnsureFriendUserIsIdempotent(t *testing.T) {
	ing, db, _ := newTestIngestor(t)
	ctx := context.Background()

	friend := &plex.Friend{UUID: "uuid-carol", Username: "carol", Email: "carol@example.com"}
	first, err := ing.ensureFriendUser(ctx, friend)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if !first.CanSync {
		t.Error("new friends must default to syncable")
	}

	second, err := ing.ensureFriendUser(ctx, friend)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second ensure created a new row: %d != %d", second.ID, first.ID)
	}

	users, err := db.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("users = %d, want 1", len(users))
	}
}

func TestEnsureFriendUserFallsBackToTitle(t *testing.T) {
	ing, _, _ := newTestIngestor(t)

	friend := &plex.Friend{UUID: "uuid-dave", Title: "Dave"}
	u, err := ing.ensureFriendUser(context.Background(), friend)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if u.Name != "Dave" {
		t.Errorf("name = %q, want title fallback", u.Name)
	}
}

func TestGuidSetsEqual(t *testing.T) {
	a := map[models.GUID]bool{"tmdb:1": true, "tvdb:2": true}
	b := map[models.GUID]bool{"tvdb:2": true, "tmdb:1": true}
	if !guidSetsEqual(a, b) {
		t.Error("order must not matter")
	}
	if guidSetsEqual(a, map[models.GUID]bool{"tmdb:1": true}) {
		t.Error("size mismatch must differ")
	}
	if guidSetsEqual(a, map[models.GUID]bool{"tmdb:1": true, "tvdb:3": true}) {
		t.Error("member mismatch must differ")
	}
	if !guidSetsEqual(nil, map[models.GUID]bool{}) {
		t.Error("nil and empty are the same set")
	}
}
