// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/ratelimit"
)

func newTestNotifier(t *testing.T, cfg Config) (*Notifier, *database.DB) {
	t.Helper()
	db, err := database.NewForTesting()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	hc := httpclient.New(httpclient.Config{Timeout: 5 * time.Second},
		ratelimit.New(ratelimit.Config{MaxConcurrent: 4}))
	return New(db, hc, cfg), db
}

func seedGrabbed(t *testing.T, db *database.DB, user *models.User, title string) *models.WatchlistItem {
	t.Helper()
	ctx := context.Background()
	it := &models.WatchlistItem{
		UserID: user.ID, Key: "/m/" + title, Title: title,
		Type: models.ContentTypeMovie, Status: models.StatusPending,
	}
	if err := db.CreateWatchlistItem(ctx, it); err != nil {
		t.Fatalf("create item: %v", err)
	}
	for _, s := range []models.WatchlistStatus{models.StatusRequested, models.StatusGrabbed} {
		status := s
		if _, err := db.BulkUpdateWatchlist(ctx, []models.WatchlistUpdate{
			{UserID: user.ID, Key: it.Key, Status: &status},
		}, nil); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	it.Status = models.StatusGrabbed
	return it
}

func TestRunAnnouncesGrabbedOnce(t *testing.T) {
	var calls atomic.Int32
	var lastBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		lastBody.Store(string(buf[:n]))
	}))
	defer srv.Close()

	n, db := newTestNotifier(t, Config{Chat: ChatSettings{Enabled: true, WebhookURL: srv.URL}})
	ctx := context.Background()

	user := &models.User{Name: "alice", ChatID: "12345", Notify: models.NotifyFlags{Chat: true}, CanSync: true}
	if err := db.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	item := seedGrabbed(t, db, user, "The Movie")

	if err := n.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("webhook calls = %d, want 1", calls.Load())
	}
	if body, _ := lastBody.Load().(string); !strings.Contains(body, "The Movie") || !strings.Contains(body, "12345") {
		t.Errorf("chat payload = %s", body)
	}

	got, err := db.GetWatchlistItem(ctx, user.ID, item.Key)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != models.StatusNotified {
		t.Errorf("status = %s, want notified", got.Status)
	}
	if got.LastNotifiedAt == nil {
		t.Error("last notified timestamp not set")
	}

	rec, err := db.FindNotification(ctx, &user.ID, models.NotifyMovie, "The Movie", nil, nil)
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if !rec.SentToChat || rec.SentToEmail || rec.SentToPush {
		t.Errorf("record channels = %+v", rec)
	}

	// A second run announces nothing; the item already advanced.
	if err := n.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("webhook calls = %d after second run, want 1", calls.Load())
	}
}

func TestRunKeepsItemGrabbedWhenAllChannelsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	n, db := newTestNotifier(t, Config{Chat: ChatSettings{Enabled: true, WebhookURL: srv.URL}})
	ctx := context.Background()

	user := &models.User{Name: "bob", Notify: models.NotifyFlags{Chat: true}, CanSync: true}
	if err := db.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	item := seedGrabbed(t, db, user, "Failing Movie")

	if err := n.Run(ctx); err == nil {
		t.Error("Run must report the failed dispatch")
	}

	got, err := db.GetWatchlistItem(ctx, user.ID, item.Key)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != models.StatusGrabbed {
		t.Errorf("status = %s, want grabbed (retry next run)", got.Status)
	}
	if _, err := db.FindNotification(ctx, &user.ID, models.NotifyMovie, "Failing Movie", nil, nil); err == nil {
		t.Error("no record must exist after total dispatch failure")
	}
}

func TestRunMarksSecondUserSynced(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n, db := newTestNotifier(t, Config{Chat: ChatSettings{Enabled: true, WebhookURL: srv.URL}})
	ctx := context.Background()

	first := &models.User{Name: "dana", ChatID: "111", Notify: models.NotifyFlags{Chat: true}, CanSync: true}
	second := &models.User{Name: "erin", ChatID: "222", Notify: models.NotifyFlags{Chat: true}, CanSync: true}
	for _, u := range []*models.User{first, second} {
		if err := db.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	seedGrabbed(t, db, first, "Shared Show Movie")
	item := seedGrabbed(t, db, second, "Shared Show Movie")

	if err := n.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Only the user whose acquisition landed first is announced.
	if calls.Load() != 1 {
		t.Fatalf("webhook calls = %d, want 1", calls.Load())
	}

	rec, err := db.FindNotification(ctx, &second.ID, models.NotifyMovie, "Shared Show Movie", nil, nil)
	if err != nil {
		t.Fatalf("find second user's record: %v", err)
	}
	if rec.Status != models.NotificationSynced {
		t.Errorf("record status = %s, want synced", rec.Status)
	}
	if rec.SentToChat || rec.SentToEmail || rec.SentToPush {
		t.Errorf("synced record has channels set: %+v", rec)
	}

	got, err := db.GetWatchlistItem(ctx, second.ID, item.Key)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != models.StatusNotified {
		t.Errorf("second user's item status = %s, want notified", got.Status)
	}
}

func TestRunSkipsUsersWithoutOptIn(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n, db := newTestNotifier(t, Config{Chat: ChatSettings{Enabled: true, WebhookURL: srv.URL}})
	ctx := context.Background()

	// No notify flags set: nothing is attempted, the item still advances.
	user := &models.User{Name: "carol", CanSync: true}
	if err := db.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	item := seedGrabbed(t, db, user, "Quiet Movie")

	if err := n.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("webhook calls = %d, want 0", calls.Load())
	}
	got, err := db.GetWatchlistItem(ctx, user.ID, item.Key)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != models.StatusNotified {
		t.Errorf("status = %s, want notified", got.Status)
	}
}

func TestFormatEmail(t *testing.T) {
	msg := formatEmail("relayarr@example.com", "user@example.com", "The Movie", "The Movie is now available")
	for _, want := range []string{
		"From: Relayarr <relayarr@example.com>",
		"To: user@example.com",
		"Subject: The Movie",
		"Content-Type: text/plain",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
	if !strings.HasSuffix(msg, "\r\n") {
		t.Error("message must end with CRLF")
	}
}
