// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relayarr/relayarr/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewForTesting()
	if err != nil {
		t.Fatalf("NewForTesting: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createTestUser(t *testing.T, db *DB, name string) *models.User {
	t.Helper()
	u := &models.User{Name: name, CanSync: true}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return u
}

func createTestItem(t *testing.T, db *DB, userID int64, key string, ct models.ContentType) *models.WatchlistItem {
	t.Helper()
	it := &models.WatchlistItem{
		UserID: userID,
		Key:    key,
		Title:  "Title " + key,
		Type:   ct,
		GUIDs:  []models.GUID{"tmdb:123", "imdb:tt0111161"},
		Genres: []string{"drama"},
	}
	if err := db.CreateWatchlistItem(context.Background(), it); err != nil {
		t.Fatalf("CreateWatchlistItem(%s): %v", key, err)
	}
	return it
}

func TestSystemUserCreatedAtStartup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u, err := db.GetUser(ctx, models.SystemUserID)
	if err != nil {
		t.Fatalf("GetUser(system): %v", err)
	}
	if u.Name != "System" {
		t.Errorf("system user name = %q, want System", u.Name)
	}
	if u.CanSync {
		t.Error("system user should not sync")
	}

	if err := db.DeleteUser(ctx, models.SystemUserID); !errors.Is(err, ErrSystemUser) {
		t.Errorf("DeleteUser(system) error = %v, want ErrSystemUser", err)
	}
}

func TestCreateUserPrimaryTokenUnique(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &models.User{Name: "alice", IsPrimaryToken: true}
	if err := db.CreateUser(ctx, first); err != nil {
		t.Fatalf("create first primary: %v", err)
	}
	second := &models.User{Name: "bob", IsPrimaryToken: true}
	if err := db.CreateUser(ctx, second); err != nil {
		t.Fatalf("create second primary: %v", err)
	}

	got, err := db.GetUser(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.IsPrimaryToken {
		t.Error("first user should have lost the primary token flag")
	}
}

func TestWatchlistItemRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "alice")

	added := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	it := &models.WatchlistItem{
		UserID: u.ID,
		Key:    "movie-1",
		Title:  "The Movie",
		Type:   models.ContentTypeMovie,
		Thumb:  "/thumb/1",
		Added:  &added,
		GUIDs:  []models.GUID{"tmdb:42"},
		Genres: []string{"comedy", "drama"},
	}
	if err := db.CreateWatchlistItem(ctx, it); err != nil {
		t.Fatalf("CreateWatchlistItem: %v", err)
	}

	got, err := db.GetWatchlistItem(ctx, u.ID, "movie-1")
	if err != nil {
		t.Fatalf("GetWatchlistItem: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("new item status = %s, want pending", got.Status)
	}
	if got.Title != it.Title || got.Thumb != it.Thumb {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if len(got.GUIDs) != 1 || got.GUIDs[0] != "tmdb:42" {
		t.Errorf("guids = %v, want [tmdb:42]", got.GUIDs)
	}
	if got.Added == nil || !got.Added.Equal(added) {
		t.Errorf("added = %v, want %v", got.Added, added)
	}
}

func TestWatchlistUserKeyUnique(t *testing.T) {
	db := newTestDB(t)
	u := createTestUser(t, db, "alice")
	createTestItem(t, db, u.ID, "dup", models.ContentTypeMovie)

	dup := &models.WatchlistItem{UserID: u.ID, Key: "dup", Title: "x", Type: models.ContentTypeMovie}
	if err := db.CreateWatchlistItem(context.Background(), dup); err == nil {
		t.Fatal("duplicate (user, key) insert should fail")
	}

	// A different user may hold the same key.
	other := createTestUser(t, db, "bob")
	createTestItem(t, db, other.ID, "dup", models.ContentTypeMovie)
}

func TestBulkUpdateWatchlist(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "alice")
	it := createTestItem(t, db, u.ID, "show-1", models.ContentTypeShow)

	requested := models.StatusRequested
	instID := int64(3)
	applied, err := db.BulkUpdateWatchlist(ctx, []models.WatchlistUpdate{
		{UserID: u.ID, Key: "show-1", Status: &requested, SonarrInstanceID: &instID},
		{UserID: u.ID, Key: "missing", Status: &requested}, // never creates
		{UserID: u.ID, Key: "show-1"},                      // empty update
	}, []InstanceJunction{
		{WatchlistItemID: it.ID, InstanceID: instID, InstanceType: models.TargetSonarr,
			Status: models.StatusRequested, IsPrimary: true},
	})
	if err != nil {
		t.Fatalf("BulkUpdateWatchlist: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}

	got, err := db.GetWatchlistItem(ctx, u.ID, "show-1")
	if err != nil {
		t.Fatalf("GetWatchlistItem: %v", err)
	}
	if got.Status != models.StatusRequested {
		t.Errorf("status = %s, want requested", got.Status)
	}
	if got.SonarrInstanceID == nil || *got.SonarrInstanceID != instID {
		t.Errorf("sonarr instance = %v, want %d", got.SonarrInstanceID, instID)
	}

	// Re-applying the junction upsert must not duplicate rows.
	if _, err := db.BulkUpdateWatchlist(ctx, nil, []InstanceJunction{
		{WatchlistItemID: it.ID, InstanceID: instID, InstanceType: models.TargetSonarr,
			Status: models.StatusGrabbed, IsPrimary: true},
	}); err != nil {
		t.Fatalf("junction upsert: %v", err)
	}
}

func TestBulkUpdateRejectsStatusRegression(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "alice")
	createTestItem(t, db, u.ID, "show-1", models.ContentTypeShow)

	notified := models.StatusNotified
	if _, err := db.BulkUpdateWatchlist(ctx, []models.WatchlistUpdate{
		{UserID: u.ID, Key: "show-1", Status: &notified},
	}, nil); err != nil {
		t.Fatalf("advance to notified: %v", err)
	}

	grabbed := models.StatusGrabbed
	_, err := db.BulkUpdateWatchlist(ctx, []models.WatchlistUpdate{
		{UserID: u.ID, Key: "show-1", Status: &grabbed},
	}, nil)
	if !errors.Is(err, ErrStatusRegression) {
		t.Fatalf("downgrade error = %v, want ErrStatusRegression", err)
	}

	got, _ := db.GetWatchlistItem(ctx, u.ID, "show-1")
	if got.Status != models.StatusNotified {
		t.Errorf("status after rejected downgrade = %s, want notified", got.Status)
	}
}

func TestResetWatchlistStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "alice")
	it := createTestItem(t, db, u.ID, "show-1", models.ContentTypeShow)

	notified := models.StatusNotified
	if _, err := db.BulkUpdateWatchlist(ctx, []models.WatchlistUpdate{
		{UserID: u.ID, Key: "show-1", Status: &notified},
	}, nil); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if err := db.ResetWatchlistStatus(ctx, u.ID, "show-1"); err != nil {
		t.Fatalf("ResetWatchlistStatus: %v", err)
	}
	got, _ := db.GetWatchlistItem(ctx, u.ID, "show-1")
	if got.Status != models.StatusPending {
		t.Errorf("status after reset = %s, want pending", got.Status)
	}

	history, err := db.ListStatusHistory(ctx, it.ID)
	if err != nil {
		t.Fatalf("ListStatusHistory: %v", err)
	}
	if len(history) == 0 || history[len(history)-1].Status != models.StatusPending {
		t.Errorf("reset not recorded in history: %+v", history)
	}
}

func TestDeleteWatchlistItemsCascades(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "alice")
	it := createTestItem(t, db, u.ID, "movie-1", models.ContentTypeMovie)

	if err := db.UpsertLabelTracking(ctx, &models.LabelTracking{
		WatchlistID: it.ID, PlexRatingKey: "rk-1", Label: "alice",
	}); err != nil {
		t.Fatalf("UpsertLabelTracking: %v", err)
	}

	if err := db.DeleteWatchlistItems(ctx, u.ID, []string{"movie-1", "never-existed"}); err != nil {
		t.Fatalf("DeleteWatchlistItems: %v", err)
	}
	if _, err := db.GetWatchlistItem(ctx, u.ID, "movie-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("item still present after delete: %v", err)
	}
	labels, err := db.ListLabelsForRatingKey(ctx, "rk-1")
	if err != nil {
		t.Fatalf("ListLabelsForRatingKey: %v", err)
	}
	if len(labels) != 0 {
		t.Errorf("label tracking not cascaded: %+v", labels)
	}
}

func TestApprovalDuplicateAndExpiredReuse(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "alice")

	expires := time.Now().UTC().Add(time.Hour)
	req := &models.ApprovalRequest{
		UserID:       u.ID,
		ContentType:  models.ContentTypeMovie,
		ContentTitle: "The Movie",
		ContentKey:   "movie-1",
		ContentGUIDs: []models.GUID{"tmdb:42"},
		TriggeredBy:  models.TriggerQuotaExceeded,
		ExpiresAt:    &expires,
	}
	if err := db.CreateApprovalRequest(ctx, req); err != nil {
		t.Fatalf("create approval: %v", err)
	}
	firstID := req.ID

	dup := *req
	dup.ID = 0
	if err := db.CreateApprovalRequest(ctx, &dup); !errors.Is(err, ErrDuplicatePending) {
		t.Fatalf("duplicate pending error = %v, want ErrDuplicatePending", err)
	}

	// Expire the first, then a re-request must reuse the same row.
	past := time.Now().UTC().Add(-time.Minute)
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE approval_requests SET expires_at = ? WHERE id = ?`, past, firstID); err != nil {
		t.Fatalf("backdate expiry: %v", err)
	}
	n, err := db.ExpireApprovals(ctx, time.Now().UTC())
	if err != nil || n != 1 {
		t.Fatalf("ExpireApprovals = (%d, %v), want (1, nil)", n, err)
	}

	again := *req
	again.ID = 0
	if err := db.CreateApprovalRequest(ctx, &again); err != nil {
		t.Fatalf("re-request after expiry: %v", err)
	}
	if again.ID != firstID {
		t.Errorf("re-request id = %d, want reused id %d", again.ID, firstID)
	}
	got, _ := db.GetApprovalRequest(ctx, firstID)
	if got.Status != models.ApprovalPending {
		t.Errorf("reused row status = %s, want pending", got.Status)
	}
}

func TestApprovalTerminalTransitions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "alice")

	req := &models.ApprovalRequest{
		UserID: u.ID, ContentType: models.ContentTypeShow,
		ContentTitle: "The Show", ContentKey: "show-1",
		TriggeredBy: models.TriggerUserRequiresApproval,
	}
	if err := db.CreateApprovalRequest(ctx, req); err != nil {
		t.Fatalf("create approval: %v", err)
	}

	approver := int64(models.SystemUserID)
	if err := db.TransitionApproval(ctx, req.ID, models.ApprovalApproved, &approver, "ok"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := db.TransitionApproval(ctx, req.ID, models.ApprovalRejected, nil, ""); !errors.Is(err, ErrTerminalStatus) {
		t.Errorf("transition from terminal error = %v, want ErrTerminalStatus", err)
	}
	if err := db.TransitionApproval(ctx, req.ID, models.ApprovalPending, nil, ""); err == nil {
		t.Error("transition to non-terminal target should fail")
	}
}

func TestQuotaDefaultsAndUsageWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "alice")

	q := &models.Quota{
		UserID: u.ID, ContentType: models.ContentTypeMovie,
		Type: models.QuotaDaily, Limit: 2,
	}
	if err := db.UpsertQuota(ctx, q); err != nil {
		t.Fatalf("UpsertQuota: %v", err)
	}
	got, err := db.GetQuota(ctx, u.ID, models.ContentTypeMovie)
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if got.WeeklyDays != 7 || got.MonthlyReset != 1 || got.MonthEnd != models.MonthEndLastDay {
		t.Errorf("defaults not applied: %+v", got)
	}

	base := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{
		base.Add(-48 * time.Hour),
		base.Add(-2 * time.Hour),
		base.Add(-time.Minute),
	} {
		if err := db.RecordUsage(ctx, u.ID, models.ContentTypeMovie, ts); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}
	n, err := db.CountUsageSince(ctx, u.ID, models.ContentTypeMovie, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountUsageSince: %v", err)
	}
	if n != 2 {
		t.Errorf("usage in window = %d, want 2", n)
	}

	purged, err := db.PurgeUsageBefore(ctx, base.Add(-24*time.Hour))
	if err != nil || purged != 1 {
		t.Fatalf("PurgeUsageBefore = (%d, %v), want (1, nil)", purged, err)
	}
}

func TestJobUpsertPreservesRunBookkeeping(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job := &models.ScheduledJob{
		Name: "watchlist-sync", Type: models.JobInterval, Enabled: true,
		Interval: &models.IntervalConfig{Minutes: 20},
	}
	if err := db.UpsertJob(ctx, job); err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}

	ran := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	next := ran.Add(20 * time.Minute)
	if err := db.RecordJobRun(ctx, "watchlist-sync",
		models.LastRun{Time: ran, Status: models.RunCompleted}, &next); err != nil {
		t.Fatalf("RecordJobRun: %v", err)
	}

	// Re-upserting with a new interval keeps the run history.
	job.Interval.Minutes = 30
	if err := db.UpsertJob(ctx, job); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err := db.GetJob(ctx, "watchlist-sync")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Interval == nil || got.Interval.Minutes != 30 {
		t.Errorf("interval not updated: %+v", got.Interval)
	}
	if got.LastRun == nil || !got.LastRun.Time.Equal(ran) || got.LastRun.Status != models.RunCompleted {
		t.Errorf("last run lost on upsert: %+v", got.LastRun)
	}
	if got.NextRun == nil || got.NextRun.Estimated {
		t.Errorf("next run = %+v, want concrete time", got.NextRun)
	}

	if err := db.SetJobEnabled(ctx, "watchlist-sync", false); err != nil {
		t.Fatalf("SetJobEnabled: %v", err)
	}
	got, _ = db.GetJob(ctx, "watchlist-sync")
	if got.NextRun != nil {
		t.Errorf("next run should clear on disable, got %+v", got.NextRun)
	}
}

func TestLabelTrackingIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "alice")
	it := createTestItem(t, db, u.ID, "movie-1", models.ContentTypeMovie)

	tr := &models.LabelTracking{WatchlistID: it.ID, PlexRatingKey: "rk-9", Label: "alice"}
	for i := 0; i < 3; i++ {
		if err := db.UpsertLabelTracking(ctx, tr); err != nil {
			t.Fatalf("UpsertLabelTracking #%d: %v", i, err)
		}
	}
	labels, err := db.ListLabelsForRatingKey(ctx, "rk-9")
	if err != nil {
		t.Fatalf("ListLabelsForRatingKey: %v", err)
	}
	if len(labels) != 1 {
		t.Errorf("label rows = %d, want 1", len(labels))
	}
}

func TestNotificationDedupNullSeason(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "alice")

	season := 1
	rec := &models.NotificationRecord{
		UserID: &u.ID, Type: models.NotifySeason, Title: "The Show", Season: &season,
		SentToChat: true,
	}
	if err := db.InsertNotification(ctx, rec); err != nil {
		t.Fatalf("InsertNotification: %v", err)
	}

	// A nil season only matches NULL, never the season-1 record.
	if _, err := db.FindNotification(ctx, &u.ID, models.NotifySeason, "The Show", nil, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("nil season lookup = %v, want ErrNotFound", err)
	}
	got, err := db.FindNotification(ctx, &u.ID, models.NotifySeason, "The Show", &season, nil)
	if err != nil {
		t.Fatalf("season lookup: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("found id %d, want %d", got.ID, rec.ID)
	}
}

func TestClaimNotificationInsertsOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "alice")

	first := &models.NotificationRecord{
		UserID: &u.ID, Type: models.NotifyMovie, Title: "The Movie",
	}
	claimed, err := db.ClaimNotification(ctx, first)
	if err != nil {
		t.Fatalf("ClaimNotification: %v", err)
	}
	if !claimed || first.ID == 0 {
		t.Fatalf("first claim = %v id %d, want claimed with id", claimed, first.ID)
	}
	if first.Status != models.NotificationActive {
		t.Errorf("status = %s, want active", first.Status)
	}

	second := &models.NotificationRecord{
		UserID: &u.ID, Type: models.NotifyMovie, Title: "The Movie",
	}
	claimed, err = db.ClaimNotification(ctx, second)
	if err != nil {
		t.Fatalf("second ClaimNotification: %v", err)
	}
	if claimed || second.ID != 0 {
		t.Errorf("second claim = %v id %d, want unclaimed", claimed, second.ID)
	}

	// A different user's claim for the same event is its own key.
	other := createTestUser(t, db, "bob")
	third := &models.NotificationRecord{
		UserID: &other.ID, Type: models.NotifyMovie, Title: "The Movie",
		Status: models.NotificationSynced,
	}
	if claimed, err := db.ClaimNotification(ctx, third); err != nil || !claimed {
		t.Fatalf("other user's claim = %v, %v, want claimed", claimed, err)
	}

	// The event-wide lookup sees the newest record regardless of owner.
	got, err := db.FindNotificationForEvent(ctx, models.NotifyMovie, "The Movie", nil, nil)
	if err != nil {
		t.Fatalf("FindNotificationForEvent: %v", err)
	}
	if got.ID != third.ID {
		t.Errorf("event lookup id = %d, want %d", got.ID, third.ID)
	}

	first.SentToChat = true
	first.SentToPush = true
	if err := db.UpdateNotificationOutcome(ctx, first); err != nil {
		t.Fatalf("UpdateNotificationOutcome: %v", err)
	}
	stored, err := db.FindNotification(ctx, &u.ID, models.NotifyMovie, "The Movie", nil, nil)
	if err != nil {
		t.Fatalf("FindNotification: %v", err)
	}
	if !stored.SentToChat || !stored.SentToPush || stored.SentToEmail {
		t.Errorf("stored channels = %+v", stored)
	}

	if err := db.DeleteNotification(ctx, first.ID); err != nil {
		t.Fatalf("DeleteNotification: %v", err)
	}
	if err := db.DeleteNotification(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestRollingMonitoredLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "alice")
	it := createTestItem(t, db, u.ID, "show-1", models.ContentTypeShow)

	r := &RollingMonitored{
		WatchlistItemID:   it.ID,
		SonarrInstanceID:  1,
		InitialMonitoring: models.MonitorPilotRolling,
	}
	if err := db.CreateRollingMonitored(ctx, r); err != nil {
		t.Fatalf("CreateRollingMonitored: %v", err)
	}
	// Duplicate pair is a no-op.
	if err := db.CreateRollingMonitored(ctx, r); err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	all, err := db.ListRollingMonitored(ctx)
	if err != nil {
		t.Fatalf("ListRollingMonitored: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("rolling rows = %d, want 1", len(all))
	}

	got, err := db.GetRollingMonitored(ctx, it.ID, 1)
	if err != nil {
		t.Fatalf("GetRollingMonitored: %v", err)
	}
	if got.MonitoredSeason != 1 {
		t.Errorf("initial monitored season = %d, want 1", got.MonitoredSeason)
	}

	now := time.Now().UTC()
	if err := db.AdvanceRollingSeason(ctx, got.ID, 2, now); err != nil {
		t.Fatalf("AdvanceRollingSeason: %v", err)
	}
	got, _ = db.GetRollingMonitored(ctx, it.ID, 1)
	if got.MonitoredSeason != 2 {
		t.Errorf("monitored season = %d, want 2", got.MonitoredSeason)
	}

	if err := db.ResetRollingMonitored(ctx, got.ID); err != nil {
		t.Fatalf("ResetRollingMonitored: %v", err)
	}
	got, _ = db.GetRollingMonitored(ctx, it.ID, 1)
	if got.MonitoredSeason != 1 {
		t.Errorf("monitored season after reset = %d, want 1", got.MonitoredSeason)
	}
}
