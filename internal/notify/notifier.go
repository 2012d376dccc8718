// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package notify announces acquired content to users over chat, email and
// push. Dispatch is de-duplicated through persisted notification records:
// one (user, type, title, season, episode) tuple is announced at most once.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/metrics"
	"github.com/relayarr/relayarr/internal/models"
)

// ChatSettings is a webhook-style chat channel (Discord-compatible).
type ChatSettings struct {
	Enabled    bool
	WebhookURL string
}

// EmailSettings is SMTP delivery.
type EmailSettings struct {
	Enabled  bool
	Host     string
	Port     int
	From     string
	Username string
	Password string
	UseTLS   bool
}

// PushSettings is a token-authenticated push gateway (Gotify-compatible).
type PushSettings struct {
	Enabled bool
	URL     string
	Token   string
}

// Config enables the dispatch channels.
type Config struct {
	Chat  ChatSettings
	Email EmailSettings
	Push  PushSettings
}

// Notifier owns availability announcements.
type Notifier struct {
	db     *database.DB
	http   *httpclient.Client
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// New builds a notifier.
func New(db *database.DB, hc *httpclient.Client, cfg Config) *Notifier {
	return &Notifier{
		db:     db,
		http:   hc,
		cfg:    cfg,
		logger: logging.Component("notify"),
		now:    time.Now,
	}
}

// Run announces every grabbed item that has not been announced yet, then
// advances it to notified. Items whose dispatch fails on every requested
// channel stay grabbed and are retried next run.
func (n *Notifier) Run(ctx context.Context) error {
	var firstErr error
	for _, ct := range []models.ContentType{models.ContentTypeMovie, models.ContentTypeShow} {
		items, err := n.db.ListAllWatchlistItems(ctx, ct)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		for i := range items {
			item := &items[i]
			if item.Status != models.StatusGrabbed {
				continue
			}
			if err := n.notifyItem(ctx, item); err != nil {
				n.logger.Error().Err(err).Str("key", item.Key).Msg("Notify failed")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// notifyItem announces one item to its owner and records the outcome.
func (n *Notifier) notifyItem(ctx context.Context, item *models.WatchlistItem) error {
	user, err := n.db.GetUser(ctx, item.UserID)
	if err != nil {
		return fmt.Errorf("resolve user %d: %w", item.UserID, err)
	}

	nType := models.NotifyMovie
	if item.Type == models.ContentTypeShow {
		nType = models.NotifySeason
	}

	// Sync detection: the same event announced to another user means the
	// content arrived through that user's acquisition. The event is still
	// recorded, marked synced, with every channel suppressed.
	prior, err := n.db.FindNotificationForEvent(ctx, nType, item.Title, nil, nil)
	switch {
	case err == nil && prior.UserID != nil && *prior.UserID != user.ID:
		synced := &models.NotificationRecord{
			WatchlistItemID: &item.ID,
			UserID:          &user.ID,
			Type:            nType,
			Title:           item.Title,
			Status:          models.NotificationSynced,
		}
		claimed, err := n.db.ClaimNotification(ctx, synced)
		if err != nil {
			return fmt.Errorf("record synced event: %w", err)
		}
		if claimed {
			metrics.NotificationsSent.WithLabelValues("all", "synced").Inc()
		}
		return n.markNotified(ctx, item)
	case err == nil:
		// This user's own record: already announced, advance silently.
		metrics.NotificationsSent.WithLabelValues("all", "suppressed").Inc()
		return n.markNotified(ctx, item)
	case !errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("sync detection lookup: %w", err)
	}

	// Claim before dispatch: the de-dup check and the insert share one
	// transaction, so a concurrent run for the same (user, event) claims
	// nothing and stays silent.
	record := &models.NotificationRecord{
		WatchlistItemID: &item.ID,
		UserID:          &user.ID,
		Type:            nType,
		Title:           item.Title,
	}
	claimed, err := n.db.ClaimNotification(ctx, record)
	if err != nil {
		return fmt.Errorf("claim notification: %w", err)
	}
	if !claimed {
		metrics.NotificationsSent.WithLabelValues("all", "suppressed").Inc()
		return n.markNotified(ctx, item)
	}
	message := fmt.Sprintf("%s is now available", item.Title)

	attempted := 0
	delivered := 0

	if n.cfg.Chat.Enabled && user.Notify.Chat {
		attempted++
		if err := n.sendChat(ctx, user, message); err != nil {
			metrics.NotificationsSent.WithLabelValues("chat", "failed").Inc()
			n.logger.Warn().Err(err).Str("user", user.DisplayName()).Msg("Chat dispatch failed")
		} else {
			metrics.NotificationsSent.WithLabelValues("chat", "sent").Inc()
			record.SentToChat = true
			delivered++
		}
	}
	if n.cfg.Email.Enabled && user.Notify.Email && user.Email != "" {
		attempted++
		if err := n.sendEmail(ctx, user.Email, item.Title, message); err != nil {
			metrics.NotificationsSent.WithLabelValues("email", "failed").Inc()
			n.logger.Warn().Err(err).Str("user", user.DisplayName()).Msg("Email dispatch failed")
		} else {
			metrics.NotificationsSent.WithLabelValues("email", "sent").Inc()
			record.SentToEmail = true
			delivered++
		}
	}
	if n.cfg.Push.Enabled && user.Notify.Push {
		attempted++
		if err := n.sendPush(ctx, item.Title, message); err != nil {
			metrics.NotificationsSent.WithLabelValues("push", "failed").Inc()
			n.logger.Warn().Err(err).Str("user", user.DisplayName()).Msg("Push dispatch failed")
		} else {
			metrics.NotificationsSent.WithLabelValues("push", "sent").Inc()
			record.SentToPush = true
			delivered++
		}
	}

	// Every requested channel failed: release the claim and keep the item
	// grabbed, or the retry next run would be suppressed.
	if attempted > 0 && delivered == 0 {
		if err := n.db.DeleteNotification(ctx, record.ID); err != nil {
			n.logger.Warn().Err(err).Int64("record_id", record.ID).
				Msg("Release failed claim failed")
		}
		return fmt.Errorf("all %d channels failed for %q", attempted, item.Title)
	}

	if err := n.db.UpdateNotificationOutcome(ctx, record); err != nil {
		return fmt.Errorf("record notification outcome: %w", err)
	}
	return n.markNotified(ctx, item)
}

// markNotified advances the item and stamps the notification time.
func (n *Notifier) markNotified(ctx context.Context, item *models.WatchlistItem) error {
	status := models.StatusNotified
	at := n.now().UTC()
	_, err := n.db.BulkUpdateWatchlist(ctx, []models.WatchlistUpdate{{
		UserID:         item.UserID,
		Key:            item.Key,
		Status:         &status,
		LastNotifiedAt: &at,
	}}, nil)
	return err
}
