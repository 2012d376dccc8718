// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package ingest pulls watchlists from every configured source, classifies
// the entries against the store, and persists the delta. Removal is always
// per-user and per-source: a source that fails to fetch deletes nothing,
// so an upstream outage can never empty a watchlist.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/metadata"
	"github.com/relayarr/relayarr/internal/metrics"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/plex"
	"github.com/relayarr/relayarr/internal/progress"
)

// Processor handles a brand-new pending item: routing, approval gating and
// submission. Implemented by the pipeline; nil disables downstream
// processing (ingest-only mode).
type Processor interface {
	ProcessNewItem(ctx context.Context, user *models.User, item *models.WatchlistItem)
}

// Config tunes the ingestor.
type Config struct {
	// FriendSync enables ingesting friends' shared watchlists.
	FriendSync bool
	// ForceRefresh re-enriches metadata for items already stored.
	ForceRefresh bool
}

// Ingestor owns watchlist acquisition and classification.
type Ingestor struct {
	db        *database.DB
	plex      *plex.Client
	enricher  *metadata.Enricher
	processor Processor
	bus       *progress.Bus
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time

	rssMu   sync.Mutex
	rssSeen map[string]map[models.GUID]bool
}

// New builds an ingestor. processor and bus may be nil.
func New(db *database.DB, pc *plex.Client, enricher *metadata.Enricher, processor Processor, bus *progress.Bus, cfg Config) *Ingestor {
	return &Ingestor{
		db:        db,
		plex:      pc,
		enricher:  enricher,
		processor: processor,
		bus:       bus,
		cfg:       cfg,
		logger:    logging.Component("ingest"),
		now:       time.Now,
		rssSeen:   make(map[string]map[models.GUID]bool),
	}
}

// Run executes one full ingest cycle: the primary account's watchlist,
// then every syncable friend's. Source failures are isolated; one broken
// source never blocks the others and never causes removals.
func (i *Ingestor) Run(ctx context.Context) error {
	var firstErr error
	if err := i.RunSelf(ctx); err != nil {
		i.logger.Error().Err(err).Msg("Self watchlist ingest failed")
		firstErr = err
	}
	if i.cfg.FriendSync {
		if err := i.RunFriends(ctx); err != nil {
			i.logger.Error().Err(err).Msg("Friend watchlist ingest failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RunSelf ingests the primary account's watchlist.
func (i *Ingestor) RunSelf(ctx context.Context) error {
	start := i.now()
	i.publish(progress.TypeSelfWatchlist, "fetch", 0, "Fetching own watchlist")

	items, err := i.plex.GetSelfWatchlist(ctx)
	if err != nil {
		metrics.IngestRuns.WithLabelValues("self", "failed").Inc()
		return fmt.Errorf("fetch self watchlist: %w", err)
	}

	user, err := i.ensurePrimaryUser(ctx)
	if err != nil {
		metrics.IngestRuns.WithLabelValues("self", "failed").Inc()
		return err
	}

	if err := i.reconcileUser(ctx, progress.TypeSelfWatchlist, user, items); err != nil {
		metrics.IngestRuns.WithLabelValues("self", "failed").Inc()
		return err
	}

	metrics.IngestRuns.WithLabelValues("self", "completed").Inc()
	metrics.IngestDuration.WithLabelValues("self").Observe(time.Since(start).Seconds())
	i.publish(progress.TypeSelfWatchlist, "done", 100,
		fmt.Sprintf("Processed %d items", len(items)))
	return nil
}

// RunFriends ingests every syncable friend's shared watchlist. A friend
// whose fetch fails is skipped without touching their stored items.
func (i *Ingestor) RunFriends(ctx context.Context) error {
	start := i.now()
	i.publish(progress.TypeOthersWatchlist, "fetch", 0, "Enumerating friends")

	friends, err := i.plex.GetFriends(ctx)
	if err != nil {
		metrics.IngestRuns.WithLabelValues("friends", "failed").Inc()
		return fmt.Errorf("fetch friends: %w", err)
	}

	var firstErr error
	for idx, friend := range friends {
		user, err := i.ensureFriendUser(ctx, &friend)
		if err != nil {
			i.logger.Error().Err(err).Str("friend", friend.Username).Msg("Ensure friend failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !user.CanSync {
			continue
		}

		pct := (idx + 1) * 100 / len(friends)
		i.publish(progress.TypeOthersWatchlist, "fetch", pct,
			fmt.Sprintf("Fetching watchlist for %s", user.DisplayName()))

		items, err := i.plex.GetFriendWatchlist(ctx, friend.UUID)
		if err != nil {
			// Fetch failure: classification and removal are both skipped
			// for this friend.
			i.logger.Error().Err(err).Str("friend", user.DisplayName()).
				Msg("Friend watchlist fetch failed; stored items untouched")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := i.reconcileUser(ctx, progress.TypeOthersWatchlist, user, items); err != nil {
			i.logger.Error().Err(err).Str("friend", user.DisplayName()).Msg("Reconcile failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	outcome := "completed"
	if firstErr != nil {
		outcome = "failed"
	}
	metrics.IngestRuns.WithLabelValues("friends", outcome).Inc()
	metrics.IngestDuration.WithLabelValues("friends").Observe(time.Since(start).Seconds())
	i.publish(progress.TypeOthersWatchlist, "done", 100, "Friend sync complete")
	return firstErr
}

// reconcileUser classifies fetched items against the user's stored ones
// and persists the delta. Fetch already succeeded when this runs, so keys
// absent from the fetch are genuine removals for this user.
func (i *Ingestor) reconcileUser(ctx context.Context, source progress.EventType, user *models.User, fetched []plex.WatchlistItem) error {
	stored, err := i.db.ListWatchlistItems(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list stored items: %w", err)
	}
	storedByKey := make(map[string]*models.WatchlistItem, len(stored))
	for idx := range stored {
		storedByKey[stored[idx].Key] = &stored[idx]
	}

	seen := make(map[string]bool, len(fetched))
	for idx := range fetched {
		entry := &fetched[idx]
		seen[entry.Key] = true

		if existing, ok := storedByKey[entry.Key]; ok {
			metrics.IngestItems.WithLabelValues("unchanged").Inc()
			if i.cfg.ForceRefresh {
				i.refresh(ctx, existing, entry)
			}
			continue
		}
		if err := i.addItem(ctx, user, entry); err != nil {
			i.logger.Error().Err(err).Str("key", entry.Key).Msg("Add item failed")
		}
	}

	// Per-user removal of keys no longer present upstream.
	var removed []string
	for key := range storedByKey {
		if !seen[key] {
			removed = append(removed, key)
		}
	}
	if len(removed) > 0 {
		if err := i.db.DeleteWatchlistItems(ctx, user.ID, removed); err != nil {
			return fmt.Errorf("delete removed items: %w", err)
		}
		for range removed {
			metrics.IngestItems.WithLabelValues("removed").Inc()
		}
		i.publish(source, "reconcile", 100,
			fmt.Sprintf("Removed %d items for %s", len(removed), user.DisplayName()))
		i.logger.Info().Int64("user_id", user.ID).Int("count", len(removed)).
			Msg("Items left the watchlist")
	}
	return nil
}

// addItem persists one fetched entry. An entry another user already holds
// (same GUIDs) and already routed is linked to the same instances instead
// of being processed as new.
func (i *Ingestor) addItem(ctx context.Context, user *models.User, entry *plex.WatchlistItem) error {
	// Friend list endpoints return sparse entries; complete them before
	// matching and persisting.
	if err := i.enricher.FillDetails(ctx, entry); err != nil {
		i.logger.Warn().Err(err).Str("key", entry.Key).
			Msg("Detail fetch failed; persisting sparse entry")
	}

	item := &models.WatchlistItem{
		UserID: user.ID,
		Key:    entry.Key,
		Title:  entry.Title,
		Type:   entry.Type,
		Thumb:  entry.Thumb,
		Added:  entry.AddedAt,
		GUIDs:  entry.GUIDs,
		Genres: entry.Genres,
		Status: models.StatusPending,
	}

	sibling := i.findRoutedSibling(ctx, item)
	if sibling != nil {
		// Another user already routed this content; link instead of
		// re-submitting.
		item.Status = models.StatusRequested
		item.SonarrInstanceID = sibling.SonarrInstanceID
		item.RadarrInstanceID = sibling.RadarrInstanceID
	}

	if err := i.db.CreateWatchlistItem(ctx, item); err != nil {
		return err
	}

	if sibling != nil {
		metrics.IngestItems.WithLabelValues("linked").Inc()
		i.logger.Debug().Str("key", item.Key).Int64("user_id", user.ID).
			Msg("Linked to already-routed content")
		return nil
	}

	metrics.IngestItems.WithLabelValues("new").Inc()
	if i.processor != nil {
		i.processor.ProcessNewItem(ctx, user, item)
	}
	return nil
}

// findRoutedSibling looks for another user's row holding the same content
// (shared key or intersecting GUIDs) that was already routed downstream.
func (i *Ingestor) findRoutedSibling(ctx context.Context, item *models.WatchlistItem) *models.WatchlistItem {
	siblings, err := i.db.FindWatchlistByKey(ctx, item.Key)
	if err != nil {
		i.logger.Warn().Err(err).Str("key", item.Key).Msg("Sibling lookup failed")
		return nil
	}
	for idx := range siblings {
		s := &siblings[idx]
		if s.UserID == item.UserID {
			continue
		}
		if s.SonarrInstanceID == nil && s.RadarrInstanceID == nil {
			continue
		}
		if s.Key == item.Key || models.GUIDsIntersect(s.GUIDs, item.GUIDs) {
			return s
		}
	}
	return nil
}

// refresh re-enriches a stored item's mutable metadata from the fetched
// entry under force_refresh.
func (i *Ingestor) refresh(ctx context.Context, stored *models.WatchlistItem, entry *plex.WatchlistItem) {
	if err := i.enricher.FillDetails(ctx, entry); err != nil {
		i.logger.Warn().Err(err).Str("key", entry.Key).Msg("Refresh fetch failed")
		return
	}
	if len(entry.GUIDs) == 0 && entry.Thumb == "" {
		return
	}
	stored.Title = entry.Title
	stored.Thumb = entry.Thumb
	stored.GUIDs = entry.GUIDs
	stored.Genres = entry.Genres
	if err := i.db.UpdateWatchlistMetadata(ctx, stored); err != nil {
		i.logger.Warn().Err(err).Str("key", stored.Key).Msg("Refresh persist failed")
	}
}

// ensurePrimaryUser resolves or creates the primary-token user.
func (i *Ingestor) ensurePrimaryUser(ctx context.Context) (*models.User, error) {
	users, err := i.db.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for idx := range users {
		if users[idx].IsPrimaryToken {
			return &users[idx], nil
		}
	}

	account, err := i.plex.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve primary account: %w", err)
	}
	user := &models.User{
		Name:           account.Username,
		PlexUUID:       account.UUID,
		Email:          account.Email,
		CanSync:        true,
		IsPrimaryToken: true,
	}
	if err := i.db.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create primary user: %w", err)
	}
	i.logger.Info().Str("name", user.Name).Msg("Primary user created")
	return user, nil
}

// ensureFriendUser resolves or creates the user row for one friend.
// Friends are created syncable; the operator opts them out.
func (i *Ingestor) ensureFriendUser(ctx context.Context, friend *plex.Friend) (*models.User, error) {
	user, err := i.db.GetUserByPlexUUID(ctx, friend.UUID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	user = &models.User{
		Name:     friend.Username,
		PlexUUID: friend.UUID,
		Email:    friend.Email,
		CanSync:  true,
	}
	if user.Name == "" {
		user.Name = friend.Title
	}
	if err := i.db.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	i.logger.Info().Str("name", user.Name).Msg("Friend user created")
	return user, nil
}

func (i *Ingestor) publish(t progress.EventType, phase string, pct int, msg string) {
	if i.bus == nil || !i.bus.HasActiveSubscribers() {
		return
	}
	i.bus.Publish(progress.Event{Type: t, Phase: phase, Progress: pct, Message: msg})
}
