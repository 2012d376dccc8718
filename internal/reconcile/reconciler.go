// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/approval"
	"github.com/relayarr/relayarr/internal/arr"
	"github.com/relayarr/relayarr/internal/batch"
	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/metrics"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/plex"
	"github.com/relayarr/relayarr/internal/progress"
)

// Config tunes the reconciler.
type Config struct {
	// Concurrency bounds how many instances are swept in parallel.
	Concurrency int
	// InactivityReset is how long a rolling-monitored show may sit without
	// playback before its monitoring rewinds to the initial configuration.
	InactivityReset time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     4,
		InactivityReset: 90 * 24 * time.Hour,
	}
}

// observation is downstream state seen for one watchlist item on one
// instance during a sweep.
type observation struct {
	itemID       int64
	instanceID   int64
	seriesStatus models.SeriesStatus
	movieStatus  models.MovieStatus
	grabbed      bool
}

// Reconciler folds downstream manager state back into the watchlist. It
// never creates items and never regresses a status; downstream observations
// that cannot advance the live status are backfilled into history instead.
type Reconciler struct {
	db        *database.DB
	registry  *arr.Registry
	plex      *plex.Client
	approvals *approval.Engine
	bus       *progress.Bus
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time

	// rollingMu serializes rolling expansion so overlapping session events
	// for the same show cannot double-advance.
	rollingMu sync.Mutex
}

// New builds a reconciler. approvals and bus may be nil.
func New(db *database.DB, registry *arr.Registry, pc *plex.Client, approvals *approval.Engine, bus *progress.Bus, cfg Config) *Reconciler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.InactivityReset <= 0 {
		cfg.InactivityReset = 90 * 24 * time.Hour
	}
	return &Reconciler{
		db:        db,
		registry:  registry,
		plex:      pc,
		approvals: approvals,
		bus:       bus,
		cfg:       cfg,
		logger:    logging.Component("reconcile"),
		now:       time.Now,
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Run executes one full reconcile sweep over both manager flavors.
func (r *Reconciler) Run(ctx context.Context) error {
	var firstErr error
	if err := r.sweep(ctx, models.TargetSonarr); err != nil {
		r.logger.Error().Err(err).Msg("Sonarr sweep failed")
		firstErr = err
	}
	if err := r.sweep(ctx, models.TargetRadarr); err != nil {
		r.logger.Error().Err(err).Msg("Radarr sweep failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sweep fetches every instance's library for one target type, matches it
// against stored items by GUID intersection, and applies the delta in one
// transaction.
func (r *Reconciler) sweep(ctx context.Context, target models.TargetType) error {
	contentType := models.ContentTypeMovie
	if target == models.TargetSonarr {
		contentType = models.ContentTypeShow
	}

	items, err := r.db.ListAllWatchlistItems(ctx, contentType)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	instances, err := r.db.ListInstances(ctx, target)
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}
	if len(instances) == 0 {
		return nil
	}

	r.publish(progress.TypeSync, "fetch", 0,
		fmt.Sprintf("Sweeping %d %s instances", len(instances), target))

	var mu sync.Mutex
	var observations []observation

	results := batch.ForEach(ctx, instances, r.cfg.Concurrency, func(ctx context.Context, inst models.Instance) error {
		obs, err := r.observeInstance(ctx, &inst, items)
		if err != nil {
			return err
		}
		mu.Lock()
		observations = append(observations, obs...)
		mu.Unlock()
		return nil
	}, nil)

	// A failed instance contributes no observations; its items simply see
	// no change this sweep.
	for _, failed := range batch.Failed(results) {
		r.logger.Warn().Err(failed.Err).Str("instance", failed.Item.Name).
			Msg("Instance sweep failed")
	}

	updates, junctions, fulfilled := r.merge(ctx, items, observations)
	if len(updates) > 0 || len(junctions) > 0 {
		applied, err := r.db.BulkUpdateWatchlist(ctx, updates, junctions)
		if err != nil {
			return fmt.Errorf("apply updates: %w", err)
		}
		r.logger.Info().Str("target", string(target)).Int("applied", applied).
			Int("junctions", len(junctions)).Msg("Reconcile sweep applied")
	}

	if r.approvals != nil {
		for _, guids := range fulfilled {
			if _, err := r.approvals.FulfillMatching(ctx, guids); err != nil {
				r.logger.Warn().Err(err).Msg("Approval fulfillment failed")
			}
		}
	}

	r.publish(progress.TypeSync, "done", 100,
		fmt.Sprintf("Swept %s: %d updates", target, len(updates)))
	return batch.FirstError(results)
}

// observeInstance fetches one instance's library and matches it against the
// stored items.
func (r *Reconciler) observeInstance(ctx context.Context, inst *models.Instance, items []models.WatchlistItem) ([]observation, error) {
	client := r.registry.Get(inst)
	var obs []observation

	switch inst.Type {
	case models.TargetSonarr:
		series, err := client.GetAllSeries(ctx)
		if err != nil {
			return nil, err
		}
		for i := range series {
			s := &series[i]
			guids := s.GUIDs()
			status := models.SeriesContinuing
			if s.Ended {
				status = models.SeriesEnded
			}
			for j := range items {
				if models.GUIDsIntersect(guids, items[j].GUIDs) {
					obs = append(obs, observation{
						itemID:       items[j].ID,
						instanceID:   inst.ID,
						seriesStatus: status,
					})
				}
			}
		}

	case models.TargetRadarr:
		movies, err := client.GetAllMovies(ctx)
		if err != nil {
			return nil, err
		}
		for i := range movies {
			m := &movies[i]
			guids := m.GUIDs()
			for j := range items {
				if models.GUIDsIntersect(guids, items[j].GUIDs) {
					obs = append(obs, observation{
						itemID:      items[j].ID,
						instanceID:  inst.ID,
						movieStatus: movieStatusOf(m),
						grabbed:     m.HasFile,
					})
				}
			}
		}
	}
	return obs, nil
}

// movieStatusOf derives the watchlist movie availability from a downstream
// movie record.
func movieStatusOf(m *arr.Movie) models.MovieStatus {
	if m.HasFile {
		return models.MovieAvailable
	}
	return models.MovieUnavailable
}

// merge folds per-instance observations into at most one minimal update per
// item. Status only moves forward; a grabbed observation on an already
// notified item lands in history instead of the live row. Added dates are
// not diffed here: downstream records carry no watchlist added date to
// compare against.
func (r *Reconciler) merge(ctx context.Context, items []models.WatchlistItem, observations []observation) ([]models.WatchlistUpdate, []database.InstanceJunction, [][]models.GUID) {
	byItem := make(map[int64][]observation)
	for _, o := range observations {
		byItem[o.itemID] = append(byItem[o.itemID], o)
	}

	var updates []models.WatchlistUpdate
	var junctions []database.InstanceJunction
	var fulfilled [][]models.GUID

	for i := range items {
		item := &items[i]
		obs := byItem[item.ID]
		if len(obs) == 0 {
			continue
		}
		// Instance order is nondeterministic under the concurrent sweep;
		// sort so the binding choice is stable across runs.
		sort.Slice(obs, func(a, b int) bool { return obs[a].instanceID < obs[b].instanceID })

		update := models.WatchlistUpdate{UserID: item.UserID, Key: item.Key}
		grabbed := false
		for _, o := range obs {
			if o.grabbed {
				grabbed = true
			}
		}

		if item.Type == models.ContentTypeShow {
			if item.SonarrInstanceID == nil {
				update.SonarrInstanceID = &obs[0].instanceID
				metrics.ReconcileUpdates.WithLabelValues("sonarr_instance").Inc()
			}
			if s := obs[0].seriesStatus; s != "" && s != item.SeriesStatus {
				update.SeriesStatus = &s
				metrics.ReconcileUpdates.WithLabelValues("series_status").Inc()
			}
		} else {
			if item.RadarrInstanceID == nil {
				update.RadarrInstanceID = &obs[0].instanceID
				metrics.ReconcileUpdates.WithLabelValues("radarr_instance").Inc()
			}
			if s := obs[0].movieStatus; s != item.MovieStatus {
				if !models.ValidMovieStatus(s) {
					r.logger.Warn().Str("key", item.Key).Str("movie_status", string(s)).
						Msg("Rejecting unknown movie status from downstream")
				} else {
					update.MovieStatus = &s
					metrics.ReconcileUpdates.WithLabelValues("movie_status").Inc()
				}
			}
		}

		desired := models.StatusRequested
		if grabbed {
			desired = models.StatusGrabbed
		}
		switch {
		case item.Status.CanAdvanceTo(desired):
			update.Status = &desired
			metrics.ReconcileUpdates.WithLabelValues("status").Inc()
		case desired == models.StatusGrabbed && item.Status == models.StatusNotified:
			// Too late to move the live row; keep the observation.
			r.backfillGrabbed(ctx, item)
		}

		if grabbed {
			fulfilled = append(fulfilled, item.GUIDs)
		}

		if !update.IsEmpty() {
			updates = append(updates, update)
		}
		for _, o := range obs {
			status := models.StatusRequested
			if o.grabbed {
				status = models.StatusGrabbed
			}
			junctions = append(junctions, database.InstanceJunction{
				WatchlistItemID: item.ID,
				InstanceID:      o.instanceID,
				InstanceType:    item.Type.TargetType(),
				Status:          status,
				IsPrimary:       o.instanceID == primaryInstanceID(item),
			})
		}
	}
	return updates, junctions, fulfilled
}

// backfillGrabbed appends a grabbed observation for an item whose live
// status is already notified, dated at the item's added time so history
// stays chronological.
func (r *Reconciler) backfillGrabbed(ctx context.Context, item *models.WatchlistItem) {
	observedAt := r.now().UTC()
	if item.Added != nil {
		observedAt = item.Added.UTC()
	}
	entry := &models.StatusHistoryEntry{
		WatchlistItemID: item.ID,
		Status:          models.StatusGrabbed,
		ObservedAt:      observedAt,
	}
	if err := r.db.AppendStatusHistory(ctx, entry); err != nil {
		r.logger.Warn().Err(err).Str("key", item.Key).Msg("History backfill failed")
		return
	}
	metrics.ReconcileUpdates.WithLabelValues("history_backfill").Inc()
}

func primaryInstanceID(item *models.WatchlistItem) int64 {
	if item.SonarrInstanceID != nil {
		return *item.SonarrInstanceID
	}
	if item.RadarrInstanceID != nil {
		return *item.RadarrInstanceID
	}
	return 0
}

// HandleDownstreamEvent applies one webhook observation from a manager.
// "Grab" advances matching items to grabbed; "Download" additionally marks
// movie availability and fulfills pending approvals for the content.
func (r *Reconciler) HandleDownstreamEvent(ctx context.Context, target models.TargetType, event string, guids []models.GUID) error {
	if len(guids) == 0 {
		return nil
	}
	contentType := models.ContentTypeMovie
	if target == models.TargetSonarr {
		contentType = models.ContentTypeShow
	}
	items, err := r.db.ListAllWatchlistItems(ctx, contentType)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	var updates []models.WatchlistUpdate
	matched := false
	for i := range items {
		item := &items[i]
		if !models.GUIDsIntersect(item.GUIDs, guids) {
			continue
		}
		matched = true

		update := models.WatchlistUpdate{UserID: item.UserID, Key: item.Key}
		grabbed := models.StatusGrabbed
		switch {
		case item.Status.CanAdvanceTo(grabbed):
			update.Status = &grabbed
			metrics.ReconcileUpdates.WithLabelValues("status").Inc()
		case item.Status == models.StatusNotified:
			r.backfillGrabbed(ctx, item)
		}
		if event == "Download" && item.Type == models.ContentTypeMovie {
			available := models.MovieAvailable
			if item.MovieStatus != available {
				update.MovieStatus = &available
				metrics.ReconcileUpdates.WithLabelValues("movie_status").Inc()
			}
		}
		if !update.IsEmpty() {
			updates = append(updates, update)
		}
	}

	if len(updates) > 0 {
		if _, err := r.db.BulkUpdateWatchlist(ctx, updates, nil); err != nil {
			return fmt.Errorf("apply webhook updates: %w", err)
		}
	}
	if matched && event == "Download" && r.approvals != nil {
		if _, err := r.approvals.FulfillMatching(ctx, guids); err != nil {
			r.logger.Warn().Err(err).Msg("Approval fulfillment failed")
		}
	}
	return nil
}

func (r *Reconciler) publish(t progress.EventType, phase string, pct int, msg string) {
	if r.bus == nil || !r.bus.HasActiveSubscribers() {
		return
	}
	r.bus.Publish(progress.Event{Type: t, Phase: phase, Progress: pct, Message: msg})
}
