// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/relayarr/relayarr/internal/arr"
	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/metrics"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/plex"
)

// sessionTimeout bounds the work done for one playback notification.
const sessionTimeout = 30 * time.Second

// HandleSession is the playback websocket callback. It must not block the
// read loop, so the real work runs in its own goroutine.
func (r *Reconciler) HandleSession(ev plex.SessionEvent) {
	if ev.State != "playing" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sessionTimeout)
		defer cancel()
		if err := r.handleSession(ctx, ev); err != nil {
			r.logger.Debug().Err(err).Str("rating_key", ev.RatingKey).
				Msg("Session event not applied")
		}
	}()
}

// handleSession resolves the played entity and, when it is an episode of a
// rolling-monitored show, records the activity and expands monitoring past
// the season being watched.
func (r *Reconciler) handleSession(ctx context.Context, ev plex.SessionEvent) error {
	played, err := r.plex.GetServerItem(ctx, ev.RatingKey)
	if err != nil {
		return err
	}
	if played.Type != "episode" || played.GrandparentRatingKey == "" {
		return nil
	}
	show, err := r.plex.GetServerItem(ctx, played.GrandparentRatingKey)
	if err != nil {
		return err
	}
	if len(show.GUIDs) == 0 {
		return nil
	}

	r.rollingMu.Lock()
	defer r.rollingMu.Unlock()

	rows, err := r.db.ListRollingMonitored(ctx)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	for i := range rows {
		row := &rows[i]
		item, err := r.db.GetWatchlistItemByID(ctx, row.WatchlistItemID)
		if err != nil {
			continue
		}
		if !models.GUIDsIntersect(item.GUIDs, show.GUIDs) {
			continue
		}

		if err := r.db.TouchRollingActivity(ctx, row.ID, now); err != nil {
			r.logger.Warn().Err(err).Int64("rolling_id", row.ID).Msg("Touch activity failed")
		}

		// Nearing the end of the frontier season means the next one
		// should be ready before the viewer gets there.
		if played.SeasonNumber >= row.MonitoredSeason {
			if err := r.expandRolling(ctx, row, item, played, now); err != nil {
				r.logger.Error().Err(err).Str("title", item.Title).
					Msg("Rolling expansion failed")
			}
		}
	}
	return nil
}

// rollingEpisodeSlack is how close to the end of the frontier season the
// viewer must be before the next season is monitored.
const rollingEpisodeSlack = 2

// expandRolling monitors every season up to the one after the played
// episode's season downstream, queues a search for the newly monitored one,
// and records the advance. Expansion waits until the viewer is within
// rollingEpisodeSlack episodes of the season's end.
func (r *Reconciler) expandRolling(ctx context.Context, row *database.RollingMonitored, item *models.WatchlistItem, played *plex.ServerItem, activityAt time.Time) error {
	inst, err := r.db.GetInstance(ctx, row.SonarrInstanceID)
	if err != nil {
		return fmt.Errorf("resolve instance: %w", err)
	}
	client := r.registry.Get(inst)

	tvdbID := guidID(item.GUIDs, "tvdb")
	if tvdbID == 0 {
		return fmt.Errorf("show %q has no tvdb id", item.Title)
	}
	series, err := client.LookupSeriesByTvdbID(ctx, tvdbID)
	if err != nil {
		return err
	}
	if series == nil || series.ID == 0 {
		return fmt.Errorf("show tvdb:%d not managed by instance %d", tvdbID, row.SonarrInstanceID)
	}

	if !nearSeasonEnd(series, played) {
		r.logger.Debug().Str("title", item.Title).Int("season", played.SeasonNumber).
			Int("episode", played.EpisodeNumber).Msg("Mid-season playback; expansion deferred")
		return nil
	}
	nextSeason := played.SeasonNumber + 1

	expanded := false
	for i := range series.Seasons {
		s := &series.Seasons[i]
		if s.SeasonNumber >= 1 && s.SeasonNumber <= nextSeason && !s.Monitored {
			s.Monitored = true
			expanded = true
		}
	}
	if !expanded {
		// Already at or beyond the frontier; nothing to monitor yet.
		return nil
	}

	if err := client.UpdateSeries(ctx, series); err != nil {
		return err
	}
	if err := client.SearchSeason(ctx, series.ID, nextSeason); err != nil {
		r.logger.Warn().Err(err).Str("title", item.Title).Int("season", nextSeason).
			Msg("Season search failed after expansion")
	}
	if err := r.db.AdvanceRollingSeason(ctx, row.ID, nextSeason, activityAt); err != nil {
		return err
	}
	row.MonitoredSeason = nextSeason

	metrics.ReconcileUpdates.WithLabelValues("rolling_advance").Inc()
	r.logger.Info().Str("title", item.Title).Int("season", nextSeason).
		Msg("Rolling monitoring expanded")
	return nil
}

// nearSeasonEnd reports whether the played episode sits within
// rollingEpisodeSlack episodes of its season's end, per the episode counts
// the instance reports. A season without statistics, or an episode without
// an index, counts as near the end.
func nearSeasonEnd(series *arr.Series, played *plex.ServerItem) bool {
	if played.EpisodeNumber <= 0 {
		return true
	}
	for i := range series.Seasons {
		s := &series.Seasons[i]
		if s.SeasonNumber != played.SeasonNumber {
			continue
		}
		if s.Statistics == nil || s.Statistics.TotalEpisodeCount <= 0 {
			return true
		}
		return s.Statistics.TotalEpisodeCount-played.EpisodeNumber <= rollingEpisodeSlack
	}
	return true
}

// RunRolling rewinds rolling-monitored shows with no playback activity for
// the configured window back to their initial monitoring, freeing the
// instance from searching seasons nobody is watching.
func (r *Reconciler) RunRolling(ctx context.Context) error {
	r.rollingMu.Lock()
	defer r.rollingMu.Unlock()

	rows, err := r.db.ListRollingMonitored(ctx)
	if err != nil {
		return err
	}
	cutoff := r.now().UTC().Add(-r.cfg.InactivityReset)

	var firstErr error
	for i := range rows {
		row := &rows[i]
		if row.MonitoredSeason <= 1 || row.LastActivityAt.After(cutoff) {
			continue
		}
		if err := r.rewindRolling(ctx, row); err != nil {
			r.logger.Error().Err(err).Int64("rolling_id", row.ID).Msg("Rolling reset failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// rewindRolling unmonitors everything past season one and resets the
// tracking row.
func (r *Reconciler) rewindRolling(ctx context.Context, row *database.RollingMonitored) error {
	item, err := r.db.GetWatchlistItemByID(ctx, row.WatchlistItemID)
	if err != nil {
		return err
	}
	inst, err := r.db.GetInstance(ctx, row.SonarrInstanceID)
	if err != nil {
		return err
	}
	client := r.registry.Get(inst)

	tvdbID := guidID(item.GUIDs, "tvdb")
	if tvdbID == 0 {
		return fmt.Errorf("show %q has no tvdb id", item.Title)
	}
	series, err := client.LookupSeriesByTvdbID(ctx, tvdbID)
	if err != nil {
		return err
	}
	if series == nil || series.ID == 0 {
		return fmt.Errorf("show tvdb:%d not managed by instance %d", tvdbID, row.SonarrInstanceID)
	}

	for i := range series.Seasons {
		s := &series.Seasons[i]
		s.Monitored = s.SeasonNumber == 1
	}
	if err := client.UpdateSeries(ctx, series); err != nil {
		return err
	}
	if err := r.db.ResetRollingMonitored(ctx, row.ID); err != nil {
		return err
	}

	metrics.ReconcileUpdates.WithLabelValues("rolling_reset").Inc()
	r.logger.Info().Str("title", item.Title).
		Str("initial", string(row.InitialMonitoring)).Msg("Rolling monitoring reset")
	return nil
}
