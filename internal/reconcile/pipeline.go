// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package reconcile owns the downstream half of the item lifecycle: the
// submission pipeline that routes new items into Sonarr/Radarr, the sweep
// that folds downstream state back into the watchlist, and rolling
// monitoring expansion driven by playback activity.
package reconcile

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/approval"
	"github.com/relayarr/relayarr/internal/arr"
	"github.com/relayarr/relayarr/internal/batch"
	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/metadata"
	"github.com/relayarr/relayarr/internal/metrics"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/progress"
	"github.com/relayarr/relayarr/internal/routing"
)

// Pipeline carries one new watchlist item from routing decision to
// downstream submission. It is the ingest processor and the approval
// engine's submitter.
type Pipeline struct {
	db       *database.DB
	registry *arr.Registry
	router   *routing.Engine
	enricher *metadata.Enricher
	bus      *progress.Bus
	logger   zerolog.Logger

	// approvals is bound after construction; the approval engine needs the
	// pipeline as its submitter first.
	approvals *approval.Engine
}

// NewPipeline builds the pipeline. bus may be nil. Call BindApprovals
// before processing.
func NewPipeline(db *database.DB, registry *arr.Registry, router *routing.Engine, enricher *metadata.Enricher, bus *progress.Bus) *Pipeline {
	return &Pipeline{
		db:       db,
		registry: registry,
		router:   router,
		enricher: enricher,
		bus:      bus,
		logger:   logging.Component("pipeline"),
	}
}

// BindApprovals wires the approval engine in. Without it, items that need
// approval are left pending and quota gating is off.
func (p *Pipeline) BindApprovals(e *approval.Engine) {
	p.approvals = e
}

// ProcessNewItem routes one freshly ingested item and acts on the decision.
// Failures are logged, never propagated: the item stays pending and the
// next cycle retries it.
func (p *Pipeline) ProcessNewItem(ctx context.Context, user *models.User, item *models.WatchlistItem) {
	facts := p.enricher.Resolve(ctx, item)
	decision, err := p.router.Decide(ctx, &routing.Subject{Item: item, User: user, Facts: facts})
	if err != nil {
		p.logger.Error().Err(err).Str("key", item.Key).Msg("Routing failed")
		return
	}

	if p.approvals != nil {
		decision, err = p.approvals.Gate(ctx, user, item, decision)
		if err != nil {
			p.logger.Error().Err(err).Str("key", item.Key).Msg("Quota gate failed")
			return
		}
	}

	switch decision.Action {
	case models.ActionSkip:
		p.logger.Debug().Str("key", item.Key).Msg("Item not routed")

	case models.ActionRequireApproval:
		if p.approvals == nil {
			p.logger.Warn().Str("key", item.Key).Msg("Approval required but no approval engine bound")
			return
		}
		if _, err := p.approvals.Open(ctx, user, item, decision.Approval); err != nil {
			p.logger.Error().Err(err).Str("key", item.Key).Msg("Open approval failed")
		}

	case models.ActionRoute:
		p.submitAll(ctx, user, item, decision.Routing)
	}
}

// submitConcurrency bounds the parallel synced fan-out.
const submitConcurrency = 4

// submitAll submits the primary spec and then the synced fan-out in
// parallel. A failed primary aborts (no usage recorded, item stays
// pending); a failed synced target is logged and skipped.
func (p *Pipeline) submitAll(ctx context.Context, user *models.User, item *models.WatchlistItem, specs []models.RoutingSpec) {
	if len(specs) == 0 {
		return
	}
	primary := specs[0]
	if err := p.Submit(ctx, item, primary); err != nil {
		p.logger.Error().Err(err).Str("key", item.Key).
			Int64("instance_id", primary.InstanceID).Msg("Primary submission failed")
		return
	}

	results := batch.ForEach(ctx, specs[1:], submitConcurrency,
		func(ctx context.Context, spec models.RoutingSpec) error {
			return p.Submit(ctx, item, spec)
		},
		func(done, total int) {
			p.publishFanout(item.Title, done, total)
		})
	for _, failed := range batch.Failed(results) {
		p.logger.Error().Err(failed.Err).Str("key", item.Key).
			Int64("instance_id", failed.Item.InstanceID).Msg("Synced submission failed")
	}

	if err := p.markRequested(ctx, item, specs); err != nil {
		p.logger.Error().Err(err).Str("key", item.Key).Msg("Persist requested status failed")
	}
	if err := p.db.RecordUsage(ctx, user.ID, item.Type, nowUTC()); err != nil {
		p.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("Record usage failed")
	}
}

func (p *Pipeline) publishFanout(title string, done, total int) {
	if p.bus == nil || !p.bus.HasActiveSubscribers() || total == 0 {
		return
	}
	p.bus.Publish(progress.Event{
		Type:     progress.TypeSync,
		Phase:    "submitting",
		Progress: done * 100 / total,
		Message:  fmt.Sprintf("Fanning out %s: %d/%d synced instances", title, done, total),
	})
}

// markRequested advances the item to requested and records the instance
// bindings, with one junction row per submitted instance.
func (p *Pipeline) markRequested(ctx context.Context, item *models.WatchlistItem, specs []models.RoutingSpec) error {
	status := models.StatusRequested
	update := models.WatchlistUpdate{UserID: item.UserID, Key: item.Key, Status: &status}

	primary := specs[0]
	switch primary.InstanceType {
	case models.TargetSonarr:
		update.SonarrInstanceID = &primary.InstanceID
	case models.TargetRadarr:
		update.RadarrInstanceID = &primary.InstanceID
	}

	junctions := make([]database.InstanceJunction, 0, len(specs))
	for i, spec := range specs {
		junctions = append(junctions, database.InstanceJunction{
			WatchlistItemID: item.ID,
			InstanceID:      spec.InstanceID,
			InstanceType:    spec.InstanceType,
			Status:          models.StatusRequested,
			IsPrimary:       i == 0,
		})
	}

	_, err := p.db.BulkUpdateWatchlist(ctx, []models.WatchlistUpdate{update}, junctions)
	if err != nil {
		return err
	}
	item.Status = models.StatusRequested
	return nil
}

// Submit sends one routing spec to its instance. Content already managed by
// the instance is a success, not a duplicate error.
func (p *Pipeline) Submit(ctx context.Context, item *models.WatchlistItem, spec models.RoutingSpec) error {
	inst, err := p.db.GetInstance(ctx, spec.InstanceID)
	if err != nil {
		return fmt.Errorf("resolve instance %d: %w", spec.InstanceID, err)
	}
	client := p.registry.Get(inst)

	switch spec.InstanceType {
	case models.TargetSonarr:
		err = p.submitSeries(ctx, client, item, spec)
	case models.TargetRadarr:
		err = p.submitMovie(ctx, client, item, spec)
	default:
		err = fmt.Errorf("unknown instance type %q", spec.InstanceType)
	}

	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	metrics.Submissions.WithLabelValues(string(spec.InstanceType), outcome).Inc()
	return err
}

func (p *Pipeline) submitSeries(ctx context.Context, client *arr.Client, item *models.WatchlistItem, spec models.RoutingSpec) error {
	tvdbID := guidID(item.GUIDs, "tvdb")
	if tvdbID == 0 {
		return fmt.Errorf("series %q has no tvdb id", item.Title)
	}

	lookup, err := client.LookupSeriesByTvdbID(ctx, tvdbID)
	if err != nil {
		return err
	}
	if lookup == nil {
		return fmt.Errorf("series tvdb:%d unknown to instance", tvdbID)
	}
	if lookup.ID > 0 {
		p.logger.Debug().Str("title", item.Title).Int64("instance_id", spec.InstanceID).
			Msg("Series already managed")
		return nil
	}

	rootFolder, err := client.ResolveRootFolder(ctx, spec.RootFolder)
	if err != nil {
		return err
	}
	profileID, err := client.ResolveQualityProfile(ctx, spec.QualityProfile)
	if err != nil {
		return err
	}
	tags, err := client.EnsureTags(ctx, spec.Tags)
	if err != nil {
		return err
	}

	added, err := client.AddSeries(ctx, lookup, arr.AddSeriesOptions{
		RootFolder:       rootFolder,
		QualityProfileID: profileID,
		Tags:             tags,
		SearchOnAdd:      searchOnAdd(spec.SearchOnAdd),
		Monitoring:       spec.SeasonMonitoring,
		SeriesType:       spec.SeriesType,
	})
	if err != nil {
		return err
	}

	if spec.SeasonMonitoring.IsRolling() {
		err := p.db.CreateRollingMonitored(ctx, &database.RollingMonitored{
			WatchlistItemID:   item.ID,
			SonarrInstanceID:  spec.InstanceID,
			InitialMonitoring: spec.SeasonMonitoring,
		})
		if err != nil {
			p.logger.Error().Err(err).Str("title", added.Title).
				Msg("Record rolling monitoring failed")
		}
	}
	return nil
}

func (p *Pipeline) submitMovie(ctx context.Context, client *arr.Client, item *models.WatchlistItem, spec models.RoutingSpec) error {
	tmdbID := metadata.TmdbID(item.GUIDs)
	if tmdbID == 0 {
		return fmt.Errorf("movie %q has no tmdb id", item.Title)
	}

	lookup, err := client.LookupMovieByTmdbID(ctx, tmdbID)
	if err != nil {
		return err
	}
	if lookup == nil {
		return fmt.Errorf("movie tmdb:%d unknown to instance", tmdbID)
	}
	if lookup.ID > 0 {
		p.logger.Debug().Str("title", item.Title).Int64("instance_id", spec.InstanceID).
			Msg("Movie already managed")
		return nil
	}

	rootFolder, err := client.ResolveRootFolder(ctx, spec.RootFolder)
	if err != nil {
		return err
	}
	profileID, err := client.ResolveQualityProfile(ctx, spec.QualityProfile)
	if err != nil {
		return err
	}
	tags, err := client.EnsureTags(ctx, spec.Tags)
	if err != nil {
		return err
	}

	_, err = client.AddMovie(ctx, lookup, arr.AddMovieOptions{
		RootFolder:          rootFolder,
		QualityProfileID:    profileID,
		Tags:                tags,
		SearchOnAdd:         searchOnAdd(spec.SearchOnAdd),
		Monitor:             spec.Monitor,
		MinimumAvailability: spec.MinimumAvailability,
	})
	return err
}

// searchOnAdd defaults to true when the spec carries no preference.
func searchOnAdd(v *bool) bool {
	return v == nil || *v
}

// guidID extracts the numeric id for one source from a normalized GUID set.
func guidID(guids []models.GUID, source string) int64 {
	for _, g := range guids {
		if g.Source() != source {
			continue
		}
		id, err := strconv.ParseInt(g.Value(), 10, 64)
		if err == nil && id > 0 {
			return id
		}
	}
	return 0
}
