// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package labelsync mirrors watchlist ownership into library labels. Every
// matched library entity carries one label per current owner, rendered from
// the configured format, plus optionally the tags its downstream record
// carries. Only labels recorded in the tracking table are ever removed.
package labelsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/arr"
	"github.com/relayarr/relayarr/internal/batch"
	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/metrics"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/plex"
	"github.com/relayarr/relayarr/internal/progress"
)

// RemovedUserPolicy decides what happens to a tracked label whose user no
// longer exists.
type RemovedUserPolicy string

const (
	// RemovedUserKeep retains the label for history.
	RemovedUserKeep RemovedUserPolicy = "keep"
	// RemovedUserRemove deletes the label.
	RemovedUserRemove RemovedUserPolicy = "remove"
	// RemovedUserSpecial replaces the label with a fixed one.
	RemovedUserSpecial RemovedUserPolicy = "special"
)

// Config controls label rendering and sync behavior.
type Config struct {
	// LabelFormat renders a user's label; {user} expands to the display name.
	LabelFormat       string
	RemovedUserPolicy RemovedUserPolicy
	// SpecialLabel is applied under the special policy.
	SpecialLabel string
	// MirrorTags also applies the downstream record's tags as labels.
	MirrorTags bool
	// Concurrency bounds parallel library mutations, 1 to 20.
	Concurrency int
}

// DefaultConfig returns the stock sync settings.
func DefaultConfig() Config {
	return Config{
		LabelFormat:       "relayarr:{user}",
		RemovedUserPolicy: RemovedUserKeep,
		SpecialLabel:      "relayarr:removed",
		Concurrency:       4,
	}
}

// Syncer reconciles library labels against watchlist ownership.
type Syncer struct {
	db       *database.DB
	plex     *plex.Client
	registry *arr.Registry
	bus      *progress.Bus
	cfg      Config
	logger   zerolog.Logger
}

// New builds a syncer. The bus may be nil.
func New(db *database.DB, pc *plex.Client, registry *arr.Registry, bus *progress.Bus, cfg Config) *Syncer {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Concurrency > 20 {
		cfg.Concurrency = 20
	}
	return &Syncer{
		db:       db,
		plex:     pc,
		registry: registry,
		bus:      bus,
		cfg:      cfg,
		logger:   logging.Component("labelsync"),
	}
}

// owner pairs a watchlist item with the user holding it.
type owner struct {
	item *models.WatchlistItem
	user *models.User
}

// entityPlan is the per-library-entity work unit.
type entityPlan struct {
	lib      plex.LibraryItem
	owners   []owner
	mirrored []mirroredTag
}

// mirroredTag is one downstream tag to surface as a label, attributed to the
// watchlist item whose record carries it.
type mirroredTag struct {
	label       string
	watchlistID int64
}

// Run reconciles every library entity that matches a watchlist item. Adds
// missing owner labels, removes stale tracked ones, and applies the
// removed-user policy to labels of users that no longer exist.
func (s *Syncer) Run(ctx context.Context) error {
	users, err := s.db.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	byID := make(map[int64]*models.User, len(users))
	knownNames := make(map[string]bool, len(users))
	for i := range users {
		u := &users[i]
		byID[u.ID] = u
		knownNames[strings.ToLower(u.Name)] = true
		if u.Alias != "" {
			knownNames[strings.ToLower(u.Alias)] = true
		}
	}

	var watchlist []models.WatchlistItem
	for _, ct := range []models.ContentType{models.ContentTypeMovie, models.ContentTypeShow} {
		items, err := s.db.ListAllWatchlistItems(ctx, ct)
		if err != nil {
			return fmt.Errorf("list watchlist: %w", err)
		}
		watchlist = append(watchlist, items...)
	}

	library, err := s.plex.GetLibraryItems(ctx)
	if err != nil {
		return fmt.Errorf("fetch library: %w", err)
	}

	var mirror *mirrorIndex
	if s.cfg.MirrorTags {
		mirror, err = s.buildMirror(ctx)
		if err != nil {
			// Mirroring is best-effort; owner labels still sync.
			s.logger.Warn().Err(err).Msg("Downstream tag mirror unavailable")
			mirror = nil
		}
	}

	// Entities with tracked labels stay in scope even after their last
	// owner leaves, so stale labels still come off.
	allTracked, err := s.db.ListAllLabelTracking(ctx)
	if err != nil {
		return fmt.Errorf("list tracking: %w", err)
	}
	trackedKeys := make(map[string]bool, len(allTracked))
	for _, t := range allTracked {
		trackedKeys[t.PlexRatingKey] = true
	}

	plans := make([]entityPlan, 0, len(library))
	for _, lib := range library {
		plan := entityPlan{lib: lib}
		for i := range watchlist {
			item := &watchlist[i]
			if item.Type != lib.Type || !models.GUIDsIntersect(item.GUIDs, lib.GUIDs) {
				continue
			}
			u := byID[item.UserID]
			if u == nil {
				continue
			}
			plan.owners = append(plan.owners, owner{item: item, user: u})
		}
		if len(plan.owners) == 0 && !trackedKeys[lib.RatingKey] {
			continue
		}
		if mirror != nil && len(plan.owners) > 0 {
			plan.mirrored = mirror.tagsFor(lib.GUIDs, plan.owners[0].item.ID)
		}
		plans = append(plans, plan)
	}

	opID := uuid.NewString()
	s.publish(opID, progress.TypeSonarrTagging, "sync", 0,
		fmt.Sprintf("Syncing labels on %d library entities", len(plans)))

	var mu sync.Mutex
	added, removed := 0, 0
	results := batch.ForEach(ctx, plans, s.cfg.Concurrency, func(ctx context.Context, p entityPlan) error {
		a, r, err := s.syncEntity(ctx, p, knownNames)
		mu.Lock()
		added += a
		removed += r
		mu.Unlock()
		return err
	}, nil)
	for _, f := range batch.Failed(results) {
		s.logger.Error().Err(f.Err).Str("title", f.Item.lib.Title).Msg("Entity label sync failed")
	}

	s.publish(opID, progress.TypeSonarrTagging, "done", 100,
		fmt.Sprintf("Label sync complete, %d added, %d removed", added, removed))
	s.logger.Info().Int("entities", len(plans)).Int("added", added).Int("removed", removed).
		Msg("Label sync finished")
	return batch.FirstError(results)
}

// syncEntity applies the label delta for one library entity.
func (s *Syncer) syncEntity(ctx context.Context, p entityPlan, knownNames map[string]bool) (added, removed int, err error) {
	// desired maps label to the watchlist item that justifies it.
	desired := make(map[string]int64, len(p.owners)+len(p.mirrored))
	for _, o := range p.owners {
		desired[s.userLabel(o.user.DisplayName())] = o.item.ID
	}
	for _, m := range p.mirrored {
		if _, ok := desired[m.label]; !ok {
			desired[m.label] = m.watchlistID
		}
	}

	current := make(map[string]bool, len(p.lib.Labels))
	for _, l := range p.lib.Labels {
		current[l] = true
	}

	tracked, err := s.db.ListLabelsForRatingKey(ctx, p.lib.RatingKey)
	if err != nil {
		return 0, 0, fmt.Errorf("list tracked labels: %w", err)
	}
	trackedSet := make(map[string]*models.LabelTracking, len(tracked))
	for i := range tracked {
		trackedSet[tracked[i].Label] = &tracked[i]
	}

	for label, watchlistID := range desired {
		if !current[label] {
			if err := s.plex.AddLabel(ctx, p.lib, label); err != nil {
				return added, removed, fmt.Errorf("add label %q: %w", label, err)
			}
			metrics.LabelMutations.WithLabelValues("add").Inc()
			added++
		}
		// Track even when the label already exists so it can be cleaned up
		// later. The upsert is idempotent.
		t := &models.LabelTracking{
			WatchlistID:   watchlistID,
			PlexRatingKey: p.lib.RatingKey,
			Label:         label,
		}
		if err := s.db.UpsertLabelTracking(ctx, t); err != nil {
			return added, removed, fmt.Errorf("track label %q: %w", label, err)
		}
	}

	for label, row := range trackedSet {
		if _, want := desired[label]; want {
			continue
		}
		name, isUserLabel := s.parseUserLabel(label)
		if isUserLabel && !knownNames[strings.ToLower(name)] {
			switch s.cfg.RemovedUserPolicy {
			case RemovedUserKeep:
				continue
			case RemovedUserSpecial:
				if s.cfg.SpecialLabel != "" && !current[s.cfg.SpecialLabel] {
					if err := s.plex.AddLabel(ctx, p.lib, s.cfg.SpecialLabel); err != nil {
						return added, removed, fmt.Errorf("add special label: %w", err)
					}
					metrics.LabelMutations.WithLabelValues("add").Inc()
					current[s.cfg.SpecialLabel] = true
					added++
					t := &models.LabelTracking{
						WatchlistID:   row.WatchlistID,
						PlexRatingKey: p.lib.RatingKey,
						Label:         s.cfg.SpecialLabel,
					}
					if err := s.db.UpsertLabelTracking(ctx, t); err != nil {
						return added, removed, err
					}
				}
			}
		}
		if current[label] {
			if err := s.plex.RemoveLabel(ctx, p.lib, label); err != nil {
				return added, removed, fmt.Errorf("remove label %q: %w", label, err)
			}
			metrics.LabelMutations.WithLabelValues("remove").Inc()
			removed++
		}
		if err := s.db.DeleteLabelTracking(ctx, row.WatchlistID, p.lib.RatingKey, label); err != nil {
			return added, removed, fmt.Errorf("untrack label %q: %w", label, err)
		}
	}
	return added, removed, nil
}

// Cleanup removes labels whose watchlist item no longer exists, then drops
// the orphaned tracking rows. Returns how many rows were removed.
func (s *Syncer) Cleanup(ctx context.Context) (int, error) {
	tracked, err := s.db.ListAllLabelTracking(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tracking: %w", err)
	}

	orphans := make([]models.LabelTracking, 0)
	for _, t := range tracked {
		_, err := s.db.GetWatchlistItemByID(ctx, t.WatchlistID)
		switch {
		case err == nil:
		case isNotFound(err):
			orphans = append(orphans, t)
		default:
			return 0, fmt.Errorf("resolve watchlist item %d: %w", t.WatchlistID, err)
		}
	}
	if len(orphans) > 0 {
		if err := s.stripLabels(ctx, orphans, progress.TypeSonarrTagRemoval); err != nil {
			return 0, err
		}
	}

	n, err := s.db.DeleteOrphanedLabelTracking(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("rows", n).Msg("Orphaned label tracking removed")
	}
	return n, nil
}

// RemoveAll strips every label the system applied. When deleteDefinitions is
// set, matching downstream tag definitions are deleted as well.
func (s *Syncer) RemoveAll(ctx context.Context, deleteDefinitions bool) error {
	tracked, err := s.db.ListAllLabelTracking(ctx)
	if err != nil {
		return fmt.Errorf("list tracking: %w", err)
	}
	if err := s.stripLabels(ctx, tracked, progress.TypeRadarrTagRemoval); err != nil {
		return err
	}
	for _, t := range tracked {
		if err := s.db.DeleteLabelTracking(ctx, t.WatchlistID, t.PlexRatingKey, t.Label); err != nil {
			return fmt.Errorf("untrack label %q: %w", t.Label, err)
		}
	}

	if deleteDefinitions {
		if err := s.deleteTagDefinitions(ctx); err != nil {
			return err
		}
	}
	return nil
}

// stripLabels removes the tracked labels from the library, skipping entities
// that are gone and labels that are already absent.
func (s *Syncer) stripLabels(ctx context.Context, rows []models.LabelTracking, evType progress.EventType) error {
	if len(rows) == 0 {
		return nil
	}
	library, err := s.plex.GetLibraryItems(ctx)
	if err != nil {
		return fmt.Errorf("fetch library: %w", err)
	}
	byKey := make(map[string]plex.LibraryItem, len(library))
	for _, lib := range library {
		byKey[lib.RatingKey] = lib
	}

	opID := uuid.NewString()
	s.publish(opID, evType, "remove", 0, fmt.Sprintf("Removing %d tracked labels", len(rows)))
	results := batch.ForEach(ctx, rows, s.cfg.Concurrency, func(ctx context.Context, t models.LabelTracking) error {
		lib, ok := byKey[t.PlexRatingKey]
		if !ok || !containsLabel(lib.Labels, t.Label) {
			return nil
		}
		if err := s.plex.RemoveLabel(ctx, lib, t.Label); err != nil {
			return fmt.Errorf("remove label %q from %s: %w", t.Label, t.PlexRatingKey, err)
		}
		metrics.LabelMutations.WithLabelValues("remove").Inc()
		return nil
	}, nil)
	s.publish(opID, evType, "done", 100, "Tracked label removal complete")
	return batch.FirstError(results)
}

// deleteTagDefinitions removes downstream tag definitions rendered by the
// configured label format.
func (s *Syncer) deleteTagDefinitions(ctx context.Context) error {
	prefix, _, ok := strings.Cut(s.cfg.LabelFormat, "{user}")
	if !ok || prefix == "" {
		return nil
	}
	for _, target := range []models.TargetType{models.TargetSonarr, models.TargetRadarr} {
		instances, err := s.db.ListInstances(ctx, target)
		if err != nil {
			return fmt.Errorf("list %s instances: %w", target, err)
		}
		for i := range instances {
			client := s.registry.Get(&instances[i])
			tags, err := client.GetTags(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Str("instance", instances[i].Name).
					Msg("Tag listing failed, definitions kept")
				continue
			}
			for _, tag := range tags {
				if !strings.HasPrefix(strings.ToLower(tag.Label), strings.ToLower(prefix)) {
					continue
				}
				if err := client.DeleteTag(ctx, tag.ID); err != nil {
					s.logger.Warn().Err(err).Str("tag", tag.Label).
						Str("instance", instances[i].Name).Msg("Tag definition delete failed")
				}
			}
		}
	}
	return nil
}

// mirrorIndex maps downstream records to their tag labels for mirroring.
type mirrorIndex struct {
	entries []mirrorEntry
}

type mirrorEntry struct {
	guids []models.GUID
	tags  []string
}

// buildMirror snapshots every instance's records and tag labels.
func (s *Syncer) buildMirror(ctx context.Context) (*mirrorIndex, error) {
	idx := &mirrorIndex{}
	for _, target := range []models.TargetType{models.TargetSonarr, models.TargetRadarr} {
		instances, err := s.db.ListInstances(ctx, target)
		if err != nil {
			return nil, err
		}
		for i := range instances {
			inst := &instances[i]
			client := s.registry.Get(inst)
			tags, err := client.GetTags(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Str("instance", inst.Name).Msg("Tag fetch failed, instance skipped")
				continue
			}
			tagNames := make(map[int]string, len(tags))
			for _, t := range tags {
				tagNames[t.ID] = t.Label
			}

			if target == models.TargetSonarr {
				series, err := client.GetAllSeries(ctx)
				if err != nil {
					s.logger.Warn().Err(err).Str("instance", inst.Name).Msg("Series fetch failed, instance skipped")
					continue
				}
				for j := range series {
					if len(series[j].Tags) == 0 {
						continue
					}
					idx.entries = append(idx.entries, mirrorEntry{
						guids: series[j].GUIDs(),
						tags:  resolveTagNames(series[j].Tags, tagNames),
					})
				}
			} else {
				movies, err := client.GetAllMovies(ctx)
				if err != nil {
					s.logger.Warn().Err(err).Str("instance", inst.Name).Msg("Movie fetch failed, instance skipped")
					continue
				}
				for j := range movies {
					if len(movies[j].Tags) == 0 {
						continue
					}
					idx.entries = append(idx.entries, mirrorEntry{
						guids: movies[j].GUIDs(),
						tags:  resolveTagNames(movies[j].Tags, tagNames),
					})
				}
			}
		}
	}
	return idx, nil
}

// tagsFor returns the mirrored tags of every downstream record sharing a
// GUID with the entity, attributed to the given watchlist item.
func (idx *mirrorIndex) tagsFor(guids []models.GUID, watchlistID int64) []mirroredTag {
	var out []mirroredTag
	seen := make(map[string]bool)
	for _, e := range idx.entries {
		if !models.GUIDsIntersect(e.guids, guids) {
			continue
		}
		for _, tag := range e.tags {
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, mirroredTag{label: tag, watchlistID: watchlistID})
		}
	}
	return out
}

func resolveTagNames(ids []int, names map[int]string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name := names[id]; name != "" {
			out = append(out, name)
		}
	}
	return out
}

// userLabel renders the label for one user.
func (s *Syncer) userLabel(name string) string {
	return strings.ReplaceAll(s.cfg.LabelFormat, "{user}", name)
}

// parseUserLabel inverts the label format, returning the embedded user name.
func (s *Syncer) parseUserLabel(label string) (string, bool) {
	prefix, suffix, ok := strings.Cut(s.cfg.LabelFormat, "{user}")
	if !ok {
		return "", false
	}
	if !strings.HasPrefix(label, prefix) || !strings.HasSuffix(label, suffix) {
		return "", false
	}
	name := label[len(prefix) : len(label)-len(suffix)]
	return name, name != ""
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}

func (s *Syncer) publish(opID string, t progress.EventType, phase string, pct int, msg string) {
	if s.bus == nil || !s.bus.HasActiveSubscribers() {
		return
	}
	s.bus.Publish(progress.Event{
		OperationID: opID,
		Type:        t,
		Phase:       phase,
		Progress:    pct,
		Message:     msg,
	})
}
