// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package approval gates routing decisions behind operator action. Gates
// are raised by a user flag, a router rule, or an exceeded quota; approving
// a request submits its stored routing and records quota usage. Cross-user
// fulfillment auto-approves pending requests for content that another
// user's routing just made available.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/batch"
	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/metrics"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/progress"
)

// Submitter submits one routing spec for one item downstream. Implemented
// by the reconciler's submit path; the interface breaks the package cycle.
type Submitter interface {
	Submit(ctx context.Context, item *models.WatchlistItem, spec models.RoutingSpec) error
}

// Config tunes request lifecycle.
type Config struct {
	// Expiry is how long a pending request lives before it lapses.
	Expiry time.Duration
	// Retention is how long terminal requests are kept before purge.
	Retention time.Duration
}

// Engine owns the approval request lifecycle.
type Engine struct {
	db        *database.DB
	submitter Submitter
	bus       *progress.Bus
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEngine builds the engine. bus may be nil in tests.
func NewEngine(db *database.DB, submitter Submitter, bus *progress.Bus, cfg Config) *Engine {
	return &Engine{
		db:        db,
		submitter: submitter,
		bus:       bus,
		cfg:       cfg,
		logger:    logging.Component("approval"),
		now:       time.Now,
	}
}

// Gate applies the quota layer on top of a routing decision. A route
// decision from a user whose quota is exhausted (and not bypassed) becomes
// a require_approval carrying the original routing.
func (e *Engine) Gate(ctx context.Context, user *models.User, item *models.WatchlistItem, decision models.RoutingDecision) (models.RoutingDecision, error) {
	if decision.Action != models.ActionRoute || len(decision.Routing) == 0 {
		return decision, nil
	}

	status, err := e.CheckQuota(ctx, user.ID, item.Type, e.now())
	if err != nil {
		return decision, err
	}
	if status == nil || !status.Exceeded || status.Quota.BypassApproval {
		return decision, nil
	}

	proposed := decision.Routing[0]
	return models.RequireApproval(models.ApprovalInfo{
		Reason: fmt.Sprintf("%s quota exceeded: %d/%d since %s",
			status.Quota.Type, status.Usage, status.Quota.Limit,
			status.Since.Format("2006-01-02")),
		TriggeredBy:     models.TriggerQuotaExceeded,
		ProposedRouting: &proposed,
	}), nil
}

// Open persists a pending request for a gated item. A pending duplicate
// for the same (user, key) is reported via database.ErrDuplicatePending.
func (e *Engine) Open(ctx context.Context, user *models.User, item *models.WatchlistItem, info *models.ApprovalInfo) (*models.ApprovalRequest, error) {
	expires := e.now().Add(e.cfg.Expiry).UTC()
	req := &models.ApprovalRequest{
		UserID:       user.ID,
		ContentType:  item.Type,
		ContentTitle: item.Title,
		ContentKey:   item.Key,
		ContentGUIDs: item.GUIDs,
		Proposed:     info.ProposedRouting,
		TriggeredBy:  info.TriggeredBy,
		Reason:       info.Reason,
		ExpiresAt:    &expires,
	}
	if err := e.db.CreateApprovalRequest(ctx, req); err != nil {
		return nil, err
	}

	e.publish(req, "opened")
	e.logger.Info().Int64("request_id", req.ID).Int64("user_id", user.ID).
		Str("key", item.Key).Str("trigger", string(info.TriggeredBy)).
		Msg("Approval request opened")
	return req, nil
}

// Approve transitions the request, submits its stored routing to the
// primary target and every synced instance, and records quota usage.
func (e *Engine) Approve(ctx context.Context, id int64, approvedBy *int64, notes string) error {
	req, err := e.db.GetApprovalRequest(ctx, id)
	if err != nil {
		return err
	}

	if err := e.db.TransitionApproval(ctx, id, models.ApprovalApproved, approvedBy, notes); err != nil {
		return err
	}
	metrics.ApprovalTransitions.WithLabelValues(string(models.ApprovalApproved)).Inc()
	e.publish(req, "approved")

	if req.Proposed == nil {
		e.logger.Warn().Int64("request_id", id).Msg("Approved request has no stored routing")
		return nil
	}

	item, err := e.db.GetWatchlistItem(ctx, req.UserID, req.ContentKey)
	if errors.Is(err, database.ErrNotFound) {
		// The item left every watchlist while the request was pending.
		e.logger.Warn().Int64("request_id", id).Str("key", req.ContentKey).
			Msg("Approved item no longer on any watchlist")
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.submitSpecs(ctx, item, *req.Proposed); err != nil {
		return fmt.Errorf("submit approved routing: %w", err)
	}
	if err := e.db.RecordUsage(ctx, req.UserID, req.ContentType, e.now().UTC()); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}

	// The content is on its way now; pending requests other users opened
	// for the same content need no submission of their own.
	if _, err := e.FulfillMatching(ctx, req.ContentGUIDs); err != nil {
		e.logger.Error().Err(err).Int64("request_id", id).Msg("Cross-user fulfillment failed")
	}
	return nil
}

// submitConcurrency bounds the parallel synced fan-out.
const submitConcurrency = 4

// submitSpecs submits the primary spec, then fans out one spec per synced
// instance built from that instance's own defaults. The fan-out runs in
// parallel; a failed synced target is logged and skipped, the primary
// submission already happened.
func (e *Engine) submitSpecs(ctx context.Context, item *models.WatchlistItem, primary models.RoutingSpec) error {
	if err := e.submitter.Submit(ctx, item, primary); err != nil {
		return err
	}
	if len(primary.SyncedInstances) == 0 {
		return nil
	}

	results := batch.ForEach(ctx, primary.SyncedInstances, submitConcurrency,
		func(ctx context.Context, syncedID int64) error {
			inst, err := e.db.GetInstance(ctx, syncedID)
			if errors.Is(err, database.ErrNotFound) {
				e.logger.Warn().Int64("instance_id", syncedID).Msg("Synced instance gone; skipped")
				return nil
			}
			if err != nil {
				return err
			}
			return e.submitter.Submit(ctx, item, syncedSpec(inst))
		},
		func(done, total int) {
			e.publishFanout(item.Title, done, total)
		})
	for _, failed := range batch.Failed(results) {
		e.logger.Error().Err(failed.Err).Int64("instance_id", failed.Item).
			Msg("Synced submission failed; primary already submitted")
	}
	return nil
}

// syncedSpec builds the spec a synced instance receives: its own defaults,
// never the primary's overrides.
func syncedSpec(inst *models.Instance) models.RoutingSpec {
	d := inst.Defaults
	return models.RoutingSpec{
		InstanceType:        inst.Type,
		InstanceID:          inst.ID,
		RootFolder:          d.RootFolder,
		QualityProfile:      d.QualityProfile,
		Tags:                d.Tags,
		SearchOnAdd:         d.SearchOnAdd,
		SeasonMonitoring:    d.SeasonMonitoring,
		Monitor:             d.Monitor,
		SeriesType:          d.SeriesType,
		MinimumAvailability: d.MinimumAvailability,
		Priority:            models.DefaultRulePriority,
	}
}

func (e *Engine) publishFanout(title string, done, total int) {
	if e.bus == nil || !e.bus.HasActiveSubscribers() || total == 0 {
		return
	}
	e.bus.Publish(progress.Event{
		Type:     progress.TypeApproval,
		Phase:    "submitting",
		Progress: done * 100 / total,
		Message:  fmt.Sprintf("Fanning out %s: %d/%d synced instances", title, done, total),
	})
}

// Reject transitions the request to rejected. No submission happens.
func (e *Engine) Reject(ctx context.Context, id int64, rejectedBy *int64, notes string) error {
	req, err := e.db.GetApprovalRequest(ctx, id)
	if err != nil {
		return err
	}
	if err := e.db.TransitionApproval(ctx, id, models.ApprovalRejected, rejectedBy, notes); err != nil {
		return err
	}
	metrics.ApprovalTransitions.WithLabelValues(string(models.ApprovalRejected)).Inc()
	e.publish(req, "rejected")
	return nil
}

// FulfillMatching auto-approves every pending request whose content GUIDs
// intersect the given set. Used when one user's routing made the content
// available: the other users' requests need no submission of their own.
func (e *Engine) FulfillMatching(ctx context.Context, guids []models.GUID) (int, error) {
	pending, err := e.db.ListPendingApprovals(ctx)
	if err != nil {
		return 0, err
	}

	fulfilled := 0
	for i := range pending {
		req := &pending[i]
		if !models.GUIDsIntersect(req.ContentGUIDs, guids) {
			continue
		}
		err := e.db.TransitionApproval(ctx, req.ID, models.ApprovalApproved,
			nil, models.NoteContentAlreadyAvailable)
		if err != nil {
			e.logger.Error().Err(err).Int64("request_id", req.ID).
				Msg("Cross-user fulfillment failed")
			continue
		}
		metrics.ApprovalTransitions.WithLabelValues(string(models.ApprovalApproved)).Inc()
		e.publish(req, "fulfilled")
		fulfilled++
	}
	if fulfilled > 0 {
		e.logger.Info().Int("count", fulfilled).Msg("Cross-user requests fulfilled")
	}
	return fulfilled, nil
}

// RunMaintenance expires lapsed pending requests and purges terminal ones
// past retention. Registered as a scheduled job.
func (e *Engine) RunMaintenance(ctx context.Context) error {
	now := e.now().UTC()

	expired, err := e.db.ExpireApprovals(ctx, now)
	if err != nil {
		return fmt.Errorf("expire approvals: %w", err)
	}
	for i := 0; i < expired; i++ {
		metrics.ApprovalTransitions.WithLabelValues(string(models.ApprovalExpired)).Inc()
	}

	purged, err := e.db.PurgeTerminalApprovals(ctx, now.Add(-e.cfg.Retention))
	if err != nil {
		return fmt.Errorf("purge approvals: %w", err)
	}

	if _, err := e.db.PurgeUsageBefore(ctx, now.AddDate(0, -2, 0)); err != nil {
		return fmt.Errorf("purge usage: %w", err)
	}

	if expired > 0 || purged > 0 {
		e.logger.Info().Int("expired", expired).Int("purged", purged).
			Msg("Approval maintenance complete")
	}
	return nil
}

func (e *Engine) publish(req *models.ApprovalRequest, phase string) {
	if e.bus == nil || !e.bus.HasActiveSubscribers() {
		return
	}
	e.bus.Publish(progress.Event{
		Type:    progress.TypeApproval,
		Phase:   phase,
		Message: fmt.Sprintf("%s: %s", phase, req.ContentTitle),
		Metadata: map[string]string{
			"request_id": fmt.Sprintf("%d", req.ID),
			"trigger":    string(req.TriggeredBy),
		},
	})
}
