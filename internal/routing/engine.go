// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package routing decides where a watchlist item goes: which downstream
// instance, with which overrides, and whether an approval gate applies
// first. Rules are persisted criteria evaluated against item facts; the
// highest-order matching rule wins, ties break on lowest id.
package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/metrics"
	"github.com/relayarr/relayarr/internal/models"
)

// Store is the persistence slice the engine needs.
type Store interface {
	ListEnabledRules(ctx context.Context, target models.TargetType) ([]models.RouterRule, error)
	GetInstance(ctx context.Context, id int64) (*models.Instance, error)
	GetDefaultInstance(ctx context.Context, target models.TargetType) (*models.Instance, error)
}

// Engine evaluates rules and produces routing decisions.
type Engine struct {
	store      Store
	evaluators *Registry
	logger     zerolog.Logger
}

// NewEngine builds an engine over the given store with the built-in
// evaluator set.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:      store,
		evaluators: NewRegistry(),
		logger:     logging.Component("routing"),
	}
}

// RegisterEvaluator adds a rule capability to the engine's registry.
func (e *Engine) RegisterEvaluator(ev Evaluator, aliases ...string) {
	e.evaluators.Register(ev, aliases...)
}

// Decide routes one item for one user. The decision is skip (no target),
// route (one spec per chosen instance, synced instances fanned out with
// their own defaults), or require_approval carrying the routing to submit
// once approved.
func (e *Engine) Decide(ctx context.Context, subject *Subject) (models.RoutingDecision, error) {
	target := subject.Item.Type.TargetType()

	rules, err := e.store.ListEnabledRules(ctx, target)
	if err != nil {
		return models.Skip(), fmt.Errorf("list rules: %w", err)
	}

	winner := e.selectRule(rules, subject)

	var primary *models.Instance
	if winner != nil {
		primary, err = e.store.GetInstance(ctx, winner.TargetInstanceID)
		if err != nil {
			return models.Skip(), fmt.Errorf("rule %d target instance: %w", winner.ID, err)
		}
	} else {
		primary, err = e.store.GetDefaultInstance(ctx, target)
		if errors.Is(err, database.ErrNotFound) {
			e.logger.Debug().Str("key", subject.Item.Key).Str("target", string(target)).
				Msg("No default instance; skipping")
			metrics.RoutingDecisions.WithLabelValues(string(models.ActionSkip)).Inc()
			return models.Skip(), nil
		}
		if err != nil {
			return models.Skip(), fmt.Errorf("default instance: %w", err)
		}
	}

	specs, err := e.buildSpecs(ctx, winner, primary)
	if err != nil {
		return models.Skip(), err
	}

	if info := e.approvalFor(winner, subject); info != nil {
		info.ProposedRouting = &specs[0]
		metrics.RoutingDecisions.WithLabelValues(string(models.ActionRequireApproval)).Inc()
		return models.RequireApproval(*info), nil
	}

	metrics.RoutingDecisions.WithLabelValues(string(models.ActionRoute)).Inc()
	return models.Route(specs...), nil
}

// selectRule returns the matching rule with the highest priority, breaking
// ties on lowest id.
func (e *Engine) selectRule(rules []models.RouterRule, subject *Subject) *models.RouterRule {
	var winner *models.RouterRule
	for i := range rules {
		rule := &rules[i]
		if !e.evaluators.matchRule(rule, subject) {
			continue
		}
		if winner == nil ||
			rule.Priority() > winner.Priority() ||
			(rule.Priority() == winner.Priority() && rule.ID < winner.ID) {
			winner = rule
		}
	}
	return winner
}

// buildSpecs resolves the primary spec from the winning rule's overrides
// (falling back to instance defaults per field) and fans out one spec per
// synced instance carrying that instance's own defaults.
func (e *Engine) buildSpecs(ctx context.Context, rule *models.RouterRule, primary *models.Instance) ([]models.RoutingSpec, error) {
	spec := specFromDefaults(primary)
	if rule != nil {
		spec.Priority = rule.Priority()
		id := rule.ID
		spec.RuleID = &id
		if rule.RootFolder != "" {
			spec.RootFolder = rule.RootFolder
		}
		if rule.QualityProfile != "" {
			spec.QualityProfile = rule.QualityProfile
		}
		if len(rule.Tags) > 0 {
			spec.Tags = rule.Tags
		}
		if rule.SearchOnAdd != nil {
			spec.SearchOnAdd = rule.SearchOnAdd
		}
		if rule.SeasonMonitoring != "" {
			spec.SeasonMonitoring = rule.SeasonMonitoring
		}
		if rule.SeriesType != "" {
			spec.SeriesType = rule.SeriesType
		}
		if rule.MinimumAvailability != "" {
			spec.MinimumAvailability = rule.MinimumAvailability
		}
		if rule.Monitor != "" {
			spec.Monitor = rule.Monitor
		}
	}
	spec.SyncedInstances = primary.SyncedInstances

	specs := []models.RoutingSpec{spec}
	for _, syncedID := range primary.SyncedInstances {
		synced, err := e.store.GetInstance(ctx, syncedID)
		if errors.Is(err, database.ErrNotFound) {
			e.logger.Warn().Int64("instance_id", syncedID).
				Msg("Synced instance no longer exists; skipped")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("synced instance %d: %w", syncedID, err)
		}
		specs = append(specs, specFromDefaults(synced))
	}
	return specs, nil
}

// specFromDefaults builds a spec carrying only the instance's own defaults.
func specFromDefaults(inst *models.Instance) models.RoutingSpec {
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

// approvalFor returns the approval requirement raised by the user flag or
// the winning rule, or nil when none applies. Quota-driven approvals are
// layered on by the approval engine, which owns usage windows.
func (e *Engine) approvalFor(rule *models.RouterRule, subject *Subject) *models.ApprovalInfo {
	if subject.User != nil && subject.User.RequiresApproval {
		return &models.ApprovalInfo{
			Reason:      fmt.Sprintf("user %s requires approval", subject.User.DisplayName()),
			TriggeredBy: models.TriggerUserRequiresApproval,
		}
	}
	if rule != nil && rule.RequireApproval {
		return &models.ApprovalInfo{
			Reason:      fmt.Sprintf("rule %q requires approval", rule.Name),
			TriggeredBy: models.TriggerRouterRule,
		}
	}
	return nil
}
