// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// RuleTypeConditional marks a rule whose criteria is a full condition tree
// rather than a single evaluator's field criteria.
const RuleTypeConditional = "conditional"

// DefaultRulePriority is the routing priority used when a rule has no order.
const DefaultRulePriority = 50

// Operator is a comparison operator usable in rule criteria and condition
// leaves. String comparisons are case-insensitive; array values use set
// semantics.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "notIn"
	OpRegex       Operator = "regex"
	OpGreaterThan Operator = "greaterThan"
	OpLessThan    Operator = "lessThan"
	OpBetween     Operator = "between"
)

// Condition is a sum type: either a leaf {Field, Operator, Value} or a group
// {Op, Children}. Negate applies exactly once at the node where it appears.
type Condition struct {
	// Group fields. Op is "AND" or "OR" when Children is set.
	Op       string      `json:"op,omitempty"`
	Children []Condition `json:"children,omitempty"`

	// Leaf fields.
	Field    string          `json:"field,omitempty"`
	Operator Operator        `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`

	Negate bool `json:"negate,omitempty"`
}

// IsGroup reports whether the condition is an AND/OR group node.
func (c *Condition) IsGroup() bool {
	return len(c.Children) > 0 || c.Op == "AND" || c.Op == "OR"
}

// RouterRule is persisted criteria plus a target and overrides. Type names
// the evaluator that owns the rule ("genre", "year", ...) or "conditional".
// Higher Order wins; ties break on lowest ID.
type RouterRule struct {
	ID                  int64            `json:"id"`
	Name                string           `json:"name"`
	Type                string           `json:"type"`
	Criteria            json.RawMessage  `json:"criteria"`
	Condition           *Condition       `json:"condition,omitempty"`
	TargetType          TargetType       `json:"target_type"`
	TargetInstanceID    int64            `json:"target_instance_id"`
	RootFolder          string           `json:"root_folder,omitempty"`
	QualityProfile      string           `json:"quality_profile,omitempty"`
	Tags                []string         `json:"tags,omitempty"`
	Order               int              `json:"order"`
	Enabled             bool             `json:"enabled"`
	SearchOnAdd         *bool            `json:"search_on_add,omitempty"`
	SeasonMonitoring    SeasonMonitoring `json:"season_monitoring,omitempty"`
	SeriesType          string           `json:"series_type,omitempty"`
	MinimumAvailability string           `json:"minimum_availability,omitempty"`
	Monitor             string           `json:"monitor,omitempty"`
	RequireApproval     bool             `json:"require_approval,omitempty"`
	Metadata            json.RawMessage  `json:"metadata,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Priority returns the rule's routing priority, defaulting when unset.
func (r *RouterRule) Priority() int {
	if r.Order == 0 {
		return DefaultRulePriority
	}
	return r.Order
}

// RoutingAction discriminates a routing decision.
type RoutingAction string

const (
	ActionSkip            RoutingAction = "skip"
	ActionRoute           RoutingAction = "route"
	ActionRequireApproval RoutingAction = "require_approval"
)

// RoutingSpec is one fully resolved submission target. The engine emits one
// spec per chosen instance: the primary carries the winning rule's overrides,
// synced targets carry their own instance defaults.
type RoutingSpec struct {
	InstanceType        TargetType       `json:"instance_type"`
	InstanceID          int64            `json:"instance_id"`
	RootFolder          string           `json:"root_folder,omitempty"`
	QualityProfile      string           `json:"quality_profile,omitempty"`
	Tags                []string         `json:"tags,omitempty"`
	SearchOnAdd         *bool            `json:"search_on_add,omitempty"`
	SeasonMonitoring    SeasonMonitoring `json:"season_monitoring,omitempty"`
	Monitor             string           `json:"monitor,omitempty"`
	SeriesType          string           `json:"series_type,omitempty"`
	MinimumAvailability string           `json:"minimum_availability,omitempty"`
	SyncedInstances     []int64          `json:"synced_instances,omitempty"`
	Priority            int              `json:"priority"`
	RuleID              *int64           `json:"rule_id,omitempty"`
}

// ApprovalTrigger names why an approval was required.
type ApprovalTrigger string

const (
	TriggerQuotaExceeded        ApprovalTrigger = "quota_exceeded"
	TriggerRouterRule           ApprovalTrigger = "router_rule"
	TriggerUserRequiresApproval ApprovalTrigger = "user_requires_approval"
	TriggerManual               ApprovalTrigger = "manual"
)

// ApprovalInfo captures the approval requirement raised by a routing decision
// together with the routing to submit once approved.
type ApprovalInfo struct {
	Reason          string          `json:"reason"`
	TriggeredBy     ApprovalTrigger `json:"triggered_by"`
	ProposedRouting *RoutingSpec    `json:"proposed_routing,omitempty"`
}

// RoutingDecision is the routing engine output for one item: skip, route to
// one or more specs, or require approval first.
type RoutingDecision struct {
	Action   RoutingAction `json:"action"`
	Routing  []RoutingSpec `json:"routing,omitempty"`
	Approval *ApprovalInfo `json:"approval,omitempty"`
}

// Skip returns a skip decision.
func Skip() RoutingDecision {
	return RoutingDecision{Action: ActionSkip}
}

// Route returns a route decision with the given specs.
func Route(specs ...RoutingSpec) RoutingDecision {
	return RoutingDecision{Action: ActionRoute, Routing: specs}
}

// RequireApproval returns a require_approval decision.
func RequireApproval(info ApprovalInfo) RoutingDecision {
	return RoutingDecision{Action: ActionRequireApproval, Approval: &info}
}
