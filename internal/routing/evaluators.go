// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package routing

import (
	"github.com/goccy/go-json"

	"github.com/relayarr/relayarr/internal/metadata"
	"github.com/relayarr/relayarr/internal/models"
)

// Subject bundles the inputs a rule evaluates against.
type Subject struct {
	Item  *models.WatchlistItem
	User  *models.User
	Facts *metadata.Facts
}

// resolveField extracts a fact by name. ok is false when the fact is
// unknown or empty for this item; an unknown fact never matches, negated
// or not.
func (s *Subject) resolveField(name string) (fieldValue, bool) {
	facts := s.Facts
	if facts == nil {
		facts = &metadata.Facts{Genres: s.Item.Genres}
	}

	switch name {
	case "genre", "genres":
		if len(facts.Genres) == 0 {
			return nil, false
		}
		return facts.Genres, true
	case "language":
		if facts.Language == nil || *facts.Language == "" {
			return nil, false
		}
		return *facts.Language, true
	case "certification":
		if facts.Certification == nil || *facts.Certification == "" {
			return nil, false
		}
		return *facts.Certification, true
	case "year":
		if facts.Year == nil {
			return nil, false
		}
		return float64(*facts.Year), true
	case "rating":
		if facts.Rating == nil {
			return nil, false
		}
		return *facts.Rating, true
	case "seasonCount", "season_count":
		if facts.SeasonCount == nil {
			return nil, false
		}
		return float64(*facts.SeasonCount), true
	case "streamingProvider", "streaming_provider", "provider":
		if !facts.ProvidersKnown || len(facts.Providers) == 0 {
			return nil, false
		}
		return facts.Providers, true
	case "user", "username":
		if s.User == nil {
			return nil, false
		}
		identities := make([]string, 0, 3)
		if s.User.Name != "" {
			identities = append(identities, s.User.Name)
		}
		if s.User.Alias != "" {
			identities = append(identities, s.User.Alias)
		}
		if s.User.Email != "" {
			identities = append(identities, s.User.Email)
		}
		if len(identities) == 0 {
			return nil, false
		}
		return identities, true
	case "title":
		if s.Item.Title == "" {
			return nil, false
		}
		return s.Item.Title, true
	case "type", "contentType", "content_type":
		return string(s.Item.Type), true
	default:
		return nil, false
	}
}

// Evaluator is one rule capability. It names itself, declares which
// operators it accepts, and evaluates one operator/value pair against a
// subject. The engine dispatches rule types and condition leaves through
// the registry and carries no per-type logic of its own.
type Evaluator interface {
	Name() string
	Supports(op models.Operator) bool
	Evaluate(subject *Subject, op models.Operator, value json.RawMessage) bool
}

// Registry indexes evaluators by name and alias. The built-in set covers
// the persisted rule types and the condition-leaf field spellings;
// Register extends it without touching the engine.
type Registry struct {
	byName map[string]Evaluator
}

// NewRegistry returns a registry seeded with the built-in evaluators.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Evaluator)}
	r.Register(newFactEvaluator("genre", "genre", stringOps), "genres")
	r.Register(newFactEvaluator("language", "language", stringOps))
	r.Register(newFactEvaluator("certification", "certification", stringOps))
	r.Register(newFactEvaluator("year", "year", numericOps))
	r.Register(newFactEvaluator("rating", "rating", numericOps))
	r.Register(newFactEvaluator("season_count", "seasonCount", numericOps), "seasonCount")
	r.Register(newFactEvaluator("user", "user", stringOps), "username")
	r.Register(newFactEvaluator("streaming_provider", "streamingProvider", stringOps),
		"streamingProvider", "provider")
	r.Register(newFactEvaluator("title", "title", stringOps))
	r.Register(newFactEvaluator("type", "type", stringOps), "contentType", "content_type")
	return r
}

// Register adds an evaluator under its name plus any aliases, replacing an
// existing binding of the same name.
func (r *Registry) Register(ev Evaluator, aliases ...string) {
	r.byName[ev.Name()] = ev
	for _, alias := range aliases {
		r.byName[alias] = ev
	}
}

// Lookup resolves an evaluator by name or alias.
func (r *Registry) Lookup(name string) (Evaluator, bool) {
	ev, ok := r.byName[name]
	return ev, ok
}

// Operator capability sets. Numeric facts take ordering operators; string
// and set facts take matching operators.
var (
	stringOps = []models.Operator{
		models.OpEquals, models.OpNotEquals, models.OpContains,
		models.OpNotContains, models.OpIn, models.OpNotIn, models.OpRegex,
	}
	numericOps = []models.Operator{
		models.OpEquals, models.OpNotEquals, models.OpIn, models.OpNotIn,
		models.OpGreaterThan, models.OpLessThan, models.OpBetween,
	}
)

// factEvaluator is the built-in evaluator shape: one subject fact, one
// operator capability set.
type factEvaluator struct {
	name  string
	field string
	ops   map[models.Operator]bool
}

func newFactEvaluator(name, field string, ops []models.Operator) *factEvaluator {
	set := make(map[models.Operator]bool, len(ops))
	for _, op := range ops {
		set[op] = true
	}
	return &factEvaluator{name: name, field: field, ops: set}
}

func (e *factEvaluator) Name() string { return e.name }

func (e *factEvaluator) Supports(op models.Operator) bool {
	if op == "" {
		op = models.OpEquals
	}
	return e.ops[op]
}

func (e *factEvaluator) Evaluate(subject *Subject, op models.Operator, value json.RawMessage) bool {
	if !e.Supports(op) {
		return false
	}
	field, ok := subject.resolveField(e.field)
	if !ok {
		return false
	}
	return apply(op, field, value)
}

// simpleCriteria is the persisted criteria shape of non-conditional rules.
type simpleCriteria struct {
	Operator models.Operator `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value"`
}

// matchRule evaluates one enabled rule against the subject. Unregistered
// rule types, unsupported operators, unparsable criteria, and unknown
// facts all disqualify the rule.
func (r *Registry) matchRule(rule *models.RouterRule, subject *Subject) bool {
	if rule.Type == models.RuleTypeConditional {
		if rule.Condition == nil {
			return false
		}
		return r.evalCondition(rule.Condition, subject)
	}

	ev, ok := r.Lookup(rule.Type)
	if !ok {
		return false
	}
	var criteria simpleCriteria
	if err := json.Unmarshal(rule.Criteria, &criteria); err != nil || len(criteria.Value) == 0 {
		return false
	}
	return ev.Evaluate(subject, criteria.Operator, criteria.Value)
}

// evalCondition walks a condition tree. Negate applies exactly once at the
// node carrying it. A leaf over an unregistered field or unknown fact is
// false even when negated.
func (r *Registry) evalCondition(c *models.Condition, subject *Subject) bool {
	var result bool

	if c.IsGroup() {
		switch c.Op {
		case "OR":
			for i := range c.Children {
				if r.evalCondition(&c.Children[i], subject) {
					result = true
					break
				}
			}
		default: // AND
			result = len(c.Children) > 0
			for i := range c.Children {
				if !r.evalCondition(&c.Children[i], subject) {
					result = false
					break
				}
			}
		}
		if c.Negate {
			return !result
		}
		return result
	}

	ev, ok := r.Lookup(c.Field)
	if !ok {
		return false
	}
	result = ev.Evaluate(subject, c.Operator, c.Value)
	if c.Negate {
		return !result
	}
	return result
}
