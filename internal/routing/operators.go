// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package routing

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/relayarr/relayarr/internal/models"
)

// fieldValue is a resolved item fact: a string, float64, or []string.
// Operators lowercase string comparisons and give arrays set semantics.
type fieldValue interface{}

// apply evaluates one operator. A missing operator means equals. A value
// whose type does not fit the operator evaluates false; negative operators
// also evaluate false on type mismatch rather than vacuously matching.
func apply(op models.Operator, field fieldValue, raw json.RawMessage) bool {
	if op == "" {
		op = models.OpEquals
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return false
	}

	switch op {
	case models.OpEquals:
		return matchEquals(field, value)
	case models.OpNotEquals:
		return typesComparable(field, value) && !matchEquals(field, value)
	case models.OpContains:
		return matchContains(field, value)
	case models.OpNotContains:
		return typesComparable(field, value) && !matchContains(field, value)
	case models.OpIn:
		return matchIn(field, value)
	case models.OpNotIn:
		_, ok := value.([]interface{})
		return ok && !matchIn(field, value)
	case models.OpRegex:
		return matchRegex(field, value)
	case models.OpGreaterThan:
		f, fok := asNumber(field)
		v, vok := asNumber(value)
		return fok && vok && f > v
	case models.OpLessThan:
		f, fok := asNumber(field)
		v, vok := asNumber(value)
		return fok && vok && f < v
	case models.OpBetween:
		return matchBetween(field, value)
	default:
		return false
	}
}

func typesComparable(field fieldValue, value interface{}) bool {
	switch field.(type) {
	case string, []string:
		switch value.(type) {
		case string, []interface{}:
			return true
		}
		return false
	case float64:
		_, ok := asNumber(value)
		return ok
	}
	return false
}

// matchEquals: scalar equality, or any-member equality when either side is
// a set.
func matchEquals(field fieldValue, value interface{}) bool {
	switch f := field.(type) {
	case string:
		switch v := value.(type) {
		case string:
			return strings.EqualFold(f, v)
		case []interface{}:
			return stringInList(f, v)
		}
	case []string:
		switch v := value.(type) {
		case string:
			for _, m := range f {
				if strings.EqualFold(m, v) {
					return true
				}
			}
		case []interface{}:
			for _, m := range f {
				if stringInList(m, v) {
					return true
				}
			}
		}
	case float64:
		if v, ok := asNumber(value); ok {
			return f == v
		}
	}
	return false
}

// matchContains: substring on scalars, membership on sets.
func matchContains(field fieldValue, value interface{}) bool {
	switch f := field.(type) {
	case string:
		if v, ok := value.(string); ok {
			return strings.Contains(strings.ToLower(f), strings.ToLower(v))
		}
	case []string:
		return matchEquals(field, value)
	}
	return false
}

// matchIn: the field (or any member of a set field) appears in the value
// list.
func matchIn(field fieldValue, value interface{}) bool {
	list, ok := value.([]interface{})
	if !ok {
		return false
	}
	switch f := field.(type) {
	case string:
		return stringInList(f, list)
	case []string:
		for _, m := range f {
			if stringInList(m, list) {
				return true
			}
		}
	case float64:
		for _, entry := range list {
			if v, ok := asNumber(entry); ok && v == f {
				return true
			}
		}
	}
	return false
}

func matchRegex(field fieldValue, value interface{}) bool {
	pattern, ok := value.(string)
	if !ok {
		return false
	}
	switch f := field.(type) {
	case string:
		return safeMatch(pattern, f)
	case []string:
		for _, m := range f {
			if safeMatch(pattern, m) {
				return true
			}
		}
	}
	return false
}

// matchBetween: inclusive numeric range given as [min, max].
func matchBetween(field fieldValue, value interface{}) bool {
	f, ok := asNumber(field)
	if !ok {
		return false
	}
	bounds, ok := value.([]interface{})
	if !ok || len(bounds) != 2 {
		return false
	}
	lo, lok := asNumber(bounds[0])
	hi, hok := asNumber(bounds[1])
	return lok && hok && f >= lo && f <= hi
}

func stringInList(s string, list []interface{}) bool {
	for _, entry := range list {
		if v, ok := entry.(string); ok && strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
