// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package routing

import (
	"regexp"
	"sync"

	"github.com/relayarr/relayarr/internal/logging"
)

// maxPatternLength bounds user-supplied patterns. Go's regexp is RE2 and
// runs in linear time, so the cap guards compile cost, not matching cost.
const maxPatternLength = 512

var regexCache = struct {
	sync.RWMutex
	compiled map[string]*regexp.Regexp
}{compiled: make(map[string]*regexp.Regexp)}

// safeMatch evaluates pattern against s. An oversized or invalid pattern
// evaluates false; rule evaluation never raises on bad user input.
func safeMatch(pattern, s string) bool {
	if pattern == "" || len(pattern) > maxPatternLength {
		return false
	}

	regexCache.RLock()
	re, ok := regexCache.compiled[pattern]
	regexCache.RUnlock()

	if !ok {
		var err error
		re, err = regexp.Compile("(?i)" + pattern)
		if err != nil {
			logging.Component("routing").Warn().
				Str("pattern", pattern).Err(err).
				Msg("Invalid rule pattern evaluates to no match")
			re = nil
		}
		regexCache.Lock()
		regexCache.compiled[pattern] = re
		regexCache.Unlock()
	}

	if re == nil {
		return false
	}
	return re.MatchString(s)
}
