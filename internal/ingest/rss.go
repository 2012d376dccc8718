// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package ingest

import (
	"context"

	"github.com/relayarr/relayarr/internal/metrics"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/progress"
)

// RunRSS polls the configured RSS feeds and triggers a full ingest of a
// source only when its feed content changed since the last poll. Feeds
// carry guids but not keys, so they detect change; the full fetch still
// does the classification. The first poll has no baseline and triggers a
// full sync unconditionally.
func (i *Ingestor) RunRSS(ctx context.Context) error {
	var firstErr error

	if url := i.plex.RSSWatchlistURL(); url != "" {
		if err := i.pollFeed(ctx, "self", url, i.RunSelf); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if i.cfg.FriendSync {
		if url := i.plex.RSSFriendsURL(); url != "" {
			if err := i.pollFeed(ctx, "friends", url, i.RunFriends); err != nil {
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// pollFeed fetches one feed and compares its guid set to the previous
// poll's. A fetch failure leaves the baseline untouched so the next poll
// compares against real data.
func (i *Ingestor) pollFeed(ctx context.Context, name, url string, full func(context.Context) error) error {
	i.publish(progress.TypeRSSFeed, "fetch", 0, "Polling "+name+" feed")

	items, err := i.plex.GetRSSFeed(ctx, url)
	if err != nil {
		metrics.IngestRuns.WithLabelValues("rss-"+name, "failed").Inc()
		i.logger.Warn().Err(err).Str("feed", name).Msg("Feed poll failed")
		return err
	}

	current := make(map[models.GUID]bool)
	for idx := range items {
		for _, g := range items[idx].GUIDs {
			current[g] = true
		}
	}

	i.rssMu.Lock()
	previous, polled := i.rssSeen[name]
	i.rssSeen[name] = current
	i.rssMu.Unlock()

	if polled && guidSetsEqual(previous, current) {
		metrics.IngestRuns.WithLabelValues("rss-"+name, "unchanged").Inc()
		i.publish(progress.TypeRSSFeed, "done", 100, "No changes in "+name+" feed")
		return nil
	}

	metrics.IngestRuns.WithLabelValues("rss-"+name, "changed").Inc()
	i.logger.Info().Str("feed", name).Int("entries", len(items)).
		Msg("Feed changed; running full sync")
	return full(ctx)
}

func guidSetsEqual(a, b map[models.GUID]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for g := range a {
		if !b[g] {
			return false
		}
	}
	return true
}
