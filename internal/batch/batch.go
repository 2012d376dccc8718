// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package batch is the bounded-concurrency fan-out primitive shared by the
// routing submitter, label sync, and the reconciler. Item failures are
// isolated: the batch runs to completion and reports per-item results.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome for one item.
type Result[T any] struct {
	Item T
	Err  error
}

// Progress is invoked after each item finishes with (done, total).
type Progress func(done, total int)

// ForEach runs fn over items with at most limit in flight. Unlike
// errgroup.Wait semantics, one item's error does not cancel the others;
// every item runs unless ctx itself is canceled. Results preserve input
// order.
func ForEach[T any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T) error, onProgress Progress) []Result[T] {
	if limit <= 0 {
		limit = 1
	}

	results := make([]Result[T], len(items))
	done := make(chan int, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range items {
		results[i].Item = items[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
			} else {
				results[i].Err = fn(gctx, items[i])
			}
			done <- i
			return nil // errors stay per-item
		})
	}

	if onProgress != nil {
		finished := 0
		for range items {
			<-done
			finished++
			onProgress(finished, len(items))
		}
	}
	_ = g.Wait()
	return results
}

// FirstError returns the first non-nil error in results, or nil.
func FirstError[T any](results []Result[T]) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// Failed returns the results that carry errors.
func Failed[T any](results []Result[T]) []Result[T] {
	var out []Result[T]
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
