// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestForEachBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := make([]int, 20)

	ForEach(context.Background(), items, 3, func(ctx context.Context, _ int) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}, nil)

	if got := peak.Load(); got > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", got)
	}
}

func TestForEachIsolatesFailures(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	boom := errors.New("boom")

	var ran atomic.Int32
	results := ForEach(context.Background(), items, 2, func(ctx context.Context, item int) error {
		ran.Add(1)
		if item == 3 {
			return boom
		}
		return nil
	}, nil)

	if got := ran.Load(); got != 5 {
		t.Errorf("ran = %d, want 5 (failures must not cancel the batch)", got)
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Item != 3 {
		t.Errorf("failed = %+v, want item 3 only", failed)
	}
	if !errors.Is(FirstError(results), boom) {
		t.Errorf("FirstError = %v, want boom", FirstError(results))
	}
	// Results preserve input order.
	for i, r := range results {
		if r.Item != items[i] {
			t.Errorf("results[%d].Item = %d, want %d", i, r.Item, items[i])
		}
	}
}

func TestForEachProgressCallback(t *testing.T) {
	items := []string{"a", "b", "c"}
	var calls []int
	ForEach(context.Background(), items, 1, func(ctx context.Context, _ string) error {
		return nil
	}, func(done, total int) {
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		calls = append(calls, done)
	})

	if len(calls) != 3 || calls[2] != 3 {
		t.Errorf("progress calls = %v, want [1 2 3]", calls)
	}
}

func TestForEachContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := ForEach(ctx, []int{1, 2, 3}, 2, func(ctx context.Context, _ int) error {
		t.Error("fn should not run after cancellation")
		return nil
	}, nil)

	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("result err = %v, want context.Canceled", r.Err)
		}
	}
}
