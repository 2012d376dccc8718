// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package httpclient

import (
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relayarr/relayarr/internal/ratelimit"
)

func newTestClient(attempts int) *Client {
	return New(Config{
		Timeout:       5 * time.Second,
		RetryAttempts: attempts,
		RetryBaseWait: time.Millisecond,
		RetryMaxWait:  10 * time.Millisecond,
	}, ratelimit.New(ratelimit.Config{MaxConcurrent: 4}))
}

func TestRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(4)
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.GetJSON(context.Background(), Request{Family: "test", URL: srv.URL}, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !out.OK {
		t.Error("response not decoded")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestFailsFastOnPermanent4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(4)
	err := c.GetJSON(context.Background(), Request{Family: "test", URL: srv.URL}, nil)
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusForbidden {
		t.Fatalf("error = %v, want StatusError 403", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (no retries on 403)", got)
	}
}

func Test429FeedsGovernorCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gov := ratelimit.New(ratelimit.Config{MaxConcurrent: 1, DefaultCooldown: time.Second})
	c := New(Config{Timeout: time.Second}, gov)

	err := c.GetJSON(context.Background(), Request{Family: "plex", URL: srv.URL}, nil)
	if err == nil {
		t.Fatal("expected error from 429")
	}
	if rem := gov.CooldownRemaining("plex"); rem < 100*time.Second {
		t.Errorf("cooldown remaining = %s, want ~120s", rem)
	}
}

func TestStreamLinesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte("line one\n\nline two\n"))
		_ = gz.Close()
	}))
	defer srv.Close()

	c := newTestClient(0)
	var lines []string
	err := c.StreamLines(context.Background(), Request{Family: "test", URL: srv.URL}, func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	})
	if err != nil {
		t.Fatalf("StreamLines: %v", err)
	}
	if len(lines) != 2 || lines[0] != "line one" || lines[1] != "line two" {
		t.Errorf("lines = %v", lines)
	}
}

func TestStreamLinesEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(0)
	err := c.StreamLines(context.Background(), Request{Family: "test", URL: srv.URL}, func([]byte) error {
		return nil
	})
	if !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("error = %v, want ErrEmptyBody", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(10)
	err := c.GetJSON(context.Background(), Request{Family: "flaky", URL: srv.URL}, nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	// After 5 consecutive failures the breaker is open and short-circuits.
	start := time.Now()
	err = c.GetJSON(context.Background(), Request{Family: "flaky", URL: srv.URL}, nil)
	if err == nil {
		t.Fatal("expected open-breaker failure")
	}
	if time.Since(start) > time.Second {
		t.Error("open breaker should fail fast")
	}
}
