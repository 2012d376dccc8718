// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package ratelimit provides the outbound request governor. Each upstream
// endpoint family (one Plex surface, one Sonarr instance, ...) gets its own
// pacing bucket: a jittered minimum spacing between requests, a concurrency
// ceiling, and a cooldown window honoring 429 Retry-After responses.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/relayarr/relayarr/internal/logging"
)

// Config tunes the governor. The same settings apply to every family.
type Config struct {
	// MinSpacing is the base minimum gap between requests to one family.
	MinSpacing time.Duration `koanf:"min_spacing"`

	// JitterFraction widens each gap by up to this fraction of MinSpacing,
	// so request trains to one upstream do not synchronize.
	JitterFraction float64 `koanf:"jitter_fraction"`

	// MaxConcurrent caps in-flight requests per family.
	MaxConcurrent int `koanf:"max_concurrent"`

	// DefaultCooldown applies after a 429 that carries no usable
	// Retry-After header.
	DefaultCooldown time.Duration `koanf:"default_cooldown"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinSpacing:      250 * time.Millisecond,
		JitterFraction:  0.2,
		MaxConcurrent:   4,
		DefaultCooldown: 30 * time.Second,
	}
}

// Governor paces outbound requests per endpoint family.
type Governor struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	families map[string]*family

	// now is swappable in tests.
	now func() time.Time
}

type family struct {
	limiter *rate.Limiter
	sem     chan struct{}

	mu            sync.Mutex
	cooldownUntil time.Time
}

// New builds a governor.
func New(cfg Config) *Governor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Governor{
		cfg:      cfg,
		logger:   logging.Component("ratelimit"),
		families: make(map[string]*family),
		now:      time.Now,
	}
}

func (g *Governor) family(name string) *family {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.families[name]
	if !ok {
		limit := rate.Inf
		if g.cfg.MinSpacing > 0 {
			limit = rate.Every(g.cfg.MinSpacing)
		}
		f = &family{
			limiter: rate.NewLimiter(limit, 1),
			sem:     make(chan struct{}, g.cfg.MaxConcurrent),
		}
		g.families[name] = f
	}
	return f
}

// Acquire blocks until a request to the family may proceed: a concurrency
// slot is free, any active cooldown has elapsed, and the jittered spacing
// since the previous request has passed. The returned release function must
// be called when the request finishes.
func (g *Governor) Acquire(ctx context.Context, name string) (func(), error) {
	f := g.family(name)

	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-f.sem }

	if err := g.waitCooldown(ctx, f); err != nil {
		release()
		return nil, err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		release()
		return nil, err
	}
	if jitter := g.jitter(); jitter > 0 {
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (g *Governor) waitCooldown(ctx context.Context, f *family) error {
	for {
		f.mu.Lock()
		wait := f.cooldownUntil.Sub(g.now())
		f.mu.Unlock()
		if wait <= 0 {
			return nil
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Governor) jitter() time.Duration {
	if g.cfg.JitterFraction <= 0 || g.cfg.MinSpacing <= 0 {
		return 0
	}
	max := float64(g.cfg.MinSpacing) * g.cfg.JitterFraction
	return time.Duration(rand.Float64() * max)
}

// ReportRetryAfter records a 429 response for the family. The Retry-After
// value may be delta seconds or an HTTP date; an empty or unparsable value
// falls back to the default cooldown.
func (g *Governor) ReportRetryAfter(name, retryAfter string) time.Duration {
	delay, ok := ParseRetryAfter(retryAfter, g.now())
	if !ok {
		delay = g.cfg.DefaultCooldown
	}

	f := g.family(name)
	until := g.now().Add(delay)
	f.mu.Lock()
	if until.After(f.cooldownUntil) {
		f.cooldownUntil = until
	}
	f.mu.Unlock()

	g.logger.Warn().
		Str("family", name).
		Dur("cooldown", delay).
		Msg("Upstream rate limited, backing off")
	return delay
}

// CooldownRemaining reports how long the family's cooldown has left.
func (g *Governor) CooldownRemaining(name string) time.Duration {
	f := g.family(name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if rem := f.cooldownUntil.Sub(g.now()); rem > 0 {
		return rem
	}
	return 0
}

// ParseRetryAfter parses a Retry-After header value: either non-negative
// delta seconds or an HTTP date. Returns false when the value is absent or
// unparsable.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}
