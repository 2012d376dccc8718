// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package httpclient is the shared outbound HTTP layer. Every upstream call
// flows through one Client: governed by the rate limiter, wrapped in a
// per-family circuit breaker, and retried with exponential backoff and
// jitter on transient failures.
package httpclient

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/ratelimit"
)

// ErrEmptyBody marks a response that completed with no payload where one was
// required. Callers distinguish it from transport failures: an empty feed is
// actionable (treat as "no items"), a failed fetch is not.
var ErrEmptyBody = errors.New("response body is empty")

// StatusError carries a non-2xx response status. 4xx statuses other than
// 408 and 429 are permanent and never retried.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// Config tunes retry behavior.
type Config struct {
	Timeout       time.Duration `koanf:"timeout"`
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryBaseWait time.Duration `koanf:"retry_base_wait"`
	RetryMaxWait  time.Duration `koanf:"retry_max_wait"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		RetryAttempts: 4,
		RetryBaseWait: 500 * time.Millisecond,
		RetryMaxWait:  30 * time.Second,
	}
}

// Client executes governed, retried requests.
type Client struct {
	cfg      Config
	http     *http.Client
	governor *ratelimit.Governor
	logger   zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// New builds a client over the given governor.
func New(cfg Config, governor *ratelimit.Governor) *Client {
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		governor: governor,
		logger:   logging.Component("httpclient"),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

func (c *Client) breaker(family string) *gobreaker.CircuitBreaker[*http.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[family]
	if !ok {
		cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        family,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		c.breakers[family] = cb
	}
	return cb
}

// Request describes one upstream call.
type Request struct {
	// Family is the governor/breaker bucket, e.g. "plex" or "sonarr-2".
	Family string
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	// Body is re-read on every retry attempt.
	Body []byte
	// AcceptStatuses lists the statuses treated as success. Empty means
	// any 2xx.
	AcceptStatuses []int
}

// Do executes the request with governance, breaker protection and retries.
// The caller owns the returned response body.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	var lastErr error
	attempts := c.cfg.RetryAttempts + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt)
			c.logger.Debug().
				Str("family", req.Family).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("Retrying request")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			// The breaker is already timing the recovery window; retry
			// loops add nothing on top.
			return nil, err
		}
	}
	return nil, fmt.Errorf("request to %s failed after %d attempts: %w", req.Family, attempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, req Request) (*http.Response, error) {
	release, err := c.governor.Acquire(ctx, req.Family)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := c.breaker(req.Family).Execute(func() (*http.Response, error) {
		return c.roundTrip(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) (*http.Response, error) {
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Query) > 0 {
		httpReq.URL.RawQuery = req.Query.Encode()
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if !statusAccepted(resp.StatusCode, req.AcceptStatuses) {
		serr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		if resp.StatusCode == http.StatusTooManyRequests {
			c.governor.ReportRetryAfter(req.Family, resp.Header.Get("Retry-After"))
		}
		// Read a bounded slice of the body for diagnostics.
		if b, rerr := io.ReadAll(io.LimitReader(resp.Body, 512)); rerr == nil {
			serr.Body = string(bytes.TrimSpace(b))
		}
		closeQuietly(resp.Body)
		return nil, serr
	}
	return resp, nil
}

func statusAccepted(code int, accepted []int) bool {
	if len(accepted) == 0 {
		return code >= 200 && code < 300
	}
	for _, a := range accepted {
		if code == a {
			return true
		}
	}
	return false
}

// backoff returns the exponential wait for the given retry attempt, with up
// to 25% jitter, capped at RetryMaxWait.
func (c *Client) backoff(attempt int) time.Duration {
	wait := c.cfg.RetryBaseWait << (attempt - 1)
	if c.cfg.RetryMaxWait > 0 && wait > c.cfg.RetryMaxWait {
		wait = c.cfg.RetryMaxWait
	}
	jitter := time.Duration(rand.Float64() * 0.25 * float64(wait))
	return wait + jitter
}

// isTransient classifies retryable failures: network errors, timeouts,
// 408/429, and 5xx. Every other status is permanent.
func isTransient(err error) bool {
	var serr *StatusError
	if errors.As(err, &serr) {
		switch {
		case serr.StatusCode == http.StatusRequestTimeout,
			serr.StatusCode == http.StatusTooManyRequests:
			return true
		case serr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// http.Client wraps transport errors in *url.Error.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// GetJSON executes a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, req Request, out interface{}) error {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer closeQuietly(resp.Body)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %s", ErrEmptyBody, req.URL)
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// PostJSON executes a POST with a JSON body and decodes the response into
// out when non-nil.
func (c *Client) PostJSON(ctx context.Context, req Request, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req.Method = http.MethodPost
	req.Body = body
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer closeQuietly(resp.Body)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// PutJSON executes a PUT with a JSON body and decodes the response into out
// when non-nil.
func (c *Client) PutJSON(ctx context.Context, req Request, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req.Method = http.MethodPut
	req.Body = body
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer closeQuietly(resp.Body)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StreamLines executes the request and feeds each non-empty line of the
// response to fn, transparently decompressing gzip payloads. A response that
// yields zero lines returns ErrEmptyBody so callers can distinguish an empty
// feed from a broken one.
func (c *Client) StreamLines(ctx context.Context, req Request, fn func(line []byte) error) error {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer closeQuietly(resp.Body)

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("open gzip reader: %w", err)
		}
		defer closeQuietly(gz)
		reader = gz
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lines := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines++
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read response stream: %w", err)
	}
	if lines == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyBody, req.URL)
	}
	return nil
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
