// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Func adapts a run function into a suture service. The function must block
// until ctx is canceled; returning early counts as a failure and triggers a
// restart.
type Func struct {
	Name string
	Run  func(ctx context.Context) error
}

// Serve implements suture.Service.
func (f Func) Serve(ctx context.Context) error {
	return f.Run(ctx)
}

// String implements fmt.Stringer for suture's event log.
func (f Func) String() string {
	return f.Name
}

// HTTPServer matches *http.Server's lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService bridges http.Server's blocking ListenAndServe to suture's
// context-aware Serve: the listener runs in a goroutine and cancellation
// triggers a bounded graceful shutdown.
type HTTPService struct {
	server HTTPServer
	grace  time.Duration
}

// NewHTTPService wraps a server for supervision.
func NewHTTPService(server HTTPServer, grace time.Duration) *HTTPService {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &HTTPService{server: server, grace: grace}
}

// Serve implements suture.Service. http.ErrServerClosed is the expected
// outcome of a shutdown and is not a failure.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.grace)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer.
func (h *HTTPService) String() string {
	return "http-server"
}
