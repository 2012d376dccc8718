// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package api is the thin ops HTTP surface: health, Prometheus metrics, the
// Sonarr/Radarr webhook receiver, and a progress event stream. The full REST
// and UI surface is intentionally absent.
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/database"
	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/models"
	"github.com/relayarr/relayarr/internal/progress"
)

// Config is the listener configuration.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
	// WebhookSecret authenticates inbound downstream webhooks. Empty
	// disables the check.
	WebhookSecret string
	// RateLimitReqs bounds requests per minute per client IP.
	RateLimitReqs int
}

// DownstreamHandler consumes grab/import events pushed by downstream
// managers.
type DownstreamHandler interface {
	HandleDownstreamEvent(ctx context.Context, target models.TargetType, event string, guids []models.GUID) error
}

// Server is the ops HTTP server.
type Server struct {
	cfg        Config
	db         *database.DB
	downstream DownstreamHandler
	bus        *progress.Bus
	router     chi.Router
	logger     zerolog.Logger
}

// New builds the server. The bus may be nil; the progress stream then
// reports no events.
func New(cfg Config, db *database.DB, downstream DownstreamHandler, bus *progress.Bus) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 120
	}
	s := &Server{
		cfg:        cfg,
		db:         db,
		downstream: downstream,
		bus:        bus,
		logger:     logging.Component("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/webhook", func(r chi.Router) {
		r.Use(s.requireWebhookSecret)
		r.Post("/sonarr", s.handleWebhook(models.TargetSonarr))
		r.Post("/radarr", s.handleWebhook(models.TargetRadarr))
	})
	r.Get("/progress", s.handleProgress)
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer returns a configured net/http server for supervision. The
// progress stream holds its connection open, so no blanket write timeout.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request")
	})
}

// requireWebhookSecret authenticates webhook calls by header or query
// parameter, compared in constant time.
func (s *Server) requireWebhookSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.WebhookSecret != "" {
			got := r.Header.Get("X-Relayarr-Secret")
			if got == "" {
				got = r.URL.Query().Get("secret")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid webhook secret")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded", "error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleProgress streams bus events as server-sent events until the client
// disconnects.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok || s.bus == nil {
		writeError(w, http.StatusNotImplemented, "progress streaming unavailable")
		return
	}
	events, err := s.bus.Subscribe(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
