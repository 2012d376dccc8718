// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package api

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relayarr/relayarr/internal/models"
)

// webhookPayload is the subset of the Sonarr/Radarr webhook body the
// receiver needs: the event kind and the ids identifying the content.
type webhookPayload struct {
	EventType string `json:"eventType"`
	Series    *struct {
		Title  string `json:"title"`
		TvdbID int64  `json:"tvdbId"`
		ImdbID string `json:"imdbId"`
	} `json:"series,omitempty"`
	Movie *struct {
		Title  string `json:"title"`
		TmdbID int64  `json:"tmdbId"`
		ImdbID string `json:"imdbId"`
	} `json:"movie,omitempty"`
}

// guids extracts the normalized GUID set carried by the payload.
func (p *webhookPayload) guids() []models.GUID {
	var raw []string
	if p.Series != nil {
		if p.Series.TvdbID > 0 {
			raw = append(raw, fmt.Sprintf("tvdb://%d", p.Series.TvdbID))
		}
		if p.Series.ImdbID != "" {
			raw = append(raw, "imdb://"+p.Series.ImdbID)
		}
	}
	if p.Movie != nil {
		if p.Movie.TmdbID > 0 {
			raw = append(raw, fmt.Sprintf("tmdb://%d", p.Movie.TmdbID))
		}
		if p.Movie.ImdbID != "" {
			raw = append(raw, "imdb://"+p.Movie.ImdbID)
		}
	}
	return models.NormalizeGUIDs(raw)
}

// handleWebhook consumes one downstream push. Grab and Download events nudge
// the reconciler for the affected GUIDs; Test events just acknowledge so the
// downstream's connection check passes.
func (s *Server) handleWebhook(target models.TargetType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "malformed payload")
			return
		}

		switch payload.EventType {
		case "Test":
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		case "Grab", "Download":
		default:
			// Unhandled event kinds are acknowledged and dropped.
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		guids := payload.guids()
		if len(guids) == 0 {
			writeError(w, http.StatusBadRequest, "payload carries no content ids")
			return
		}
		if err := s.downstream.HandleDownstreamEvent(r.Context(), target, payload.EventType, guids); err != nil {
			s.logger.Error().Err(err).Str("target", string(target)).
				Str("event", payload.EventType).Msg("Webhook processing failed")
			writeError(w, http.StatusInternalServerError, "event processing failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
	}
}
