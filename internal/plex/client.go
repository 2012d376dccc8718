// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package plex talks to the Plex surfaces Relayarr needs: the discover API
// for the primary account's watchlist, the community GraphQL API for
// friends' watchlists, plex.tv for friend enumeration, optional RSS feeds
// for cheap change detection, the media server for library labels, and a
// websocket for playback session events.
//
// Every surface is its own rate-governor family so a 429 on one does not
// stall the others.
package plex

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/logging"
)

// Base URLs for the hosted Plex surfaces. Variables so tests can point them
// at local servers.
var (
	discoverBase  = "https://discover.provider.plex.tv"
	metadataBase  = "https://metadata.provider.plex.tv"
	communityBase = "https://community.plex.tv/api"
	plexTVBase    = "https://plex.tv"
)

const (
	// Governor families, one per upstream surface.
	FamilyDiscover = "plex-discover"
	FamilyGraphQL  = "plex-graphql"
	FamilyTV       = "plex-tv"
	FamilyRSS      = "plex-rss"
	FamilyServer   = "plex-server"

	clientIdentifier = "relayarr"
	clientProduct    = "Relayarr"
)

// Config configures the Plex client.
type Config struct {
	// Token is the primary account token.
	Token string
	// ServerURL is the media server base URL; required only for label sync
	// and session notifications.
	ServerURL string
	// RSSWatchlistURL and RSSFriendsURL enable the RSS change-detection path.
	RSSWatchlistURL string
	RSSFriendsURL   string
	// PageSize for paged watchlist fetches.
	PageSize int
}

// Client is the Plex API client.
type Client struct {
	cfg    Config
	http   *httpclient.Client
	logger zerolog.Logger
}

// New builds a client.
func New(cfg Config, hc *httpclient.Client) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Client{
		cfg:    cfg,
		http:   hc,
		logger: logging.Component("plex"),
	}
}

// headers returns the standard Plex headers for the given token. Friends'
// watchlists are fetched with their friendship token instead of the primary.
func headers(token string) http.Header {
	h := http.Header{}
	h.Set("X-Plex-Token", token)
	h.Set("X-Plex-Client-Identifier", clientIdentifier)
	h.Set("X-Plex-Product", clientProduct)
	h.Set("Accept", "application/json")
	return h
}
