// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package arr implements the downstream manager protocol for Sonarr-like
// and Radarr-like instances: test-connection, fetch-all, lookup by external
// id, add with overrides, tag management, and webhook install/remove.
//
// One Client exists per configured instance; each is its own rate-governor
// family ("sonarr-3", "radarr-1"). Clients are replaced atomically when an
// instance's base URL changes and reused on API-key-only changes.
package arr

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/logging"
	"github.com/relayarr/relayarr/internal/models"
)

// Client talks to one Sonarr or Radarr instance.
type Client struct {
	instanceID int64
	kind       models.TargetType
	baseURL    string
	apiKey     string
	family     string
	http       *httpclient.Client
	logger     zerolog.Logger
}

// New builds a client for one instance.
func New(inst *models.Instance, hc *httpclient.Client) *Client {
	return &Client{
		instanceID: inst.ID,
		kind:       inst.Type,
		baseURL:    strings.TrimRight(inst.BaseURL, "/"),
		apiKey:     inst.APIKey,
		family:     fmt.Sprintf("%s-%d", inst.Type, inst.ID),
		http:       hc,
		logger: logging.Component("arr").With().
			Str("instance_type", string(inst.Type)).
			Int64("instance_id", inst.ID).Logger(),
	}
}

// InstanceID returns the backing instance's id.
func (c *Client) InstanceID() int64 { return c.instanceID }

// Kind returns the manager flavor.
func (c *Client) Kind() models.TargetType { return c.kind }

func (c *Client) apiURL(path string) string {
	return c.baseURL + "/api/v3" + path
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("X-Api-Key", c.apiKey)
	return h
}

// TestConnection verifies the instance is reachable and the key is valid.
func (c *Client) TestConnection(ctx context.Context) error {
	var status struct {
		AppName string `json:"appName"`
		Version string `json:"version"`
	}
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/system/status"),
		Header: c.header(),
	}, &status)
	if err != nil {
		return fmt.Errorf("test connection: %w", err)
	}
	c.logger.Debug().Str("app", status.AppName).Str("version", status.Version).
		Msg("Connection verified")
	return nil
}

// Tag is a downstream tag definition.
type Tag struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// GetTags fetches all tag definitions.
func (c *Client) GetTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/tag"),
		Header: c.header(),
	}, &tags)
	if err != nil {
		return nil, fmt.Errorf("fetch tags: %w", err)
	}
	return tags, nil
}

// EnsureTags resolves label strings to tag ids, creating missing tags.
func (c *Client) EnsureTags(ctx context.Context, labels []string) ([]int, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	existing, err := c.GetTags(ctx)
	if err != nil {
		return nil, err
	}
	byLabel := make(map[string]int, len(existing))
	for _, t := range existing {
		byLabel[strings.ToLower(t.Label)] = t.ID
	}

	ids := make([]int, 0, len(labels))
	for _, label := range labels {
		if id, ok := byLabel[strings.ToLower(label)]; ok {
			ids = append(ids, id)
			continue
		}
		var created Tag
		err := c.http.PostJSON(ctx, httpclient.Request{
			Family: c.family,
			URL:    c.apiURL("/tag"),
			Header: c.header(),
		}, Tag{Label: label}, &created)
		if err != nil {
			return nil, fmt.Errorf("create tag %q: %w", label, err)
		}
		ids = append(ids, created.ID)
	}
	return ids, nil
}

// DeleteTag removes one tag definition.
func (c *Client) DeleteTag(ctx context.Context, id int) error {
	resp, err := c.http.Do(ctx, httpclient.Request{
		Family: c.family,
		Method: http.MethodDelete,
		URL:    c.apiURL(fmt.Sprintf("/tag/%d", id)),
		Header: c.header(),
	})
	if err != nil {
		return fmt.Errorf("delete tag %d: %w", id, err)
	}
	_ = resp.Body.Close()
	return nil
}

// webhookName identifies the notification connection Relayarr installs.
const webhookName = "Relayarr"

type webhookDefinition struct {
	ID             int            `json:"id,omitempty"`
	Name           string         `json:"name"`
	Implementation string         `json:"implementation"`
	ConfigContract string         `json:"configContract"`
	OnGrab         bool           `json:"onGrab"`
	OnDownload     bool           `json:"onDownload"`
	OnUpgrade      bool           `json:"onUpgrade"`
	Fields         []webhookField `json:"fields"`
}

type webhookField struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value,omitempty"`
}

// InstallWebhook creates or updates the instance's notification webhook
// pointing back at Relayarr.
func (c *Client) InstallWebhook(ctx context.Context, callbackURL string) error {
	existing, err := c.findWebhook(ctx)
	if err != nil {
		return err
	}

	def := webhookDefinition{
		Name:           webhookName,
		Implementation: "Webhook",
		ConfigContract: "WebhookSettings",
		OnGrab:         true,
		OnDownload:     true,
		OnUpgrade:      true,
		Fields: []webhookField{
			{Name: "url", Value: callbackURL},
			{Name: "method", Value: 1}, // POST
		},
	}

	if existing != nil {
		def.ID = existing.ID
		err := c.http.PutJSON(ctx, httpclient.Request{
			Family: c.family,
			URL:    c.apiURL(fmt.Sprintf("/notification/%d", existing.ID)),
			Header: c.header(),
		}, def, nil)
		if err != nil {
			return fmt.Errorf("update webhook: %w", err)
		}
		return nil
	}

	if err := c.http.PostJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/notification"),
		Header: c.header(),
	}, def, nil); err != nil {
		return fmt.Errorf("install webhook: %w", err)
	}
	return nil
}

// RemoveWebhook deletes the installed webhook, if present.
func (c *Client) RemoveWebhook(ctx context.Context) error {
	existing, err := c.findWebhook(ctx)
	if err != nil || existing == nil {
		return err
	}
	resp, err := c.http.Do(ctx, httpclient.Request{
		Family: c.family,
		Method: http.MethodDelete,
		URL:    c.apiURL(fmt.Sprintf("/notification/%d", existing.ID)),
		Header: c.header(),
	})
	if err != nil {
		return fmt.Errorf("remove webhook: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) findWebhook(ctx context.Context) (*webhookDefinition, error) {
	var defs []webhookDefinition
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: c.family,
		URL:    c.apiURL("/notification"),
		Header: c.header(),
	}, &defs)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	for i := range defs {
		if defs[i].Name == webhookName {
			return &defs[i], nil
		}
	}
	return nil, nil
}

// Registry holds the live client per instance id. Clients are rebuilt when
// the base URL changes and kept when only the API key changed (the key is
// swapped in place).
type Registry struct {
	http *httpclient.Client

	mu      sync.RWMutex
	clients map[int64]*Client
}

// NewRegistry builds an empty registry.
func NewRegistry(hc *httpclient.Client) *Registry {
	return &Registry{http: hc, clients: make(map[int64]*Client)}
}

// Get returns the client for an instance, building or replacing it as the
// instance configuration dictates.
func (r *Registry) Get(inst *models.Instance) *Client {
	base := strings.TrimRight(inst.BaseURL, "/")

	r.mu.RLock()
	c, ok := r.clients[inst.ID]
	r.mu.RUnlock()
	if ok && c.baseURL == base {
		if c.apiKey != inst.APIKey {
			r.mu.Lock()
			c.apiKey = inst.APIKey
			r.mu.Unlock()
		}
		return c
	}

	c = New(inst, r.http)
	r.mu.Lock()
	r.clients[inst.ID] = c
	r.mu.Unlock()
	return c
}

// Drop removes a deleted instance's client.
func (r *Registry) Drop(instanceID int64) {
	r.mu.Lock()
	delete(r.clients, instanceID)
	r.mu.Unlock()
}

