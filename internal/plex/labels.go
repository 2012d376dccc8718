// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package plex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/models"
)

// plexTypeIDs maps content types to the media server's numeric type ids
// used by the section edit API.
var plexTypeIDs = map[models.ContentType]int{
	models.ContentTypeMovie: 1,
	models.ContentTypeShow:  2,
}

// LibraryItem is one media server library entity with its current labels,
// matched against watchlist items by GUID intersection during label sync.
type LibraryItem struct {
	RatingKey string
	SectionID string
	Title     string
	Type      models.ContentType
	GUIDs     []models.GUID
	Labels    []string
}

type sectionsContainer struct {
	MediaContainer struct {
		Directory []struct {
			Key  string `json:"key"`
			Type string `json:"type"`
		} `json:"Directory"`
	} `json:"MediaContainer"`
}

type libraryContainer struct {
	MediaContainer struct {
		Size     int `json:"size"`
		Metadata []struct {
			RatingKey string `json:"ratingKey"`
			Title     string `json:"title"`
			Type      string `json:"type"`
			GUIDs     []struct {
				ID string `json:"id"`
			} `json:"Guid,omitempty"`
			Labels []struct {
				Tag string `json:"tag"`
			} `json:"Label,omitempty"`
		} `json:"Metadata"`
	} `json:"MediaContainer"`
}

// GetLibraryItems fetches every movie and show in the server's libraries
// with their GUIDs and current labels.
func (c *Client) GetLibraryItems(ctx context.Context) ([]LibraryItem, error) {
	if c.cfg.ServerURL == "" {
		return nil, fmt.Errorf("no media server configured")
	}

	var sections sectionsContainer
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: FamilyServer,
		URL:    c.cfg.ServerURL + "/library/sections",
		Header: headers(c.cfg.Token),
	}, &sections)
	if err != nil {
		return nil, fmt.Errorf("fetch library sections: %w", err)
	}

	var items []LibraryItem
	for _, dir := range sections.MediaContainer.Directory {
		var ct models.ContentType
		switch dir.Type {
		case "movie":
			ct = models.ContentTypeMovie
		case "show":
			ct = models.ContentTypeShow
		default:
			continue
		}

		query := url.Values{}
		query.Set("includeGuids", "1")
		var lib libraryContainer
		err := c.http.GetJSON(ctx, httpclient.Request{
			Family: FamilyServer,
			URL:    c.cfg.ServerURL + "/library/sections/" + dir.Key + "/all",
			Query:  query,
			Header: headers(c.cfg.Token),
		}, &lib)
		if err != nil {
			return nil, fmt.Errorf("fetch library section %s: %w", dir.Key, err)
		}

		for _, md := range lib.MediaContainer.Metadata {
			item := LibraryItem{
				RatingKey: md.RatingKey,
				SectionID: dir.Key,
				Title:     md.Title,
				Type:      ct,
			}
			raw := make([]string, 0, len(md.GUIDs))
			for _, g := range md.GUIDs {
				raw = append(raw, g.ID)
			}
			item.GUIDs = models.NormalizeGUIDs(raw)
			for _, l := range md.Labels {
				item.Labels = append(item.Labels, l.Tag)
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// ServerItem is one media server metadata record. Session events carry
// only a rating key; this resolves the played entity, and for episodes the
// owning show and season.
type ServerItem struct {
	RatingKey            string
	Type                 string
	Title                string
	GrandparentRatingKey string
	SeasonNumber         int
	EpisodeNumber        int
	GUIDs                []models.GUID
}

type serverMetadataContainer struct {
	MediaContainer struct {
		Metadata []struct {
			RatingKey            string `json:"ratingKey"`
			Type                 string `json:"type"`
			Title                string `json:"title"`
			GrandparentRatingKey string `json:"grandparentRatingKey,omitempty"`
			ParentIndex          int    `json:"parentIndex,omitempty"`
			Index                int    `json:"index,omitempty"`
			GUIDs                []struct {
				ID string `json:"id"`
			} `json:"Guid,omitempty"`
		} `json:"Metadata"`
	} `json:"MediaContainer"`
}

// GetServerItem fetches one media server entity by rating key.
func (c *Client) GetServerItem(ctx context.Context, ratingKey string) (*ServerItem, error) {
	if c.cfg.ServerURL == "" {
		return nil, fmt.Errorf("no media server configured")
	}
	query := url.Values{}
	query.Set("includeGuids", "1")
	var container serverMetadataContainer
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: FamilyServer,
		URL:    c.cfg.ServerURL + "/library/metadata/" + ratingKey,
		Query:  query,
		Header: headers(c.cfg.Token),
	}, &container)
	if err != nil {
		return nil, fmt.Errorf("fetch server item %s: %w", ratingKey, err)
	}
	if len(container.MediaContainer.Metadata) == 0 {
		return nil, fmt.Errorf("server item %s not found", ratingKey)
	}

	md := container.MediaContainer.Metadata[0]
	item := &ServerItem{
		RatingKey:            md.RatingKey,
		Type:                 md.Type,
		Title:                md.Title,
		GrandparentRatingKey: md.GrandparentRatingKey,
		SeasonNumber:         md.ParentIndex,
		EpisodeNumber:        md.Index,
	}
	raw := make([]string, 0, len(md.GUIDs))
	for _, g := range md.GUIDs {
		raw = append(raw, g.ID)
	}
	item.GUIDs = models.NormalizeGUIDs(raw)
	return item, nil
}

// AddLabel applies one label to a library entity.
func (c *Client) AddLabel(ctx context.Context, item LibraryItem, label string) error {
	query := url.Values{}
	query.Set("type", strconv.Itoa(plexTypeIDs[item.Type]))
	query.Set("id", item.RatingKey)
	query.Set("label[0].tag.tag", label)
	query.Set("label.locked", "1")
	return c.editLibraryItem(ctx, item.SectionID, query)
}

// RemoveLabel strips one label from a library entity. Existing labels other
// than the removed one are preserved.
func (c *Client) RemoveLabel(ctx context.Context, item LibraryItem, label string) error {
	query := url.Values{}
	query.Set("type", strconv.Itoa(plexTypeIDs[item.Type]))
	query.Set("id", item.RatingKey)
	query.Set("label[].tag.tag-", label)
	query.Set("label.locked", "1")
	return c.editLibraryItem(ctx, item.SectionID, query)
}

func (c *Client) editLibraryItem(ctx context.Context, sectionID string, query url.Values) error {
	if c.cfg.ServerURL == "" {
		return fmt.Errorf("no media server configured")
	}
	resp, err := c.http.Do(ctx, httpclient.Request{
		Family: FamilyServer,
		Method: http.MethodPut,
		URL:    c.cfg.ServerURL + "/library/sections/" + sectionID + "/all",
		Query:  query,
		Header: headers(c.cfg.Token),
	})
	if err != nil {
		return fmt.Errorf("edit library item: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}
