// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package plex

import (
	"context"
	"fmt"
	"time"

	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/models"
)

// Friend is one account that shares its watchlist with the primary token.
type Friend struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	Title    string `json:"title"`
	Email    string `json:"email"`
}

// Account is the token owner's plex.tv identity.
type Account struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	Title    string `json:"title"`
	Email    string `json:"email"`
}

// GetAccount resolves the primary token's own account.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var account Account
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: FamilyTV,
		URL:    plexTVBase + "/api/v2/user",
		Header: headers(c.cfg.Token),
	}, &account)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	return &account, nil
}

// GetFriends enumerates the primary account's friends.
func (c *Client) GetFriends(ctx context.Context) ([]Friend, error) {
	var friends []Friend
	err := c.http.GetJSON(ctx, httpclient.Request{
		Family: FamilyTV,
		URL:    plexTVBase + "/api/v2/friends",
		Header: headers(c.cfg.Token),
	}, &friends)
	if err != nil {
		return nil, fmt.Errorf("fetch friends: %w", err)
	}
	return friends, nil
}

// graphQLRequest is the community API request envelope.
type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// friendWatchlistQuery pages through one user's shared watchlist.
const friendWatchlistQuery = `
query GetWatchlistHub($uuid: ID!, $first: PaginationInt!, $after: String) {
  user(id: $uuid) {
    watchlist(first: $first, after: $after) {
      nodes {
        id
        key
        title
        type
        art
        addedAt
      }
      pageInfo {
        hasNextPage
        endCursor
      }
    }
  }
}`

type friendWatchlistResponse struct {
	Data struct {
		User struct {
			Watchlist struct {
				Nodes []struct {
					ID      string `json:"id"`
					Key     string `json:"key"`
					Title   string `json:"title"`
					Type    string `json:"type"`
					Art     string `json:"art"`
					AddedAt string `json:"addedAt"`
				} `json:"nodes"`
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
			} `json:"watchlist"`
		} `json:"user"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GetFriendWatchlist fetches one friend's shared watchlist through the
// community GraphQL API, page by page. Entries are sparse; the caller
// resolves full metadata via GetItemDetails when the item is new.
func (c *Client) GetFriendWatchlist(ctx context.Context, friendUUID string) ([]WatchlistItem, error) {
	var items []WatchlistItem
	seen := make(map[string]bool)
	after := ""

	for {
		vars := map[string]interface{}{
			"uuid":  friendUUID,
			"first": c.cfg.PageSize,
		}
		if after != "" {
			vars["after"] = after
		}

		var resp friendWatchlistResponse
		err := c.http.PostJSON(ctx, httpclient.Request{
			Family: FamilyGraphQL,
			URL:    communityBase,
			Header: headers(c.cfg.Token),
		}, graphQLRequest{Query: friendWatchlistQuery, Variables: vars}, &resp)
		if err != nil {
			return nil, fmt.Errorf("fetch friend watchlist %s: %w", friendUUID, err)
		}
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("friend watchlist %s: %s", friendUUID, resp.Errors[0].Message)
		}

		wl := resp.Data.User.Watchlist
		for _, node := range wl.Nodes {
			var ct models.ContentType
			switch node.Type {
			case "MOVIE", "movie":
				ct = models.ContentTypeMovie
			case "SHOW", "show":
				ct = models.ContentTypeShow
			default:
				continue
			}
			key := node.Key
			if key == "" {
				key = node.ID
			}
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true

			item := WatchlistItem{
				Key:       key,
				RatingKey: node.ID,
				Title:     node.Title,
				Type:      ct,
				Thumb:     node.Art,
			}
			if t, err := time.Parse(time.RFC3339, node.AddedAt); err == nil {
				u := t.UTC()
				item.AddedAt = &u
			}
			items = append(items, item)
		}

		if !wl.PageInfo.HasNextPage || wl.PageInfo.EndCursor == "" {
			break
		}
		after = wl.PageInfo.EndCursor
	}
	return items, nil
}
