// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package plex

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/logging"
)

// SessionEvent is one playback progress observation delivered over the
// media server's notification websocket. The reconciler uses these to drive
// rolling monitoring expansion.
type SessionEvent struct {
	SessionKey string
	RatingKey  string
	State      string // playing, paused, stopped
	ViewOffset int64  // ms
}

// SessionClient maintains the websocket to the Plex media server and
// delivers playing notifications to a callback. It reconnects with
// exponential backoff until stopped.
type SessionClient struct {
	serverURL string
	token     string
	onEvent   func(SessionEvent)
	logger    zerolog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSessionClient builds a session client. onEvent is invoked from the
// read loop and must not block.
func NewSessionClient(serverURL, token string, onEvent func(SessionEvent)) *SessionClient {
	return &SessionClient{
		serverURL: serverURL,
		token:     token,
		onEvent:   onEvent,
		logger:    logging.Component("plex-sessions"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the connect/read/reconnect loop until Stop or ctx cancel.
func (c *SessionClient) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop closes the connection and waits for the run loop to exit.
func (c *SessionClient) Stop() {
	close(c.stopCh)
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connMu.Unlock()
	<-c.doneCh
}

func (c *SessionClient) run(ctx context.Context) {
	defer close(c.doneCh)

	backoff := time.Second
	const maxBackoff = 2 * time.Minute

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connectAndRead(ctx); err != nil {
			c.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Session websocket disconnected")
		}

		select {
		case <-time.After(backoff):
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *SessionClient) connectAndRead(ctx context.Context) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		_ = conn.Close()
	}()
	c.logger.Info().Msg("Session websocket connected")

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
				return nil
			default:
				return fmt.Errorf("websocket read: %w", err)
			}
		}
		c.handleMessage(payload)
	}
}

// notificationEnvelope mirrors the server's notification container. Only
// playing notifications matter here.
type notificationEnvelope struct {
	Container struct {
		Type    string `json:"type"`
		Playing []struct {
			SessionKey string `json:"sessionKey"`
			RatingKey  string `json:"ratingKey"`
			State      string `json:"state"`
			ViewOffset int64  `json:"viewOffset"`
		} `json:"PlaySessionStateNotification"`
	} `json:"NotificationContainer"`
}

func (c *SessionClient) handleMessage(payload []byte) {
	var env notificationEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.logger.Debug().Err(err).Msg("Skipping malformed notification")
		return
	}
	if env.Container.Type != "playing" {
		return
	}
	for _, p := range env.Container.Playing {
		c.onEvent(SessionEvent{
			SessionKey: p.SessionKey,
			RatingKey:  p.RatingKey,
			State:      p.State,
			ViewOffset: p.ViewOffset,
		})
	}
}

func (c *SessionClient) websocketURL() (string, error) {
	parsed, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = "/:/websockets/notifications"
	q := parsed.Query()
	q.Set("X-Plex-Token", c.token)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}
