// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/relayarr/relayarr/internal/httpclient"
	"github.com/relayarr/relayarr/internal/models"
)

// Governor families, one per outbound channel.
const (
	familyChat = "notify-chat"
	familyPush = "notify-push"
)

const smtpDialTimeout = 15 * time.Second

// chatPayload is the webhook body, Discord-compatible.
type chatPayload struct {
	Content string `json:"content"`
}

func (n *Notifier) sendChat(ctx context.Context, user *models.User, message string) error {
	content := message
	if user.ChatID != "" {
		content = fmt.Sprintf("<@%s> %s", user.ChatID, message)
	}
	err := n.http.PostJSON(ctx, httpclient.Request{
		Family: familyChat,
		URL:    n.cfg.Chat.WebhookURL,
	}, chatPayload{Content: content}, nil)
	if err != nil {
		return fmt.Errorf("chat webhook: %w", err)
	}
	return nil
}

// pushPayload is the gateway body, Gotify-compatible.
type pushPayload struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

func (n *Notifier) sendPush(ctx context.Context, title, message string) error {
	header := http.Header{}
	header.Set("X-Gotify-Key", n.cfg.Push.Token)
	err := n.http.PostJSON(ctx, httpclient.Request{
		Family: familyPush,
		URL:    strings.TrimRight(n.cfg.Push.URL, "/") + "/message",
		Header: header,
	}, pushPayload{Title: title, Message: message, Priority: 5}, nil)
	if err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}
	return nil
}

// sendEmail delivers one plain-text message over SMTP with optional
// STARTTLS and PLAIN auth.
func (n *Notifier) sendEmail(ctx context.Context, to, subject, body string) error {
	cfg := n.cfg.Email
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp connect: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if cfg.UseTLS {
		tlsCfg := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(cfg.From); err != nil {
		return fmt.Errorf("smtp sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(formatEmail(cfg.From, to, subject, body))); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	// Quit failures after a delivered message are not dispatch failures.
	_ = client.Quit()
	return nil
}

func formatEmail(from, to, subject, body string) string {
	var msg strings.Builder
	msg.WriteString("From: Relayarr <" + from + ">\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")
	return msg.String()
}
