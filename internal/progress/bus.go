// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package progress is the in-process typed pub/sub for long-running
// operation progress. Delivery is at-most-once per subscriber and never
// back-pressures producers: a slow subscriber drops events.
package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/logging"
)

// EventType names the operation an event reports on.
type EventType string

const (
	TypeSelfWatchlist    EventType = "self-watchlist"
	TypeOthersWatchlist  EventType = "others-watchlist"
	TypeRSSFeed          EventType = "rss-feed"
	TypeSystem           EventType = "system"
	TypeSync             EventType = "sync"
	TypeSonarrTagging    EventType = "sonarr-tagging"
	TypeRadarrTagging    EventType = "radarr-tagging"
	TypeSonarrTagRemoval EventType = "sonarr-tag-removal"
	TypeRadarrTagRemoval EventType = "radarr-tag-removal"
	TypeApproval         EventType = "approval"
)

// Event is one progress report. Progress is 0-100.
type Event struct {
	OperationID string            `json:"operation_id"`
	Type        EventType         `json:"type"`
	Phase       string            `json:"phase"`
	Progress    int               `json:"progress"`
	Message     string            `json:"message,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

const topic = "progress"

// publishTimeout bounds how long a publish may wait on slow subscribers
// before the event is dropped.
const publishTimeout = 50 * time.Millisecond

// Bus is the process-wide progress pub/sub.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger

	subscribers atomic.Int64
	dropped     atomic.Int64

	closeOnce sync.Once
}

// NewBus builds the bus.
func NewBus() *Bus {
	logger := logging.Component("progress")
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NopLogger{}),
		logger: logger,
	}
}

// HasActiveSubscribers reports whether anyone is listening. Publishers check
// this before constructing events so idle operation paths pay nothing.
func (b *Bus) HasActiveSubscribers() bool {
	return b.subscribers.Load() > 0
}

// Publish emits an event. With no subscribers the event is silently
// discarded; with slow subscribers it is dropped after a short wait.
func (b *Bus) Publish(ev Event) {
	if !b.HasActiveSubscribers() {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Progress < 0 {
		ev.Progress = 0
	}
	if ev.Progress > 100 {
		ev.Progress = 100
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to marshal progress event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)

	done := make(chan error, 1)
	go func() { done <- b.pubsub.Publish(topic, msg) }()
	select {
	case err := <-done:
		if err != nil {
			b.logger.Warn().Err(err).Msg("Progress publish failed")
		}
	case <-time.After(publishTimeout):
		b.dropped.Add(1)
		b.logger.Debug().
			Str("type", string(ev.Type)).
			Msg("Progress event dropped, slow subscriber")
	}
}

// Subscribe returns a channel of events filtered by the given types (all
// types when none are given). The subscription ends when ctx is canceled.
func (b *Bus) Subscribe(ctx context.Context, types ...EventType) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	b.subscribers.Add(1)

	wanted := make(map[EventType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer b.subscribers.Add(-1)
		for msg := range msgs {
			msg.Ack()
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn().Err(err).Msg("Dropping malformed progress event")
				continue
			}
			if len(wanted) > 0 && !wanted[ev.Type] {
				continue
			}
			select {
			case out <- ev:
			default:
				b.dropped.Add(1)
			}
		}
	}()
	return out, nil
}

// Dropped reports how many events were discarded due to slow consumers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts the bus down; all subscriber channels close.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() { err = b.pubsub.Close() })
	return err
}
