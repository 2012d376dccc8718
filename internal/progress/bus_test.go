// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package progress

import (
	"context"
	"testing"
	"time"
)

func TestPublishWithoutSubscribersIsCheap(t *testing.T) {
	bus := NewBus()
	defer func() { _ = bus.Close() }()

	if bus.HasActiveSubscribers() {
		t.Fatal("fresh bus should have no subscribers")
	}
	// Must not block or panic.
	bus.Publish(Event{Type: TypeSystem, Phase: "start"})
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	bus := NewBus()
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Subscriber registration is asynchronous inside watermill.
	waitForSubscribers(t, bus)

	bus.Publish(Event{
		OperationID: "op-1",
		Type:        TypeSelfWatchlist,
		Phase:       "fetch",
		Progress:    150, // clamped to 100
		Message:     "page 3",
	})

	select {
	case ev := <-events:
		if ev.Type != TypeSelfWatchlist || ev.OperationID != "op-1" {
			t.Errorf("unexpected event: %+v", ev)
		}
		if ev.Progress != 100 {
			t.Errorf("progress = %d, want clamped 100", ev.Progress)
		}
		if ev.Timestamp.IsZero() {
			t.Error("timestamp not stamped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	bus := NewBus()
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := bus.Subscribe(ctx, TypeApproval)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitForSubscribers(t, bus)

	bus.Publish(Event{Type: TypeRSSFeed, Phase: "fetch"})
	bus.Publish(Event{Type: TypeApproval, Phase: "approved"})

	select {
	case ev := <-events:
		if ev.Type != TypeApproval {
			t.Errorf("filter passed %s", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("approval event not delivered")
	}
}

func TestSubscriberGoneAfterCancel(t *testing.T) {
	bus := NewBus()
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitForSubscribers(t, bus)

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				if bus.HasActiveSubscribers() {
					t.Error("subscriber count not decremented")
				}
				return
			}
		case <-deadline:
			t.Fatal("subscriber channel did not close after cancel")
		}
	}
}

func waitForSubscribers(t *testing.T, bus *Bus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !bus.HasActiveSubscribers() {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
