// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStoreUpdateCommitsAndBumpsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewStore(validConfig(), path)

	updated, err := store.Update(func(c *Config) error {
		c.Server.Port = 9090
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Server.Port != 9090 {
		t.Errorf("returned port = %d", updated.Server.Port)
	}
	if got := store.Current().Server.Port; got != 9090 {
		t.Errorf("live port = %d, want 9090", got)
	}
	if v := store.Version(); v != 2 {
		t.Errorf("version = %d, want 2", v)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}
	if !strings.Contains(string(raw), "9090") {
		t.Error("persisted file does not carry the new port")
	}
}

func TestStoreUpdateRejectsInvalidMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewStore(validConfig(), path)
	before := store.Current().LabelSync.Concurrency

	_, err := store.Update(func(c *Config) error {
		c.LabelSync.Concurrency = 99
		return nil
	})
	if err == nil {
		t.Fatal("invalid mutation must be rejected")
	}
	if got := store.Current().LabelSync.Concurrency; got != before {
		t.Errorf("live concurrency = %d, want unchanged %d", got, before)
	}
	if v := store.Version(); v != 1 {
		t.Errorf("version = %d, want 1 (no commit)", v)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("rejected update must not write the config file")
	}
}

func TestStoreCurrentReturnsIsolatedCopy(t *testing.T) {
	store := NewStore(validConfig(), "")
	snapshot := store.Current()
	snapshot.Server.Port = 1

	if got := store.Current().Server.Port; got == 1 {
		t.Error("mutating a snapshot must not touch the live configuration")
	}
}
