// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Store holds the live configuration and applies versioned, transactional
// mutations to it. A mutation is validated and persisted before the
// in-memory copy is swapped, so a failed update leaves both the file and
// the running configuration untouched.
type Store struct {
	mu      sync.RWMutex
	cfg     *Config
	version uint64
	path    string
}

// NewStore wraps an already-loaded configuration. path is the file mutations
// are persisted to; empty means in-memory only.
func NewStore(cfg *Config, path string) *Store {
	return &Store{cfg: cfg, path: path, version: 1}
}

// LoadStore loads the configuration the same way Load does and returns it
// wrapped in a Store bound to the config file that was found, if any.
func LoadStore() (*Store, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	return NewStore(cfg, findConfigFile()), nil
}

// Current returns a snapshot of the live configuration. The caller owns the
// copy; later updates do not touch it.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := *s.cfg
	return &snapshot
}

// Version returns the current configuration version. It starts at 1 and
// increments on every committed update.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Update applies mutate to a copy of the current configuration, validates
// the result, persists it, and only then swaps the in-memory copy. The
// committed snapshot is returned.
func (s *Store) Update(mutate func(*Config) error) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.cfg
	if err := mutate(&next); err != nil {
		return nil, fmt.Errorf("mutate configuration: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if s.path != "" {
		if err := writeConfigFile(s.path, &next); err != nil {
			return nil, err
		}
	}

	s.cfg = &next
	s.version++

	snapshot := next
	return &snapshot, nil
}

// writeConfigFile marshals the configuration to YAML and replaces the file
// atomically via a same-directory temp file and rename.
func writeConfigFile(path string, cfg *Config) error {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return fmt.Errorf("stage configuration: %w", err)
	}
	raw, err := k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("marshal configuration: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("stage configuration file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write configuration file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close configuration file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit configuration file: %w", err)
	}
	return nil
}
