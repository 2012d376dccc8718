// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package database is the transactional persistence facade for Relayarr.
//
// Every component writes through this package; nothing else touches the
// database handle. The facade exposes exactly the bounded operations the
// core needs: watchlist bulk updates (main fields plus per-instance junction
// rows in one transaction), router rule CRUD with whitelisted columns,
// approval creation with expired-duplicate reuse, quota usage windows,
// scheduled job upserts with atomic run-status writes, idempotent label
// tracking, and notification de-dup lookups.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/relayarr/relayarr/internal/logging"
)

// Config holds database configuration.
type Config struct {
	// Path is the database file location. ":memory:" opens an in-memory
	// database (used by tests).
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB memory usage, e.g. "1GB".
	MaxMemory string `koanf:"max_memory"`

	// Threads limits DuckDB worker threads. 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:      "/data/relayarr.duckdb",
		MaxMemory: "1GB",
	}
}

// DB wraps the DuckDB connection and provides the data access methods used
// by the core subsystems.
type DB struct {
	conn   *sql.DB
	logger zerolog.Logger
}

// New opens the database, initializes the schema, and ensures the system
// user (id 0) exists.
func New(cfg Config) (*DB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" && cfg.Path != "" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
			}
		}
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
			cfg.Path, threads, cfg.MaxMemory)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{
		conn:   conn,
		logger: logging.Component("database"),
	}

	if err := db.initSchema(context.Background()); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	if err := db.EnsureSystemUser(context.Background()); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("ensure system user: %w", err)
	}

	return db, nil
}

// NewForTesting opens an in-memory database with the schema applied.
func NewForTesting() (*DB, error) {
	return New(Config{Path: ":memory:"})
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// withTx runs fn in a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			db.logger.Warn().Err(rbErr).Msg("Transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// nowUTC returns the current time truncated to microseconds, which is the
// resolution DuckDB stores for TIMESTAMP columns. Truncating here keeps
// round-tripped timestamps comparable.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
