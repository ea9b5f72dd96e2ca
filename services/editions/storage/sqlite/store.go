// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite is the SQL edition store, using the pure Go
// modernc.org/sqlite driver so the binary stays CGO free.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage"
)

const driverName = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS scope_adjacency (
	edition    INTEGER NOT NULL,
	kind       INTEGER NOT NULL,
	parent     INTEGER NOT NULL,
	from_id    INTEGER NOT NULL,
	successors TEXT    NOT NULL,
	PRIMARY KEY (edition, kind, parent, from_id)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS scope_records (
	edition INTEGER NOT NULL,
	kind    INTEGER NOT NULL,
	parent  INTEGER NOT NULL,
	id      INTEGER NOT NULL,
	body    BLOB    NOT NULL,
	PRIMARY KEY (edition, kind, parent, id)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// Config holds the SQLite settings.
type Config struct {
	// Path is the database file. Empty or ":memory:" opens a private
	// in-memory database.
	Path string `yaml:"path" toml:"path"`

	// BusyTimeout is how long a writer waits for the database lock
	// before SQLite reports SQLITE_BUSY. Default: 5s.
	BusyTimeout time.Duration `yaml:"busy_timeout" toml:"busy_timeout"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{BusyTimeout: 5 * time.Second}
}

// Store implements storage.Store on SQLite.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens or creates the database and applies the schema.
func Open(cfg Config) (*Store, error) {
	inMemory := cfg.Path == "" || cfg.Path == ":memory:"
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	pragmas := fmt.Sprintf("_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", busy.Milliseconds())
	var dsn string
	if inMemory {
		dsn = "file::memory:?" + pragmas
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + cfg.Path + "?" + pragmas + "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an empty private database.
func OpenInMemory() (*Store, error) {
	return Open(DefaultConfig())
}

// Backend implements storage.Store.
func (s *Store) Backend() string {
	return "sqlite"
}

func scopeArgs(key storage.ScopeKey) []any {
	return []any{int64(key.Edition), int64(key.Kind), int64(key.Parent)}
}

// LoadScope implements storage.Store.
func (s *Store) LoadScope(ctx context.Context, key storage.ScopeKey) (*storage.Snapshot, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	snap := storage.NewSnapshot(key)

	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, successors FROM scope_adjacency WHERE edition = ? AND kind = ? AND parent = ?`,
		scopeArgs(key)...)
	if err != nil {
		return nil, classify(fmt.Errorf("load adjacency %s: %w", key, err))
	}
	for rows.Next() {
		var (
			from int64
			raw  string
			succ []graph.NodeID
		)
		if err := rows.Scan(&from, &raw); err != nil {
			rows.Close()
			return nil, classify(err)
		}
		if err := json.Unmarshal([]byte(raw), &succ); err != nil {
			rows.Close()
			return nil, graph.Corrupt("load", fmt.Sprintf("adjacency row %d: %v", from, err), graph.NodeID(from))
		}
		snap.Adjacency[graph.NodeID(from)] = succ
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, classify(err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, body FROM scope_records WHERE edition = ? AND kind = ? AND parent = ?`,
		scopeArgs(key)...)
	if err != nil {
		return nil, classify(fmt.Errorf("load records %s: %w", key, err))
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, classify(err)
		}
		snap.Records[graph.NodeID(id)] = body
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return snap, nil
}

// NextID implements storage.Store.
func (s *Store) NextID(ctx context.Context) (graph.NodeID, error) {
	if s.closed.Load() {
		return 0, storage.ErrClosed
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES ('ids', 1)
		ON CONFLICT (name) DO UPDATE SET value = value + 1
		RETURNING value`).Scan(&id)
	if err != nil {
		return 0, classify(fmt.Errorf("next id: %w", err))
	}
	return graph.NodeID(id), nil
}

// Commit implements storage.Store.
func (s *Store) Commit(ctx context.Context, cs *storage.ChangeSet) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	for _, key := range cs.Drop {
		if err := dropScope(ctx, tx, key); err != nil {
			return classify(err)
		}
	}
	for i := range cs.Changes {
		if err := applyChange(ctx, tx, &cs.Changes[i]); err != nil {
			return classify(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func dropScope(ctx context.Context, tx *sql.Tx, key storage.ScopeKey) error {
	for _, table := range []string{"scope_adjacency", "scope_records"} {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE edition = ? AND kind = ? AND parent = ?`, scopeArgs(key)...)
		if err != nil {
			return fmt.Errorf("drop %s from %s: %w", key, table, err)
		}
	}
	return nil
}

func applyChange(ctx context.Context, tx *sql.Tx, c *storage.ScopeChange) error {
	args := scopeArgs(c.Scope)
	with := func(extra ...any) []any {
		return append(append([]any{}, args...), extra...)
	}

	for id, succ := range c.PutAdjacency {
		if len(succ) == 0 {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM scope_adjacency WHERE edition = ? AND kind = ? AND parent = ? AND from_id = ?`,
				with(int64(id))...)
			if err != nil {
				return fmt.Errorf("delete adjacency %d: %w", id, err)
			}
			continue
		}
		raw, err := json.Marshal(succ)
		if err != nil {
			return fmt.Errorf("encode adjacency %d: %w", id, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scope_adjacency (edition, kind, parent, from_id, successors) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (edition, kind, parent, from_id) DO UPDATE SET successors = excluded.successors`,
			with(int64(id), string(raw))...)
		if err != nil {
			return fmt.Errorf("put adjacency %d: %w", id, err)
		}
	}

	for id, body := range c.PutRecords {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scope_records (edition, kind, parent, id, body) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (edition, kind, parent, id) DO UPDATE SET body = excluded.body`,
			with(int64(id), body)...)
		if err != nil {
			return fmt.Errorf("put record %d: %w", id, err)
		}
	}

	for _, id := range c.DeleteRecords {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM scope_records WHERE edition = ? AND kind = ? AND parent = ? AND id = ?`,
			with(int64(id))...); err != nil {
			return fmt.Errorf("delete record %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM scope_adjacency WHERE edition = ? AND kind = ? AND parent = ? AND from_id = ?`,
			with(int64(id))...); err != nil {
			return fmt.Errorf("delete adjacency %d: %w", id, err)
		}
	}
	return nil
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return classify(s.db.PingContext(ctx))
}

// Close implements storage.Store. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// classify marks busy and locked results as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", storage.ErrRetryable, err)
		}
	}
	return err
}
