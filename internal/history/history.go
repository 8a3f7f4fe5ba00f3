// Shoal is a Redfish aggregator service.

// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package history is a SQLite-backed audit trail of launched requests:
// a row is added at spawn and updated in place on completion; rows are
// never deleted. It is a pure operational convenience: nothing in
// this module ever reads history back to decide whether a task is
// cached, running, or complete — the spool remains the sole source of
// truth for that, per spec.md §9's "filesystem as state machine" note.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

// Store wraps a SQLite database holding the launch audit trail.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, int(defaultBusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS launches (
  id           TEXT PRIMARY KEY,
  request_id   TEXT NOT NULL,
  task_name    TEXT NOT NULL,
  spawned_at   TIMESTAMP NOT NULL,
  completed_at TIMESTAMP NULL,
  exit_code    INTEGER NULL
);
CREATE INDEX IF NOT EXISTS idx_launches_request_id ON launches(request_id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// RecordSpawn appends a row marking requestID's launch of taskName at
// spawnedAt. Satisfies launcher.HistoryRecorder.
func (s *Store) RecordSpawn(ctx context.Context, requestID, taskName string, spawnedAt time.Time) error {
	const ins = `INSERT INTO launches (id, request_id, task_name, spawned_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, ins, uuid.NewString(), requestID, taskName, spawnedAt.UTC())
	if err != nil {
		return fmt.Errorf("history: record spawn: %w", err)
	}
	return nil
}

// RecordCompletion updates the most recent launch row for requestID
// with its terminal exit code. A best-effort operation: if no prior
// RecordSpawn row exists for requestID, it does nothing.
func (s *Store) RecordCompletion(ctx context.Context, requestID string, completedAt time.Time, exitCode int) error {
	const upd = `
UPDATE launches SET completed_at=?, exit_code=?
WHERE id = (SELECT id FROM launches WHERE request_id=? ORDER BY spawned_at DESC LIMIT 1)`
	_, err := s.db.ExecContext(ctx, upd, completedAt.UTC(), exitCode, requestID)
	if err != nil {
		return fmt.Errorf("history: record completion: %w", err)
	}
	return nil
}

// Entry is one row of a request's launch history.
type Entry struct {
	RequestID   string
	TaskName    string
	SpawnedAt   time.Time
	CompletedAt *time.Time
	ExitCode    *int
}

// Recent returns the most recent limit launches, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT request_id, task_name, spawned_at, completed_at, exit_code
FROM launches ORDER BY spawned_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e           Entry
			completedAt sql.NullTime
			exitCode    sql.NullInt64
		)
		if err := rows.Scan(&e.RequestID, &e.TaskName, &e.SpawnedAt, &completedAt, &exitCode); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.SpawnedAt = e.SpawnedAt.UTC()
		if completedAt.Valid {
			t := completedAt.Time.UTC()
			e.CompletedAt = &t
		}
		if exitCode.Valid {
			n := int(exitCode.Int64)
			e.ExitCode = &n
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate: %w", err)
	}
	return out, nil
}
