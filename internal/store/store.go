// Package store keeps finished runs, chat history and scheduled reports in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type Store struct {
	DB  *sql.DB
	now func() time.Time
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			conversation_id TEXT,
			question TEXT,
			sql_query TEXT,
			error TEXT,
			summary TEXT,
			row_count INTEGER,
			attempts INTEGER,
			failed INTEGER,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS runs_conversation ON runs (conversation_id, id);`,
		`CREATE INDEX IF NOT EXISTS runs_tenant ON runs (tenant_id, id);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT,
			role TEXT,
			content TEXT,
			summary TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT,
			tenant_id TEXT,
			question TEXT,
			interval_seconds INTEGER,
			last_run INTEGER,
			status TEXT DEFAULT 'active'
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("init store: %w", err)
		}
	}

	return &Store{DB: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
