// Package store is the Postgres persistence layer: schema, idempotent event
// writes, tenancy records, edge credentials, and the aggregation queries the
// analytics layer builds on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps the Postgres connection pool.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// New wraps an existing database handle (tests inject sqlmock here).
func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orgs (
		org_id     TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		store_id   TEXT PRIMARY KEY,
		org_id     TEXT NOT NULL REFERENCES orgs(org_id),
		name       TEXT NOT NULL,
		timezone   TEXT NOT NULL DEFAULT 'UTC',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS cameras (
		camera_id    TEXT PRIMARY KEY,
		org_id       TEXT NOT NULL REFERENCES orgs(org_id),
		store_id     TEXT NOT NULL REFERENCES stores(store_id),
		name         TEXT NOT NULL DEFAULT '',
		is_entrance  BOOLEAN NOT NULL DEFAULT false,
		capabilities TEXT[] NOT NULL DEFAULT '{}',
		config       JSONB,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS edge_credentials (
		credential_id TEXT PRIMARY KEY,
		secret_hash   TEXT NOT NULL,
		org_id        TEXT NOT NULL REFERENCES orgs(org_id),
		store_id      TEXT NOT NULL REFERENCES stores(store_id),
		camera_id     TEXT,
		active        BOOLEAN NOT NULL DEFAULT true,
		last_seen     TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id         BIGSERIAL PRIMARY KEY,
		event_id   TEXT NOT NULL UNIQUE,
		org_id     TEXT NOT NULL,
		store_id   TEXT NOT NULL,
		camera_id  TEXT NOT NULL,
		person_key TEXT,
		type       TEXT NOT NULL,
		ts         TIMESTAMPTZ NOT NULL,
		payload    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_store_ts ON events (store_id, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_events_store_type_ts ON events (store_id, type, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_events_person ON events (store_id, camera_id, person_key, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_events_payload ON events USING GIN (payload)`,
}

// InitSchema creates tables and indexes if missing. Statements are all
// idempotent so this runs on every server start.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	s.logger.Printf("✅ Schema ready")
	return nil
}
