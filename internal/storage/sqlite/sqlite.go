// Package sqlite provides a SQLite-backed implementation of the
// storage.Store interface, suitable for a single server process.
// Change notifications cover writes made through this process; remote
// writers reach it through the HTTP surface, which funnels everything
// into one process anyway.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/splitledger/splitledger/internal/feed"
	"github.com/splitledger/splitledger/internal/storage"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using SQLite.
//
// mu orders commits with their snapshot publications: without it, a
// writer descheduled between commit and publish could publish a stale
// snapshot after a later writer's fresher one, and coalescing delivery
// would leave subscribers on the stale state until the next write.
// Subscribe takes it too, so a registration cannot fall between a
// commit and its publication and miss the write entirely.
type Store struct {
	db  *sql.DB
	hub *feed.Hub
	mu  sync.Mutex
}

// New creates a Store with the given database path. It creates the
// parent directories and runs migrations automatically.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time. Funnel all access through a
	// single connection so concurrent creates queue on the pool instead
	// of failing with SQLITE_BUSY, and keep a busy timeout for writers
	// in other processes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db, hub: feed.NewHub()}, nil
}

// Close terminates all subscriptions and closes the database.
func (s *Store) Close() error {
	s.hub.Close()
	return s.db.Close()
}

// Subscribe delivers the current collection immediately and after every
// create or delete made through this store.
func (s *Store) Subscribe(ctx context.Context, groupID string, fn feed.SnapshotFunc) (*feed.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expenses, err := s.ListExpenses(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(groupID, feed.Snapshot{GroupID: groupID, Expenses: expenses}, fn)
}

// publish re-reads the group and fans the fresh snapshot out. A failed
// re-read only costs a notification; subscribers catch up on the next
// successful one.
func (s *Store) publish(ctx context.Context, groupID string) {
	expenses, err := s.ListExpenses(ctx, groupID)
	if err != nil {
		slog.Warn("failed to read snapshot for publication", "group_id", groupID, "error", err)
		return
	}
	s.hub.Publish(feed.Snapshot{GroupID: groupID, Expenses: expenses})
}

// unavailable tags an infrastructure failure so callers can detect it
// with errors.Is(err, storage.ErrUnavailable).
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(storage.ErrUnavailable, err))
}
