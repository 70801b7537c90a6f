/*
Package sqlite provides a SQLite-backed ledger.BlobStore.

PURPOSE:
  Holds the ledger's JSON blobs in a single key-value table. The ledger
  package decides what the blobs contain; this package only stores bytes
  under string keys.

KEY TABLE:
  blobs: key TEXT PRIMARY KEY, value BLOB, updated_at TEXT (RFC3339)

ATOMICITY:
  PutBatch writes every key in one SQL transaction, so the four
  collections of a ledger kind are always saved together.

WAL MODE:
  Opened with WAL (Write-Ahead Logging): readers don't block the writer.
  One open connection is kept so ":memory:" databases survive between
  calls.

USAGE:
  blobs, err := sqlite.New("./data/snapsolpay.db")
  if err != nil {
      log.Fatal(err)
  }
  defer blobs.Close()

  engine, persister, err := pool.Open(ctx, blobs, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/persist.go: BlobStore interface and encoding
  - store/postgres: same contract on PostgreSQL
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/snapsolpay/ledger-engine/ledger"
)

// Store implements ledger.BlobStore using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BLOB STORE (ledger.BlobStore interface)
// =============================================================================

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM blobs WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

// PutBatch upserts all blobs in one transaction.
func (s *Store) PutBatch(ctx context.Context, blobs map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO blobs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, key := range sortedKeys(blobs) {
		if _, err := stmt.ExecContext(ctx, key, blobs[key], now); err != nil {
			return fmt.Errorf("failed to write blob %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Keys lists stored keys (for admin view and tests).
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM blobs ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM blobs")
	return err
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
