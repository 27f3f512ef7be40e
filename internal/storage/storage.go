// Package storage provides the Ledger Store: the durable, crash-safe
// SQLite backing for UTXOs, per-sender sequence watermarks, the mempool,
// the peer table, and the committed ledger log. All multi-table mutations
// happen inside a single serialized writer transaction.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the Ledger Store (C2).
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New opens (creating if necessary) the SQLite-backed ledger store.
func New(cfg *Config) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "meshledger.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// SQLite only supports one writer; every write path is serialized by
	// Store.mu, so one connection is enough and avoids SQLITE_BUSY under
	// concurrent readers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection, for callers (migrations,
// diagnostics) that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS utxo (
		utxo_hash TEXT PRIMARY KEY,
		amount INTEGER NOT NULL,
		owner_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_utxo_owner ON utxo(owner_id);

	CREATE TABLE IF NOT EXISTS sequence (
		peer_id TEXT PRIMARY KEY,
		last_sequence_number INTEGER NOT NULL DEFAULT 0,
		last_entry_hash TEXT
	);

	CREATE TABLE IF NOT EXISTS mempool (
		entry_hash TEXT PRIMARY KEY,
		entry_blob BLOB NOT NULL,
		input_utxo_hash TEXT,
		received_at INTEGER NOT NULL,
		fee INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_mempool_order ON mempool(fee DESC, received_at ASC);
	CREATE INDEX IF NOT EXISTS idx_mempool_input_utxo ON mempool(input_utxo_hash);

	CREATE TABLE IF NOT EXISTS peers (
		peer_id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL,
		failure_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);

	CREATE TABLE IF NOT EXISTS ledger (
		block_index INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_hash TEXT NOT NULL UNIQUE,
		entry_blob BLOB NOT NULL,
		prev_hash TEXT,
		signature BLOB NOT NULL,
		emitter_id TEXT NOT NULL,
		committed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_emitter ON ledger(emitter_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations applies additive ALTER TABLE statements for databases
// created by an older schema version. Errors are ignored since the column
// may already exist.
func (s *Store) runMigrations() error {
	migrations := []string{}

	for _, migration := range migrations {
		_, _ = s.db.Exec(migration)
	}

	return nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
