package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ZentaChain/hubstack/pkg/logging"
	_ "github.com/mattn/go-sqlite3"
)

var logger = logging.Logger("storage")

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("database closed")
)

// DB is the node's SQLite database holding known hubs and queued relays
type DB struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens (creating if needed) the database at dbPath
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{db: db}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// initSchema creates database tables
func (d *DB) initSchema() error {
	schema := `
	-- Hubs learned from handshakes
	CREATE TABLE IF NOT EXISTS known_hubs (
		identity TEXT PRIMARY KEY,
		public_key BLOB,
		address TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL
	);

	-- Relays waiting for their destination to connect
	CREATE TABLE IF NOT EXISTS queued_relays (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		relay_guid TEXT UNIQUE NOT NULL,
		to_node TEXT NOT NULL,
		payload BLOB NOT NULL,
		queued_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queued_relays_to ON queued_relays(to_node);
	CREATE INDEX IF NOT EXISTS idx_queued_relays_expires ON queued_relays(expires_at);
	CREATE INDEX IF NOT EXISTS idx_known_hubs_last_seen ON known_hubs(last_seen DESC);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ready fails with ErrClosed once Close has been called
func (d *DB) ready() error {
	if d.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close closes the database connection. Stores built on it return ErrClosed
// afterwards.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return d.db.Close()
}
