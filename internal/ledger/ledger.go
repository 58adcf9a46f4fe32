// Package ledger owns the local bookkeeping database: a single SQLite file
// holding categories, transactions, month closings, settings and the
// append-only change log. One connection, one mutex; every business and
// sync operation serializes through WithConn.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// EpochSentinel is the logical timestamp of a ledger with no changes yet.
const EpochSentinel = "1970-01-01T00:00:00Z"

const dbFileName = "tillbook.db"

// DB wraps the guarded connection to the live ledger file.
type DB struct {
	mu   sync.Mutex
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the ledger database under dataDir and
// applies pending schema migrations.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(dataDir, dbFileName)
	conn, err := openConn(path)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{conn: conn, path: path}, nil
}

// OpenScratch opens a restored database at path read-only. Used for
// reading a peer's dataset; the live ledger is never touched and the
// scratch copy cannot be written through this handle.
func OpenScratch(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open scratch database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000;",
		"PRAGMA query_only=ON;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return conn, nil
}

func openConn(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite has a single writer; funnel everything through one conn.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return conn, nil
}

// Path returns the database file location.
func (d *DB) Path() string {
	return d.path
}

// WithConn runs f while holding the database mutex.
func (d *DB) WithConn(f func(conn *sql.DB) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return f(d.conn)
}

// Reload closes and reopens the connection after the database file was
// swapped by a restore.
func (d *DB) Reload() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.conn.Close(); err != nil {
		return fmt.Errorf("close stale connection: %w", err)
	}
	conn, err := openConn(d.path)
	if err != nil {
		return err
	}
	d.conn = conn
	return nil
}

// Close closes the live connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Close()
}

// Checkpoint flushes the WAL into the main database file so the file on
// disk is complete before it is archived or replaced.
func Checkpoint(conn *sql.DB) error {
	_, err := conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return err
}

// LastChange returns the logical change timestamp: MAX(ts) over the change
// log, or the epoch sentinel for an untouched ledger.
func LastChange(conn *sql.DB) (string, error) {
	var ts sql.NullString
	if err := conn.QueryRow("SELECT MAX(ts) FROM change_log").Scan(&ts); err != nil {
		return "", fmt.Errorf("read last change: %w", err)
	}
	if !ts.Valid {
		return EpochSentinel, nil
	}
	return ts.String, nil
}

// LastChange is the guarded convenience form.
func (d *DB) LastChange() (string, error) {
	var out string
	err := d.WithConn(func(conn *sql.DB) error {
		var innerErr error
		out, innerErr = LastChange(conn)
		return innerErr
	})
	return out, err
}
