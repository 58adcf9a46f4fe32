package ledger

import (
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	version string
	sql     string
}

var migrations = []migration{
	{
		version: "001_init",
		sql: `
CREATE TABLE IF NOT EXISTS categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	description TEXT,
	default_vat_rate REAL NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	public_id TEXT NOT NULL UNIQUE,
	date TEXT NOT NULL,
	year INTEGER NOT NULL,
	month INTEGER NOT NULL,
	type TEXT NOT NULL CHECK (type IN ('INCOME', 'EXPENSE')),
	payment_method TEXT,
	category_id INTEGER REFERENCES categories(id),
	description TEXT,
	amount REAL NOT NULL,
	vat_rate REAL NOT NULL DEFAULT 0,
	attachment_path TEXT,
	note TEXT,
	ref_public_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_year_month ON transactions(year, month);
CREATE INDEX IF NOT EXISTS idx_transactions_updated_at ON transactions(updated_at);

CREATE TABLE IF NOT EXISTS month_closing (
	year INTEGER NOT NULL,
	month INTEGER NOT NULL,
	is_closed INTEGER NOT NULL DEFAULT 0,
	closed_at TEXT,
	closed_by TEXT,
	PRIMARY KEY (year, month)
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS change_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	actor TEXT,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT,
	ref_id TEXT,
	payload_json TEXT NOT NULL DEFAULT '{}',
	details TEXT
);

CREATE INDEX IF NOT EXISTS idx_change_log_ts ON change_log(ts);
`,
	},
}

func runMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(
		"CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TEXT NOT NULL)",
	); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := conn.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version,
		).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := conn.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		if _, err := conn.Exec(
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
	}
	return nil
}
