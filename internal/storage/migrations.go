package storage

import (
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	up      string
}

// migrations are applied in order. Append only.
var migrations = []migration{
	{
		version: 1,
		up: `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    stream TEXT NOT NULL DEFAULT 'live',
    session_id TEXT NOT NULL DEFAULT '',
    message_json TEXT NOT NULL,
    message_key TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL,
    retry_count INTEGER DEFAULT 0,
    last_retry_at INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_stream_created ON messages(stream, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
`,
	},
	{
		version: 2,
		up: `
CREATE TABLE IF NOT EXISTS prefs (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`,
	},
	{
		version: 3,
		up: `
CREATE TABLE IF NOT EXISTS alarms (
    id INTEGER PRIMARY KEY,
    fire_at INTEGER NOT NULL,
    message_json TEXT NOT NULL
);
`,
	},
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec(m.up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}
