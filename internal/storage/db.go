// Package storage persists on-device push and analytics state in SQLite.
//
// It uses modernc.org/sqlite (pure Go, no CGO) so the package cross-compiles
// for mobile targets. One database holds the analytics message queue, the
// preferences key-value store and pending delayed-delivery alarms.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	// Register the pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

// DB wraps a *sql.DB connection to a SQLite database.
type DB struct {
	inner *sql.DB
	path  string
}

// NewDB opens (or creates) a SQLite database at dbPath in WAL mode and
// applies pending migrations.
func NewDB(dbPath string) (*DB, error) {
	if dbPath == "" {
		return nil, ErrEmptyPath
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer connection keeps prefs read-modify-write sequences
	// serialized across goroutines.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{
		inner: sqlDB,
		path:  dbPath,
	}, nil
}

// Path returns the filesystem path the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.inner.ExecContext(ctx, query, args...)
}

func (db *DB) beginTx(ctx context.Context) (*sql.Tx, error) {
	return db.inner.BeginTx(ctx, nil)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.inner.QueryContext(ctx, query, args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.inner.QueryRowContext(ctx, query, args...)
}
