package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Prefs is the persistent string key-value preferences store.
type Prefs struct {
	db *DB
}

// NewPrefs creates a Prefs store backed by db.
func NewPrefs(db *DB) *Prefs {
	return &Prefs{db: db}
}

// Get returns the value stored under key and whether it exists.
func (p *Prefs) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.queryRow(ctx, "SELECT value FROM prefs WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get pref %q: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (p *Prefs) Put(ctx context.Context, key, value string) error {
	if _, err := p.db.exec(ctx, "INSERT OR REPLACE INTO prefs (key, value) VALUES (?, ?)", key, value); err != nil {
		return fmt.Errorf("put pref %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (p *Prefs) Remove(ctx context.Context, key string) error {
	if _, err := p.db.exec(ctx, "DELETE FROM prefs WHERE key = ?", key); err != nil {
		return fmt.Errorf("remove pref %q: %w", key, err)
	}
	return nil
}

// Update stores puts and deletes removes in one transaction: either every
// change is applied or none is.
func (p *Prefs) Update(ctx context.Context, puts map[string]string, removes []string) error {
	tx, err := p.db.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin prefs update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for key, value := range puts {
		if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO prefs (key, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("put pref %q: %w", key, err)
		}
	}
	for _, key := range removes {
		if _, err := tx.ExecContext(ctx, "DELETE FROM prefs WHERE key = ?", key); err != nil {
			return fmt.Errorf("remove pref %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prefs update: %w", err)
	}
	return nil
}
