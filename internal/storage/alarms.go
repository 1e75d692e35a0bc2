package storage

import (
	"context"
	"fmt"
	"time"
)

// StoredAlarm is a persisted delayed-delivery alarm.
type StoredAlarm struct {
	ID          int
	FireAt      time.Time
	MessageJSON string
}

// AlarmStore persists pending alarms so they survive process death.
// There is at most one row per alarm id.
type AlarmStore struct {
	db *DB
}

// NewAlarmStore creates an AlarmStore backed by db.
func NewAlarmStore(db *DB) *AlarmStore {
	return &AlarmStore{db: db}
}

// Save upserts the alarm for id, replacing any earlier registration.
func (s *AlarmStore) Save(ctx context.Context, id int, fireAt time.Time, messageJSON string) error {
	_, err := s.db.exec(ctx,
		"INSERT OR REPLACE INTO alarms (id, fire_at, message_json) VALUES (?, ?, ?)",
		id, fireAt.UnixMilli(), messageJSON,
	)
	if err != nil {
		return fmt.Errorf("save alarm %d: %w", id, err)
	}
	return nil
}

// Delete removes the alarm for id.
func (s *AlarmStore) Delete(ctx context.Context, id int) error {
	if _, err := s.db.exec(ctx, "DELETE FROM alarms WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete alarm %d: %w", id, err)
	}
	return nil
}

// List returns all pending alarms ordered by fire time.
func (s *AlarmStore) List(ctx context.Context) ([]StoredAlarm, error) {
	rows, err := s.db.query(ctx, "SELECT id, fire_at, message_json FROM alarms ORDER BY fire_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	defer rows.Close()

	var alarms []StoredAlarm
	for rows.Next() {
		var a StoredAlarm
		var fireAt int64
		if err := rows.Scan(&a.ID, &fireAt, &a.MessageJSON); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		a.FireAt = time.UnixMilli(fireAt)
		alarms = append(alarms, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alarms: %w", err)
	}
	return alarms, nil
}
