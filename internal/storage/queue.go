package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Stream selects which upload stream a queued message belongs to.
type Stream string

const (
	// StreamLive holds messages of the current session, uploaded as "msgs".
	StreamLive Stream = "live"
	// StreamHistory holds messages of ended sessions, uploaded as "hist".
	StreamHistory Stream = "history"
)

func (s Stream) valid() bool {
	return s == StreamLive || s == StreamHistory
}

// QueuedMessage is an analytics message waiting for upload.
type QueuedMessage struct {
	ID          int64
	Stream      Stream
	SessionID   string
	MessageJSON string
	MessageKey  string
	CreatedAt   int64 // unix ms
	RetryCount  int
}

// Queue is a FIFO persistent analytics message queue. When the queue
// reaches maxSize the oldest messages are evicted regardless of stream.
type Queue struct {
	db      *DB
	maxSize int
	now     func() time.Time
}

// NewQueue creates a Queue. maxSize <= 0 defaults to 1000.
func NewQueue(db *DB, maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Queue{
		db:      db,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Enqueue appends a message to the live stream. Duplicate message keys
// are ignored.
func (q *Queue) Enqueue(ctx context.Context, messageJSON, messageKey, sessionID string) error {
	count, err := q.total(ctx)
	if err != nil {
		return err
	}

	if count >= q.maxSize {
		if err := q.evictOldest(ctx, count-q.maxSize+1); err != nil {
			return err
		}
	}

	_, err = q.db.exec(ctx,
		`INSERT OR IGNORE INTO messages (stream, session_id, message_json, message_key, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(StreamLive), sessionID, messageJSON, messageKey, q.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// DequeueBatch returns up to n messages of the stream, oldest first.
// Messages stay queued until Delete is called.
func (q *Queue) DequeueBatch(ctx context.Context, stream Stream, n int) ([]QueuedMessage, error) {
	if !stream.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStream, stream)
	}
	if n <= 0 {
		return []QueuedMessage{}, nil
	}

	rows, err := q.db.query(ctx,
		`SELECT id, stream, session_id, message_json, message_key, created_at, retry_count
		 FROM messages
		 WHERE stream = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		string(stream), n,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []QueuedMessage{}
	for rows.Next() {
		var m QueuedMessage
		var s string
		if err := rows.Scan(&m.ID, &s, &m.SessionID, &m.MessageJSON, &m.MessageKey, &m.CreatedAt, &m.RetryCount); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Stream = Stream(s)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return msgs, nil
}

// Delete removes messages by id, typically after a successful upload.
func (q *Queue) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf("DELETE FROM messages WHERE id IN (%s)", strings.Join(placeholders, ","))
	if _, err := q.db.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// MarkRetry bumps the retry counter of a message.
func (q *Queue) MarkRetry(ctx context.Context, id int64) error {
	result, err := q.db.exec(ctx,
		`UPDATE messages SET retry_count = retry_count + 1, last_retry_at = ? WHERE id = ?`,
		q.now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("message %d: %w", id, ErrEventNotFound)
	}
	return nil
}

// MoveToHistory moves the live messages of an ended session into the
// history stream and returns how many were moved.
func (q *Queue) MoveToHistory(ctx context.Context, sessionID string) (int64, error) {
	result, err := q.db.exec(ctx,
		`UPDATE messages SET stream = ? WHERE stream = ? AND session_id = ?`,
		string(StreamHistory), string(StreamLive), sessionID,
	)
	if err != nil {
		return 0, fmt.Errorf("move to history: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of queued messages in a stream.
func (q *Queue) Count(ctx context.Context, stream Stream) (int, error) {
	var count int
	err := q.db.queryRow(ctx, "SELECT COUNT(*) FROM messages WHERE stream = ?", string(stream)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// Clear drops every queued message.
func (q *Queue) Clear(ctx context.Context) error {
	if _, err := q.db.exec(ctx, "DELETE FROM messages"); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (q *Queue) total(ctx context.Context) (int, error) {
	var count int
	if err := q.db.queryRow(ctx, "SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (q *Queue) evictOldest(ctx context.Context, n int) error {
	_, err := q.db.exec(ctx,
		`DELETE FROM messages WHERE id IN (
			SELECT id FROM messages ORDER BY created_at ASC, id ASC LIMIT ?
		)`,
		n,
	)
	if err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}
