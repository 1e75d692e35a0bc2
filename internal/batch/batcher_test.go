package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/SebastienMelki/causality-push/internal/config"
	"github.com/SebastienMelki/causality-push/internal/storage"
)

type recordingUploader struct {
	mu        sync.Mutex
	envelopes []*Envelope
	err       error
	uploaded  chan struct{}
}

func newRecordingUploader() *recordingUploader {
	return &recordingUploader{uploaded: make(chan struct{}, 16)}
}

func (u *recordingUploader) Upload(_ context.Context, env *Envelope) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.envelopes = append(u.envelopes, env)
	select {
	case u.uploaded <- struct{}{}:
	default:
	}
	return nil
}

func (u *recordingUploader) sent() []*Envelope {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*Envelope(nil), u.envelopes...)
}

type staticSource struct{}

func (staticSource) AppInfo() map[string]any { return map[string]any{"app_name": "demo"} }

func (staticSource) DeviceInfo(context.Context) (map[string]any, error) {
	return map[string]any{"platform": "android"}, nil
}

func newTestQueue(t *testing.T) *storage.Queue {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "batch.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewQueue(db, 100)
}

func newTestBatcher(t *testing.T, q *storage.Queue, up Uploader, settings *config.Manager, batchSize int) *Batcher {
	t.Helper()
	a := NewAssembler(settings, newMemPrefs())
	return NewBatcher(q, a, up, staticSource{}, settings, batchSize, time.Hour, nil, nil)
}

func addMessages(t *testing.T, b *Batcher, session string, names ...string) {
	t.Helper()
	for _, n := range names {
		msg := fmt.Sprintf(`{"dt":"pr","n":%q}`, n)
		if err := b.Add(context.Background(), msg, session+"-"+n, session); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
}

func messageNames(t *testing.T, raw json.RawMessage) []string {
	t.Helper()
	var msgs []struct {
		N string `json:"n"`
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		t.Fatalf("unmarshal messages: %v", err)
	}
	names := make([]string, len(msgs))
	for i, m := range msgs {
		names[i] = m.N
	}
	return names
}

func TestBatcher_FlushUploadsAndDeletes(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	up := newRecordingUploader()
	b := newTestBatcher(t, q, up, testSettings(), 10)

	addMessages(t, b, "s1", "a", "b")
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	sent := up.sent()
	if len(sent) != 1 {
		t.Fatalf("uploaded %d envelopes, want 1", len(sent))
	}
	if got := messageNames(t, sent[0].Messages); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("messages = %v, want [a b]", got)
	}
	if sent[0].AppInfo["app_name"] != "demo" {
		t.Errorf("ai = %v", sent[0].AppInfo)
	}
	if n, _ := q.Count(ctx, storage.StreamLive); n != 0 {
		t.Errorf("live count after upload = %d, want 0", n)
	}

	// Nothing queued: no empty envelope.
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(up.sent()) != 1 {
		t.Error("empty queue produced an envelope")
	}
}

func TestBatcher_HistoryStreamUploadsAsHistory(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	up := newRecordingUploader()
	b := newTestBatcher(t, q, up, testSettings(), 10)

	addMessages(t, b, "old", "h1")
	if _, err := q.MoveToHistory(ctx, "old"); err != nil {
		t.Fatalf("MoveToHistory: %v", err)
	}
	addMessages(t, b, "new", "l1")

	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	sent := up.sent()
	if len(sent) != 2 {
		t.Fatalf("uploaded %d envelopes, want 2", len(sent))
	}
	if !sent[0].IsHistory() || messageNames(t, sent[0].History)[0] != "h1" {
		t.Errorf("first envelope should carry history h1: %+v", sent[0])
	}
	if sent[1].IsHistory() || messageNames(t, sent[1].Messages)[0] != "l1" {
		t.Errorf("second envelope should carry live l1: %+v", sent[1])
	}
}

func TestBatcher_UploadFailureKeepsMessages(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	up := newRecordingUploader()
	up.err = errors.New("collector unavailable")
	b := newTestBatcher(t, q, up, testSettings(), 10)

	addMessages(t, b, "s1", "a")
	if err := b.Flush(ctx); err == nil {
		t.Fatal("expected upload error")
	}

	queued, err := q.DequeueBatch(ctx, storage.StreamLive, 10)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(queued) != 1 || queued[0].RetryCount != 1 {
		t.Fatalf("queued = %+v, want one message with RetryCount=1", queued)
	}

	up.mu.Lock()
	up.err = nil
	up.mu.Unlock()
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush after recovery: %v", err)
	}
	if n, _ := q.Count(ctx, storage.StreamLive); n != 0 {
		t.Errorf("live count = %d, want 0", n)
	}
}

func TestBatcher_OptedOutDiscards(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	up := newRecordingUploader()
	settings := testSettings()
	settings.SetOptedOut(true)
	b := newTestBatcher(t, q, up, settings, 10)

	addMessages(t, b, "s1", "a")
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(up.sent()) != 0 {
		t.Error("opted-out client uploaded an envelope")
	}
	if n, _ := q.Count(ctx, storage.StreamLive); n != 0 {
		t.Errorf("live count = %d, want 0", n)
	}
}

func TestBatcher_FullBatchTriggersFlush(t *testing.T) {
	q := newTestQueue(t)
	up := newRecordingUploader()
	b := newTestBatcher(t, q, up, testSettings(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.StartFlushLoop(ctx)
	defer b.Stop()

	addMessages(t, b, "s1", "a", "b")

	select {
	case <-up.uploaded:
	case <-time.After(5 * time.Second):
		t.Fatal("full batch did not trigger an upload")
	}
}

func TestBatcher_StopFlushes(t *testing.T) {
	q := newTestQueue(t)
	up := newRecordingUploader()
	b := newTestBatcher(t, q, up, testSettings(), 10)

	b.StartFlushLoop(context.Background())
	addMessages(t, b, "s1", "a")
	b.Stop()
	b.Stop()

	if len(up.sent()) != 1 {
		t.Errorf("uploaded %d envelopes on stop, want 1", len(up.sent()))
	}
}
