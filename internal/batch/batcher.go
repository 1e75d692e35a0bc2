package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/causality-push/internal/observability"
	"github.com/SebastienMelki/causality-push/internal/storage"
)

// MessageQueue is the persistent message queue the batcher drains.
// storage.Queue implements it.
type MessageQueue interface {
	Enqueue(ctx context.Context, messageJSON, messageKey, sessionID string) error
	DequeueBatch(ctx context.Context, stream storage.Stream, n int) ([]storage.QueuedMessage, error)
	Delete(ctx context.Context, ids []int64) error
	MarkRetry(ctx context.Context, id int64) error
}

// Uploader delivers an envelope to the collection endpoint.
type Uploader interface {
	Upload(ctx context.Context, env *Envelope) error
}

// ContextSource provides the app and device sections of an envelope.
// device.Manager implements it.
type ContextSource interface {
	AppInfo() map[string]any
	DeviceInfo(ctx context.Context) (map[string]any, error)
}

// OptOut reports whether uploads are disabled.
type OptOut interface {
	OptedOut() bool
}

// Batcher accumulates queued messages and uploads them as envelopes,
// either every flushInterval or as soon as batchSize messages are pending.
type Batcher struct {
	queue         MessageQueue
	assembler     *Assembler
	uploader      Uploader
	source        ContextSource
	optOut        OptOut
	batchSize     int
	flushInterval time.Duration
	metrics       *observability.Metrics
	logger        *slog.Logger

	mu           sync.Mutex
	pendingCount int

	flushCh  chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewBatcher creates a batcher. Call StartFlushLoop to begin uploading.
func NewBatcher(
	queue MessageQueue,
	assembler *Assembler,
	uploader Uploader,
	source ContextSource,
	optOut OptOut,
	batchSize int,
	flushInterval time.Duration,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Minute
	}
	return &Batcher{
		queue:         queue,
		assembler:     assembler,
		uploader:      uploader,
		source:        source,
		optOut:        optOut,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		metrics:       metrics,
		logger:        logger.With("component", "batcher"),
		flushCh:       make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Add enqueues one serialized message and signals a flush once batchSize
// messages are pending.
func (b *Batcher) Add(ctx context.Context, messageJSON, messageKey, sessionID string) error {
	if err := b.queue.Enqueue(ctx, messageJSON, messageKey, sessionID); err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}

	b.mu.Lock()
	b.pendingCount++
	full := b.pendingCount >= b.batchSize
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush uploads one batch from each stream now.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

// Stop signals the flush loop to do a final flush and exit, and waits for
// it. Stop is safe to call more than once.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

// flushLocked must be called with b.mu held. A failing stream does not keep
// the other from being flushed; the first error is returned.
func (b *Batcher) flushLocked(ctx context.Context) error {
	var firstErr error
	for _, stream := range []storage.Stream{storage.StreamHistory, storage.StreamLive} {
		if err := b.flushStream(ctx, stream); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.pendingCount = 0
	return firstErr
}

func (b *Batcher) flushStream(ctx context.Context, stream storage.Stream) error {
	queued, err := b.queue.DequeueBatch(ctx, stream, b.batchSize)
	if err != nil {
		return fmt.Errorf("dequeue %s: %w", stream, err)
	}
	if len(queued) == 0 {
		return nil
	}

	ids := make([]int64, len(queued))
	msgs := make([]json.RawMessage, len(queued))
	for i, q := range queued {
		ids[i] = q.ID
		msgs[i] = json.RawMessage(q.MessageJSON)
	}

	if b.optOut != nil && b.optOut.OptedOut() {
		b.logger.Debug("opted out, discarding batch", "stream", stream, "count", len(queued))
		return b.queue.Delete(ctx, ids)
	}

	deviceInfo, err := b.source.DeviceInfo(ctx)
	if err != nil {
		return fmt.Errorf("collect device info: %w", err)
	}

	env, err := b.assembler.Assemble(ctx, Input{
		Messages:   msgs,
		History:    stream == storage.StreamHistory,
		AppInfo:    b.source.AppInfo(),
		DeviceInfo: deviceInfo,
	})
	if err != nil {
		return fmt.Errorf("assemble %s envelope: %w", stream, err)
	}

	attrs := otelmetric.WithAttributes(attribute.String("stream", string(stream)))
	if b.metrics != nil {
		b.metrics.EnvelopesAssembled.Add(ctx, 1, attrs)
	}

	start := time.Now()
	err = b.uploader.Upload(ctx, env)
	if b.metrics != nil {
		b.metrics.UploadDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if err != nil {
		if b.metrics != nil {
			b.metrics.UploadFailures.Add(ctx, 1, attrs)
		}
		for _, id := range ids {
			if mErr := b.queue.MarkRetry(ctx, id); mErr != nil {
				b.logger.Warn("failed to mark message for retry", "id", id, "error", mErr)
			}
		}
		return fmt.Errorf("upload envelope %s: %w", env.ID, err)
	}

	if err := b.queue.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete uploaded messages: %w", err)
	}
	b.logger.Debug("envelope uploaded", "id", env.ID, "stream", stream, "count", len(ids))
	return nil
}
