package batch

import (
	"context"
	"time"
)

// StartFlushLoop runs the flush loop in a background goroutine. It flushes
// on the interval ticker, when Add reports a full batch, and once more
// when Stop is called.
func (b *Batcher) StartFlushLoop(ctx context.Context) {
	go b.runFlushLoop(ctx)
}

func (b *Batcher) runFlushLoop(ctx context.Context) {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushAndLog(ctx, "interval")
		case <-b.flushCh:
			b.flushAndLog(ctx, "batch_full")
		case <-b.stopCh:
			b.flushAndLog(ctx, "stop")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (b *Batcher) flushAndLog(ctx context.Context, trigger string) {
	if err := b.Flush(ctx); err != nil {
		b.logger.Warn("flush failed", "trigger", trigger, "error", err)
	}
}
