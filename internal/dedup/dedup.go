// Package dedup drops repeated push deliveries. Providers redeliver on
// reconnect, and a push seen twice within the window is ignored.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/SebastienMelki/causality-push/internal/observability"
)

// Config holds the filter parameters.
type Config struct {
	Window   time.Duration `env:"WINDOW"   envDefault:"10m"`
	Capacity uint          `env:"CAPACITY" envDefault:"100000"`
	FPRate   float64       `env:"FP_RATE"  envDefault:"0.0001"`
}

// DefaultConfig returns a 10 minute window sized for 100k pushes.
func DefaultConfig() Config {
	return Config{
		Window:   10 * time.Minute,
		Capacity: 100_000,
		FPRate:   0.0001,
	}
}

// Filter remembers push keys for at least one window. It implements the
// dispatcher's Deduper and is safe for concurrent use.
type Filter struct {
	window   *window
	interval time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Filter. Call Start to begin rotating generations.
func New(cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Filter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.FPRate <= 0 || cfg.FPRate >= 1 {
		cfg.FPRate = def.FPRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		window:   newWindow(cfg.Capacity, cfg.FPRate),
		interval: cfg.Window / 2,
		metrics:  metrics,
		logger:   logger.With("component", "dedup"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Seen reports whether key was already seen, recording it if not. The empty
// key is never a duplicate.
func (f *Filter) Seen(key string) bool {
	if key == "" {
		return false
	}
	if !f.window.testAndAdd(key) {
		return false
	}
	if f.metrics != nil {
		f.metrics.DedupDropped.Add(context.Background(), 1)
	}
	f.logger.Debug("duplicate push dropped", "key", key)
	return true
}

// Rotate starts a new generation. Keys older than two generations are
// forgotten.
func (f *Filter) Rotate() {
	f.window.rotate()
}

// Start rotates every half window until ctx is done or Stop is called.
func (f *Filter) Start(ctx context.Context) {
	f.logger.Info("dedup filter started", "rotate_interval", f.interval)

	go func() {
		defer close(f.doneCh)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				f.Rotate()
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			}
		}
	}()
}

// Stop ends rotation and waits for the goroutine. Start must have been
// called.
func (f *Filter) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	<-f.doneCh
}
