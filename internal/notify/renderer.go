package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/causality-push/internal/messaging"
	"github.com/SebastienMelki/causality-push/internal/observability"
)

// Poster schedules fn on the dispatch worker. A nil Poster runs fn inline.
type Poster func(fn func())

// Renderer logs and builds notifications on a background goroutine and
// posts them from the dispatch worker.
type Renderer struct {
	manager  Manager
	events   EventLogger
	state    StateSource
	settings Settings
	metrics  *observability.Metrics
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewRenderer creates a renderer. metrics may be nil.
func NewRenderer(manager Manager, events EventLogger, state StateSource, settings Settings, metrics *observability.Metrics, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		manager:  manager,
		events:   events,
		state:    state,
		settings: settings,
		metrics:  metrics,
		logger:   logger.With("component", "notification-renderer"),
	}
}

// Render processes msg in the background. Network tracking is suspended
// until completion. The completion step runs through post: it replaces any
// visible notification with the same id, restores network tracking and
// finally calls done. done is called exactly once, even if rendering panics.
func (r *Renderer) Render(ctx context.Context, msg messaging.CloudMessage, post Poster, done func()) {
	restore := r.settings.SuspendNetworkTracking()
	if post == nil {
		post = func(fn func()) { fn() }
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		var n *Notification
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("notification render panicked", "id", msg.MessageID(), "panic", fmt.Sprint(rec))
				n = nil
			}
			post(func() { r.complete(ctx, msg, n, restore, done) })
		}()

		n = r.render(ctx, msg)
	}()
}

// Wait blocks until all background renders have posted their completion.
func (r *Renderer) Wait() {
	r.wg.Wait()
}

func (r *Renderer) render(ctx context.Context, msg messaging.CloudMessage) *Notification {
	state := r.state.State()

	if err := r.events.LogNotification(ctx, msg, nil, state, ReceivedFlags(msg)); err != nil {
		r.logger.Warn("failed to log notification", "id", msg.MessageID(), "error", err)
	}

	n, err := Build(msg, r.settings)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrNotDisplayable) {
			level = slog.LevelDebug
		}
		r.logger.Log(ctx, level, "no notification built", "id", msg.MessageID(), "error", err)
		if r.metrics != nil {
			r.metrics.RenderFailures.Add(ctx, 1)
		}
		return nil
	}
	return n
}

func (r *Renderer) complete(ctx context.Context, msg messaging.CloudMessage, n *Notification, restore, done func()) {
	defer done()
	defer restore()

	if n == nil {
		return
	}

	r.manager.Cancel(n.ID)
	if err := r.manager.Notify(n.ID, n); err != nil {
		r.logger.Warn("failed to post notification", "id", n.ID, "error", err)
		return
	}

	if r.metrics != nil {
		r.metrics.NotificationsRendered.Add(ctx, 1,
			otelmetric.WithAttributes(attribute.String("kind", kindOf(msg))))
	}
}

func kindOf(msg messaging.CloudMessage) string {
	switch msg.(type) {
	case *messaging.NotificationMessage:
		return messaging.KindMpNotification
	case *messaging.ProviderMessage:
		return messaging.KindProvider
	case *messaging.SilentMessage:
		return messaging.KindMpSilent
	default:
		return "unknown"
	}
}
