// Package broadcast routes notification events to registered listeners, or
// back into the dispatcher when nobody is listening.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/causality-push/internal/messaging"
	"github.com/SebastienMelki/causality-push/internal/observability"
)

// Outbound broadcast channels.
const (
	ChannelReceived = messaging.ActionReceived
	ChannelTapped   = messaging.ActionTapped
)

// Event is one broadcast.
type Event struct {
	Channel string           `json:"channel"`
	Scope   string           `json:"scope"`
	Extras  messaging.Extras `json:"extras"`
}

// Registry counts listeners for a channel within a package scope.
type Registry interface {
	Listeners(channel, scope string) int
}

// Sender delivers an event to external listeners.
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

// Fallback handles an event in-process, synchronously, as if it had been
// dispatched with the channel as its action.
type Fallback interface {
	HandleInline(ctx context.Context, action string, extras messaging.Extras)
}

// Router picks between external delivery and the in-process fallback.
type Router struct {
	registry Registry
	sender   Sender
	scope    string
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu       sync.RWMutex
	fallback Fallback
	mirrors  []Sender
}

// NewRouter creates a router for the given package scope. The fallback is
// attached later with SetFallback, once the dispatcher exists.
func NewRouter(registry Registry, sender Sender, scope string, metrics *observability.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		sender:   sender,
		scope:    scope,
		metrics:  metrics,
		logger:   logger.With("component", "broadcast-router"),
	}
}

// SetFallback sets the handler used when a channel has no listeners.
func (r *Router) SetFallback(f Fallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = f
}

// AddMirror registers a sender that receives a copy of every event
// regardless of listeners. Mirror failures are logged only.
func (r *Router) AddMirror(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirrors = append(r.mirrors, s)
}

// Notify broadcasts msg on channel. With no listeners registered the
// fallback runs before Notify returns.
func (r *Router) Notify(ctx context.Context, channel string, msg messaging.CloudMessage, action *messaging.CloudAction) error {
	ev := Event{
		Channel: channel,
		Scope:   r.scope,
		Extras:  messaging.Extras{Message: msg, Action: action},
	}

	r.mu.RLock()
	fallback := r.fallback
	mirrors := r.mirrors
	r.mu.RUnlock()

	for _, m := range mirrors {
		if err := m.Send(ctx, ev); err != nil {
			r.logger.Warn("broadcast mirror failed", "channel", channel, "error", err)
		}
	}

	attrs := otelmetric.WithAttributes(attribute.String("channel", channel))

	if n := r.registry.Listeners(channel, r.scope); n > 0 {
		if err := r.sender.Send(ctx, ev); err != nil {
			return fmt.Errorf("broadcast %s: %w", channel, err)
		}
		if r.metrics != nil {
			r.metrics.BroadcastsSent.Add(ctx, 1, attrs)
		}
		r.logger.Debug("broadcast delivered", "channel", channel, "listeners", n)
		return nil
	}

	if fallback == nil {
		return fmt.Errorf("broadcast %s: %w", channel, ErrNoFallback)
	}
	if r.metrics != nil {
		r.metrics.BroadcastFallbacks.Add(ctx, 1, attrs)
	}
	r.logger.Debug("no listeners, handling internally", "channel", channel)
	fallback.HandleInline(ctx, channel, ev.Extras)
	return nil
}
