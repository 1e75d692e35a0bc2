// Package dispatch is the single entry point for push and notification
// actions. Actions are processed one at a time by a serial worker; every
// dispatch holds a wake token from the moment it is accepted until its side
// effects are complete, including any notification rendered in the
// background.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/causality-push/internal/messaging"
	"github.com/SebastienMelki/causality-push/internal/notify"
	"github.com/SebastienMelki/causality-push/internal/observability"
	"github.com/SebastienMelki/causality-push/internal/wake"
)

// DefaultQueueSize is the number of accepted actions that may wait for the
// worker before Dispatch blocks.
const DefaultQueueSize = 256

// Decoder parses raw push payloads. messaging.Decoder implements it.
type Decoder interface {
	Decode(extras map[string]string) messaging.CloudMessage
}

// Scheduler registers delayed deliveries. alarm.Scheduler implements it.
type Scheduler interface {
	Schedule(ctx context.Context, msg *messaging.NotificationMessage) error
}

// Renderer displays messages off the worker. notify.Renderer implements it.
type Renderer interface {
	Render(ctx context.Context, msg messaging.CloudMessage, post notify.Poster, done func())
	Wait()
}

// Router broadcasts notification events. broadcast.Router implements it.
type Router interface {
	Notify(ctx context.Context, channel string, msg messaging.CloudMessage, action *messaging.CloudAction) error
}

// Analytics is the analytics core as seen by the dispatcher.
type Analytics interface {
	notify.EventLogger
	// Register initializes the analytics core with a new push registration.
	Register(ctx context.Context, registrationID string) error
	// SaveMessage records a received push for attribution.
	SaveMessage(ctx context.Context, msg messaging.CloudMessage) error
}

// Notifications cancels visible notifications. notify.Manager implements it.
type Notifications interface {
	Cancel(id int)
}

// Bridge forwards traffic to a third-party push provider SDK.
type Bridge interface {
	ForwardRegistration(ctx context.Context, payload map[string]string) error
	// HandleMessage reports whether the provider consumed msg itself.
	HandleMessage(ctx context.Context, msg *messaging.ProviderMessage) bool
}

// Launcher opens the target of a tapped notification.
type Launcher interface {
	Launch(ctx context.Context, action *messaging.CloudAction, msg messaging.CloudMessage) error
}

// Deduper reports whether a key has been seen before, recording it if not.
type Deduper interface {
	Seen(key string) bool
}

// Deps are the dispatcher's collaborators. Bridge, Launcher, Deduper and
// Metrics are optional.
type Deps struct {
	Guard         *wake.Guard
	Decoder       Decoder
	Scheduler     Scheduler
	Renderer      Renderer
	Router        Router
	Analytics     Analytics
	Notifications Notifications
	State         notify.StateSource

	Bridge   Bridge
	Launcher Launcher
	Deduper  Deduper
	Metrics  *observability.Metrics

	QueueSize int
}

type job struct {
	ctx     context.Context
	code    string
	extras  messaging.Extras
	token   *wake.Token
	barrier chan struct{}
}

// Dispatcher maps inbound actions to their handlers.
type Dispatcher struct {
	deps    Deps
	metrics *observability.Metrics
	logger  *slog.Logger

	actions   chan job
	callbacks chan func()
	stopCh    chan struct{}
	doneCh    chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool

	// sendMu is held shared by enqueuers so Stop can wait them out before
	// draining the queue.
	sendMu sync.RWMutex
}

// New creates a dispatcher. Call Start to begin processing.
func New(deps Deps, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Guard == nil {
		deps.Guard = wake.NewGuard(nil, logger)
	}
	size := deps.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		deps:      deps,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "dispatcher"),
		actions:   make(chan job, size),
		callbacks: make(chan func(), size),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDispatcherStopped
	}
	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true
	go d.run()

	d.logger.Info("dispatcher started")
	return nil
}

// Dispatch accepts an action for processing and takes its wake token. It
// blocks only while the queue is full.
func (d *Dispatcher) Dispatch(ctx context.Context, code string, extras messaging.Extras) error {
	return d.enqueue(ctx, job{code: code, extras: extras})
}

// Sync blocks until every action accepted before the call has been handled.
// Background renders started by those actions may still be in flight.
func (d *Dispatcher) Sync(ctx context.Context) error {
	barrier := make(chan struct{})
	if err := d.enqueue(ctx, job{barrier: barrier}); err != nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FireDelayed re-enters the dispatcher for a delayed message whose delivery
// time has arrived. It is the alarm scheduler's fire callback.
func (d *Dispatcher) FireDelayed(msg *messaging.NotificationMessage) {
	err := d.Dispatch(context.Background(), messaging.ActionDelayedReceive, messaging.Extras{Message: msg})
	if err != nil {
		d.logger.Error("delayed message lost", "id", msg.ID, "error", err)
	}
}

// Stop terminates the worker between actions. Actions still queued are
// dropped with their wake tokens released. Stop returns once every
// background render has completed.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	started := d.started
	close(d.stopCh)
	d.mu.Unlock()

	if !started {
		close(d.doneCh)
	}

	select {
	case <-d.doneCh:
	case <-ctx.Done():
		return fmt.Errorf("stop dispatcher: %w", ctx.Err())
	}

	// Enqueuers hold sendMu while sending; taking it once waits them out.
	d.sendMu.Lock()
	d.sendMu.Unlock()

	dropped := d.drain()
	if d.deps.Renderer != nil {
		d.deps.Renderer.Wait()
	}
	dropped += d.drain()

	d.logger.Info("dispatcher stopped", "dropped", dropped)
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, j job) error {
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()

	select {
	case <-d.stopCh:
		return ErrDispatcherStopped
	default:
	}

	if j.barrier == nil {
		j.ctx = context.WithoutCancel(ctx)
		j.token = d.acquire(ctx)
	}

	select {
	case d.actions <- j:
		return nil
	case <-ctx.Done():
		d.releaseToken(j.token)
		return ctx.Err()
	case <-d.stopCh:
		d.releaseToken(j.token)
		return ErrDispatcherStopped
	}
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)

	for {
		// Completions first so wake tokens are not held behind new work.
		select {
		case fn := <-d.callbacks:
			fn()
			continue
		default:
		}

		select {
		case <-d.stopCh:
			return
		case fn := <-d.callbacks:
			fn()
		case j := <-d.actions:
			d.process(j)
		}
	}
}

// post runs fn on the worker, or inline once the worker has exited. A post
// that races the worker's exit lands in the buffer and is run by Stop.
func (d *Dispatcher) post(fn func()) {
	select {
	case <-d.doneCh:
		fn()
		return
	default:
	}

	select {
	case d.callbacks <- fn:
	case <-d.doneCh:
		fn()
	}
}

func (d *Dispatcher) drain() int {
	dropped := 0
	for {
		select {
		case fn := <-d.callbacks:
			fn()
		case j := <-d.actions:
			if j.barrier != nil {
				close(j.barrier)
				continue
			}
			d.releaseToken(j.token)
			dropped++
		default:
			return dropped
		}
	}
}

func (d *Dispatcher) process(j job) {
	if j.barrier != nil {
		close(j.barrier)
		return
	}

	sc := newScope(d, j.token)
	ctx := withScope(j.ctx, sc)
	defer sc.finish()

	d.handle(ctx, j.code, j.extras)
}

// HandleInline runs an action synchronously on the caller's goroutine. When
// called from within a dispatch it shares that dispatch's wake token;
// otherwise it takes its own. It is the broadcast router's fallback.
func (d *Dispatcher) HandleInline(ctx context.Context, action string, extras messaging.Extras) {
	if scopeFrom(ctx) != nil {
		d.handle(ctx, action, extras)
		return
	}

	sc := newScope(d, d.acquire(ctx))
	defer sc.finish()
	d.handle(withScope(ctx, sc), action, extras)
}

func (d *Dispatcher) handle(ctx context.Context, code string, extras messaging.Extras) {
	attrs := otelmetric.WithAttributes(attribute.String("action", code))
	if d.metrics != nil {
		d.metrics.DispatchTotal.Add(ctx, 1, attrs)
	}

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("action handler panicked", "action", code, "panic", fmt.Sprint(rec))
			if d.metrics != nil {
				d.metrics.DispatchFailures.Add(ctx, 1, attrs)
			}
		}
	}()

	if err := d.route(ctx, code, extras); err != nil {
		d.logger.Warn("action failed", "action", code, "error", err)
		if d.metrics != nil {
			d.metrics.DispatchFailures.Add(ctx, 1, attrs)
		}
	}
}

func (d *Dispatcher) acquire(ctx context.Context) *wake.Token {
	tok := d.deps.Guard.Acquire()
	if d.metrics != nil {
		d.metrics.WakeTokensHeld.Add(ctx, 1)
	}
	return tok
}

func (d *Dispatcher) releaseToken(tok *wake.Token) {
	if tok.Release() && d.metrics != nil {
		d.metrics.WakeTokensHeld.Add(context.Background(), -1)
	}
}
