// Package alarm schedules delayed push deliveries. Alarms are persisted so
// they survive process restarts and fire on wall-clock time: a timer that
// wakes early (clock adjustment, suspend) is re-armed for the remainder.
package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/SebastienMelki/causality-push/internal/messaging"
	"github.com/SebastienMelki/causality-push/internal/observability"
	"github.com/SebastienMelki/causality-push/internal/storage"
)

// Persistence retry bounds.
const (
	DefaultRetryInitial = 50 * time.Millisecond
	DefaultMaxRetries   = 3
)

// Store persists pending alarms. storage.AlarmStore implements it.
type Store interface {
	Save(ctx context.Context, id int, fireAt time.Time, messageJSON string) error
	Delete(ctx context.Context, id int) error
	List(ctx context.Context) ([]storage.StoredAlarm, error)
}

// FireFunc receives a message whose delivery time has arrived.
type FireFunc func(msg *messaging.NotificationMessage)

type pending struct {
	fireAt time.Time
	msg    *messaging.NotificationMessage
	timer  *time.Timer
}

// Scheduler keeps at most one pending alarm per message id.
type Scheduler struct {
	store   Store
	metrics *observability.Metrics
	logger  *slog.Logger

	retryInitial time.Duration
	maxRetries   uint64

	// storeMu serializes store writes. It is never acquired while holding mu.
	storeMu sync.Mutex

	mu      sync.Mutex
	pending map[int]*pending
	fire    FireFunc
	started bool
	stopped bool
	clock   func() time.Time
}

// NewScheduler creates a scheduler backed by store. metrics may be nil.
func NewScheduler(store Store, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        store,
		metrics:      metrics,
		logger:       logger.With("component", "alarm-scheduler"),
		retryInitial: DefaultRetryInitial,
		maxRetries:   DefaultMaxRetries,
		pending:      make(map[int]*pending),
		clock:        time.Now,
	}
}

// Start reloads persisted alarms and arms them. Alarms already due fire
// immediately. Alarms scheduled before Start are armed here too.
func (s *Scheduler) Start(ctx context.Context, fire FireFunc) error {
	stored, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load alarms: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	s.fire = fire
	s.started = true

	for _, a := range stored {
		if _, ok := s.pending[a.ID]; ok {
			continue
		}
		msg, err := messaging.Unmarshal([]byte(a.MessageJSON))
		n, ok := msg.(*messaging.NotificationMessage)
		if err != nil || !ok {
			s.logger.Warn("discarding unreadable alarm", "id", a.ID, "error", err)
			if delErr := s.store.Delete(ctx, a.ID); delErr != nil {
				s.logger.Error("failed to delete alarm", "id", a.ID, "error", delErr)
			}
			continue
		}
		s.pending[a.ID] = &pending{fireAt: a.FireAt, msg: n}
	}

	for id, p := range s.pending {
		s.armLocked(id, p)
	}

	s.logger.Info("alarm scheduler started", "pending", len(s.pending))
	return nil
}

// Schedule registers msg for re-delivery at its delivery time, replacing any
// pending alarm for the same id. Persistence is retried with backoff; if it
// still fails the alarm stays armed in memory only and the error is logged.
func (s *Scheduler) Schedule(ctx context.Context, msg *messaging.NotificationMessage) error {
	if msg == nil || msg.DeliveryTime.IsZero() {
		return ErrNotDelayed
	}

	raw, err := messaging.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode alarm %d: %w", msg.ID, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	if old, ok := s.pending[msg.ID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	p := &pending{fireAt: msg.DeliveryTime, msg: msg}
	s.pending[msg.ID] = p
	if s.started {
		s.armLocked(msg.ID, p)
	}
	s.mu.Unlock()

	s.storeMu.Lock()
	if err := s.persist(ctx, msg.ID, msg.DeliveryTime, string(raw)); err != nil {
		s.logger.Error("alarm not persisted, delivery will not survive restart",
			"id", msg.ID, "error", err)
	}
	// The alarm may have fired or been cancelled while it was being saved.
	s.mu.Lock()
	gone := s.pending[msg.ID] == nil
	s.mu.Unlock()
	if gone {
		if err := s.store.Delete(ctx, msg.ID); err != nil {
			s.logger.Error("failed to delete stale alarm", "id", msg.ID, "error", err)
		}
	}
	s.storeMu.Unlock()

	if s.metrics != nil {
		s.metrics.AlarmsScheduled.Add(ctx, 1)
	}
	s.logger.Debug("alarm scheduled", "id", msg.ID, "fire_at", msg.DeliveryTime)
	return nil
}

// Cancel removes any pending alarm for id.
func (s *Scheduler) Cancel(ctx context.Context, id int) error {
	s.mu.Lock()
	if p, ok := s.pending[id]; ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete alarm %d: %w", id, err)
	}
	return nil
}

// Pending returns the fire time of the alarm registered for id.
func (s *Scheduler) Pending(id int) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return time.Time{}, false
	}
	return p.fireAt, true
}

// Len returns the number of pending alarms.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop disarms all timers. Persisted alarms are kept for the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for _, p := range s.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
}

func (s *Scheduler) armLocked(id int, p *pending) {
	if p.timer != nil {
		p.timer.Stop()
	}
	delay := p.fireAt.Sub(s.clock())
	if delay < 0 {
		delay = 0
	}
	p.timer = time.AfterFunc(delay, func() { s.onTimer(id, p) })
}

func (s *Scheduler) onTimer(id int, p *pending) {
	s.mu.Lock()
	if s.stopped || s.pending[id] != p {
		s.mu.Unlock()
		return
	}
	if s.clock().Before(p.fireAt) {
		s.armLocked(id, p)
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	fire := s.fire
	s.mu.Unlock()

	ctx := context.Background()
	s.storeMu.Lock()
	if err := s.store.Delete(ctx, id); err != nil {
		s.logger.Error("failed to delete fired alarm", "id", id, "error", err)
	}
	s.storeMu.Unlock()
	if s.metrics != nil {
		s.metrics.AlarmsFired.Add(ctx, 1)
	}

	s.logger.Debug("alarm fired", "id", id)
	if fire != nil {
		fire(p.msg)
	}
}

func (s *Scheduler) persist(ctx context.Context, id int, fireAt time.Time, raw string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInitial
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx)

	return backoff.RetryNotify(func() error {
		return s.store.Save(ctx, id, fireAt, raw)
	}, policy, func(err error, wait time.Duration) {
		s.logger.Warn("retrying alarm persistence", "id", id, "wait", wait, "error", err)
	})
}

func (s *Scheduler) setClockForTesting(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}
