package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Listener receives broadcasts. Listeners run on their own goroutine.
type Listener func(ctx context.Context, ev Event)

type subscription struct {
	id       uint64
	listener Listener
}

type busKey struct {
	channel string
	scope   string
}

// Bus is an in-process broadcast channel implementing Registry and Sender.
// Delivery is asynchronous; Send returns once every listener is scheduled.
type Bus struct {
	mu     sync.RWMutex
	subs   map[busKey][]subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[busKey][]subscription),
		logger: logger.With("component", "broadcast-bus"),
	}
}

// Subscribe registers l for channel within scope and returns a func that
// removes it.
func (b *Bus) Subscribe(channel, scope string, l Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	key := busKey{channel, scope}
	b.subs[key] = append(b.subs[key], subscription{id: id, listener: l})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[key]
			for i, s := range subs {
				if s.id == id {
					b.subs[key] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
		})
	}
}

// Listeners returns the number of listeners for channel within scope.
func (b *Bus) Listeners(channel, scope string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	return len(b.subs[busKey{channel, scope}])
}

// Send delivers ev to every listener of its channel and scope.
func (b *Bus) Send(ctx context.Context, ev Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	subs := append([]subscription(nil), b.subs[busKey{ev.Channel, ev.Scope}]...)
	b.wg.Add(len(subs))
	b.mu.RUnlock()

	for _, s := range subs {
		go func(l Listener) {
			defer b.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					b.logger.Error("broadcast listener panicked", "channel", ev.Channel, "panic", fmt.Sprint(rec))
				}
			}()
			l(ctx, ev)
		}(s.listener)
	}
	return nil
}

// Close stops accepting sends and waits for in-flight deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}
