// Package wake provides the reference-counted wake token that keeps the host
// from suspending the push worker while dispatches are in flight.
package wake

import (
	"log/slog"
	"sync"
)

// Lock is the platform wake primitive. The guard calls Acquire when the
// first token is taken and Release when the last one is returned.
type Lock interface {
	Acquire()
	Release()
}

// NopLock is a Lock for hosts without a wake primitive.
type NopLock struct{}

func (NopLock) Acquire() {}
func (NopLock) Release() {}

// Stats is a snapshot of guard activity.
type Stats struct {
	Acquires uint64
	Releases uint64
	Held     int
}

// Guard hands out Tokens and holds the platform lock while any is live.
type Guard struct {
	mu       sync.Mutex
	lock     Lock
	held     int
	acquires uint64
	releases uint64
	logger   *slog.Logger
}

// NewGuard creates a guard around lock. A nil lock behaves like NopLock.
func NewGuard(lock Lock, logger *slog.Logger) *Guard {
	if lock == nil {
		lock = NopLock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		lock:   lock,
		logger: logger.With("component", "wake-guard"),
	}
}

// Acquire takes a new token. Each token must be released exactly once;
// extra releases are ignored.
func (g *Guard) Acquire() *Token {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.acquires++
	g.held++
	if g.held == 1 {
		g.lock.Acquire()
		g.logger.Debug("wake lock acquired")
	}
	return &Token{guard: g}
}

func (g *Guard) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held == 0 {
		g.logger.Debug("ignoring release of unheld wake lock")
		return
	}
	g.releases++
	g.held--
	if g.held == 0 {
		g.lock.Release()
		g.logger.Debug("wake lock released")
	}
}

// Held returns the number of live tokens.
func (g *Guard) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Stats returns a snapshot of acquire/release counts.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{Acquires: g.acquires, Releases: g.releases, Held: g.held}
}

// Token is one dispatch's claim on the wake lock.
type Token struct {
	guard *Guard
	once  sync.Once
}

// Release returns the token. It reports whether this call did the release;
// subsequent calls are no-ops and return false.
func (t *Token) Release() bool {
	if t == nil {
		return false
	}
	released := false
	t.once.Do(func() {
		t.guard.release()
		released = true
	})
	return released
}
