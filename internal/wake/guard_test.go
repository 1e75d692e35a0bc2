package wake

import (
	"sync"
	"testing"
)

type countingLock struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (l *countingLock) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired++
}

func (l *countingLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
}

func TestGuard_PlatformLockHeldWhileAnyTokenLive(t *testing.T) {
	lock := &countingLock{}
	g := NewGuard(lock, nil)

	a := g.Acquire()
	b := g.Acquire()
	if lock.acquired != 1 {
		t.Fatalf("expected platform lock acquired once, got %d", lock.acquired)
	}

	a.Release()
	if lock.released != 0 {
		t.Fatalf("platform lock released while token still live")
	}

	b.Release()
	if lock.released != 1 {
		t.Errorf("expected platform lock released once, got %d", lock.released)
	}
	if g.Held() != 0 {
		t.Errorf("expected 0 held, got %d", g.Held())
	}
}

func TestToken_DoubleReleaseIsSilent(t *testing.T) {
	g := NewGuard(nil, nil)

	tok := g.Acquire()
	other := g.Acquire()

	if !tok.Release() {
		t.Error("first release should report true")
	}
	if tok.Release() {
		t.Error("second release should report false")
	}

	stats := g.Stats()
	if stats.Held != 1 {
		t.Errorf("double release must not drop another token's claim, held=%d", stats.Held)
	}
	other.Release()

	stats = g.Stats()
	if stats.Acquires != stats.Releases {
		t.Errorf("acquires %d != releases %d", stats.Acquires, stats.Releases)
	}
}

func TestToken_NilRelease(t *testing.T) {
	var tok *Token
	if tok.Release() {
		t.Error("nil token release should report false")
	}
}

func TestGuard_ConcurrentReleaseRace(t *testing.T) {
	g := NewGuard(nil, nil)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		tok := g.Acquire()
		wg.Add(2)
		go func() { defer wg.Done(); tok.Release() }()
		go func() { defer wg.Done(); tok.Release() }()
	}
	wg.Wait()

	stats := g.Stats()
	if stats.Acquires != n || stats.Releases != n || stats.Held != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
