package dispatch

import (
	"context"
	"sync"

	"github.com/SebastienMelki/causality-push/internal/wake"
)

type scopeKey struct{}

// scope tracks one dispatch's wake token. The token is released when the
// handler has returned and every deferred completion has run.
type scope struct {
	d        *Dispatcher
	token    *wake.Token
	mu       sync.Mutex
	pending  int
	finished bool
}

func newScope(d *Dispatcher, token *wake.Token) *scope {
	return &scope{d: d, token: token}
}

func withScope(ctx context.Context, sc *scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, sc)
}

func scopeFrom(ctx context.Context) *scope {
	sc, _ := ctx.Value(scopeKey{}).(*scope)
	return sc
}

// deferRelease hands part of the release to an asynchronous completion.
// The returned func may be called more than once.
func (s *scope) deferRelease() (done func()) {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.pending--
			release := s.finished && s.pending == 0
			s.mu.Unlock()
			if release {
				s.d.releaseToken(s.token)
			}
		})
	}
}

func (s *scope) finish() {
	s.mu.Lock()
	s.finished = true
	release := s.pending == 0
	s.mu.Unlock()
	if release {
		s.d.releaseToken(s.token)
	}
}
