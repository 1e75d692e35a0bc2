package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/SebastienMelki/causality-push/internal/messaging"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	codes  []string
	extras []messaging.Extras
	err    error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, code string, extras messaging.Extras) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.codes = append(d.codes, code)
	d.extras = append(d.extras, extras)
	return nil
}

type fakeLifecycle struct {
	events []string
}

func (l *fakeLifecycle) AppWillEnterForeground() { l.events = append(l.events, "foreground") }
func (l *fakeLifecycle) AppDidEnterBackground()  { l.events = append(l.events, "background") }

type fakeFlusher struct {
	calls int
	err   error
}

func (f *fakeFlusher) Flush(context.Context) error {
	f.calls++
	return f.err
}

func newTestMux(d *fakeDispatcher, lc *fakeLifecycle, f *fakeFlusher) http.Handler {
	return newAdminMux(adminDeps{
		Dispatcher: d,
		Lifecycle:  lc,
		Flusher:    f,
		Logger:     slog.Default(),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_Action(t *testing.T) {
	d := &fakeDispatcher{}
	h := newTestMux(d, &fakeLifecycle{}, &fakeFlusher{})

	rec := do(t, h, http.MethodPost, "/v1/actions", `{"action":"cloud.receive","extras":{"payload":{"m_msg":"hi"}}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(d.codes) != 1 || d.codes[0] != messaging.ActionReceive || d.extras[0].Payload["m_msg"] != "hi" {
		t.Errorf("dispatched %v %v", d.codes, d.extras)
	}
}

func TestAdmin_ActionErrors(t *testing.T) {
	h := newTestMux(&fakeDispatcher{}, &fakeLifecycle{}, &fakeFlusher{})
	if rec := do(t, h, http.MethodPost, "/v1/actions", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/actions", `{"extras":{}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing action: status = %d", rec.Code)
	}

	stopped := newTestMux(&fakeDispatcher{err: errors.New("stopped")}, &fakeLifecycle{}, &fakeFlusher{})
	if rec := do(t, stopped, http.MethodPost, "/v1/actions", `{"action":"notification.tapped"}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("stopped dispatcher: status = %d", rec.Code)
	}
}

func TestAdmin_Lifecycle(t *testing.T) {
	lc := &fakeLifecycle{}
	h := newTestMux(&fakeDispatcher{}, lc, &fakeFlusher{})

	for _, ev := range []string{"background", "foreground"} {
		if rec := do(t, h, http.MethodPost, "/v1/lifecycle/"+ev, ""); rec.Code != http.StatusNoContent {
			t.Errorf("%s: status = %d", ev, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodPost, "/v1/lifecycle/sideways", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown event: status = %d", rec.Code)
	}
	if len(lc.events) != 2 || lc.events[0] != "background" || lc.events[1] != "foreground" {
		t.Errorf("events = %v", lc.events)
	}
}

func TestAdmin_Flush(t *testing.T) {
	f := &fakeFlusher{}
	h := newTestMux(&fakeDispatcher{}, &fakeLifecycle{}, f)
	if rec := do(t, h, http.MethodPost, "/v1/flush", ""); rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}

	f.err = errors.New("collector down")
	if rec := do(t, h, http.MethodPost, "/v1/flush", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("failing flush: status = %d", rec.Code)
	}
	if f.calls != 2 {
		t.Errorf("calls = %d", f.calls)
	}
}

func TestAdmin_Health(t *testing.T) {
	h := newTestMux(&fakeDispatcher{}, &fakeLifecycle{}, &fakeFlusher{})
	rec := do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}
}

func TestSetupLogger(t *testing.T) {
	logger := setupLogger("debug", "text")
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level not enabled")
	}
	logger = setupLogger("bogus", "json")
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("unknown level should default to info")
	}
}
