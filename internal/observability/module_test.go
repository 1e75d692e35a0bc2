package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestModule_ServesInstrumentsAndRuntime(t *testing.T) {
	m, err := New("pushd-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	counter, err := m.Meter().Int64Counter("pushd.test.events")
	if err != nil {
		t.Fatalf("Int64Counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	srv := httptest.NewServer(m.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	for _, want := range []string{"pushd_test_events_total", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestModule_IndependentRegistries(t *testing.T) {
	for i := 0; i < 2; i++ {
		m, err := New("pushd-test")
		if err != nil {
			t.Fatalf("New #%d: %v", i, err)
		}
		_ = m.Shutdown(context.Background())
	}
}
