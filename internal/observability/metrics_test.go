package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestHTTPMetrics_RecordsErrors(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := HTTPMetrics(m, "/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	}

	if got := collectSum(t, reader, "http.request.total"); got != 3 {
		t.Errorf("http.request.total = %d, want 3", got)
	}
	if got := collectSum(t, reader, "http.request.errors"); got != 3 {
		t.Errorf("http.request.errors = %d, want 3", got)
	}
}

func TestHTTPMetrics_NilPassesThrough(t *testing.T) {
	called := false
	handler := HTTPMetrics(nil, "/x")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if !called {
		t.Error("wrapped handler not called")
	}
}

func TestNewMetrics_Counters(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.DispatchTotal.Add(context.Background(), 2)
	m.WakeTokensHeld.Add(context.Background(), 1)
	m.WakeTokensHeld.Add(context.Background(), -1)

	if got := collectSum(t, reader, "push.dispatch.total"); got != 2 {
		t.Errorf("push.dispatch.total = %d, want 2", got)
	}
	if got := collectSum(t, reader, "push.wake.tokens_held"); got != 0 {
		t.Errorf("push.wake.tokens_held = %d, want 0", got)
	}
}
