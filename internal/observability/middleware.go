package observability

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTPMetrics returns middleware recording duration, totals and errors
// (status >= 400) for the daemon's admin endpoints. route labels the
// measurements instead of the raw path. A nil metrics passes requests through.
func HTTPMetrics(metrics *Metrics, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			attrs := otelmetric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.String("status", strconv.Itoa(rec.status)),
			)
			ctx := r.Context()
			metrics.HTTPRequestDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
			metrics.HTTPRequestTotal.Add(ctx, 1, attrs)
			if rec.status >= 400 {
				metrics.HTTPRequestErrors.Add(ctx, 1, attrs)
			}
		})
	}
}
