// Package observability wires OpenTelemetry metrics to a Prometheus exporter
// for the push daemon.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Module owns the MeterProvider and the Prometheus registry it exports to.
// The registry also carries the Go runtime and process collectors.
type Module struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
	meter    otelmetric.Meter
}

// New builds the registry and installs the MeterProvider as the global
// provider. Instruments created from Meter are scoped to serviceName.
func New(serviceName string) (*Module, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return &Module{
		registry: registry,
		provider: provider,
		meter:    provider.Meter(serviceName),
	}, nil
}

// Shutdown flushes and stops the MeterProvider.
func (m *Module) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// MetricsHandler serves the module's registry in the Prometheus exposition
// format.
func (m *Module) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Module) Meter() otelmetric.Meter {
	return m.meter
}
