package observability

import (
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments shared by the push daemon's components.
// Components take a *Metrics and skip recording when it is nil.
type Metrics struct {
	// HTTP metrics
	HTTPRequestDuration otelmetric.Float64Histogram
	HTTPRequestTotal    otelmetric.Int64Counter
	HTTPRequestErrors   otelmetric.Int64Counter

	// Dispatch metrics
	DispatchTotal    otelmetric.Int64Counter
	DispatchFailures otelmetric.Int64Counter
	WakeTokensHeld   otelmetric.Int64UpDownCounter

	// Notification metrics
	NotificationsRendered otelmetric.Int64Counter
	RenderFailures        otelmetric.Int64Counter
	BroadcastsSent        otelmetric.Int64Counter
	BroadcastFallbacks    otelmetric.Int64Counter

	// Alarm metrics
	AlarmsScheduled otelmetric.Int64Counter
	AlarmsFired     otelmetric.Int64Counter

	// Deduplication metrics
	DedupDropped otelmetric.Int64Counter

	// NATS metrics
	NATSMessagesProcessed otelmetric.Int64Counter
	DeadLettered          otelmetric.Int64Counter

	// Upload metrics
	EnvelopesAssembled otelmetric.Int64Counter
	UploadFailures     otelmetric.Int64Counter
	UploadDuration     otelmetric.Float64Histogram
	EnvelopeSize       otelmetric.Int64Histogram
}

// NewMetrics creates all metric instruments from the given Meter.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.request.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestTotal, err = meter.Int64Counter(
		"http.request.total",
		otelmetric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestErrors, err = meter.Int64Counter(
		"http.request.errors",
		otelmetric.WithDescription("HTTP request errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, err
	}

	// Dispatch metrics
	m.DispatchTotal, err = meter.Int64Counter(
		"push.dispatch.total",
		otelmetric.WithDescription("Dispatched actions by action code"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchFailures, err = meter.Int64Counter(
		"push.dispatch.failures",
		otelmetric.WithDescription("Dispatch handler failures, including recovered panics"),
	)
	if err != nil {
		return nil, err
	}

	m.WakeTokensHeld, err = meter.Int64UpDownCounter(
		"push.wake.tokens_held",
		otelmetric.WithDescription("Wake tokens currently held"),
	)
	if err != nil {
		return nil, err
	}

	// Notification metrics
	m.NotificationsRendered, err = meter.Int64Counter(
		"push.notifications.rendered",
		otelmetric.WithDescription("Notifications posted by the renderer"),
	)
	if err != nil {
		return nil, err
	}

	m.RenderFailures, err = meter.Int64Counter(
		"push.notifications.render_failures",
		otelmetric.WithDescription("Renders that produced no notification"),
	)
	if err != nil {
		return nil, err
	}

	m.BroadcastsSent, err = meter.Int64Counter(
		"push.broadcast.sent",
		otelmetric.WithDescription("Broadcasts delivered to external listeners"),
	)
	if err != nil {
		return nil, err
	}

	m.BroadcastFallbacks, err = meter.Int64Counter(
		"push.broadcast.fallbacks",
		otelmetric.WithDescription("Broadcasts handled internally for lack of listeners"),
	)
	if err != nil {
		return nil, err
	}

	// Alarm metrics
	m.AlarmsScheduled, err = meter.Int64Counter(
		"push.alarms.scheduled",
		otelmetric.WithDescription("Delayed deliveries scheduled"),
	)
	if err != nil {
		return nil, err
	}

	m.AlarmsFired, err = meter.Int64Counter(
		"push.alarms.fired",
		otelmetric.WithDescription("Delayed deliveries re-injected"),
	)
	if err != nil {
		return nil, err
	}

	// Deduplication metrics
	m.DedupDropped, err = meter.Int64Counter(
		"dedup.dropped",
		otelmetric.WithDescription("Duplicate pushes dropped before decoding"),
	)
	if err != nil {
		return nil, err
	}

	// NATS metrics
	m.NATSMessagesProcessed, err = meter.Int64Counter(
		"nats.messages.processed",
		otelmetric.WithDescription("Inbound NATS action messages processed"),
	)
	if err != nil {
		return nil, err
	}

	m.DeadLettered, err = meter.Int64Counter(
		"nats.messages.dead_lettered",
		otelmetric.WithDescription("Action messages moved to the dead-letter subject"),
	)
	if err != nil {
		return nil, err
	}

	// Upload metrics
	m.EnvelopesAssembled, err = meter.Int64Counter(
		"upload.envelopes.assembled",
		otelmetric.WithDescription("Upload envelopes assembled by stream"),
	)
	if err != nil {
		return nil, err
	}

	m.UploadFailures, err = meter.Int64Counter(
		"upload.failures",
		otelmetric.WithDescription("Envelope uploads that failed"),
	)
	if err != nil {
		return nil, err
	}

	m.UploadDuration, err = meter.Float64Histogram(
		"upload.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Envelope upload duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.EnvelopeSize, err = meter.Int64Histogram(
		"upload.envelope.size",
		otelmetric.WithUnit("By"),
		otelmetric.WithDescription("Serialized envelope size in bytes"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}
