package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/causality-push/internal/observability"
)

// Advisory subjects emitted by the server for a consumer.
const (
	maxDeliveriesAdvisory = "$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES"
	terminatedAdvisory    = "$JS.EVENT.ADVISORY.CONSUMER.MSG_TERMINATED"
)

// Dead-letter headers carried on forwarded messages.
const (
	HeaderOriginalSubject  = "X-DLQ-Original-Subject"
	HeaderOriginalSequence = "X-DLQ-Original-Sequence"
	HeaderReason           = "X-DLQ-Reason"
	HeaderDeliveries       = "X-DLQ-Deliveries"
)

// consumerAdvisory is the subset of the advisory payload the forwarder reads.
// Both advisory types carry these fields.
type consumerAdvisory struct {
	Type       string `json:"type"`
	Stream     string `json:"stream"`
	Consumer   string `json:"consumer"`
	StreamSeq  uint64 `json:"stream_seq"`
	Deliveries uint64 `json:"deliveries"`
}

type advisorySubscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type streamReader interface {
	GetMsg(ctx context.Context, seq uint64, opts ...jetstream.GetMsgOpt) (*jetstream.RawStreamMsg, error)
}

type msgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// DeadLetter watches the actions consumer's advisories and copies every
// action that exhausted its deliveries, or was terminated as malformed, to
// the dead-letter subject. The original stays in the stream until it ages
// out.
type DeadLetter struct {
	conn      advisorySubscriber
	stream    streamReader
	publisher msgPublisher
	config    Config
	metrics   *observability.Metrics
	logger    *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewDeadLetter creates a forwarder for the configured stream and consumer.
func NewDeadLetter(conn *nats.Conn, stream jetstream.Stream, js jetstream.JetStream, cfg Config, metrics *observability.Metrics, logger *slog.Logger) *DeadLetter {
	return newDeadLetter(conn, stream, js, cfg, metrics, logger)
}

func newDeadLetter(conn advisorySubscriber, stream streamReader, pub msgPublisher, cfg Config, metrics *observability.Metrics, logger *slog.Logger) *DeadLetter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetter{
		conn:      conn,
		stream:    stream,
		publisher: pub,
		config:    cfg,
		metrics:   metrics,
		logger:    logger.With("component", "nats-dead-letter"),
	}
}

func (d *DeadLetter) advisorySubjects() []string {
	suffix := "." + d.config.Stream.Name + "." + d.config.Consumer.Name
	return []string{maxDeliveriesAdvisory + suffix, terminatedAdvisory + suffix}
}

// Start subscribes to the consumer's advisories. Forwarding uses ctx.
func (d *DeadLetter) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, subject := range d.advisorySubjects() {
		sub, err := d.conn.Subscribe(subject, func(msg *nats.Msg) {
			d.handle(ctx, msg.Data)
		})
		if err != nil {
			d.unsubscribeLocked()
			return fmt.Errorf("subscribe to %s: %w", subject, err)
		}
		d.subs = append(d.subs, sub)
	}

	d.logger.Info("dead-letter forwarding started",
		"stream", d.config.Stream.Name,
		"consumer", d.config.Consumer.Name,
	)
	return nil
}

// Stop removes the advisory subscriptions.
func (d *DeadLetter) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unsubscribeLocked()
}

func (d *DeadLetter) unsubscribeLocked() {
	for _, sub := range d.subs {
		if sub == nil || !sub.IsValid() {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			d.logger.Warn("failed to unsubscribe", "subject", sub.Subject, "error", err)
		}
	}
	d.subs = nil
}

// handle forwards the message named by one advisory.
func (d *DeadLetter) handle(ctx context.Context, data []byte) {
	var adv consumerAdvisory
	if err := json.Unmarshal(data, &adv); err != nil {
		d.logger.Error("failed to parse advisory", "error", err)
		return
	}

	raw, err := d.stream.GetMsg(ctx, adv.StreamSeq)
	if err != nil {
		d.logger.Error("failed to load message for dead-lettering",
			"stream_seq", adv.StreamSeq,
			"error", err,
		)
		return
	}

	reason := "max_deliveries"
	if adv.Type == "io.nats.jetstream.advisory.v1.terminated" {
		reason = "terminated"
	}

	header := nats.Header{}
	for k, v := range raw.Header {
		header[k] = v
	}
	header.Set(HeaderOriginalSubject, raw.Subject)
	header.Set(HeaderOriginalSequence, strconv.FormatUint(adv.StreamSeq, 10))
	header.Set(HeaderReason, reason)
	header.Set(HeaderDeliveries, strconv.FormatUint(adv.Deliveries, 10))

	subject := d.config.DeadLetterSubject(raw.Subject)
	if _, err := d.publisher.PublishMsg(ctx, &nats.Msg{Subject: subject, Data: raw.Data, Header: header}); err != nil {
		d.logger.Error("failed to publish dead letter",
			"subject", subject,
			"stream_seq", adv.StreamSeq,
			"error", err,
		)
		return
	}

	if d.metrics != nil {
		d.metrics.DeadLettered.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
	}
	d.logger.Warn("action moved to dead-letter subject",
		"subject", subject,
		"stream_seq", adv.StreamSeq,
		"reason", reason,
		"deliveries", adv.Deliveries,
	)
}
