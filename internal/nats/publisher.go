package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/SebastienMelki/causality-push/internal/broadcast"
	"github.com/SebastienMelki/causality-push/internal/messaging"
)

// publishAPI is the part of jetstream.JetStream the publisher calls.
type publishAPI interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher mirrors broadcasts to NATS and publishes actions. It implements
// broadcast.Sender.
type Publisher struct {
	js     publishAPI
	config Config
	logger *slog.Logger
}

// NewPublisher creates a publisher on js.
func NewPublisher(js jetstream.JetStream, cfg Config, logger *slog.Logger) *Publisher {
	return newPublisher(js, cfg, logger)
}

func newPublisher(js publishAPI, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		js:     js,
		config: cfg,
		logger: logger.With("component", "nats-publisher"),
	}
}

// Send publishes ev on the broadcast subject of its channel.
func (p *Publisher) Send(ctx context.Context, ev broadcast.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	return p.publish(ctx, p.config.BroadcastSubject(ev.Channel), data)
}

// PublishAction publishes an inbound action, as an external producer would.
func (p *Publisher) PublishAction(ctx context.Context, action string, extras messaging.Extras) error {
	data, err := json.Marshal(ActionMessage{Action: action, Extras: extras})
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	return p.publish(ctx, p.config.ActionsSubject(), data)
}

func (p *Publisher) publish(ctx context.Context, subject string, data []byte) error {
	ack, err := p.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	p.logger.Debug("published", "subject", subject, "stream", ack.Stream, "sequence", ack.Sequence)
	return nil
}
