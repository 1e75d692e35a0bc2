package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/causality-push/internal/messaging"
	"github.com/SebastienMelki/causality-push/internal/observability"
)

// ActionMessage is the JSON body of a message on the actions subject.
type ActionMessage struct {
	Action string           `json:"action"`
	Extras messaging.Extras `json:"extras"`
}

// Dispatcher accepts inbound actions. dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, code string, extras messaging.Extras) error
}

// fetcher is the part of jetstream.Consumer the subscriber pulls from.
type fetcher interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
}

// ackable is the part of jetstream.Msg the subscriber settles.
type ackable interface {
	Data() []byte
	Subject() string
	Ack() error
	Nak() error
	Term() error
}

// Subscriber pulls action messages from a durable consumer and hands them
// to the dispatcher. A message is acked once the dispatcher has accepted
// it; malformed messages are terminated and never redelivered.
type Subscriber struct {
	consumer   fetcher
	dispatcher Dispatcher
	fetchSize  int
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSubscriber creates a subscriber over consumer.
func NewSubscriber(consumer jetstream.Consumer, dispatcher Dispatcher, fetchSize int, metrics *observability.Metrics, logger *slog.Logger) *Subscriber {
	return newSubscriber(consumer, dispatcher, fetchSize, metrics, logger)
}

func newSubscriber(consumer fetcher, dispatcher Dispatcher, fetchSize int, metrics *observability.Metrics, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	if fetchSize <= 0 {
		fetchSize = 32
	}
	return &Subscriber{
		consumer:   consumer,
		dispatcher: dispatcher,
		fetchSize:  fetchSize,
		metrics:    metrics,
		logger:     logger.With("component", "nats-subscriber"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs the fetch loop in the background until ctx is done or Stop is
// called.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSubscriberActive
	}
	s.started = true

	go s.run(ctx)
	s.logger.Info("subscriber started", "fetch_size", s.fetchSize)
	return nil
}

// Stop ends the fetch loop and waits for the in-flight batch.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}

	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		batch, err := s.consumer.Fetch(s.fetchSize, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				s.logger.Error("fetch failed", "error", err)
				s.pause(ctx, time.Second)
			}
			continue
		}

		for msg := range batch.Messages() {
			s.process(ctx, msg)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("fetch batch error", "error", err)
		}
	}
}

func (s *Subscriber) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-s.stopCh:
	}
}

// process settles one message: ack when dispatched, nak when the
// dispatcher refused it, term when it cannot be parsed.
func (s *Subscriber) process(ctx context.Context, msg ackable) {
	result := "dispatched"
	defer func() {
		if s.metrics != nil {
			s.metrics.NATSMessagesProcessed.Add(ctx, 1,
				otelmetric.WithAttributes(attribute.String("result", result)))
		}
	}()

	am, err := parseAction(msg.Data())
	if err != nil {
		result = "malformed"
		s.logger.Warn("dropping malformed action", "subject", msg.Subject(), "error", err)
		if termErr := msg.Term(); termErr != nil {
			s.logger.Error("failed to terminate message", "error", termErr)
		}
		return
	}

	if err := s.dispatcher.Dispatch(ctx, am.Action, am.Extras); err != nil {
		result = "rejected"
		s.logger.Warn("dispatcher rejected action", "action", am.Action, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			s.logger.Error("failed to NAK message", "error", nakErr)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		s.logger.Error("failed to ACK message", "action", am.Action, "error", err)
	}
}

func parseAction(data []byte) (*ActionMessage, error) {
	var am ActionMessage
	if err := json.Unmarshal(data, &am); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	if am.Action == "" {
		return nil, fmt.Errorf("%w: missing action", ErrMalformedAction)
	}
	return &am, nil
}
