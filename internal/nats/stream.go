package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// EnsureStream creates the actions stream, or updates it if it exists.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg Config, logger *slog.Logger) (jetstream.Stream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats-stream", "stream", cfg.Stream.Name)

	streamCfg := jetstream.StreamConfig{
		Name:      cfg.Stream.Name,
		Subjects:  cfg.Subjects(),
		Storage:   storageType(cfg.Stream.Storage),
		MaxAge:    cfg.Stream.MaxAge,
		MaxBytes:  cfg.Stream.MaxBytes,
		Replicas:  cfg.Stream.Replicas,
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardOld,
	}

	_, err := js.Stream(ctx, cfg.Stream.Name)
	switch {
	case err == nil:
		stream, err := js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream: %w", err)
		}
		logger.Info("stream updated")
		return stream, nil
	case errors.Is(err, jetstream.ErrStreamNotFound):
		stream, err := js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream: %w", err)
		}
		logger.Info("stream created", "subjects", streamCfg.Subjects)
		return stream, nil
	default:
		return nil, fmt.Errorf("lookup stream: %w", err)
	}
}

// EnsureConsumer creates or updates the durable actions consumer.
func EnsureConsumer(ctx context.Context, stream jetstream.Stream, cfg Config) (jetstream.Consumer, error) {
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       cfg.Consumer.Name,
		FilterSubject: cfg.ActionsSubject(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.Consumer.AckWait,
		MaxAckPending: cfg.Consumer.MaxAckPending,
		MaxDeliver:    cfg.Consumer.MaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure consumer %s: %w", cfg.Consumer.Name, err)
	}
	return consumer, nil
}

func storageType(s string) jetstream.StorageType {
	if strings.EqualFold(s, "memory") {
		return jetstream.MemoryStorage
	}
	return jetstream.FileStorage
}
