// Package consumer reads mutation events from Kafka and applies them through
// the write coordinator, so streamed writes follow the same path and
// visibility rules as HTTP writes.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/metrics"
)

// MutationConsumer wraps a Kafka consumer feeding the write path.
type MutationConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates a MutationConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *MutationConsumer {
	return &MutationConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "mutation-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (mc *MutationConsumer) Start(ctx context.Context) error {
	mc.logger.Info("mutation consumer starting")
	return mc.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler applying each MutationEvent to m.
// Messages that can never succeed (undecodable, invalid, or rejected by the
// mapper) are logged and acknowledged; other failures are returned so the
// offset is not committed.
func HandleMessage(m ingestion.Mutator, met *metrics.Metrics) kafka.MessageHandler {
	if met == nil {
		met = metrics.NewNop()
	}
	logger := slog.Default().With("component", "mutation-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.MutationEvent](value)
		if err != nil {
			met.StreamMessagesTotal.WithLabelValues("unknown", "decode_error").Inc()
			logger.Error("failed to decode mutation event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		op := string(event.Op)
		if err := validator.ValidateMutation(&event); err != nil {
			met.StreamMessagesTotal.WithLabelValues(op, "invalid").Inc()
			logger.Error("invalid mutation event",
				"error", err,
				"key", string(key),
			)
			return nil
		}

		logger.Debug("processing mutation event",
			"op", op,
			"doc_id", event.Key(),
			"request_id", event.RequestID,
		)
		if _, err := ingestion.Apply(ctx, m, event); err != nil {
			if errors.Is(err, apperrors.ErrMapping) || errors.Is(err, apperrors.ErrInvalidInput) {
				met.StreamMessagesTotal.WithLabelValues(op, "rejected").Inc()
				logger.Error("mutation rejected",
					"op", op,
					"doc_id", event.Key(),
					"error", err,
				)
				return nil
			}
			met.StreamMessagesTotal.WithLabelValues(op, "error").Inc()
			return fmt.Errorf("applying %s of %s: %w", op, event.Key(), err)
		}
		met.StreamMessagesTotal.WithLabelValues(op, "ok").Inc()
		return nil
	}
}
