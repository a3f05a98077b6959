// Package publisher produces mutation events onto the Kafka mutation topic.
// It is the streaming counterpart of the HTTP write endpoints.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/kafka"
)

// EventProducer is implemented by *kafka.Producer.
type EventProducer interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Publisher turns documents into mutation events.
type Publisher struct {
	producer EventProducer
	logger   *slog.Logger
}

func New(producer EventProducer) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   slog.Default().With("component", "mutation-publisher"),
	}
}

// Index publishes one index mutation per document, keyed by document id.
func (p *Publisher) Index(ctx context.Context, docs ...document.Document) error {
	events := make([]ingestion.MutationEvent, 0, len(docs))
	for i := range docs {
		events = append(events, ingestion.MutationEvent{Op: ingestion.OpIndex, Document: &docs[i]})
	}
	return p.Publish(ctx, events...)
}

// Delete publishes a delete mutation for id.
func (p *Publisher) Delete(ctx context.Context, id string) error {
	return p.Publish(ctx, ingestion.MutationEvent{Op: ingestion.OpDelete, ID: id})
}

// Publish validates and sends events in one batch.
func (p *Publisher) Publish(ctx context.Context, events ...ingestion.MutationEvent) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := make([]kafka.Event, 0, len(events))
	for i := range events {
		ev := events[i]
		if err := validator.ValidateMutation(&ev); err != nil {
			return fmt.Errorf("mutation %d: %w", i, err)
		}
		if ev.At.IsZero() {
			ev.At = now
		}
		batch = append(batch, kafka.Event{Key: ev.Key(), Value: ev})
	}
	if err := p.producer.PublishBatch(ctx, batch); err != nil {
		return fmt.Errorf("publishing %d mutation events: %w", len(batch), err)
	}
	p.logger.Debug("mutation events published", "count", len(batch))
	return nil
}
