package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/resilience"
)

// EventPublisher is implemented by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Collector queues events and publishes them from a single goroutine. Track
// never blocks: when the buffer is full the event is dropped and counted.
type Collector struct {
	producer EventPublisher
	eventCh  chan kafka.Event
	retry    resilience.RetryConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	done     chan struct{}
	once     sync.Once
}

func NewCollector(producer EventPublisher, bufferSize int, m *metrics.Metrics) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan kafka.Event, bufferSize),
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		metrics: m,
		logger:  slog.Default().With("component", "event-collector"),
		done:    make(chan struct{}),
	}
}

// Start runs the publish loop until ctx is cancelled or Close is called.
// Events still queued at cancellation are flushed once without retry.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("event collector started", "buffer_size", cap(c.eventCh))
}

// TrackSnapshot queues a SnapshotPublished event keyed by instance.
func (c *Collector) TrackSnapshot(e SnapshotPublished) {
	c.Track(kafka.Event{Key: e.Instance, Value: e})
}

func (c *Collector) Track(event kafka.Event) {
	select {
	case c.eventCh <- event:
	default:
		c.metrics.EventsDroppedTotal.Inc()
		c.logger.Warn("event dropped (buffer full)", "key", event.Key)
	}
}

// Close stops accepting events and waits for the queue to drain. Start must
// have been called.
func (c *Collector) Close() {
	c.once.Do(func() { close(c.eventCh) })
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event kafka.Event) {
	err := resilience.Retry(ctx, "publish-event", c.retry, func(ctx context.Context) error {
		return c.producer.Publish(ctx, event)
	})
	if err != nil {
		c.metrics.EventsDroppedTotal.Inc()
		c.logger.Error("failed to publish event", "key", event.Key, "error", err)
	}
}

func (c *Collector) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			if err := c.producer.Publish(ctx, event); err != nil {
				c.metrics.EventsDroppedTotal.Inc()
				c.logger.Error("failed to publish remaining event", "error", err)
			}
		default:
			return
		}
	}
}
