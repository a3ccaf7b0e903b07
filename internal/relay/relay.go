// Package relay drains the transactional outbox and delivers mission events
// to downstream subscribers.
package relay

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kalefund/missiongate/internal/domain/outboxstore"
	"github.com/kalefund/missiongate/internal/observability"
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 100
)

// Publisher delivers an outbox event to its downstream transport.
type Publisher interface {
	Publish(ctx context.Context, record outboxstore.EventRecord) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, record outboxstore.EventRecord) error

// Publish invokes the wrapped function.
func (f PublisherFunc) Publish(ctx context.Context, record outboxstore.EventRecord) error {
	return f(ctx, record)
}

// BusPublisher forwards outbox events to the in-process telemetry bus, where
// the streaming endpoint and any other subscriber picks them up.
type BusPublisher struct {
	bus observability.TelemetryBus
}

// NewBusPublisher wraps the telemetry bus as a Publisher.
func NewBusPublisher(bus observability.TelemetryBus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

// Publish emits the record on the bus as a typed telemetry event.
func (p *BusPublisher) Publish(ctx context.Context, record outboxstore.EventRecord) error {
	return p.bus.Publish(ctx, observability.TelemetryEvent{
		EventID:   record.EventID,
		Type:      observability.TelemetryEventType(record.EventType),
		Severity:  observability.TelemetrySeverityInfo,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]any{
			"aggregate_type": record.AggregateType,
			"aggregate_id":   record.AggregateID,
			"payload":        string(record.Payload),
		},
	})
}

// Relay polls the outbox for undelivered events and pushes them through the
// configured publisher. Events that fail delivery stay pending and also land
// in the dead letter queue for inspection.
type Relay struct {
	store     outboxstore.Store
	publisher Publisher
	logger    observability.Logger
	metrics   *observability.RuntimeMetrics
	dlq       *observability.DeadLetterQueue
	interval  time.Duration
	batchSize int
}

// RelayOption customises relay construction.
type RelayOption func(*Relay)

// WithLogger sets the structured logger.
func WithLogger(logger observability.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the runtime metrics sink.
func WithMetrics(metrics *observability.RuntimeMetrics) RelayOption {
	return func(r *Relay) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// WithDeadLetterQueue sets the queue that captures failed deliveries.
func WithDeadLetterQueue(dlq *observability.DeadLetterQueue) RelayOption {
	return func(r *Relay) {
		if dlq != nil {
			r.dlq = dlq
		}
	}
}

// WithInterval sets the polling interval.
func WithInterval(interval time.Duration) RelayOption {
	return func(r *Relay) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithBatchSize caps how many pending events a single pass claims.
func WithBatchSize(size int) RelayOption {
	return func(r *Relay) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// NewRelay builds a relay over the outbox store and publisher.
func NewRelay(store outboxstore.Store, publisher Publisher, opts ...RelayOption) *Relay {
	relay := &Relay{
		store:     store,
		publisher: publisher,
		logger:    observability.Log(),
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(relay)
	}
	return relay
}

// Run polls until the context is cancelled. It drains once immediately so
// events enqueued before startup are not delayed by a full interval.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Drain(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				return err
			}
		}
	}
}

// Drain performs one delivery pass. Per-event failures are recorded and
// skipped; the pass itself fails only on context cancellation or when the
// outbox cannot be read.
func (r *Relay) Drain(ctx context.Context) error {
	records, err := r.store.ListPending(ctx, r.batchSize)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.deliver(ctx, record); err != nil {
			r.markFailed(record, err)
			continue
		}
		if err := r.store.MarkDelivered(ctx, record.ID); err != nil {
			r.markFailed(record, err)
			continue
		}
		if r.metrics != nil {
			r.metrics.RecordRelayPublished()
		}
		r.logger.Debug("outbox event delivered",
			observability.Field{Key: "event_id", Value: record.EventID},
			observability.Field{Key: "event_type", Value: record.EventType})
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, record outboxstore.EventRecord) error {
	return r.publisher.Publish(ctx, record)
}

func (r *Relay) markFailed(record outboxstore.EventRecord, cause error) {
	if r.metrics != nil {
		r.metrics.RecordRelayFailed()
	}
	if r.dlq != nil {
		r.dlq.Offer(observability.TelemetryEvent{
			EventID:   uuid.NewString(),
			Type:      observability.TelemetryEventRelayFailed,
			Severity:  observability.TelemetrySeverityError,
			Timestamp: time.Now().UTC(),
			Metadata: map[string]any{
				"event_id":   record.EventID,
				"event_type": record.EventType,
				"error":      cause.Error(),
			},
		})
	}
	r.logger.Error("outbox delivery failed",
		observability.Field{Key: "error", Value: cause.Error()},
		observability.Field{Key: "event_id", Value: record.EventID},
		observability.Field{Key: "event_type", Value: record.EventType})
}
