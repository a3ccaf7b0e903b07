// Package outboxstore defines persistence contracts for durable mission event publishing.
package outboxstore

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
)

// Event types emitted by the mission lifecycle.
const (
	EventMissionOpened        = "mission.opened"
	EventMissionCompleted     = "mission.completed"
	EventStakeCreated         = "stake.created"
	EventContributionRecorded = "contribution.recorded"
)

// Event encapsulates a single outbox entry ready to be enqueued.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	AvailableAt   time.Time
}

// EventRecord captures the persisted state of an outbox entry.
type EventRecord struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	AvailableAt   time.Time
	PublishedAt   *time.Time
	Attempts      int
	Delivered     bool
	CreatedAt     time.Time
}

// Tx encapsulates outbox mutations executed within a single ledger transaction.
// Events enqueued in a transaction become visible only when the whole
// operation commits.
type Tx interface {
	Enqueue(ctx context.Context, evt Event) error
}

// Store defines the read/ack contract for the outbox relay.
type Store interface {
	ListPending(ctx context.Context, limit int) ([]EventRecord, error)
	MarkDelivered(ctx context.Context, id int64) error
}
