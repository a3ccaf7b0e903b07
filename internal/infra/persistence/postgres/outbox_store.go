package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/kalefund/missiongate/internal/domain/outboxstore"
)

// OutboxStore persists mission events for the transactional outbox relay.
type OutboxStore struct {
	db querier
}

const (
	outboxInsertSQL = `
INSERT INTO mission_events (
    event_id,
    aggregate_type,
    aggregate_id,
    event_type,
    payload,
    available_at,
    created_at
)
VALUES (
    @event_id,
    @aggregate_type,
    @aggregate_id,
    @event_type,
    @payload::jsonb,
    to_timestamp(@available_at),
    NOW()
)
ON CONFLICT (event_id) DO NOTHING;
`

	outboxPendingSQL = `
SELECT
    id,
    event_id::text,
    aggregate_type,
    aggregate_id,
    event_type,
    payload,
    available_at,
    published_at,
    attempts,
    delivered,
    created_at
FROM mission_events
WHERE delivered = FALSE AND available_at <= NOW()
ORDER BY available_at, id
LIMIT @limit;
`

	outboxMarkDeliveredSQL = `
UPDATE mission_events
SET delivered = TRUE,
    published_at = NOW(),
    attempts = attempts + 1
WHERE id = @id;
`

	defaultOutboxLimit = 100
)

// Enqueue records an event inside the enclosing transaction. The event
// becomes visible to the relay only when the operation commits.
func (s *OutboxStore) Enqueue(ctx context.Context, evt outboxstore.Event) error {
	if strings.TrimSpace(evt.EventID) == "" {
		return fmt.Errorf("outbox store: event id required")
	}
	payload := evt.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	args := pgx.NamedArgs{
		"event_id":       evt.EventID,
		"aggregate_type": strings.TrimSpace(evt.AggregateType),
		"aggregate_id":   strings.TrimSpace(evt.AggregateID),
		"event_type":     strings.TrimSpace(evt.EventType),
		"payload":        string(payload),
		"available_at":   evt.AvailableAt.Unix(),
	}
	if _, err := s.db.Exec(ctx, outboxInsertSQL, args); err != nil {
		return fmt.Errorf("outbox store: enqueue event %s: %w", evt.EventID, err)
	}
	return nil
}

// ListPending returns undelivered events whose availability time has passed.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]outboxstore.EventRecord, error) {
	if limit <= 0 {
		limit = defaultOutboxLimit
	}
	rows, err := s.db.Query(ctx, outboxPendingSQL, pgx.NamedArgs{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("outbox store: list pending: %w", err)
	}
	defer rows.Close()

	records := make([]outboxstore.EventRecord, 0, limit)
	for rows.Next() {
		var record outboxstore.EventRecord
		if err := rows.Scan(
			&record.ID,
			&record.EventID,
			&record.AggregateType,
			&record.AggregateID,
			&record.EventType,
			&record.Payload,
			&record.AvailableAt,
			&record.PublishedAt,
			&record.Attempts,
			&record.Delivered,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("outbox store: scan event: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox store: iterate events: %w", err)
	}
	return records, nil
}

// MarkDelivered flags an event as published.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id int64) error {
	if _, err := s.db.Exec(ctx, outboxMarkDeliveredSQL, pgx.NamedArgs{"id": id}); err != nil {
		return fmt.Errorf("outbox store: mark delivered %d: %w", id, err)
	}
	return nil
}
