package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalefund/missiongate/internal/domain/ledger"
	"github.com/kalefund/missiongate/internal/domain/outboxstore"
	"github.com/kalefund/missiongate/internal/infra/memory"
	"github.com/kalefund/missiongate/internal/observability"
)

func enqueueEvent(t *testing.T, store *memory.Ledger, eventID, eventType string) {
	t.Helper()
	err := store.WithTransaction(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		return tx.Outbox().Enqueue(ctx, outboxstore.Event{
			EventID:       eventID,
			AggregateType: "mission",
			AggregateID:   "1",
			EventType:     eventType,
			Payload:       []byte(`{"missionId":1}`),
			AvailableAt:   time.Now().UTC(),
		})
	})
	require.NoError(t, err)
}

func TestDrainDeliversAndAcks(t *testing.T) {
	store := memory.NewLedger()
	enqueueEvent(t, store, "evt-1", outboxstore.EventMissionOpened)
	enqueueEvent(t, store, "evt-2", outboxstore.EventStakeCreated)

	var delivered []string
	metrics := observability.NewRuntimeMetrics()
	relay := NewRelay(store.Outbox(), PublisherFunc(func(ctx context.Context, record outboxstore.EventRecord) error {
		delivered = append(delivered, record.EventID)
		return nil
	}), WithMetrics(metrics))

	require.NoError(t, relay.Drain(context.Background()))
	require.Equal(t, []string{"evt-1", "evt-2"}, delivered)
	require.Equal(t, 2, metrics.Snapshot().RelayPublished)

	pending, err := store.Outbox().ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestDrainKeepsFailedEventsPending(t *testing.T) {
	store := memory.NewLedger()
	enqueueEvent(t, store, "evt-bad", outboxstore.EventMissionCompleted)
	enqueueEvent(t, store, "evt-good", outboxstore.EventMissionOpened)

	metrics := observability.NewRuntimeMetrics()
	dlq := observability.NewDeadLetterQueue(16)
	relay := NewRelay(store.Outbox(), PublisherFunc(func(ctx context.Context, record outboxstore.EventRecord) error {
		if record.EventID == "evt-bad" {
			return errors.New("downstream unavailable")
		}
		return nil
	}), WithMetrics(metrics), WithDeadLetterQueue(dlq))

	require.NoError(t, relay.Drain(context.Background()))

	pending, err := store.Outbox().ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "evt-bad", pending[0].EventID)

	snapshot := metrics.Snapshot()
	require.Equal(t, 1, snapshot.RelayPublished)
	require.Equal(t, 1, snapshot.RelayFailed)
	require.Equal(t, 1, dlq.Len())
}

type recordingLogger struct {
	entries []loggedEntry
}

type loggedEntry struct {
	msg    string
	fields map[string]any
}

func (l *recordingLogger) Debug(string, ...observability.Field) {}
func (l *recordingLogger) Info(string, ...observability.Field)  {}

func (l *recordingLogger) Error(msg string, fields ...observability.Field) {
	entry := loggedEntry{msg: msg, fields: make(map[string]any, len(fields))}
	for _, field := range fields {
		entry.fields[field.Key] = field.Value
	}
	l.entries = append(l.entries, entry)
}

func TestDrainLogsDeliveryFailure(t *testing.T) {
	store := memory.NewLedger()
	enqueueEvent(t, store, "evt-bad", outboxstore.EventMissionCompleted)

	logger := &recordingLogger{}
	relay := NewRelay(store.Outbox(), PublisherFunc(func(ctx context.Context, record outboxstore.EventRecord) error {
		return errors.New("downstream unavailable")
	}), WithLogger(logger))

	require.NoError(t, relay.Drain(context.Background()))

	require.Len(t, logger.entries, 1)
	entry := logger.entries[0]
	require.Equal(t, "outbox delivery failed", entry.msg)
	require.Equal(t, "downstream unavailable", entry.fields["error"])
	require.Equal(t, "evt-bad", entry.fields["event_id"])
	require.Equal(t, outboxstore.EventMissionCompleted, entry.fields["event_type"])
}

func TestBusPublisherForwardsToSubscribers(t *testing.T) {
	bus := observability.NewInMemoryTelemetryBus(8)
	defer bus.Close()
	ctx := context.Background()
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	publisher := NewBusPublisher(bus)
	record := outboxstore.EventRecord{
		ID:        1,
		EventID:   "evt-bus",
		EventType: outboxstore.EventMissionOpened,
		Payload:   []byte(`{"missionId":1}`),
	}
	require.NoError(t, publisher.Publish(ctx, record))

	select {
	case event := <-events:
		require.Equal(t, "evt-bus", event.EventID)
		require.Equal(t, observability.TelemetryEventMissionOpened, event.Type)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := memory.NewLedger()
	relay := NewRelay(store.Outbox(), PublisherFunc(func(ctx context.Context, record outboxstore.EventRecord) error {
		return nil
	}), WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- relay.Run(ctx)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
