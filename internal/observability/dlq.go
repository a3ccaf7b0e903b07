package observability

import "sync"

// DeadLetterQueue collects mission events whose outbox delivery failed so
// operators can inspect or replay them.
type DeadLetterQueue struct {
	mu      sync.Mutex
	limit   int
	pending []TelemetryEvent
	dropped int
}

// NewDeadLetterQueue builds a queue holding at most limit events. A limit of
// zero or less keeps every event.
func NewDeadLetterQueue(limit int) *DeadLetterQueue {
	return &DeadLetterQueue{limit: limit, pending: make([]TelemetryEvent, 0)}
}

// Offer appends a failed event. When the queue is full the oldest event is
// evicted and counted as dropped.
func (q *DeadLetterQueue) Offer(event TelemetryEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.pending) >= q.limit {
		copy(q.pending, q.pending[1:])
		q.pending = q.pending[:len(q.pending)-1]
		q.dropped++
	}
	q.pending = append(q.pending, cloneTelemetryEvent(event))
}

// Drain returns every queued event and empties the queue.
func (q *DeadLetterQueue) Drain() []TelemetryEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]TelemetryEvent, len(q.pending))
	copy(out, q.pending)
	q.pending = q.pending[:0]
	return out
}

// Len reports how many failed events are queued.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dropped reports how many events were evicted to make room for newer ones.
func (q *DeadLetterQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
