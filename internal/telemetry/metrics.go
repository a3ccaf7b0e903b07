package telemetry

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot records a benchmark price observation for a given point in time.
type PriceSnapshot struct {
	Timestamp time.Time
	Price     decimal.Decimal
	Label     string
}

// DrawdownReport aggregates baseline and current snapshots with the computed drop.
type DrawdownReport struct {
	Baseline    PriceSnapshot
	Current     PriceSnapshot
	DropPercent decimal.Decimal
}

// DrawdownMetrics tracks the benchmark price against its baseline so dashboards
// can watch the drop that drives mission auto-opening.
type DrawdownMetrics struct {
	mu       sync.RWMutex
	baseline PriceSnapshot
	current  PriceSnapshot
	clock    func() time.Time
	emitter  func(DrawdownReport)
}

// NewDrawdownMetrics constructs an instrument ready to record baseline and current prices.
func NewDrawdownMetrics() *DrawdownMetrics {
	return &DrawdownMetrics{
		mu:       sync.RWMutex{},
		baseline: PriceSnapshot{Timestamp: time.Time{}, Price: decimal.Zero, Label: ""},
		current:  PriceSnapshot{Timestamp: time.Time{}, Price: decimal.Zero, Label: ""},
		clock:    time.Now,
		emitter:  nil,
	}
}

// WithClock overrides the internal clock, primarily for testing.
func (m *DrawdownMetrics) WithClock(clock func() time.Time) *DrawdownMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	if clock == nil {
		m.clock = time.Now
	} else {
		m.clock = clock
	}
	return m
}

// SetEmitter registers a callback invoked whenever a current snapshot is recorded.
func (m *DrawdownMetrics) SetEmitter(emitter func(DrawdownReport)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitter = emitter
}

// RecordBaseline captures the reference price snapshot.
func (m *DrawdownMetrics) RecordBaseline(price decimal.Decimal, label string) PriceSnapshot {
	m.mu.Lock()
	snapshot := PriceSnapshot{Timestamp: m.clock(), Price: price, Label: label}
	m.baseline = snapshot
	m.mu.Unlock()
	return snapshot
}

// RecordObservation captures the latest price snapshot and optionally emits a report.
func (m *DrawdownMetrics) RecordObservation(price decimal.Decimal, label string) DrawdownReport {
	m.mu.Lock()
	snapshot := PriceSnapshot{Timestamp: m.clock(), Price: price, Label: label}
	m.current = snapshot
	report := DrawdownReport{
		Baseline:    m.baseline,
		Current:     snapshot,
		DropPercent: dropPercent(m.baseline.Price, snapshot.Price),
	}
	emitter := m.emitter
	m.mu.Unlock()
	if emitter != nil {
		emitter(report)
	}
	return report
}

// Snapshot returns the most recent baseline/current report without mutating state.
func (m *DrawdownMetrics) Snapshot() DrawdownReport {
	m.mu.RLock()
	report := DrawdownReport{
		Baseline:    m.baseline,
		Current:     m.current,
		DropPercent: dropPercent(m.baseline.Price, m.current.Price),
	}
	m.mu.RUnlock()
	return report
}

func dropPercent(baseline, current decimal.Decimal) decimal.Decimal {
	if baseline.Sign() <= 0 {
		return decimal.Zero
	}
	quotient, _ := baseline.Sub(current).Mul(decimal.NewFromInt(100)).QuoRem(baseline, 0)
	return quotient
}
