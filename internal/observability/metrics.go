package observability

import "sync"

// Metrics provides counters, gauges, and histogram recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string)       {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)         {}

// OracleMetricsSnapshot captures oracle and relay runtime counters.
type OracleMetricsSnapshot struct {
	Reads          map[string]int `json:"reads"`
	Failures       map[string]int `json:"failures"`
	RelayPublished int            `json:"relay_published"`
	RelayFailed    int            `json:"relay_failed"`
}

// RuntimeMetrics accumulates oracle and relay metrics in-memory for reporting.
type RuntimeMetrics struct {
	mu       sync.Mutex
	snapshot OracleMetricsSnapshot
}

// NewRuntimeMetrics constructs a metrics accumulator with empty maps.
func NewRuntimeMetrics() *RuntimeMetrics {
	metrics := new(RuntimeMetrics)
	metrics.snapshot = OracleMetricsSnapshot{
		Reads:    make(map[string]int),
		Failures: make(map[string]int),
	}
	return metrics
}

// RecordRead counts a successful oracle read for an asset.
func (m *RuntimeMetrics) RecordRead(asset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Reads[asset]++
}

// RecordFailure counts a failed oracle read for an asset.
func (m *RuntimeMetrics) RecordFailure(asset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Failures[asset]++
}

// RecordRelayPublished counts a delivered outbox event.
func (m *RuntimeMetrics) RecordRelayPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.RelayPublished++
}

// RecordRelayFailed counts a failed outbox delivery.
func (m *RuntimeMetrics) RecordRelayFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.RelayFailed++
}

// Snapshot copies the current runtime metrics state for reporting.
func (m *RuntimeMetrics) Snapshot() OracleMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := OracleMetricsSnapshot{
		Reads:          make(map[string]int, len(m.snapshot.Reads)),
		Failures:       make(map[string]int, len(m.snapshot.Failures)),
		RelayPublished: m.snapshot.RelayPublished,
		RelayFailed:    m.snapshot.RelayFailed,
	}
	for k, v := range m.snapshot.Reads {
		snapshot.Reads[k] = v
	}
	for k, v := range m.snapshot.Failures {
		snapshot.Failures[k] = v
	}
	return snapshot
}
