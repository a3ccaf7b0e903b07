//nolint:exhaustruct // test fixtures intentionally keep structs sparse for clarity.
package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDrawdownMetricsDropPercent(t *testing.T) {
	clockTimes := []time.Time{
		time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 1, 0, 5, 0, 0, time.UTC),
	}
	idx := 0
	metrics := NewDrawdownMetrics().WithClock(func() time.Time {
		v := clockTimes[idx]
		if idx < len(clockTimes)-1 {
			idx++
		}
		return v
	})

	baseline := metrics.RecordBaseline(decimal.NewFromInt(100_000), "open")
	if !baseline.Price.Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("unexpected baseline price %s", baseline.Price)
	}
	if baseline.Timestamp != clockTimes[0] {
		t.Fatalf("unexpected baseline timestamp %s", baseline.Timestamp)
	}

	var emitted DrawdownReport
	var mu sync.Mutex
	metrics.SetEmitter(func(report DrawdownReport) {
		mu.Lock()
		emitted = report
		mu.Unlock()
	})

	report := metrics.RecordObservation(decimal.NewFromInt(80_000), "latest")
	if report.DropPercent.IntPart() != 20 {
		t.Fatalf("expected 20%% drop, got %s", report.DropPercent)
	}

	snapshot := metrics.Snapshot()
	if !snapshot.DropPercent.Equal(report.DropPercent) {
		t.Fatalf("expected snapshot drop %s, got %s", report.DropPercent, snapshot.DropPercent)
	}

	mu.Lock()
	emittedCopy := emitted
	mu.Unlock()
	if !emittedCopy.DropPercent.Equal(report.DropPercent) {
		t.Fatalf("expected emitter to observe drop %s, got %s", report.DropPercent, emittedCopy.DropPercent)
	}
	if emittedCopy.Current.Label != "latest" {
		t.Fatalf("unexpected emitted label %s", emittedCopy.Current.Label)
	}
}

func TestDrawdownMetricsTruncatesFraction(t *testing.T) {
	metrics := NewDrawdownMetrics()
	metrics.RecordBaseline(decimal.NewFromInt(1000), "open")
	report := metrics.RecordObservation(decimal.NewFromInt(841), "latest")
	if report.DropPercent.IntPart() != 15 {
		t.Fatalf("expected truncated 15%% drop, got %s", report.DropPercent)
	}
}

func TestDrawdownMetricsZeroBaseline(t *testing.T) {
	metrics := NewDrawdownMetrics()
	metrics.RecordBaseline(decimal.Zero, "none")
	report := metrics.RecordObservation(decimal.NewFromInt(10), "after")
	if !report.DropPercent.IsZero() {
		t.Fatalf("expected zero drop with zero baseline, got %s", report.DropPercent)
	}
}

func TestDrawdownConfigBreached(t *testing.T) {
	cfg := DefaultDrawdownConfig
	report := DrawdownReport{DropPercent: decimal.NewFromInt(cfg.AlertThreshold)}
	if !cfg.Breached(report) {
		t.Fatal("expected threshold breach")
	}
	report.DropPercent = decimal.NewFromInt(cfg.AlertThreshold - 1)
	if cfg.Breached(report) {
		t.Fatal("expected no breach")
	}
}

func TestFundingTrackerLifecycle(t *testing.T) {
	opened := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewFundingTracker(24 * time.Hour)

	if err := tracker.Open(1, opened); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := tracker.Open(1, opened); err != ErrMissionAlreadyTracked {
		t.Fatalf("expected ErrMissionAlreadyTracked, got %v", err)
	}

	var emitted FundingSummary
	tracker.SetEmitter(func(summary FundingSummary) {
		emitted = summary
	})

	summary, err := tracker.Complete(1, opened.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !summary.WithinWindow {
		t.Fatal("expected completion within window")
	}
	if summary.Elapsed != 6*time.Hour {
		t.Fatalf("unexpected elapsed %s", summary.Elapsed)
	}
	if emitted.MissionID != 1 {
		t.Fatalf("unexpected emitted mission id %d", emitted.MissionID)
	}

	if _, err := tracker.Complete(1, time.Time{}); err != ErrMissionNotTracked {
		t.Fatalf("expected ErrMissionNotTracked, got %v", err)
	}
}

func TestFundingTrackerOutsideWindow(t *testing.T) {
	opened := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewFundingTracker(24 * time.Hour)
	if err := tracker.Open(2, opened); err != nil {
		t.Fatalf("open: %v", err)
	}
	summary, err := tracker.Complete(2, opened.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if summary.WithinWindow {
		t.Fatal("expected completion outside window")
	}
}
