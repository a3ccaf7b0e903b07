package telemetry

import "time"

// DrawdownConfig describes the sampling window and alerting threshold for drawdown reports.
type DrawdownConfig struct {
	BaselineWindow time.Duration
	AlertThreshold int64
}

// DefaultDrawdownConfig captures the production sampling cadence for drawdown dashboards.
var DefaultDrawdownConfig = DrawdownConfig{
	BaselineWindow: 5 * time.Minute,
	AlertThreshold: 15,
}

// Breached reports whether the supplied report crosses the alert threshold.
func (c DrawdownConfig) Breached(report DrawdownReport) bool {
	return report.DropPercent.IntPart() >= c.AlertThreshold
}
