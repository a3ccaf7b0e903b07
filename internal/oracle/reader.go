package oracle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kalefund/missiongate/config"
	"github.com/kalefund/missiongate/internal/domain/ledger"
	"github.com/kalefund/missiongate/internal/domain/pricestore"
	"github.com/kalefund/missiongate/internal/observability"
)

var hundred = decimal.NewFromInt(100)

// Reader caches the latest observed sample per asset, appends every
// observation to the slot-indexed history, and answers the drop predicate.
type Reader struct {
	provider Provider
	store    ledger.Ledger
	cfg      config.OracleSettings
	logger   observability.Logger
	metrics  *observability.RuntimeMetrics
	bus      observability.TelemetryBus
	now      func() time.Time
}

// ReaderOption customises Reader construction.
type ReaderOption func(*Reader)

// WithLogger sets the structured logger.
func WithLogger(logger observability.Logger) ReaderOption {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the runtime metrics accumulator.
func WithMetrics(metrics *observability.RuntimeMetrics) ReaderOption {
	return func(r *Reader) { r.metrics = metrics }
}

// WithTelemetryBus sets the ops telemetry bus used for price events.
func WithTelemetryBus(bus observability.TelemetryBus) ReaderOption {
	return func(r *Reader) { r.bus = bus }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ReaderOption {
	return func(r *Reader) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReader constructs a Reader over the given provider and ledger.
func NewReader(provider Provider, store ledger.Ledger, cfg config.OracleSettings, opts ...ReaderOption) *Reader {
	if cfg.SlotSeconds <= 0 {
		cfg.SlotSeconds = 300
	}
	reader := &Reader{
		provider: provider,
		store:    store,
		cfg:      cfg,
		logger:   observability.Log(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// ReadPrice queries the provider for the asset inside its own transaction.
// On success the sample overwrites the asset's cache and lands on the history
// grid. On provider failure it returns the zero-price sentinel stamped with
// the local time, and writes nothing.
func (r *Reader) ReadPrice(ctx context.Context, asset string) (pricestore.Sample, error) {
	var sample pricestore.Sample
	err := r.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		sample, err = r.ReadPriceTx(ctx, tx, asset)
		return err
	})
	if err != nil {
		return pricestore.Sample{}, err
	}
	return sample, nil
}

// ReadPriceTx is ReadPrice running inside an enclosing ledger transaction.
func (r *Reader) ReadPriceTx(ctx context.Context, tx ledger.Tx, asset string) (pricestore.Sample, error) {
	quote, err := r.provider.LastPrice(ctx, asset)
	if err != nil || quote.Price.IsZero() {
		if err != nil {
			r.logger.Error("oracle read failed",
				observability.Field{Key: "asset", Value: asset},
				observability.Field{Key: "error", Value: err.Error()})
		}
		if r.metrics != nil {
			r.metrics.RecordFailure(asset)
		}
		r.publish(ctx, observability.TelemetryEventOracleFailed, observability.TelemetrySeverityWarn, map[string]any{
			"asset": asset,
		})
		return r.sentinel(asset), nil
	}

	sample := pricestore.Sample{Asset: asset, Price: quote.Price, Timestamp: quote.Timestamp}
	if err := tx.Prices().PutLastSample(ctx, sample); err != nil {
		return pricestore.Sample{}, err
	}
	slot := sample.Timestamp - sample.Timestamp%r.cfg.SlotSeconds
	if err := tx.Prices().RecordSlot(ctx, asset, slot, sample.Price); err != nil {
		return pricestore.Sample{}, err
	}
	if r.cfg.Retention > 0 {
		cutoff := r.now().Add(-r.cfg.Retention).Unix()
		cutoff -= cutoff % r.cfg.SlotSeconds
		if err := tx.Prices().PruneBefore(ctx, asset, cutoff); err != nil {
			return pricestore.Sample{}, err
		}
	}
	if r.metrics != nil {
		r.metrics.RecordRead(asset)
	}
	r.publish(ctx, observability.TelemetryEventPriceObserved, observability.TelemetrySeverityInfo, map[string]any{
		"asset":     asset,
		"price":     sample.Price.String(),
		"timestamp": sample.Timestamp,
	})
	return sample, nil
}

// CheckDropThreshold reads the asset's price and reports whether it dropped
// by at least thresholdPct relative to the previously cached sample. The read
// itself commits even when the predicate is false, so the fresh sample is the
// baseline for the next check.
func (r *Reader) CheckDropThreshold(ctx context.Context, asset string, thresholdPct uint32) (bool, error) {
	var triggered bool
	err := r.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		triggered, err = r.CheckDropThresholdTx(ctx, tx, asset, thresholdPct)
		return err
	})
	if err != nil {
		return false, err
	}
	return triggered, nil
}

// CheckDropThresholdTx is CheckDropThreshold running inside an enclosing
// ledger transaction. The previous cache entry is snapshotted before the new
// read overwrites it.
func (r *Reader) CheckDropThresholdTx(ctx context.Context, tx ledger.Tx, asset string, thresholdPct uint32) (bool, error) {
	previous, err := tx.Prices().LastSample(ctx, asset)
	if err != nil {
		return false, err
	}
	current, err := r.ReadPriceTx(ctx, tx, asset)
	if err != nil {
		return false, err
	}
	if current.Sentinel() {
		return false, nil
	}
	if previous == nil || previous.Sentinel() {
		return false, nil
	}
	drop := dropPercent(previous.Price, current.Price)
	triggered := drop.GreaterThanOrEqual(decimal.NewFromInt(int64(thresholdPct)))
	if triggered {
		r.publish(ctx, observability.TelemetryEventDropTriggered, observability.TelemetrySeverityInfo, map[string]any{
			"asset":     asset,
			"previous":  previous.Price.String(),
			"current":   current.Price.String(),
			"drop_pct":  drop.String(),
			"threshold": thresholdPct,
		})
	}
	return triggered, nil
}

// CrossPrice queries a base/quote pair straight from the provider without
// touching the cache or history. It returns the zero-price sentinel on
// provider failure.
func (r *Reader) CrossPrice(ctx context.Context, base, quote string) pricestore.Sample {
	data, err := r.provider.CrossLastPrice(ctx, base, quote)
	if err != nil || data.Price.IsZero() {
		if err != nil {
			r.logger.Error("oracle cross price failed",
				observability.Field{Key: "base", Value: base},
				observability.Field{Key: "quote", Value: quote},
				observability.Field{Key: "error", Value: err.Error()})
		}
		return r.sentinel(base + "/" + quote)
	}
	return pricestore.Sample{Asset: base + "/" + quote, Price: data.Price, Timestamp: data.Timestamp}
}

// History returns the recorded history grid points for the asset within the
// closed [from, to] range, ascending by slot. Only slots actually recorded
// appear in the result.
func (r *Reader) History(ctx context.Context, asset string, from, to int64) ([]pricestore.Point, error) {
	if to < from {
		return nil, nil
	}
	return r.store.Prices().History(ctx, asset, from, to)
}

// Decimals reports the provider's fixed-point scale.
func (r *Reader) Decimals(ctx context.Context) (uint32, error) {
	return r.provider.Decimals(ctx)
}

// LastTimestamp reports the provider's most recent update time.
func (r *Reader) LastTimestamp(ctx context.Context) (int64, error) {
	return r.provider.LastTimestamp(ctx)
}

func (r *Reader) sentinel(asset string) pricestore.Sample {
	return pricestore.Sample{Asset: asset, Price: decimal.Zero, Timestamp: r.now().Unix()}
}

func (r *Reader) publish(ctx context.Context, eventType observability.TelemetryEventType, severity observability.TelemetrySeverity, metadata map[string]any) {
	if r.bus == nil {
		return
	}
	event := observability.TelemetryEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Severity:  severity,
		Timestamp: r.now().UTC(),
		Metadata:  metadata,
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		r.logger.Debug("telemetry publish dropped",
			observability.Field{Key: "type", Value: string(eventType)},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

// dropPercent computes ((previous - current) * 100) / previous with the
// quotient truncated toward zero, matching integer division.
func dropPercent(previous, current decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		return decimal.Zero
	}
	quotient, _ := previous.Sub(current).Mul(hundred).QuoRem(previous, 0)
	return quotient
}
