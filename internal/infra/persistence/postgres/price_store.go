package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kalefund/missiongate/internal/domain/pricestore"
)

// PriceStore persists the per-asset last-sample cache and the slot history grid.
type PriceStore struct {
	db querier
}

const (
	priceSampleUpsertSQL = `
INSERT INTO price_samples (asset, price, observed_at)
VALUES (@asset, @price, @observed_at)
ON CONFLICT (asset) DO UPDATE SET
    price = EXCLUDED.price,
    observed_at = EXCLUDED.observed_at;
`

	priceSampleSelectSQL = `
SELECT price::text, observed_at
FROM price_samples
WHERE asset = @asset;
`

	priceSlotUpsertSQL = `
INSERT INTO price_history (asset, slot, price)
VALUES (@asset, @slot, @price)
ON CONFLICT (asset, slot) DO UPDATE SET price = EXCLUDED.price;
`

	pricePruneSQL = `
DELETE FROM price_history
WHERE asset = @asset AND slot < @cutoff;
`

	priceHistorySelectSQL = `
SELECT slot, price::text
FROM price_history
WHERE asset = @asset AND slot BETWEEN @from AND @to
ORDER BY slot;
`
)

// PutLastSample overwrites the cached last observation for the asset.
func (s *PriceStore) PutLastSample(ctx context.Context, sample pricestore.Sample) error {
	args := pgx.NamedArgs{
		"asset":       sample.Asset,
		"price":       sample.Price.String(),
		"observed_at": sample.Timestamp,
	}
	if _, err := s.db.Exec(ctx, priceSampleUpsertSQL, args); err != nil {
		return fmt.Errorf("price store: upsert sample for %s: %w", sample.Asset, err)
	}
	return nil
}

// LastSample returns the cached sample for the asset, or nil when the asset
// has never been observed.
func (s *PriceStore) LastSample(ctx context.Context, asset string) (*pricestore.Sample, error) {
	var (
		price      string
		observedAt int64
	)
	err := s.db.QueryRow(ctx, priceSampleSelectSQL, pgx.NamedArgs{"asset": asset}).Scan(&price, &observedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("price store: get sample for %s: %w", asset, err)
	}
	value, err := parseNumeric(price)
	if err != nil {
		return nil, fmt.Errorf("price store: sample for %s: %w", asset, err)
	}
	return &pricestore.Sample{Asset: asset, Price: value, Timestamp: observedAt}, nil
}

// RecordSlot writes a price onto the history grid for the asset.
func (s *PriceStore) RecordSlot(ctx context.Context, asset string, slot int64, price decimal.Decimal) error {
	args := pgx.NamedArgs{"asset": asset, "slot": slot, "price": price.String()}
	if _, err := s.db.Exec(ctx, priceSlotUpsertSQL, args); err != nil {
		return fmt.Errorf("price store: record slot %d for %s: %w", slot, asset, err)
	}
	return nil
}

// PruneBefore drops history slots older than cutoff for the asset.
func (s *PriceStore) PruneBefore(ctx context.Context, asset string, cutoff int64) error {
	args := pgx.NamedArgs{"asset": asset, "cutoff": cutoff}
	if _, err := s.db.Exec(ctx, pricePruneSQL, args); err != nil {
		return fmt.Errorf("price store: prune history for %s: %w", asset, err)
	}
	return nil
}

// History returns recorded grid points with from <= slot <= to, ascending.
func (s *PriceStore) History(ctx context.Context, asset string, from, to int64) ([]pricestore.Point, error) {
	args := pgx.NamedArgs{"asset": asset, "from": from, "to": to}
	rows, err := s.db.Query(ctx, priceHistorySelectSQL, args)
	if err != nil {
		return nil, fmt.Errorf("price store: history for %s: %w", asset, err)
	}
	defer rows.Close()

	var points []pricestore.Point
	for rows.Next() {
		var (
			point pricestore.Point
			price string
		)
		if err := rows.Scan(&point.Slot, &price); err != nil {
			return nil, fmt.Errorf("price store: scan history point: %w", err)
		}
		if point.Price, err = parseNumeric(price); err != nil {
			return nil, fmt.Errorf("price store: history point for %s: %w", asset, err)
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("price store: iterate history: %w", err)
	}
	return points, nil
}
