// Package pricestore defines persistence contracts for observed price samples.
package pricestore

import (
	"context"

	"github.com/shopspring/decimal"
)

// Sample is a single observed price for an asset at a point in time.
// A zero Price is the sentinel for "no valid data" and is never a real
// observed price.
type Sample struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// Sentinel reports whether the sample carries the zero-price "no data" marker.
func (s Sample) Sentinel() bool {
	return s.Price.IsZero()
}

// Point is one recorded slot on the fixed history grid.
type Point struct {
	Slot  int64           `json:"slot"`
	Price decimal.Decimal `json:"price"`
}

// Tx encapsulates price mutations executed within a single ledger transaction.
type Tx interface {
	// PutLastSample overwrites the per-asset last-observed cache.
	PutLastSample(ctx context.Context, sample Sample) error
	// LastSample returns the cached sample for the asset, or nil when the
	// asset has never been observed.
	LastSample(ctx context.Context, asset string) (*Sample, error)
	// RecordSlot appends a price to the history grid for the asset.
	RecordSlot(ctx context.Context, asset string, slot int64, price decimal.Decimal) error
	// PruneBefore drops history slots older than cutoff for the asset.
	PruneBefore(ctx context.Context, asset string, cutoff int64) error
}

// Store defines the read-side contract for price persistence.
type Store interface {
	LastSample(ctx context.Context, asset string) (*Sample, error)
	// History returns recorded grid points with from <= slot <= to, ascending.
	History(ctx context.Context, asset string, from, to int64) ([]Point, error)
}
