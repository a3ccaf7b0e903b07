// Package oracle reads prices from an external feed provider, maintains the
// per-asset last-sample cache and the slot-indexed price history, and exposes
// the percentage-drop predicate that opens missions.
package oracle

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceData is a single quote returned by a feed provider.
type PriceData struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// Provider is the external price feed. Implementations return an error when
// the feed has no data for the asset; the Reader translates any provider
// error into the zero-price sentinel.
type Provider interface {
	// Base reports the quote currency all feed prices are denominated in.
	Base(ctx context.Context) (string, error)
	// Assets lists the assets the feed quotes.
	Assets(ctx context.Context) ([]string, error)
	// LastPrice returns the most recent quote for the asset.
	LastPrice(ctx context.Context, asset string) (PriceData, error)
	// CrossLastPrice returns the most recent base/quote pair quote.
	CrossLastPrice(ctx context.Context, base, quote string) (PriceData, error)
	// Decimals reports the fixed-point scale of provider prices.
	Decimals(ctx context.Context) (uint32, error)
	// LastTimestamp reports the provider's most recent update time.
	LastTimestamp(ctx context.Context) (int64, error)
}
