package oracle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kalefund/missiongate/errs"
)

// MockProvider is an in-process feed used in dev mode and tests. Prices are
// set administratively and served without network calls.
type MockProvider struct {
	mu       sync.RWMutex
	prices   map[string]PriceData
	base     string
	decimals uint32
	now      func() time.Time
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock feed seeded with an XLM price of 0.12 in
// micro units, mirroring the default dev fixture.
func NewMockProvider() *MockProvider {
	provider := &MockProvider{
		prices:   make(map[string]PriceData),
		base:     "USD",
		decimals: 7,
		now:      time.Now,
	}
	provider.SetPrice("XLM", decimal.NewFromInt(120_000))
	return provider
}

// SetClock overrides the wall clock, for tests.
func (p *MockProvider) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now != nil {
		p.now = now
	}
}

// SetPrice stores a quote for the asset stamped with the current time.
func (p *MockProvider) SetPrice(asset string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[asset] = PriceData{Price: price, Timestamp: p.now().Unix()}
}

// SetPriceAt stores a quote for the asset with an explicit timestamp.
func (p *MockProvider) SetPriceAt(asset string, price decimal.Decimal, timestamp int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[asset] = PriceData{Price: price, Timestamp: timestamp}
}

// Drop removes the asset's quote, simulating a feed outage for that asset.
func (p *MockProvider) Drop(asset string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.prices, asset)
}

// SimulateDrop lowers the asset's price by pct percent using integer
// arithmetic and returns the new price. Drops beyond 100 percent are capped
// so the stored price never goes negative.
func (p *MockProvider) SimulateDrop(asset string, pct uint32) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.prices[asset]
	if !ok {
		return decimal.Decimal{}, noQuote(asset)
	}
	if pct > 100 {
		pct = 100
	}
	factor := decimal.NewFromInt(100 - int64(pct))
	newPrice, _ := data.Price.Mul(factor).QuoRem(hundred, 0)
	p.prices[asset] = PriceData{Price: newPrice, Timestamp: p.now().Unix()}
	return newPrice, nil
}

// LastPrice returns the stored quote for the asset.
func (p *MockProvider) LastPrice(ctx context.Context, asset string) (PriceData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.prices[asset]
	if !ok {
		return PriceData{}, noQuote(asset)
	}
	return data, nil
}

// CrossLastPrice derives a base/quote price from the two stored quotes.
func (p *MockProvider) CrossLastPrice(ctx context.Context, base, quote string) (PriceData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	baseData, ok := p.prices[base]
	if !ok {
		return PriceData{}, noQuote(base)
	}
	quoteData, ok := p.prices[quote]
	if !ok || quoteData.Price.IsZero() {
		return PriceData{}, noQuote(quote)
	}
	ts := baseData.Timestamp
	if quoteData.Timestamp > ts {
		ts = quoteData.Timestamp
	}
	price := baseData.Price.DivRound(quoteData.Price, int32(p.decimals))
	return PriceData{Price: price, Timestamp: ts}, nil
}

// Base reports the mock feed's quote currency.
func (p *MockProvider) Base(ctx context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.base, nil
}

// Assets lists the assets with a stored quote, sorted for stable output.
func (p *MockProvider) Assets(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	assets := make([]string, 0, len(p.prices))
	for asset := range p.prices {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets, nil
}

// Decimals reports the mock feed's fixed-point scale.
func (p *MockProvider) Decimals(ctx context.Context) (uint32, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.decimals, nil
}

// LastTimestamp reports the newest timestamp across stored quotes.
func (p *MockProvider) LastTimestamp(ctx context.Context) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var latest int64
	for _, data := range p.prices {
		if data.Timestamp > latest {
			latest = data.Timestamp
		}
	}
	return latest, nil
}

func noQuote(asset string) error {
	return errs.New("oracle", errs.CodeOracleUnavailable,
		errs.WithMessage("no quote for asset"),
		errs.WithField("asset", asset))
}
