package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kalefund/missiongate/config"
	"github.com/kalefund/missiongate/internal/infra/memory"
)

func testOracleSettings() config.OracleSettings {
	return config.OracleSettings{
		Mode:           config.OracleModeMock,
		BenchmarkAsset: "BTC",
		CampaignAsset:  "XLM",
		SlotSeconds:    300,
	}
}

func newTestReader(t *testing.T) (*Reader, *MockProvider, *memory.Ledger) {
	t.Helper()
	provider := NewMockProvider()
	store := memory.NewLedger()
	reader := NewReader(provider, store, testOracleSettings())
	return reader, provider, store
}

func TestReadPriceCachesAndRecordsHistory(t *testing.T) {
	ctx := context.Background()
	reader, provider, store := newTestReader(t)
	provider.SetPriceAt("BTC", decimal.NewFromInt(65000), 1000)

	sample, err := reader.ReadPrice(ctx, "BTC")
	require.NoError(t, err)
	require.False(t, sample.Sentinel())
	require.True(t, sample.Price.Equal(decimal.NewFromInt(65000)))
	require.Equal(t, int64(1000), sample.Timestamp)

	cached, err := store.Prices().LastSample(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.True(t, cached.Price.Equal(decimal.NewFromInt(65000)))

	points, err := store.Prices().History(ctx, "BTC", 0, 2000)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, int64(900), points[0].Slot)
}

func TestReadPriceSentinelOnFeedOutage(t *testing.T) {
	ctx := context.Background()
	reader, provider, store := newTestReader(t)
	provider.SetPriceAt("BTC", decimal.NewFromInt(65000), 1000)

	_, err := reader.ReadPrice(ctx, "BTC")
	require.NoError(t, err)

	provider.Drop("BTC")
	sample, err := reader.ReadPrice(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, sample.Sentinel())

	// Outage must not disturb the cached baseline.
	cached, err := store.Prices().LastSample(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.True(t, cached.Price.Equal(decimal.NewFromInt(65000)))
}

func TestCheckDropThresholdTriggersAtTwentyPercent(t *testing.T) {
	ctx := context.Background()
	reader, provider, _ := newTestReader(t)

	provider.SetPriceAt("BTC", decimal.NewFromInt(100_000), 1000)
	triggered, err := reader.CheckDropThreshold(ctx, "BTC", 15)
	require.NoError(t, err)
	require.False(t, triggered, "first read has no baseline")

	provider.SetPriceAt("BTC", decimal.NewFromInt(80_000), 1300)
	triggered, err = reader.CheckDropThreshold(ctx, "BTC", 15)
	require.NoError(t, err)
	require.True(t, triggered, "20%% drop clears a 15%% threshold")
}

func TestCheckDropThresholdBelowThreshold(t *testing.T) {
	ctx := context.Background()
	reader, provider, _ := newTestReader(t)

	provider.SetPriceAt("BTC", decimal.NewFromInt(100_000), 1000)
	_, err := reader.CheckDropThreshold(ctx, "BTC", 15)
	require.NoError(t, err)

	provider.SetPriceAt("BTC", decimal.NewFromInt(90_000), 1300)
	triggered, err := reader.CheckDropThreshold(ctx, "BTC", 15)
	require.NoError(t, err)
	require.False(t, triggered, "10%% drop misses a 15%% threshold")
}

func TestCheckDropThresholdTruncatesTowardZero(t *testing.T) {
	ctx := context.Background()
	reader, provider, _ := newTestReader(t)

	provider.SetPriceAt("BTC", decimal.NewFromInt(1000), 1000)
	_, err := reader.CheckDropThreshold(ctx, "BTC", 16)
	require.NoError(t, err)

	// 15.9%% computes as 15 under truncating division.
	provider.SetPriceAt("BTC", decimal.NewFromInt(841), 1300)
	triggered, err := reader.CheckDropThreshold(ctx, "BTC", 16)
	require.NoError(t, err)
	require.False(t, triggered)

	provider.SetPriceAt("BTC", decimal.NewFromInt(841), 1600)
	triggered, err = reader.CheckDropThreshold(ctx, "BTC", 0)
	require.NoError(t, err)
	require.True(t, triggered, "flat price and zero threshold")
}

func TestCheckDropThresholdRisingPriceNeverTriggers(t *testing.T) {
	ctx := context.Background()
	reader, provider, _ := newTestReader(t)

	provider.SetPriceAt("BTC", decimal.NewFromInt(100_000), 1000)
	_, err := reader.CheckDropThreshold(ctx, "BTC", 0)
	require.NoError(t, err)

	provider.SetPriceAt("BTC", decimal.NewFromInt(120_000), 1300)
	triggered, err := reader.CheckDropThreshold(ctx, "BTC", 0)
	require.NoError(t, err)
	require.False(t, triggered, "rises never trigger for any threshold")
}

func TestCheckDropThresholdSentinelCases(t *testing.T) {
	ctx := context.Background()
	reader, provider, _ := newTestReader(t)

	// No data at all: current read is the sentinel.
	triggered, err := reader.CheckDropThreshold(ctx, "BTC", 1)
	require.NoError(t, err)
	require.False(t, triggered)

	// Baseline exists but the new read fails: still false, baseline kept.
	provider.SetPriceAt("BTC", decimal.NewFromInt(100_000), 1000)
	_, err = reader.CheckDropThreshold(ctx, "BTC", 1)
	require.NoError(t, err)
	provider.Drop("BTC")
	triggered, err = reader.CheckDropThreshold(ctx, "BTC", 1)
	require.NoError(t, err)
	require.False(t, triggered)
}

func TestCheckDropThresholdIsPerAsset(t *testing.T) {
	ctx := context.Background()
	reader, provider, _ := newTestReader(t)

	provider.SetPriceAt("BTC", decimal.NewFromInt(100_000), 1000)
	provider.SetPriceAt("XLM", decimal.NewFromInt(120_000), 1000)
	_, err := reader.CheckDropThreshold(ctx, "BTC", 15)
	require.NoError(t, err)
	_, err = reader.ReadPrice(ctx, "XLM")
	require.NoError(t, err)

	// Reading XLM must not move BTC's baseline.
	provider.SetPriceAt("BTC", decimal.NewFromInt(80_000), 1300)
	triggered, err := reader.CheckDropThreshold(ctx, "BTC", 15)
	require.NoError(t, err)
	require.True(t, triggered)
}

func TestCrossPriceBypassesCacheAndHistory(t *testing.T) {
	ctx := context.Background()
	reader, provider, store := newTestReader(t)
	provider.SetPriceAt("BTC", decimal.NewFromInt(120_000), 1000)
	provider.SetPriceAt("XLM", decimal.NewFromInt(60_000), 1000)

	sample := reader.CrossPrice(ctx, "BTC", "XLM")
	require.False(t, sample.Sentinel())
	require.True(t, sample.Price.Equal(decimal.NewFromInt(2)))

	cached, err := store.Prices().LastSample(ctx, "BTC")
	require.NoError(t, err)
	require.Nil(t, cached)

	sample = reader.CrossPrice(ctx, "BTC", "DOGE")
	require.True(t, sample.Sentinel())
}

func TestHistoryReturnsOnlyRecordedSlotsInRange(t *testing.T) {
	ctx := context.Background()
	reader, provider, _ := newTestReader(t)

	for _, ts := range []int64{300, 600, 1500} {
		provider.SetPriceAt("BTC", decimal.NewFromInt(1000+ts), ts)
		_, err := reader.ReadPrice(ctx, "BTC")
		require.NoError(t, err)
	}

	points, err := reader.History(ctx, "BTC", 300, 900)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, int64(300), points[0].Slot)
	require.Equal(t, int64(600), points[1].Slot)

	points, err = reader.History(ctx, "BTC", 900, 300)
	require.NoError(t, err)
	require.Empty(t, points)
}

func TestRetentionPrunesOldSlots(t *testing.T) {
	ctx := context.Background()
	provider := NewMockProvider()
	store := memory.NewLedger()
	cfg := testOracleSettings()
	cfg.Retention = 600 * time.Second
	reader := NewReader(provider, store, cfg,
		WithClock(func() time.Time { return time.Unix(1500, 0) }))

	provider.SetPriceAt("BTC", decimal.NewFromInt(100), 300)
	_, err := reader.ReadPrice(ctx, "BTC")
	require.NoError(t, err)
	provider.SetPriceAt("BTC", decimal.NewFromInt(101), 1500)
	_, err = reader.ReadPrice(ctx, "BTC")
	require.NoError(t, err)

	points, err := reader.History(ctx, "BTC", 0, 1500)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, int64(1500), points[0].Slot)
}

func TestSimulateDropProducesExpectedPrice(t *testing.T) {
	provider := NewMockProvider()
	provider.SetPriceAt("XLM", decimal.NewFromInt(120_000), 1000)

	newPrice, err := provider.SimulateDrop("XLM", 20)
	require.NoError(t, err)
	require.True(t, newPrice.Equal(decimal.NewFromInt(96_000)))

	_, err = provider.SimulateDrop("DOGE", 20)
	require.Error(t, err)
}

func TestSimulateDropClampsAtFullDrop(t *testing.T) {
	provider := NewMockProvider()
	provider.SetPriceAt("XLM", decimal.NewFromInt(120_000), 1000)

	newPrice, err := provider.SimulateDrop("XLM", 150)
	require.NoError(t, err)
	require.True(t, newPrice.IsZero())

	data, err := provider.LastPrice(context.Background(), "XLM")
	require.NoError(t, err)
	require.True(t, data.Price.IsZero())
}

func TestMockProviderBaseAndAssets(t *testing.T) {
	ctx := context.Background()
	provider := NewMockProvider()
	provider.SetPriceAt("BTC", decimal.NewFromInt(65_000), 1000)

	base, err := provider.Base(ctx)
	require.NoError(t, err)
	require.Equal(t, "USD", base)

	assets, err := provider.Assets(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"BTC", "XLM"}, assets)
}
