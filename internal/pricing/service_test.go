package pricing

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpatwari/tokenworth/internal/batch"
	"github.com/dpatwari/tokenworth/internal/cache"
	"github.com/dpatwari/tokenworth/internal/fx"
	"github.com/dpatwari/tokenworth/internal/quote"
	"github.com/dpatwari/tokenworth/internal/resolve"
)

var (
	weth = quote.NewAssetID("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", 1)
	usdc = quote.NewAssetID("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 1)
	t0   = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
)

// countingSource serves spot and historical prices from fixed tables
// and counts provider calls.
type countingSource struct {
	name       string
	provenance quote.Provenance
	spot       map[string]decimal.Decimal
	historical map[string]decimal.Decimal
	calls      atomic.Int32
}

func (s *countingSource) Name() string                 { return s.name }
func (s *countingSource) Provenance() quote.Provenance { return s.provenance }

func (s *countingSource) Attempt(ctx context.Context, req quote.Request) (quote.Quote, error) {
	s.calls.Add(1)
	table := s.spot
	if !req.Current() {
		table = s.historical
	}
	v, ok := table[req.Key()]
	if !ok {
		return quote.Quote{}, quote.NewBadAssetError(req.Key(), "not in table")
	}
	return quote.Quote{Asset: req.Asset, ValueUSD: v, ObservedAt: time.Now()}, nil
}

func batchOpts() batch.Options {
	return batch.Options{GroupSize: 5, GroupDelay: time.Millisecond, MaxRetries: 1, BackoffUnit: time.Millisecond}
}

func fastOpts() Config {
	return Config{
		SpotBatch:       batchOpts(),
		HistoricalBatch: batchOpts(),
	}
}

func newEngine(src resolve.Source, cfg Config) *Engine {
	store := cache.New()
	rates := resolve.NewRateChain(&staticRate{})
	return New(store, resolve.NewChain(src), fx.NewConverter(rates, store, 0, 0), cfg)
}

type staticRate struct{}

func (s *staticRate) Name() string                 { return "static" }
func (s *staticRate) Provenance() quote.Provenance { return quote.ProvenanceFallback }
func (s *staticRate) Attempt(ctx context.Context, currency string, date time.Time) (quote.FXRate, error) {
	if currency != "AUD" {
		return quote.FXRate{}, quote.NewProviderError(currency, "no static rate", nil)
	}
	return quote.FXRate{Currency: currency, Rate: decimal.NewFromFloat(1.54), Date: date}, nil
}

func TestCurrentPrices(t *testing.T) {
	src := &countingSource{name: "primary", provenance: quote.ProvenancePrimary,
		spot: map[string]decimal.Decimal{
			weth.Key(): decimal.NewFromInt(3200),
			usdc.Key(): decimal.NewFromInt(1),
		}}
	e := newEngine(src, fastOpts())

	prices := e.CurrentPrices(context.Background(), []quote.AssetID{weth, usdc})
	require.Len(t, prices, 2)
	assert.True(t, prices[weth.Key()].Equal(decimal.NewFromInt(3200)))
	assert.True(t, prices[usdc.Key()].Equal(decimal.NewFromInt(1)))
}

func TestCurrentPricesIdempotent(t *testing.T) {
	src := &countingSource{name: "primary", provenance: quote.ProvenancePrimary,
		spot: map[string]decimal.Decimal{weth.Key(): decimal.NewFromInt(3200)}}
	e := newEngine(src, fastOpts())

	first := e.CurrentPrices(context.Background(), []quote.AssetID{weth})
	callsAfterFirst := src.calls.Load()
	second := e.CurrentPrices(context.Background(), []quote.AssetID{weth})

	assert.Equal(t, callsAfterFirst, src.calls.Load(),
		"second call must be served entirely from the cache")
	assert.True(t, first[weth.Key()].Equal(second[weth.Key()]))
}

func TestCurrentPricesDeduplicatesRequests(t *testing.T) {
	src := &countingSource{name: "primary", provenance: quote.ProvenancePrimary,
		spot: map[string]decimal.Decimal{weth.Key(): decimal.NewFromInt(3200)}}
	e := newEngine(src, fastOpts())

	prices := e.CurrentPrices(context.Background(), []quote.AssetID{weth, weth, weth})
	assert.Len(t, prices, 1)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCurrentPricesAbsentAssetOmitted(t *testing.T) {
	src := &countingSource{name: "primary", provenance: quote.ProvenancePrimary,
		spot: map[string]decimal.Decimal{weth.Key(): decimal.NewFromInt(3200)}}
	e := newEngine(src, fastOpts())

	unknown := quote.NewAssetID("0xdead", 1)
	prices := e.CurrentPrices(context.Background(), []quote.AssetID{weth, unknown})

	require.Len(t, prices, 1)
	_, ok := prices[unknown.Key()]
	assert.False(t, ok, "absence is a missing entry, never an error")
}

func TestHistoricalPrices(t *testing.T) {
	req := quote.Request{Asset: weth, Instant: t0}
	src := &countingSource{name: "primary", provenance: quote.ProvenancePrimary,
		historical: map[string]decimal.Decimal{req.Key(): decimal.NewFromInt(2000)}}
	e := newEngine(src, fastOpts())

	prices := e.HistoricalPrices(context.Background(), []quote.Request{req})
	require.Len(t, prices, 1)
	assert.True(t, prices[req.Key()].Equal(decimal.NewFromInt(2000)))

	// Historical entries are cached long-term.
	e.HistoricalPrices(context.Background(), []quote.Request{req})
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestPnLEndToEnd(t *testing.T) {
	histReq := quote.Request{Asset: weth, Instant: t0}
	src := &countingSource{name: "primary", provenance: quote.ProvenancePrimary,
		spot:       map[string]decimal.Decimal{weth.Key(): decimal.NewFromInt(3200)},
		historical: map[string]decimal.Decimal{histReq.Key(): decimal.NewFromInt(2000)}}
	e := newEngine(src, fastOpts())

	transfers := []quote.Transfer{{
		Asset:     weth,
		Quantity:  decimal.NewFromInt(10),
		Direction: quote.DirectionIn,
		Instant:   t0,
	}}
	current := e.CurrentPrices(context.Background(), []quote.AssetID{weth})
	report := e.PnL(context.Background(), transfers, current)

	require.Len(t, report.PerTransfer, 1)
	rec := report.PerTransfer[0]
	require.True(t, rec.Defined())
	assert.True(t, rec.CostBasisUSD.Equal(decimal.NewFromInt(20000)))
	assert.True(t, rec.CurrentValueUSD.Equal(decimal.NewFromInt(32000)))
	assert.True(t, rec.ProfitUSD.Equal(decimal.NewFromInt(12000)))
	assert.True(t, rec.ProfitPct.Equal(decimal.NewFromInt(60)))
}

func TestConvertCurrentAndPctInvariance(t *testing.T) {
	src := &countingSource{name: "primary", provenance: quote.ProvenancePrimary}
	e := newEngine(src, fastOpts())

	got, rate := e.Convert(context.Background(), decimal.NewFromInt(100), "AUD", time.Time{})
	assert.True(t, got.Equal(decimal.NewFromInt(154)))
	assert.Equal(t, "AUD", rate.Currency)

	// Converting profit must not touch a separately computed pct.
	profitUSD := decimal.NewFromInt(12000)
	pct := decimal.NewFromInt(60)
	converted, _ := e.Convert(context.Background(), profitUSD, "AUD", time.Time{})
	assert.True(t, converted.Equal(profitUSD.Mul(decimal.NewFromFloat(1.54))))
	assert.True(t, pct.Equal(decimal.NewFromInt(60)))
}

func TestWarmPopulatesCache(t *testing.T) {
	src := &countingSource{name: "primary", provenance: quote.ProvenancePrimary,
		spot: map[string]decimal.Decimal{weth.Key(): decimal.NewFromInt(3200)}}
	cfg := fastOpts()
	cfg.CommonAssets = []string{weth.Key()}
	e := newEngine(src, cfg)

	e.Warm(context.Background())
	callsAfterWarm := src.calls.Load()

	e.CurrentPrices(context.Background(), []quote.AssetID{weth})
	assert.Equal(t, callsAfterWarm, src.calls.Load())
}

func TestFallbackProvenanceGetsShortTTL(t *testing.T) {
	store := cache.New()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	src := &fallbackOnly{}
	rates := resolve.NewRateChain(&staticRate{})
	cfg := fastOpts()
	cfg.CommonAssets = []string{weth.Key()}
	e := New(store, resolve.NewChain(src), fx.NewConverter(rates, store, 0, 0), cfg)

	e.CurrentPrices(context.Background(), []quote.AssetID{weth})
	require.Equal(t, int32(1), src.calls.Load())

	// Past the short spot TTL the fallback entry must be gone even for
	// a common asset.
	now = now.Add(6 * time.Minute)
	e.CurrentPrices(context.Background(), []quote.AssetID{weth})
	assert.Equal(t, int32(2), src.calls.Load())
}

type fallbackOnly struct {
	calls atomic.Int32
}

func (s *fallbackOnly) Name() string                 { return "static" }
func (s *fallbackOnly) Provenance() quote.Provenance { return quote.ProvenanceFallback }
func (s *fallbackOnly) Attempt(ctx context.Context, req quote.Request) (quote.Quote, error) {
	s.calls.Add(1)
	return quote.Quote{Asset: req.Asset, ValueUSD: decimal.NewFromInt(1), ObservedAt: time.Now()}, nil
}
