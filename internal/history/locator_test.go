package history

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpatwari/tokenworth/internal/quote"
)

type fakeSeries struct {
	ids    map[string]string
	points []quote.PricePoint
	err    error

	gotFrom, gotTo time.Time
}

func (f *fakeSeries) CoinID(ctx context.Context, asset quote.AssetID) (string, error) {
	id, ok := f.ids[asset.Key()]
	if !ok {
		return "", quote.NewBadAssetError(asset.Key(), "no provider mapping")
	}
	return id, nil
}

func (f *fakeSeries) MarketRange(ctx context.Context, coinID string, from, to time.Time) ([]quote.PricePoint, error) {
	f.gotFrom, f.gotTo = from, to
	return f.points, f.err
}

var asset = quote.NewAssetID("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", 1)

func TestLocateNearestPointWins(t *testing.T) {
	target := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	series := &fakeSeries{
		ids: map[string]string{asset.Key(): "weth"},
		points: []quote.PricePoint{
			{Instant: target.Add(-20 * time.Minute), ValueUSD: decimal.NewFromInt(10)},
			{Instant: target.Add(5 * time.Minute), ValueUSD: decimal.NewFromInt(12)},
		},
	}
	loc := NewLocator(series, 0)

	v, err := loc.Locate(context.Background(), asset, target)
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(12)), "the +5min point is closer than the -20min one")
}

func TestLocateSymmetricWindow(t *testing.T) {
	target := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	series := &fakeSeries{
		ids:    map[string]string{asset.Key(): "weth"},
		points: []quote.PricePoint{{Instant: target, ValueUSD: decimal.NewFromInt(1)}},
	}
	loc := NewLocator(series, 0)

	_, err := loc.Locate(context.Background(), asset, target)
	require.NoError(t, err)
	assert.Equal(t, target.Add(-DefaultWindow), series.gotFrom)
	assert.Equal(t, target.Add(DefaultWindow), series.gotTo)
}

func TestLocateUnknownAssetIsTerminal(t *testing.T) {
	series := &fakeSeries{ids: map[string]string{}}
	loc := NewLocator(series, 0)

	_, err := loc.Locate(context.Background(), asset, time.Now())
	require.Error(t, err)
	assert.False(t, quote.Retryable(err), "identifier resolution failures must not be retried")
}

func TestLocateEmptySeries(t *testing.T) {
	series := &fakeSeries{ids: map[string]string{asset.Key(): "weth"}}
	loc := NewLocator(series, 0)

	_, err := loc.Locate(context.Background(), asset, time.Now())
	require.Error(t, err)
	assert.False(t, quote.Retryable(err))
}

func TestLocatePropagatesRetryableErrors(t *testing.T) {
	series := &fakeSeries{
		ids: map[string]string{asset.Key(): "weth"},
		err: quote.NewRateLimitError("weth", "429"),
	}
	loc := NewLocator(series, 0)

	_, err := loc.Locate(context.Background(), asset, time.Now())
	require.Error(t, err)
	assert.True(t, quote.Retryable(err))
}
