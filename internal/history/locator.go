// Package history locates the provider price point nearest to a target
// instant. No interpolation is performed: the closest sample inside a
// bounded window wins.
package history

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dpatwari/tokenworth/internal/observ"
	"github.com/dpatwari/tokenworth/internal/quote"
)

// DefaultWindow is the half-width of the series window requested
// around the target instant.
const DefaultWindow = 30 * time.Minute

// SeriesProvider supplies provider identifiers and price time series.
type SeriesProvider interface {
	// CoinID maps an on-chain asset to the provider's identifier,
	// falling back to a reverse lookup by contract address. A mapping
	// failure is terminal for the asset.
	CoinID(ctx context.Context, asset quote.AssetID) (string, error)
	// MarketRange returns USD price samples between from and to.
	MarketRange(ctx context.Context, coinID string, from, to time.Time) ([]quote.PricePoint, error)
}

type Locator struct {
	provider SeriesProvider
	window   time.Duration
}

func NewLocator(provider SeriesProvider, window time.Duration) *Locator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Locator{provider: provider, window: window}
}

// Locate resolves the USD price of asset at target. It requests a
// symmetric window of samples around target and selects the one with
// the smallest time distance. Every failure mode returns a typed
// error; callers downgrade it to an absent map entry.
func (l *Locator) Locate(ctx context.Context, asset quote.AssetID, target time.Time) (decimal.Decimal, error) {
	id, err := l.provider.CoinID(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}

	points, err := l.provider.MarketRange(ctx, id, target.Add(-l.window), target.Add(l.window))
	if err != nil {
		return decimal.Zero, err
	}
	if len(points) == 0 {
		observ.IncCounter("history_empty_series_total", nil)
		return decimal.Zero, quote.NewProviderError(asset.Key(), "no price points in window", nil)
	}

	// Linear scan; the window is bounded so the series stays small.
	best := points[0]
	bestDist := absDuration(points[0].Instant.Sub(target))
	for _, p := range points[1:] {
		if d := absDuration(p.Instant.Sub(target)); d < bestDist {
			best, bestDist = p, d
		}
	}
	observ.RecordDuration("history_nearest_distance", bestDist, nil)
	return best.ValueUSD, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
