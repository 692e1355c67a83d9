package providers

import (
	"context"
	"time"

	"github.com/dpatwari/tokenworth/internal/history"
	"github.com/dpatwari/tokenworth/internal/quote"
)

// CoinGeckoSource adapts the CoinGecko client to the resolver chain.
// Timestamped requests are delegated to the historical locator over
// the client's market-chart series.
type CoinGeckoSource struct {
	client  *CoinGecko
	locator *history.Locator
}

func NewCoinGeckoSource(client *CoinGecko) *CoinGeckoSource {
	return &CoinGeckoSource{
		client:  client,
		locator: history.NewLocator(client, 0),
	}
}

func (s *CoinGeckoSource) Name() string                 { return "coingecko" }
func (s *CoinGeckoSource) Provenance() quote.Provenance { return quote.ProvenancePrimary }

func (s *CoinGeckoSource) Attempt(ctx context.Context, req quote.Request) (quote.Quote, error) {
	if req.Current() {
		v, err := s.client.SpotPrice(ctx, req.Asset)
		if err != nil {
			return quote.Quote{}, err
		}
		return quote.Quote{Asset: req.Asset, ValueUSD: v, ObservedAt: time.Now().UTC()}, nil
	}
	v, err := s.locator.Locate(ctx, req.Asset, req.Instant)
	if err != nil {
		return quote.Quote{}, err
	}
	return quote.Quote{Asset: req.Asset, ValueUSD: v, ObservedAt: req.Instant}, nil
}

// CryptoCompareSource adapts the CryptoCompare client to the resolver
// chain, using its minute-series endpoint for timestamped requests.
type CryptoCompareSource struct {
	client  *CryptoCompare
	locator *history.Locator
}

func NewCryptoCompareSource(client *CryptoCompare) *CryptoCompareSource {
	return &CryptoCompareSource{
		client:  client,
		locator: history.NewLocator(client, 0),
	}
}

func (s *CryptoCompareSource) Name() string                 { return "cryptocompare" }
func (s *CryptoCompareSource) Provenance() quote.Provenance { return quote.ProvenanceSecondary }

func (s *CryptoCompareSource) Attempt(ctx context.Context, req quote.Request) (quote.Quote, error) {
	if !s.client.Configured() {
		return quote.Quote{}, quote.NewUnconfiguredError("cryptocompare")
	}
	if req.Current() {
		v, err := s.client.SpotPrice(ctx, req.Asset)
		if err != nil {
			return quote.Quote{}, err
		}
		return quote.Quote{Asset: req.Asset, ValueUSD: v, ObservedAt: time.Now().UTC()}, nil
	}
	v, err := s.locator.Locate(ctx, req.Asset, req.Instant)
	if err != nil {
		return quote.Quote{}, err
	}
	return quote.Quote{Asset: req.Asset, ValueUSD: v, ObservedAt: req.Instant}, nil
}

// FrankfurterSource adapts the Frankfurter client to the FX rate chain.
type FrankfurterSource struct {
	client *Frankfurter
}

func NewFrankfurterSource(client *Frankfurter) *FrankfurterSource {
	return &FrankfurterSource{client: client}
}

func (s *FrankfurterSource) Name() string                 { return "frankfurter" }
func (s *FrankfurterSource) Provenance() quote.Provenance { return quote.ProvenancePrimary }

func (s *FrankfurterSource) Attempt(ctx context.Context, currency string, date time.Time) (quote.FXRate, error) {
	r, err := s.client.Rate(ctx, currency, date)
	if err != nil {
		return quote.FXRate{}, err
	}
	return quote.FXRate{Currency: currency, Rate: r, Date: date}, nil
}
