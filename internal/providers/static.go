package providers

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dpatwari/tokenworth/internal/quote"
)

// StaticPrices is the terminal price source: a fixed USD table loaded
// from configuration. It answers current and historical requests alike
// and cannot fail transiently; an asset missing from the table is the
// one case where the whole chain yields no data.
type StaticPrices struct {
	prices map[string]decimal.Decimal
}

func NewStaticPrices(prices map[string]float64) *StaticPrices {
	table := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		table[strings.ToLower(k)] = decimal.NewFromFloat(v)
	}
	return &StaticPrices{prices: table}
}

func (s *StaticPrices) Name() string                 { return "static" }
func (s *StaticPrices) Provenance() quote.Provenance { return quote.ProvenanceFallback }

func (s *StaticPrices) Attempt(ctx context.Context, req quote.Request) (quote.Quote, error) {
	v, ok := s.prices[req.Asset.Key()]
	if !ok {
		return quote.Quote{}, quote.NewBadAssetError(req.Asset.Key(), "no static price")
	}
	observed := req.Instant
	if req.Current() {
		observed = time.Now().UTC()
	}
	return quote.Quote{Asset: req.Asset, ValueUSD: v, ObservedAt: observed}, nil
}

// StaticRates is the terminal FX source: fixed units-per-USD rates
// from configuration.
type StaticRates struct {
	rates map[string]decimal.Decimal
}

func NewStaticRates(rates map[string]float64) *StaticRates {
	table := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		table[strings.ToUpper(k)] = decimal.NewFromFloat(v)
	}
	return &StaticRates{rates: table}
}

func (s *StaticRates) Name() string                 { return "static" }
func (s *StaticRates) Provenance() quote.Provenance { return quote.ProvenanceFallback }

func (s *StaticRates) Attempt(ctx context.Context, currency string, date time.Time) (quote.FXRate, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "USD" {
		return quote.FXRate{Currency: "USD", Rate: decimal.NewFromInt(1), Date: date}, nil
	}
	r, ok := s.rates[currency]
	if !ok {
		return quote.FXRate{}, quote.NewProviderError(currency, "no static rate", nil)
	}
	return quote.FXRate{Currency: currency, Rate: r, Date: date}, nil
}
