// Package fx converts USD-denominated amounts into a display currency
// using rates resolved through the provider fallback chain.
package fx

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dpatwari/tokenworth/internal/cache"
	"github.com/dpatwari/tokenworth/internal/observ"
	"github.com/dpatwari/tokenworth/internal/quote"
	"github.com/dpatwari/tokenworth/internal/resolve"
)

// Converter resolves FX rates with chain fallback and caches them.
// Historical rates are immutable and cached far longer than current
// ones.
type Converter struct {
	chain         *resolve.RateChain
	store         *cache.Store
	currentTTL    time.Duration
	historicalTTL time.Duration
}

func NewConverter(chain *resolve.RateChain, store *cache.Store, currentTTL, historicalTTL time.Duration) *Converter {
	if currentTTL <= 0 {
		currentTTL = 24 * time.Hour
	}
	if historicalTTL <= 0 {
		historicalTTL = 30 * 24 * time.Hour
	}
	return &Converter{chain: chain, store: store, currentTTL: currentTTL, historicalTTL: historicalTTL}
}

// Convert applies a rate to a USD amount. Pure multiplication; any
// rounding is a presentation concern left to the caller. Percentage
// figures are currency-invariant and must never pass through here.
func Convert(amountUSD decimal.Decimal, rate quote.FXRate) decimal.Decimal {
	return amountUSD.Mul(rate.Rate)
}

// Rate returns the current rate for currency, consulting the cache
// first. USD always resolves to 1 with primary provenance.
func (c *Converter) Rate(ctx context.Context, currency string) quote.FXRate {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || currency == "USD" {
		return usdRate()
	}

	key := "fx:current:" + currency
	if v, ok := c.store.Get(key); ok {
		return v.(quote.FXRate)
	}

	r, ok := c.chain.Resolve(ctx, currency, time.Time{})
	if !ok {
		// Unknown currency everywhere, static table included. A unit
		// rate keeps the caller rendering USD figures instead of
		// nothing.
		observ.Warn("fx_rate_unresolved", map[string]any{"currency": currency})
		r = quote.FXRate{Currency: currency, Rate: decimal.NewFromInt(1), Provenance: quote.ProvenanceFallback}
	}
	c.store.Set(key, r, c.currentTTL)
	return r
}

// HistoricalRate returns the rate for the calendar date of instant.
// When no source has the date, the current rate is substituted and
// tagged fallback so the substitution stays auditable.
func (c *Converter) HistoricalRate(ctx context.Context, currency string, instant time.Time) quote.FXRate {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || currency == "USD" {
		return usdRate()
	}

	date := instant.UTC().Truncate(24 * time.Hour)
	key := "fx:" + date.Format("2006-01-02") + ":" + currency
	if v, ok := c.store.Get(key); ok {
		return v.(quote.FXRate)
	}

	r, ok := c.chain.Resolve(ctx, currency, date)
	if !ok {
		current := c.Rate(ctx, currency)
		observ.IncCounter("fx_historical_substituted_total", map[string]string{"currency": currency})
		r = quote.FXRate{Currency: currency, Rate: current.Rate, Provenance: quote.ProvenanceFallback, Date: date}
	}
	c.store.Set(key, r, c.historicalTTL)
	return r
}

// HistoricalConvert converts a USD amount at the rate in force on the
// calendar date of instant.
func (c *Converter) HistoricalConvert(ctx context.Context, amountUSD decimal.Decimal, instant time.Time, currency string) decimal.Decimal {
	return Convert(amountUSD, c.HistoricalRate(ctx, currency, instant))
}

func usdRate() quote.FXRate {
	return quote.FXRate{Currency: "USD", Rate: decimal.NewFromInt(1), Provenance: quote.ProvenancePrimary}
}
