package fx

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpatwari/tokenworth/internal/cache"
	"github.com/dpatwari/tokenworth/internal/quote"
	"github.com/dpatwari/tokenworth/internal/resolve"
)

type stubRateSource struct {
	name       string
	provenance quote.Provenance
	rates      map[string]decimal.Decimal // keyed by currency; historical entries by currency@date
	calls      int
}

func (s *stubRateSource) Name() string                 { return s.name }
func (s *stubRateSource) Provenance() quote.Provenance { return s.provenance }

func (s *stubRateSource) Attempt(ctx context.Context, currency string, date time.Time) (quote.FXRate, error) {
	s.calls++
	key := currency
	if !date.IsZero() {
		key = currency + "@" + date.Format("2006-01-02")
	}
	r, ok := s.rates[key]
	if !ok {
		return quote.FXRate{}, quote.NewProviderError(currency, "no rate", nil)
	}
	return quote.FXRate{Currency: currency, Rate: r, Date: date}, nil
}

func newConverter(src *stubRateSource) (*Converter, *cache.Store) {
	store := cache.New()
	return NewConverter(resolve.NewRateChain(src), store, 0, 0), store
}

func TestConvertAUDScenario(t *testing.T) {
	rate := quote.FXRate{Currency: "AUD", Rate: decimal.NewFromFloat(1.54)}
	got := Convert(decimal.NewFromInt(100), rate)
	assert.True(t, got.Equal(decimal.NewFromInt(154)), "got %s", got)
}

func TestRateCached(t *testing.T) {
	src := &stubRateSource{name: "fx", provenance: quote.ProvenancePrimary,
		rates: map[string]decimal.Decimal{"AUD": decimal.NewFromFloat(1.54)}}
	c, _ := newConverter(src)

	r1 := c.Rate(context.Background(), "AUD")
	r2 := c.Rate(context.Background(), "aud")
	assert.True(t, r1.Rate.Equal(r2.Rate))
	assert.Equal(t, 1, src.calls, "second read must come from the cache")
	assert.Equal(t, quote.ProvenancePrimary, r1.Provenance)
}

func TestRateUSDIsUnit(t *testing.T) {
	src := &stubRateSource{name: "fx"}
	c, _ := newConverter(src)

	r := c.Rate(context.Background(), "USD")
	assert.True(t, r.Rate.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 0, src.calls)
}

func TestHistoricalRateUsesCalendarDate(t *testing.T) {
	src := &stubRateSource{name: "fx", provenance: quote.ProvenancePrimary,
		rates: map[string]decimal.Decimal{"EUR@2024-03-01": decimal.NewFromFloat(0.92)}}
	c, _ := newConverter(src)

	instant := time.Date(2024, 3, 1, 17, 45, 12, 0, time.UTC)
	r := c.HistoricalRate(context.Background(), "EUR", instant)
	assert.True(t, r.Rate.Equal(decimal.NewFromFloat(0.92)))

	// Another instant on the same day resolves from cache.
	other := time.Date(2024, 3, 1, 3, 2, 1, 0, time.UTC)
	c.HistoricalRate(context.Background(), "EUR", other)
	assert.Equal(t, 1, src.calls)
}

func TestHistoricalRateSubstitutesCurrentWithFallbackTag(t *testing.T) {
	src := &stubRateSource{name: "fx", provenance: quote.ProvenancePrimary,
		rates: map[string]decimal.Decimal{"AUD": decimal.NewFromFloat(1.54)}}
	c, _ := newConverter(src)

	r := c.HistoricalRate(context.Background(), "AUD", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, r.Rate.Equal(decimal.NewFromFloat(1.54)), "current rate substituted")
	assert.Equal(t, quote.ProvenanceFallback, r.Provenance, "substitution must stay auditable")
}

func TestHistoricalConvert(t *testing.T) {
	src := &stubRateSource{name: "fx", provenance: quote.ProvenancePrimary,
		rates: map[string]decimal.Decimal{"EUR@2024-03-01": decimal.NewFromFloat(0.9)}}
	c, _ := newConverter(src)

	got := c.HistoricalConvert(context.Background(), decimal.NewFromInt(200),
		time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), "EUR")
	assert.True(t, got.Equal(decimal.NewFromInt(180)))
}

func TestUnknownCurrencyFallsBackToUnitRate(t *testing.T) {
	src := &stubRateSource{name: "fx"}
	c, _ := newConverter(src)

	r := c.Rate(context.Background(), "ZZZ")
	require.True(t, r.Rate.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, quote.ProvenanceFallback, r.Provenance)
}
