// Package resolve implements the ordered provider fallback chain. A
// chain tries each source in turn and short-circuits on the first
// success; resolution never surfaces an error to the caller.
package resolve

import (
	"context"
	"time"

	"github.com/dpatwari/tokenworth/internal/observ"
	"github.com/dpatwari/tokenworth/internal/quote"
)

// Source is one price provider strategy in the chain. Attempt returns
// a typed quote.Error on any failure, including the unconfigured state
// (missing credential), which the chain treats like any other failure.
type Source interface {
	Name() string
	Provenance() quote.Provenance
	Attempt(ctx context.Context, req quote.Request) (quote.Quote, error)
}

// RateSource is one FX rate provider strategy. A zero date asks for
// the current rate.
type RateSource interface {
	Name() string
	Provenance() quote.Provenance
	Attempt(ctx context.Context, currency string, date time.Time) (quote.FXRate, error)
}

// Chain resolves price requests through an ordered source list ending
// in a static fallback table.
type Chain struct {
	sources []Source
}

func NewChain(sources ...Source) *Chain {
	return &Chain{sources: sources}
}

// Resolve tries each source in order and returns the first successful
// quote annotated with its provenance. It never returns an error: when
// every source fails (including the static fallback, which has no
// entry for the asset), ok is false and the caller records the request
// as having no data.
func (c *Chain) Resolve(ctx context.Context, req quote.Request) (quote.Quote, bool) {
	for _, src := range c.sources {
		q, err := src.Attempt(ctx, req)
		if err != nil {
			observ.IncCounter("resolve_fallthrough_total", map[string]string{"source": src.Name()})
			observ.Warn("resolve_source_failed", map[string]any{
				"source": src.Name(),
				"key":    req.Key(),
				"error":  err.Error(),
			})
			continue
		}
		q.Provenance = src.Provenance()
		observ.IncCounter("resolve_success_total", map[string]string{"source": src.Name()})
		return q, true
	}
	observ.IncCounter("resolve_exhausted_total", nil)
	return quote.Quote{}, false
}

// RateChain resolves FX rates through an ordered source list.
type RateChain struct {
	sources []RateSource
}

func NewRateChain(sources ...RateSource) *RateChain {
	return &RateChain{sources: sources}
}

// Resolve returns the first successful rate, tagged with the source's
// provenance. ok is false only when no source, static table included,
// knows the currency.
func (c *RateChain) Resolve(ctx context.Context, currency string, date time.Time) (quote.FXRate, bool) {
	for _, src := range c.sources {
		r, err := src.Attempt(ctx, currency, date)
		if err != nil {
			observ.IncCounter("resolve_fallthrough_total", map[string]string{"source": src.Name()})
			continue
		}
		r.Provenance = src.Provenance()
		return r, true
	}
	observ.IncCounter("resolve_exhausted_total", nil)
	return quote.FXRate{}, false
}
