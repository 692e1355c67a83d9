// Package pricing is the engine facade. It consults the shared cache,
// batches misses through the rate-limited fetcher, resolves each miss
// through the provider chain, and re-caches results with TTLs that
// match each datum's volatility and provenance.
package pricing

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/dpatwari/tokenworth/internal/batch"
	"github.com/dpatwari/tokenworth/internal/cache"
	"github.com/dpatwari/tokenworth/internal/fx"
	"github.com/dpatwari/tokenworth/internal/observ"
	"github.com/dpatwari/tokenworth/internal/pnl"
	"github.com/dpatwari/tokenworth/internal/quote"
	"github.com/dpatwari/tokenworth/internal/resolve"
)

// Config carries the engine tunables. Zero values fall back to the
// reference defaults.
type Config struct {
	CommonAssets    []string // asset keys with high request volume
	SpotCommonTTL   time.Duration
	SpotTTL         time.Duration
	HistoricalTTL   time.Duration
	SpotBatch       batch.Options
	HistoricalBatch batch.Options
}

func (c Config) withDefaults() Config {
	if c.SpotCommonTTL <= 0 {
		c.SpotCommonTTL = 30 * time.Minute
	}
	if c.SpotTTL <= 0 {
		c.SpotTTL = 5 * time.Minute
	}
	if c.HistoricalTTL <= 0 {
		c.HistoricalTTL = 7 * 24 * time.Hour
	}
	if c.SpotBatch.GroupSize == 0 {
		c.SpotBatch = batch.Options{GroupSize: 5, GroupDelay: 500 * time.Millisecond, MaxRetries: 3}
	}
	if c.HistoricalBatch.GroupSize == 0 {
		c.HistoricalBatch = batch.Options{GroupSize: 3, GroupDelay: time.Second, MaxRetries: 3}
	}
	return c
}

// Engine exposes the four public operations. It never returns an error
// for "no data": absence is a missing map entry or an undefined P&L
// record.
type Engine struct {
	store  *cache.Store
	chain  *resolve.Chain
	fx     *fx.Converter
	flight singleflight.Group
	common map[string]bool
	config Config
}

func New(store *cache.Store, chain *resolve.Chain, converter *fx.Converter, config Config) *Engine {
	config = config.withDefaults()
	common := make(map[string]bool, len(config.CommonAssets))
	for _, k := range config.CommonAssets {
		common[k] = true
	}
	return &Engine{
		store:  store,
		chain:  chain,
		fx:     converter,
		common: common,
		config: config,
	}
}

// CurrentPrices resolves spot USD prices for the given assets. The
// returned map is keyed by asset key; assets no source could price are
// simply absent.
func (e *Engine) CurrentPrices(ctx context.Context, assets []quote.AssetID) map[string]decimal.Decimal {
	reqs := make([]quote.Request, len(assets))
	for i, a := range assets {
		reqs[i] = quote.Request{Asset: a}
	}
	return e.resolveAll(ctx, reqs, e.config.SpotBatch)
}

// HistoricalPrices resolves USD prices at the requested instants. Keys
// of the returned map are the canonical request keys (asset + instant).
func (e *Engine) HistoricalPrices(ctx context.Context, reqs []quote.Request) map[string]decimal.Decimal {
	return e.resolveAll(ctx, reqs, e.config.HistoricalBatch)
}

// PnL prices every transfer at its own instant and combines the result
// with the supplied current prices. Transfers whose prices could not
// be resolved stay in the per-transfer list with undefined fields.
func (e *Engine) PnL(ctx context.Context, transfers []quote.Transfer, current map[string]decimal.Decimal) pnl.Report {
	reqs := make([]quote.Request, len(transfers))
	for i, tr := range transfers {
		reqs[i] = quote.Request{Asset: tr.Asset, Instant: tr.Instant}
	}
	historical := e.HistoricalPrices(ctx, reqs)
	return pnl.Compute(transfers, historical, current)
}

// Convert turns a USD amount into the target currency. A zero instant
// uses the current rate, otherwise the rate for that calendar date.
// The applied rate is returned alongside so callers can audit its
// provenance.
func (e *Engine) Convert(ctx context.Context, amountUSD decimal.Decimal, currency string, instant time.Time) (decimal.Decimal, quote.FXRate) {
	var rate quote.FXRate
	if instant.IsZero() {
		rate = e.fx.Rate(ctx, currency)
	} else {
		rate = e.fx.HistoricalRate(ctx, currency, instant)
	}
	return fx.Convert(amountUSD, rate), rate
}

// Warm pre-resolves the configured common assets so the first caller
// after startup hits the cache.
func (e *Engine) Warm(ctx context.Context) {
	assets := make([]quote.AssetID, 0, len(e.common))
	for key := range e.common {
		if a, ok := parseAssetKey(key); ok {
			assets = append(assets, a)
		}
	}
	if len(assets) == 0 {
		return
	}
	prices := e.CurrentPrices(ctx, assets)
	observ.Log("engine_warmed", map[string]any{"requested": len(assets), "priced": len(prices)})
}

func (e *Engine) resolveAll(ctx context.Context, reqs []quote.Request, opts batch.Options) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(reqs))
	seen := make(map[string]bool, len(reqs))
	var jobs []batch.Job[quote.Quote]

	for _, req := range reqs {
		key := req.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		if v, ok := e.store.Get("price:" + key); ok {
			out[key] = v.(quote.Quote).ValueUSD
			observ.IncCounter("pricing_cache_hit_total", nil)
			continue
		}
		observ.IncCounter("pricing_cache_miss_total", nil)
		jobs = append(jobs, batch.Job[quote.Quote]{
			Key:   key,
			Fetch: func(ctx context.Context) (quote.Quote, error) { return e.resolveOne(ctx, req) },
		})
	}

	res := batch.Run(ctx, jobs, opts)
	for key, q := range res.Values {
		out[key] = q.ValueUSD
	}
	for key, err := range res.Failed {
		observ.Warn("pricing_unresolved", map[string]any{"key": key, "error": err.Error()})
	}
	return out
}

// resolveOne runs the chain for one request, collapsing concurrent
// identical lookups into a single resolution, and re-caches whatever
// provenance was ultimately used.
func (e *Engine) resolveOne(ctx context.Context, req quote.Request) (quote.Quote, error) {
	v, err, _ := e.flight.Do(req.Key(), func() (any, error) {
		if cached, ok := e.store.Get("price:" + req.Key()); ok {
			return cached.(quote.Quote), nil
		}
		q, ok := e.chain.Resolve(ctx, req)
		if !ok {
			return quote.Quote{}, quote.NewBadAssetError(req.Key(), "no data from any source")
		}
		e.store.Set("price:"+req.Key(), q, e.ttlFor(req, q.Provenance))
		return q, nil
	})
	if err != nil {
		return quote.Quote{}, err
	}
	return v.(quote.Quote), nil
}

func (e *Engine) ttlFor(req quote.Request, provenance quote.Provenance) time.Duration {
	if !req.Current() {
		return e.config.HistoricalTTL
	}
	// A fallback-provenance spot price takes the short TTL even for
	// common assets, so a real provider quote can replace it sooner.
	if e.common[req.Asset.Key()] && provenance != quote.ProvenanceFallback {
		return e.config.SpotCommonTTL
	}
	return e.config.SpotTTL
}

func parseAssetKey(key string) (quote.AssetID, bool) {
	i := strings.LastIndex(key, "@")
	if i <= 0 || i == len(key)-1 {
		return quote.AssetID{}, false
	}
	chainID, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil {
		return quote.AssetID{}, false
	}
	return quote.NewAssetID(key[:i], chainID), true
}
