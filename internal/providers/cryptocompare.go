package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/dpatwari/tokenworth/internal/observ"
	"github.com/dpatwari/tokenworth/internal/quote"
)

// CryptoCompareConfig holds configuration for the CryptoCompare client.
// An API key is required; without one the source reports itself as
// unconfigured and the chain falls through.
type CryptoCompareConfig struct {
	APIKey             string
	BaseURL            string
	RateLimitPerMinute int
	TimeoutSeconds     int
}

// CryptoCompare is the secondary quote provider. It is symbol-keyed,
// so only assets with a configured symbol mapping can be served.
type CryptoCompare struct {
	config      CryptoCompareConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter

	symMu   sync.RWMutex
	symbols map[string]string // asset key -> trading symbol
}

func NewCryptoCompare(config CryptoCompareConfig, symbols map[string]string) *CryptoCompare {
	if config.BaseURL == "" {
		config.BaseURL = "https://min-api.cryptocompare.com"
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 50
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}

	syms := make(map[string]string, len(symbols))
	for k, v := range symbols {
		syms[strings.ToLower(k)] = strings.ToUpper(v)
	}

	return &CryptoCompare{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMinute)/60), 1),
		symbols:     syms,
	}
}

// Configured reports whether the client has a credential.
func (cc *CryptoCompare) Configured() bool { return cc.config.APIKey != "" }

// SpotPrice fetches the current USD price for one asset.
func (cc *CryptoCompare) SpotPrice(ctx context.Context, asset quote.AssetID) (decimal.Decimal, error) {
	sym, err := cc.symbol(asset)
	if err != nil {
		return decimal.Zero, err
	}

	params := url.Values{"fsym": {sym}, "tsyms": {"USD"}}
	endpoint := fmt.Sprintf("%s/data/price?%s", cc.config.BaseURL, params.Encode())

	var body map[string]json.RawMessage
	if err := cc.doGet(ctx, asset.Key(), endpoint, &body); err != nil {
		return decimal.Zero, err
	}
	if msg, ok := body["Message"]; ok {
		return decimal.Zero, quote.NewProviderError(asset.Key(), string(msg), nil)
	}
	raw, ok := body["USD"]
	if !ok {
		return decimal.Zero, quote.NewProviderError(asset.Key(), "response missing USD field", nil)
	}
	var usd decimal.Decimal
	if err := json.Unmarshal(raw, &usd); err != nil {
		return decimal.Zero, quote.NewProviderError(asset.Key(), "failed to parse price", err)
	}
	return usd, nil
}

// CoinID satisfies history.SeriesProvider: CryptoCompare's identifier
// for a coin is its trading symbol.
func (cc *CryptoCompare) CoinID(ctx context.Context, asset quote.AssetID) (string, error) {
	return cc.symbol(asset)
}

// MarketRange fetches minute-resolution USD close prices covering
// [from, to] via the histominute endpoint.
func (cc *CryptoCompare) MarketRange(ctx context.Context, sym string, from, to time.Time) ([]quote.PricePoint, error) {
	limit := int(to.Sub(from)/time.Minute) + 1
	params := url.Values{
		"fsym":  {sym},
		"tsym":  {"USD"},
		"toTs":  {fmt.Sprintf("%d", to.Unix())},
		"limit": {fmt.Sprintf("%d", limit)},
	}
	endpoint := fmt.Sprintf("%s/data/v2/histominute?%s", cc.config.BaseURL, params.Encode())

	var body struct {
		Response string `json:"Response"`
		Message  string `json:"Message"`
		Data     struct {
			Data []struct {
				Time  int64           `json:"time"`
				Close decimal.Decimal `json:"close"`
			} `json:"Data"`
		} `json:"Data"`
	}
	if err := cc.doGet(ctx, sym, endpoint, &body); err != nil {
		return nil, err
	}
	if body.Response == "Error" {
		return nil, quote.NewProviderError(sym, body.Message, nil)
	}

	points := make([]quote.PricePoint, 0, len(body.Data.Data))
	for _, d := range body.Data.Data {
		at := time.Unix(d.Time, 0).UTC()
		if at.Before(from) || at.After(to) {
			continue
		}
		points = append(points, quote.PricePoint{Instant: at, ValueUSD: d.Close})
	}
	return points, nil
}

func (cc *CryptoCompare) symbol(asset quote.AssetID) (string, error) {
	cc.symMu.RLock()
	defer cc.symMu.RUnlock()
	sym, ok := cc.symbols[asset.Key()]
	if !ok {
		return "", quote.NewBadAssetError(asset.Key(), "no symbol mapping")
	}
	return sym, nil
}

func (cc *CryptoCompare) doGet(ctx context.Context, subject, endpoint string, out any) error {
	if !cc.Configured() {
		return quote.NewUnconfiguredError("cryptocompare")
	}
	if err := cc.rateLimiter.Wait(ctx); err != nil {
		return quote.NewNetworkError(subject, "rate limit wait cancelled", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return quote.NewNetworkError(subject, "failed to create request", err)
	}
	req.Header.Set("Authorization", "Apikey "+cc.config.APIKey)

	start := time.Now()
	resp, err := cc.httpClient.Do(req)
	observ.RecordDuration("provider_request", time.Since(start), map[string]string{"provider": "cryptocompare"})
	if err != nil {
		return quote.NewNetworkError(subject, "request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(subject, resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return quote.NewProviderError(subject, "failed to parse response", err)
	}
	return nil
}
