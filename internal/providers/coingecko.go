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

// CoinGeckoConfig holds configuration for the CoinGecko client.
type CoinGeckoConfig struct {
	APIKey             string
	BaseURL            string
	RateLimitPerMinute int
	DailyCap           int
	TimeoutSeconds     int
}

// CoinGecko is the primary quote provider: spot prices by contract
// address and historical market-chart series by coin id. The public
// API works without a key; a demo key raises the rate limit.
type CoinGecko struct {
	config      CoinGeckoConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter

	// Budget and health tracking
	mu                sync.Mutex
	requestsToday     int
	budgetResetTime   time.Time
	consecutiveErrors int
	healthy           bool

	// asset key -> coin id, seeded from config and grown by reverse
	// contract lookups
	idMu    sync.RWMutex
	coinIDs map[string]string
}

// platformForChain maps EVM chain ids to CoinGecko asset platforms.
var platformForChain = map[int64]string{
	1:     "ethereum",
	10:    "optimistic-ethereum",
	56:    "binance-smart-chain",
	137:   "polygon-pos",
	8453:  "base",
	42161: "arbitrum-one",
}

// NewCoinGecko creates the client with free-tier defaults.
func NewCoinGecko(config CoinGeckoConfig, coinIDs map[string]string) *CoinGecko {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 30
	}
	if config.DailyCap <= 0 {
		config.DailyCap = 10000
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}

	ids := make(map[string]string, len(coinIDs))
	for k, v := range coinIDs {
		ids[strings.ToLower(k)] = v
	}

	return &CoinGecko{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		rateLimiter:     rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMinute)/60), 1),
		budgetResetTime: time.Now().Add(24 * time.Hour),
		healthy:         true,
		coinIDs:         ids,
	}
}

// SpotPrice fetches the current USD price for one asset by contract
// address.
func (cg *CoinGecko) SpotPrice(ctx context.Context, asset quote.AssetID) (decimal.Decimal, error) {
	platform, ok := platformForChain[asset.ChainID]
	if !ok {
		return decimal.Zero, quote.NewBadAssetError(asset.Key(), fmt.Sprintf("unsupported chain %d", asset.ChainID))
	}

	params := url.Values{
		"contract_addresses": {asset.Address},
		"vs_currencies":      {"usd"},
	}
	endpoint := fmt.Sprintf("%s/simple/token_price/%s?%s", cg.config.BaseURL, platform, params.Encode())

	var body map[string]map[string]decimal.Decimal
	if err := cg.doGet(ctx, asset.Key(), endpoint, &body); err != nil {
		return decimal.Zero, err
	}

	prices, ok := body[asset.Address]
	if !ok || len(prices) == 0 {
		return decimal.Zero, quote.NewBadAssetError(asset.Key(), "no quote data returned")
	}
	usd, ok := prices["usd"]
	if !ok {
		return decimal.Zero, quote.NewProviderError(asset.Key(), "response missing usd field", nil)
	}
	return usd, nil
}

// CoinID maps an asset to its CoinGecko coin id, issuing a reverse
// lookup by contract address on a cache miss.
func (cg *CoinGecko) CoinID(ctx context.Context, asset quote.AssetID) (string, error) {
	cg.idMu.RLock()
	id, ok := cg.coinIDs[asset.Key()]
	cg.idMu.RUnlock()
	if ok {
		return id, nil
	}

	platform, ok := platformForChain[asset.ChainID]
	if !ok {
		return "", quote.NewBadAssetError(asset.Key(), fmt.Sprintf("unsupported chain %d", asset.ChainID))
	}

	endpoint := fmt.Sprintf("%s/coins/%s/contract/%s", cg.config.BaseURL, platform, asset.Address)
	var body struct {
		ID string `json:"id"`
	}
	if err := cg.doGet(ctx, asset.Key(), endpoint, &body); err != nil {
		return "", err
	}
	if body.ID == "" {
		return "", quote.NewBadAssetError(asset.Key(), "no coin id for contract")
	}

	cg.idMu.Lock()
	cg.coinIDs[asset.Key()] = body.ID
	cg.idMu.Unlock()
	return body.ID, nil
}

// MarketRange fetches the USD price series between from and to.
func (cg *CoinGecko) MarketRange(ctx context.Context, coinID string, from, to time.Time) ([]quote.PricePoint, error) {
	params := url.Values{
		"vs_currency": {"usd"},
		"from":        {fmt.Sprintf("%d", from.Unix())},
		"to":          {fmt.Sprintf("%d", to.Unix())},
	}
	endpoint := fmt.Sprintf("%s/coins/%s/market_chart/range?%s", cg.config.BaseURL, coinID, params.Encode())

	var body struct {
		Prices [][2]decimal.Decimal `json:"prices"` // [unix_ms, price]
	}
	if err := cg.doGet(ctx, coinID, endpoint, &body); err != nil {
		return nil, err
	}

	points := make([]quote.PricePoint, 0, len(body.Prices))
	for _, p := range body.Prices {
		ms := p[0].IntPart()
		points = append(points, quote.PricePoint{
			Instant:  time.UnixMilli(ms).UTC(),
			ValueUSD: p[1],
		})
	}
	return points, nil
}

// Healthy reports whether recent requests have been succeeding.
func (cg *CoinGecko) Healthy() bool {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	return cg.healthy
}

// BudgetStatus returns current daily budget usage.
func (cg *CoinGecko) BudgetStatus() (used, cap int) {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	return cg.requestsToday, cg.config.DailyCap
}

func (cg *CoinGecko) doGet(ctx context.Context, subject, endpoint string, out any) error {
	if !cg.takeBudget() {
		return quote.NewRateLimitError(subject, "daily request budget exceeded")
	}
	if err := cg.rateLimiter.Wait(ctx); err != nil {
		return quote.NewNetworkError(subject, "rate limit wait cancelled", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return quote.NewNetworkError(subject, "failed to create request", err)
	}
	if cg.config.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", cg.config.APIKey)
	}

	start := time.Now()
	resp, err := cg.httpClient.Do(req)
	observ.RecordDuration("provider_request", time.Since(start), map[string]string{"provider": "coingecko"})
	if err != nil {
		cg.recordError()
		return quote.NewNetworkError(subject, "request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(subject, resp.StatusCode); err != nil {
		cg.recordError()
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		cg.recordError()
		return quote.NewProviderError(subject, "failed to parse response", err)
	}
	cg.recordSuccess()
	return nil
}

func (cg *CoinGecko) takeBudget() bool {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	if time.Now().After(cg.budgetResetTime) {
		cg.requestsToday = 0
		cg.budgetResetTime = time.Now().Add(24 * time.Hour)
	}
	if cg.requestsToday >= cg.config.DailyCap {
		return false
	}
	cg.requestsToday++
	return true
}

func (cg *CoinGecko) recordError() {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	cg.consecutiveErrors++
	if cg.consecutiveErrors >= 3 {
		cg.healthy = false
	}
}

func (cg *CoinGecko) recordSuccess() {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	cg.consecutiveErrors = 0
	cg.healthy = true
}
