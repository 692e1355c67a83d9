package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dpatwari/tokenworth/internal/observ"
	"github.com/dpatwari/tokenworth/internal/quote"
)

const fxDateFormat = "2006-01-02"

// FrankfurterConfig holds configuration for the frankfurter.dev FX
// client. The API is free and needs no key.
type FrankfurterConfig struct {
	Enabled        bool
	BaseURL        string
	TimeoutSeconds int
}

// Frankfurter fetches current and historical USD-based exchange rates.
type Frankfurter struct {
	config     FrankfurterConfig
	httpClient *http.Client
}

func NewFrankfurter(config FrankfurterConfig) *Frankfurter {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.frankfurter.dev/v1"
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}
	return &Frankfurter{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
	}
}

// Rate returns how many units of currency one USD buys. A zero date
// requests the latest rate, otherwise the rate for that calendar day.
func (f *Frankfurter) Rate(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error) {
	if !f.config.Enabled {
		return decimal.Zero, quote.NewUnconfiguredError("frankfurter")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return decimal.Zero, quote.NewProviderError(currency, "empty currency", nil)
	}
	if currency == "USD" {
		return decimal.NewFromInt(1), nil
	}

	path := "latest"
	if !date.IsZero() {
		path = date.UTC().Format(fxDateFormat)
	}
	params := url.Values{"base": {"USD"}, "symbols": {currency}}
	endpoint := fmt.Sprintf("%s/%s?%s", f.config.BaseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, quote.NewNetworkError(currency, "failed to create request", err)
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	observ.RecordDuration("provider_request", time.Since(start), map[string]string{"provider": "frankfurter"})
	if err != nil {
		return decimal.Zero, quote.NewNetworkError(currency, "request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(currency, resp.StatusCode); err != nil {
		return decimal.Zero, err
	}

	var body struct {
		Rates map[string]decimal.Decimal `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, quote.NewProviderError(currency, "failed to parse response", err)
	}
	rate, ok := body.Rates[currency]
	if !ok {
		return decimal.Zero, quote.NewProviderError(currency, "rate missing from response", nil)
	}
	return rate, nil
}
