package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type TTL struct {
	SpotCommonMinutes  int `yaml:"spot_common_minutes"`
	SpotMinutes        int `yaml:"spot_minutes"`
	HistoricalHours    int `yaml:"historical_hours"`
	FXCurrentHours     int `yaml:"fx_current_hours"`
	FXHistoricalHours  int `yaml:"fx_historical_hours"`
	SweepIntervalMins  int `yaml:"sweep_interval_minutes"`
}

type Batch struct {
	GroupSize    int `yaml:"group_size"`
	GroupDelayMs int `yaml:"group_delay_ms"`
	MaxRetries   int `yaml:"max_retries"`
}

type CoinGecko struct {
	APIKey             string            `yaml:"api_key"`
	BaseURL            string            `yaml:"base_url"`
	RateLimitPerMinute int               `yaml:"rate_limit_per_minute"`
	DailyCap           int               `yaml:"daily_cap"`
	TimeoutSeconds     int               `yaml:"timeout_seconds"`
	CoinIDs            map[string]string `yaml:"coin_ids"` // asset key -> coin id
}

type CryptoCompare struct {
	APIKey             string            `yaml:"api_key"`
	BaseURL            string            `yaml:"base_url"`
	RateLimitPerMinute int               `yaml:"rate_limit_per_minute"`
	TimeoutSeconds     int               `yaml:"timeout_seconds"`
	Symbols            map[string]string `yaml:"symbols"` // asset key -> trading symbol
}

type Frankfurter struct {
	Enabled        *bool  `yaml:"enabled"` // defaults to true; no credential needed
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Root struct {
	LogLevel        string             `yaml:"log_level"`
	DisplayCurrency string             `yaml:"display_currency"`
	CommonAssets    []string           `yaml:"common_assets"` // asset keys with high request volume
	TTL             TTL                `yaml:"ttl"`
	SpotBatch       Batch              `yaml:"spot_batch"`
	HistoricalBatch Batch              `yaml:"historical_batch"`
	CoinGecko       CoinGecko          `yaml:"coingecko"`
	CryptoCompare   CryptoCompare      `yaml:"cryptocompare"`
	Frankfurter     Frankfurter        `yaml:"frankfurter"`
	FallbackPrices  map[string]float64 `yaml:"fallback_prices"` // asset key -> USD
	FallbackRates   map[string]float64 `yaml:"fallback_rates"`  // currency -> units per USD
}

// FrankfurterEnabled resolves the tri-state yaml flag.
func (r Root) FrankfurterEnabled() bool {
	return r.Frankfurter.Enabled == nil || *r.Frankfurter.Enabled
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, nil
}

// Default returns the configuration used when no file is given.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Root) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DisplayCurrency == "" {
		c.DisplayCurrency = "USD"
	}

	if c.TTL.SpotCommonMinutes == 0 {
		c.TTL.SpotCommonMinutes = 30
	}
	if c.TTL.SpotMinutes == 0 {
		c.TTL.SpotMinutes = 5
	}
	if c.TTL.HistoricalHours == 0 {
		c.TTL.HistoricalHours = 7 * 24
	}
	if c.TTL.FXCurrentHours == 0 {
		c.TTL.FXCurrentHours = 24
	}
	if c.TTL.FXHistoricalHours == 0 {
		c.TTL.FXHistoricalHours = 30 * 24
	}
	if c.TTL.SweepIntervalMins == 0 {
		c.TTL.SweepIntervalMins = 5
	}

	// Spot batches are cheap for providers; historical series requests
	// get smaller groups and longer pacing.
	if c.SpotBatch.GroupSize == 0 {
		c.SpotBatch.GroupSize = 5
	}
	if c.SpotBatch.GroupDelayMs == 0 {
		c.SpotBatch.GroupDelayMs = 500
	}
	if c.SpotBatch.MaxRetries == 0 {
		c.SpotBatch.MaxRetries = 3
	}
	if c.HistoricalBatch.GroupSize == 0 {
		c.HistoricalBatch.GroupSize = 3
	}
	if c.HistoricalBatch.GroupDelayMs == 0 {
		c.HistoricalBatch.GroupDelayMs = 1000
	}
	if c.HistoricalBatch.MaxRetries == 0 {
		c.HistoricalBatch.MaxRetries = 3
	}
}
