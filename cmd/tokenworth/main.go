package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dpatwari/tokenworth/internal/batch"
	"github.com/dpatwari/tokenworth/internal/cache"
	"github.com/dpatwari/tokenworth/internal/config"
	"github.com/dpatwari/tokenworth/internal/fx"
	"github.com/dpatwari/tokenworth/internal/observ"
	"github.com/dpatwari/tokenworth/internal/pnl"
	"github.com/dpatwari/tokenworth/internal/pricing"
	"github.com/dpatwari/tokenworth/internal/providers"
	"github.com/dpatwari/tokenworth/internal/quote"
	"github.com/dpatwari/tokenworth/internal/resolve"
)

type transfersFile struct {
	Transfers []struct {
		Address   string `json:"address"`
		ChainID   int64  `json:"chain_id"`
		Quantity  string `json:"quantity"`
		Direction string `json:"direction"`
		Instant   string `json:"instant_utc"`
	} `json:"transfers"`
}

func main() {
	var (
		configPath    = flag.String("config", "", "path to yaml config (defaults applied when empty)")
		transfersPath = flag.String("transfers", "", "path to transfers JSON from the chain data feed")
		currency      = flag.String("currency", "", "display currency override")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}
	if *currency != "" {
		cfg.DisplayCurrency = *currency
	}
	observ.Init(cfg.LogLevel, true)

	if *transfersPath == "" {
		fmt.Fprintln(os.Stderr, "usage: tokenworth -transfers transfers.json [-config config.yaml] [-currency AUD]")
		os.Exit(2)
	}
	transfers, err := loadTransfers(*transfersPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load transfers: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := cache.New()
	store.StartSweeper(ctx, time.Duration(cfg.TTL.SweepIntervalMins)*time.Minute)

	coingecko := providers.NewCoinGecko(providers.CoinGeckoConfig{
		APIKey:             cfg.CoinGecko.APIKey,
		BaseURL:            cfg.CoinGecko.BaseURL,
		RateLimitPerMinute: cfg.CoinGecko.RateLimitPerMinute,
		DailyCap:           cfg.CoinGecko.DailyCap,
		TimeoutSeconds:     cfg.CoinGecko.TimeoutSeconds,
	}, cfg.CoinGecko.CoinIDs)

	cryptocompare := providers.NewCryptoCompare(providers.CryptoCompareConfig{
		APIKey:             cfg.CryptoCompare.APIKey,
		BaseURL:            cfg.CryptoCompare.BaseURL,
		RateLimitPerMinute: cfg.CryptoCompare.RateLimitPerMinute,
		TimeoutSeconds:     cfg.CryptoCompare.TimeoutSeconds,
	}, cfg.CryptoCompare.Symbols)

	frankfurter := providers.NewFrankfurter(providers.FrankfurterConfig{
		Enabled:        cfg.FrankfurterEnabled(),
		BaseURL:        cfg.Frankfurter.BaseURL,
		TimeoutSeconds: cfg.Frankfurter.TimeoutSeconds,
	})

	chain := resolve.NewChain(
		providers.NewCoinGeckoSource(coingecko),
		providers.NewCryptoCompareSource(cryptocompare),
		providers.NewStaticPrices(cfg.FallbackPrices),
	)
	rates := resolve.NewRateChain(
		providers.NewFrankfurterSource(frankfurter),
		providers.NewStaticRates(cfg.FallbackRates),
	)
	converter := fx.NewConverter(rates, store,
		time.Duration(cfg.TTL.FXCurrentHours)*time.Hour,
		time.Duration(cfg.TTL.FXHistoricalHours)*time.Hour)

	engine := pricing.New(store, chain, converter, pricing.Config{
		CommonAssets:    cfg.CommonAssets,
		SpotCommonTTL:   time.Duration(cfg.TTL.SpotCommonMinutes) * time.Minute,
		SpotTTL:         time.Duration(cfg.TTL.SpotMinutes) * time.Minute,
		HistoricalTTL:   time.Duration(cfg.TTL.HistoricalHours) * time.Hour,
		SpotBatch:       batchOptions(cfg.SpotBatch),
		HistoricalBatch: batchOptions(cfg.HistoricalBatch),
	})

	assets := uniqueAssets(transfers)
	observ.Log("valuation_start", map[string]any{
		"transfers": len(transfers),
		"assets":    len(assets),
		"currency":  cfg.DisplayCurrency,
	})

	current := engine.CurrentPrices(ctx, assets)
	report := engine.PnL(ctx, transfers, current)

	rate := converter.Rate(ctx, cfg.DisplayCurrency)
	display := pnl.ConvertReport(report, rate)
	printReport(display, rate)
}

func loadTransfers(path string) ([]quote.Transfer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file transfersFile
	if err := json.Unmarshal(b, &file); err != nil {
		return nil, err
	}

	transfers := make([]quote.Transfer, 0, len(file.Transfers))
	for i, t := range file.Transfers {
		qty, err := decimal.NewFromString(t.Quantity)
		if err != nil {
			return nil, fmt.Errorf("transfer %d: bad quantity %q: %w", i, t.Quantity, err)
		}
		at, err := time.Parse(time.RFC3339, t.Instant)
		if err != nil {
			return nil, fmt.Errorf("transfer %d: bad instant %q: %w", i, t.Instant, err)
		}
		transfers = append(transfers, quote.Transfer{
			Asset:     quote.NewAssetID(t.Address, t.ChainID),
			Quantity:  qty,
			Direction: quote.Direction(t.Direction),
			Instant:   at.UTC(),
		})
	}
	return transfers, nil
}

func uniqueAssets(transfers []quote.Transfer) []quote.AssetID {
	seen := map[string]bool{}
	var assets []quote.AssetID
	for _, t := range transfers {
		if !seen[t.Asset.Key()] {
			seen[t.Asset.Key()] = true
			assets = append(assets, t.Asset)
		}
	}
	return assets
}

func batchOptions(b config.Batch) batch.Options {
	return batch.Options{
		GroupSize:  b.GroupSize,
		GroupDelay: time.Duration(b.GroupDelayMs) * time.Millisecond,
		MaxRetries: b.MaxRetries,
	}
}

func printReport(report pnl.Report, rate quote.FXRate) {
	fmt.Printf("Valuation in %s (rate %s per USD, source %s)\n\n",
		rate.Currency, rate.Rate.String(), rate.Provenance)

	for _, rec := range report.PerTransfer {
		if !rec.Defined() {
			fmt.Printf("%-46s qty %-12s  (no price data)\n",
				rec.Transfer.Asset.Key(), rec.Transfer.Quantity.String())
			continue
		}
		fmt.Printf("%-46s qty %-12s cost %-14s now %-14s p/l %-14s (%s%%)\n",
			rec.Transfer.Asset.Key(),
			rec.Transfer.Quantity.String(),
			rec.CostBasisUSD.StringFixed(2),
			rec.CurrentValueUSD.StringFixed(2),
			rec.ProfitUSD.StringFixed(2),
			rec.ProfitPct.StringFixed(2))
	}

	s := report.Summary
	fmt.Printf("\nTotal cost basis: %s\n", s.CostBasisUSD.StringFixed(2))
	fmt.Printf("Total value:      %s\n", s.CurrentValueUSD.StringFixed(2))
	fmt.Printf("Profit/loss:      %s (%s%%)\n", s.ProfitUSD.StringFixed(2), s.ProfitPct.StringFixed(2))
	if s.Excluded > 0 {
		fmt.Printf("Unpriced transfers excluded from totals: %d\n", s.Excluded)
	}
}
