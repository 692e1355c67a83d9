// Package pnl computes cost-basis and profit/loss figures for
// transfers, per transfer and aggregated across the portfolio.
package pnl

import (
	"github.com/shopspring/decimal"

	"github.com/dpatwari/tokenworth/internal/fx"
	"github.com/dpatwari/tokenworth/internal/quote"
)

var hundred = decimal.NewFromInt(100)

// Record is the derived P&L for one transfer. The monetary fields are
// nil when the historical or current price could not be resolved; such
// transfers are kept in the list but excluded from aggregates, never
// defaulted to zero.
type Record struct {
	Transfer        quote.Transfer   `json:"transfer"`
	CostBasisUSD    *decimal.Decimal `json:"cost_basis_usd,omitempty"`
	CurrentValueUSD *decimal.Decimal `json:"current_value_usd,omitempty"`
	ProfitUSD       *decimal.Decimal `json:"profit_usd,omitempty"`
	ProfitPct       *decimal.Decimal `json:"profit_pct,omitempty"`
}

// Defined reports whether the record carries usable P&L figures.
func (r Record) Defined() bool { return r.ProfitUSD != nil }

// Summary aggregates across all transfers with defined values. The
// percentage is derived from the summed totals, not by averaging
// per-transfer percentages.
type Summary struct {
	CostBasisUSD    decimal.Decimal `json:"cost_basis_usd"`
	CurrentValueUSD decimal.Decimal `json:"current_value_usd"`
	ProfitUSD       decimal.Decimal `json:"profit_usd"`
	ProfitPct       decimal.Decimal `json:"profit_pct"`
	Excluded        int             `json:"excluded"`
}

type Report struct {
	PerTransfer []Record `json:"per_transfer"`
	Summary     Summary  `json:"summary"`
}

// Compute derives P&L for each transfer. historical is keyed by the
// transfer's request key (asset + instant), current by the asset key;
// a missing entry in either map leaves that transfer undefined.
func Compute(transfers []quote.Transfer, historical, current map[string]decimal.Decimal) Report {
	report := Report{PerTransfer: make([]Record, 0, len(transfers))}

	for _, tr := range transfers {
		rec := Record{Transfer: tr}
		histKey := quote.Request{Asset: tr.Asset, Instant: tr.Instant}.Key()

		histPrice, histOK := historical[histKey]
		curPrice, curOK := current[tr.Asset.Key()]
		if histOK && curOK {
			cost := tr.Quantity.Mul(histPrice)
			value := tr.Quantity.Mul(curPrice)
			profit := value.Sub(cost)
			pct := decimal.Zero
			if cost.IsPositive() {
				pct = profit.Div(cost).Mul(hundred)
			}
			rec.CostBasisUSD = &cost
			rec.CurrentValueUSD = &value
			rec.ProfitUSD = &profit
			rec.ProfitPct = &pct

			report.Summary.CostBasisUSD = report.Summary.CostBasisUSD.Add(cost)
			report.Summary.CurrentValueUSD = report.Summary.CurrentValueUSD.Add(value)
		} else {
			report.Summary.Excluded++
		}
		report.PerTransfer = append(report.PerTransfer, rec)
	}

	report.Summary.ProfitUSD = report.Summary.CurrentValueUSD.Sub(report.Summary.CostBasisUSD)
	if report.Summary.CostBasisUSD.IsPositive() {
		report.Summary.ProfitPct = report.Summary.ProfitUSD.Div(report.Summary.CostBasisUSD).Mul(hundred)
	}
	return report
}

// ConvertReport rescales the absolute monetary fields into the display
// currency. Percentages are currency-invariant and left untouched.
func ConvertReport(report Report, rate quote.FXRate) Report {
	out := Report{PerTransfer: make([]Record, len(report.PerTransfer))}
	for i, rec := range report.PerTransfer {
		conv := Record{Transfer: rec.Transfer, ProfitPct: rec.ProfitPct}
		if rec.Defined() {
			cost := fx.Convert(*rec.CostBasisUSD, rate)
			value := fx.Convert(*rec.CurrentValueUSD, rate)
			profit := fx.Convert(*rec.ProfitUSD, rate)
			conv.CostBasisUSD = &cost
			conv.CurrentValueUSD = &value
			conv.ProfitUSD = &profit
		}
		out.PerTransfer[i] = conv
	}
	out.Summary = Summary{
		CostBasisUSD:    fx.Convert(report.Summary.CostBasisUSD, rate),
		CurrentValueUSD: fx.Convert(report.Summary.CurrentValueUSD, rate),
		ProfitUSD:       fx.Convert(report.Summary.ProfitUSD, rate),
		ProfitPct:       report.Summary.ProfitPct,
		Excluded:        report.Summary.Excluded,
	}
	return out
}
