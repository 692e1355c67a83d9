package quote

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetID identifies a token by its on-chain contract address and chain.
type AssetID struct {
	Address string `json:"address"`
	ChainID int64  `json:"chain_id"`
}

// NewAssetID normalizes the address (lowercase, trimmed) so that two
// spellings of the same contract produce the same cache key.
func NewAssetID(address string, chainID int64) AssetID {
	return AssetID{
		Address: strings.ToLower(strings.TrimSpace(address)),
		ChainID: chainID,
	}
}

// Key returns the canonical identifier used for caching and deduplication.
func (a AssetID) Key() string {
	return fmt.Sprintf("%s@%d", a.Address, a.ChainID)
}

func (a AssetID) String() string { return a.Key() }

// Request identifies one price lookup. A zero Instant means "current".
type Request struct {
	Asset   AssetID   `json:"asset"`
	Instant time.Time `json:"instant,omitzero"`
}

// Current reports whether the request asks for a spot price.
func (r Request) Current() bool { return r.Instant.IsZero() }

// Key composes the canonical request key. Two requests for the same
// asset and instant must collapse to one fetch.
func (r Request) Key() string {
	if r.Current() {
		return r.Asset.Key()
	}
	return fmt.Sprintf("%s@%d", r.Asset.Key(), r.Instant.Unix())
}

// Provenance records which layer of the resolver chain produced a value.
type Provenance string

const (
	ProvenancePrimary   Provenance = "primary"
	ProvenanceSecondary Provenance = "secondary"
	ProvenanceFallback  Provenance = "fallback"
)

// Quote is a resolved USD price for one request. ValueUSD is always
// denominated in USD regardless of which provider produced it.
type Quote struct {
	Asset      AssetID         `json:"asset"`
	ValueUSD   decimal.Decimal `json:"value_usd"`
	Provenance Provenance      `json:"provenance"`
	ObservedAt time.Time       `json:"observed_at"`
}

// FXRate is the number of target-currency units per 1 USD. A zero Date
// means a current rate; historical rates are immutable once produced.
type FXRate struct {
	Currency   string          `json:"currency"`
	Rate       decimal.Decimal `json:"rate"`
	Provenance Provenance      `json:"provenance"`
	Date       time.Time       `json:"date,omitzero"`
}

// PricePoint is one sample of a provider time series.
type PricePoint struct {
	Instant  time.Time
	ValueUSD decimal.Decimal
}

// Direction of a transfer relative to the wallet.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Transfer is a read-only record supplied by the blockchain data feed.
type Transfer struct {
	Asset     AssetID         `json:"asset"`
	Quantity  decimal.Decimal `json:"quantity"`
	Direction Direction       `json:"direction"`
	Instant   time.Time       `json:"instant"`
}
