package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// AssetBalance balance of a single asset.
type AssetBalance struct {
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
	Total decimal.Decimal `json:"total"`
}

// IsZero reports whether every component is zero.
func (b AssetBalance) IsZero() bool {
	return b.Free.IsZero() && b.Used.IsZero() && b.Total.IsZero()
}

// Balance per-asset balances as reported by an exchange.
type Balance map[string]AssetBalance

// BalanceSnapshot full account balance taken after a processed signal.
// Only nonzero assets are kept.
type BalanceSnapshot struct {
	Timestamp time.Time               `json:"ts"`
	Account   string                  `json:"account"`
	Exchange  string                  `json:"exchange"`
	Assets    map[string]AssetBalance `json:"assets"`
}

// NewBalanceSnapshot creates a snapshot dropping assets whose free, used
// and total are all zero.
func NewBalanceSnapshot(ts time.Time, account, exchange string, balance Balance) BalanceSnapshot {
	assets := make(map[string]AssetBalance, len(balance))
	for asset, b := range balance {
		if b.IsZero() {
			continue
		}
		assets[asset] = b
	}

	return BalanceSnapshot{
		Timestamp: ts,
		Account:   account,
		Exchange:  exchange,
		Assets:    assets,
	}
}

// SortedAssets returns asset symbols in lexical order.
func (s BalanceSnapshot) SortedAssets() []string {
	out := make([]string, 0, len(s.Assets))
	for asset := range s.Assets {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

// BalanceSnapshotRecord bundles a snapshot with the log index it originated from.
type BalanceSnapshotRecord struct {
	Index    uint64
	Snapshot BalanceSnapshot
}
