package pricer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/vadiminshakov/sigrelay/internal/domain"
)

// midsSource is the part of *hyperliquid.Info the pricer reads.
type midsSource interface {
	AllMids(ctx context.Context) (map[string]string, error)
}

// HyperliquidPricer reads mid prices. Perp mids are keyed by coin, spot
// mids by "BASE/QUOTE"; the coin key wins when both exist.
type HyperliquidPricer struct {
	mids midsSource
}

func NewHyperliquidPricer(info *hyperliquid.Info) *HyperliquidPricer {
	if info == nil {
		return &HyperliquidPricer{}
	}
	return &HyperliquidPricer{mids: info}
}

func (p *HyperliquidPricer) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	if p.mids == nil {
		return decimal.Zero, errors.New("hyperliquid info client is nil")
	}

	mids, err := p.mids.AllMids(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "get hyperliquid mids")
	}
	return midOf(mids, pair)
}

func midOf(mids map[string]string, pair domain.Pair) (decimal.Decimal, error) {
	for _, key := range []string{pair.From, pair.String()} {
		mid, ok := mids[key]
		if !ok || mid == "" {
			continue
		}
		price, err := decimal.NewFromString(mid)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "parse %s mid %q", key, mid)
		}
		return price, nil
	}
	return decimal.Zero, errors.Errorf("no hyperliquid mid price for %s", pair.String())
}
