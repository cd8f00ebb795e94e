package trader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigrelay/internal/domain"
	"github.com/vadiminshakov/sigrelay/internal/services/pricer"
)

// slippage applied to the mid price to emulate a market order with an IOC limit.
const hyperliquidSlippage = 0.005

// perpAsset is the balance key of the perp margin account.
const perpAsset = "USDC(perp)"

// HyperliquidTrader emulates market orders with IOC limits. Fills are
// reported as the requested size at the mid price seen right after the
// order, the IOC limit is only the worst case bound.
type HyperliquidTrader struct {
	ex          *hyperliquid.Exchange
	info        *hyperliquid.Info
	accountAddr string
	pricer      pricer.Pricer
	lots        *lotSteps
	logger      *zap.Logger
}

func NewHyperliquidTrader(ex *hyperliquid.Exchange, accountAddr string, p pricer.Pricer, logger *zap.Logger) (*HyperliquidTrader, error) {
	if ex == nil {
		return nil, fmt.Errorf("hyperliquid exchange is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &HyperliquidTrader{
		ex:          ex,
		info:        ex.Info(),
		accountAddr: accountAddr,
		pricer:      p,
		logger:      logger,
	}
	t.lots = newLotSteps(t.fetchLotSize)
	return t, nil
}

// LotSize returns 10^-szDecimals of the coin.
func (t *HyperliquidTrader) LotSize(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	return t.lots.get(ctx, pair)
}

func (t *HyperliquidTrader) fetchLotSize(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	meta, err := t.info.Meta(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return szStep(meta, pair.From)
}

func szStep(meta *hyperliquid.Meta, coin string) (decimal.Decimal, error) {
	for _, a := range meta.Universe {
		if a.Name == coin {
			return decimal.New(1, -int32(a.SzDecimals)), nil
		}
	}
	return decimal.Zero, errors.Errorf("unknown hyperliquid coin %s", coin)
}

// cloidFromID converts a free-form client id into a valid cloid (0x + 32 hex chars).
func cloidFromID(id string) string {
	s := strings.TrimSpace(id)
	if s == "" {
		s = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	sum := sha256.Sum256([]byte(s))
	return "0x" + hex.EncodeToString(sum[:16])
}

func (t *HyperliquidTrader) CreateMarketBuyOrder(ctx context.Context, pair domain.Pair, amount, _ decimal.Decimal, clientOrderID string) (domain.Order, error) {
	return t.executeOrder(ctx, pair, domain.SideBuy, amount, clientOrderID)
}

func (t *HyperliquidTrader) CreateMarketSellOrder(ctx context.Context, pair domain.Pair, amount decimal.Decimal, clientOrderID string) (domain.Order, error) {
	return t.executeOrder(ctx, pair, domain.SideSell, amount, clientOrderID)
}

func (t *HyperliquidTrader) executeOrder(ctx context.Context, pair domain.Pair, side domain.Side, amount decimal.Decimal, clientOrderID string) (domain.Order, error) {
	isBuy := side == domain.SideBuy
	amount, err := t.lots.quantity(ctx, pair, amount)
	if err != nil {
		return domain.Order{}, err
	}
	size, _ := amount.Float64()

	px, err := t.ex.SlippagePrice(ctx, pair.From, isBuy, hyperliquidSlippage, nil)
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "slippage price")
	}

	cloid := cloidFromID(clientOrderID)
	req := hyperliquid.CreateOrderRequest{
		Coin:          pair.From,
		IsBuy:         isBuy,
		Price:         px,
		Size:          size,
		ClientOrderID: &cloid,
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc},
		},
	}

	if _, err = t.ex.Order(ctx, req, nil); err != nil {
		return domain.Order{}, errors.Wrapf(err, "failed to create %s order", side)
	}

	price, err := t.pricer.GetPrice(ctx, pair)
	if err != nil {
		t.logger.Warn("mid price unavailable, reporting the IOC limit price",
			zap.String("pair", pair.String()),
			zap.Error(err))
		price = decimal.NewFromFloat(px)
	}

	return domain.Order{
		ID:            cloid,
		ClientOrderID: clientOrderID,
		Pair:          pair,
		Side:          side,
		Amount:        amount,
		Filled:        amount,
		Price:         price,
		Cost:          amount.Mul(price),
		Timestamp:     time.Now().UTC(),
	}, nil
}

// FetchBalance merges spot balances with the perp margin account value.
func (t *HyperliquidTrader) FetchBalance(ctx context.Context) (domain.Balance, error) {
	spot, err := t.info.SpotUserState(ctx, t.accountAddr)
	if err != nil {
		return nil, errors.Wrap(err, "get spot user state")
	}

	out := make(domain.Balance, len(spot.Balances)+1)
	for _, b := range spot.Balances {
		total := parseDecimal(b.Total)
		hold := parseDecimal(b.Hold)
		out[b.Coin] = domain.AssetBalance{Free: total.Sub(hold), Used: hold, Total: total}
	}

	st, err := t.info.UserState(ctx, t.accountAddr)
	if err != nil {
		return nil, errors.Wrap(err, "get user state")
	}
	total := parseDecimal(st.MarginSummary.TotalRawUsd)
	free := parseDecimal(st.Withdrawable)
	out[perpAsset] = domain.AssetBalance{Free: free, Used: total.Sub(free), Total: total}

	return out, nil
}
