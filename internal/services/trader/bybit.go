package trader

import (
	"context"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigrelay/internal/domain"
	"github.com/vadiminshakov/sigrelay/internal/services/pricer"
)

// quotePrecision decimals of the quote sized market buy.
const quotePrecision = 2

// BybitTrader trades on the v5 spot market of a unified account.
//
// The create order endpoint only acknowledges the order, fills are reported
// as the requested amount at the reference price.
type BybitTrader struct {
	client *bybit.Client
	pricer pricer.Pricer
	lots   *lotSteps
	logger *zap.Logger
}

func NewBybitTrader(client *bybit.Client, p pricer.Pricer, logger *zap.Logger) *BybitTrader {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &BybitTrader{client: client, pricer: p, logger: logger}
	t.lots = newLotSteps(t.fetchLotSize)
	return t
}

// LotSize returns the spot basePrecision of the pair, the step of base
// quantities.
func (t *BybitTrader) LotSize(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	return t.lots.get(ctx, pair)
}

func (t *BybitTrader) fetchLotSize(_ context.Context, pair domain.Pair) (decimal.Decimal, error) {
	symbol := bybit.SymbolV5(pair.Symbol())
	res, err := t.client.V5().Market().GetInstrumentsInfo(bybit.V5GetInstrumentsInfoParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return decimal.Zero, err
	}
	if res.Result.Spot == nil || len(res.Result.Spot.List) == 0 {
		return decimal.Zero, errors.Errorf("no spot instrument %s", pair.Symbol())
	}
	return parseDecimal(res.Result.Spot.List[0].LotSizeFilter.BasePrecision), nil
}

// CreateMarketBuyOrder buys amount of the base asset. Spot market buys are
// sized in the quote asset, so qty is amount × price.
func (t *BybitTrader) CreateMarketBuyOrder(ctx context.Context, pair domain.Pair, amount, price decimal.Decimal, clientOrderID string) (domain.Order, error) {
	if !price.IsPositive() {
		var err error
		if price, err = t.pricer.GetPrice(ctx, pair); err != nil {
			return domain.Order{}, errors.Wrap(err, "failed to get reference price for buy")
		}
	}

	amount, err := t.lots.quantity(ctx, pair, amount)
	if err != nil {
		return domain.Order{}, err
	}
	quoteQty := amount.Mul(price).RoundFloor(quotePrecision)

	id, err := t.createOrder(pair, bybit.SideBuy, quoteQty, clientOrderID)
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "failed to create buy order")
	}

	return t.acknowledged(id, clientOrderID, pair, domain.SideBuy, amount, price), nil
}

// CreateMarketSellOrder sells amount of the base asset.
func (t *BybitTrader) CreateMarketSellOrder(ctx context.Context, pair domain.Pair, amount decimal.Decimal, clientOrderID string) (domain.Order, error) {
	amount, err := t.lots.quantity(ctx, pair, amount)
	if err != nil {
		return domain.Order{}, err
	}

	id, err := t.createOrder(pair, bybit.SideSell, amount, clientOrderID)
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "failed to create sell order")
	}

	// the sell went through, a missing reference price only affects reporting
	price, err := t.pricer.GetPrice(ctx, pair)
	if err != nil {
		t.logger.Warn("sell placed but reference price unavailable, reporting zero price and cost",
			zap.String("order_id", id),
			zap.String("pair", pair.String()),
			zap.Error(err))
		price = decimal.Zero
	}

	return t.acknowledged(id, clientOrderID, pair, domain.SideSell, amount, price), nil
}

func (t *BybitTrader) createOrder(pair domain.Pair, side bybit.Side, qty decimal.Decimal, clientOrderID string) (string, error) {
	res, err := t.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(pair.Symbol()),
		Side:        side,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         qty.String(),
		OrderLinkID: &clientOrderID,
	})
	if err != nil {
		return "", err
	}
	return res.Result.OrderID, nil
}

func (t *BybitTrader) acknowledged(id, clientOrderID string, pair domain.Pair, side domain.Side, amount, price decimal.Decimal) domain.Order {
	return domain.Order{
		ID:            id,
		ClientOrderID: clientOrderID,
		Pair:          pair,
		Side:          side,
		Amount:        amount,
		Filled:        amount,
		Price:         price,
		Cost:          amount.Mul(price),
		Timestamp:     time.Now().UTC(),
	}
}

// FetchBalance returns coin balances of the unified wallet.
func (t *BybitTrader) FetchBalance(_ context.Context) (domain.Balance, error) {
	res, err := t.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get wallet balance")
	}

	out := make(domain.Balance)
	for _, acc := range res.Result.List {
		for _, coin := range acc.Coin {
			total := parseDecimal(coin.WalletBalance)
			locked := parseDecimal(coin.Locked)
			out[string(coin.Coin)] = domain.AssetBalance{
				Free:  total.Sub(locked),
				Used:  locked,
				Total: total,
			}
		}
	}
	return out, nil
}
