package trader

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sigrelay/internal/domain"
)

type BinanceTrader struct {
	client *binance.Client
	lots   *lotSteps
}

func NewBinanceTrader(client *binance.Client) *BinanceTrader {
	t := &BinanceTrader{client: client}
	t.lots = newLotSteps(t.fetchLotSize)
	return t
}

// LotSize returns the LOT_SIZE step of the pair from exchange info.
func (t *BinanceTrader) LotSize(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	return t.lots.get(ctx, pair)
}

func (t *BinanceTrader) fetchLotSize(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	info, err := t.client.NewExchangeInfoService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != pair.Symbol() {
			continue
		}
		if f := s.LotSizeFilter(); f != nil {
			return parseDecimal(f.StepSize), nil
		}
	}
	return decimal.Zero, errors.Errorf("no LOT_SIZE filter for %s", pair.Symbol())
}

// CreateMarketBuyOrder places a spot market buy for amount of the base asset.
// Binance reports fills in the response, price is only used as a fallback.
func (t *BinanceTrader) CreateMarketBuyOrder(ctx context.Context, pair domain.Pair, amount, price decimal.Decimal, clientOrderID string) (domain.Order, error) {
	return t.createOrder(ctx, pair, domain.SideBuy, amount, price, clientOrderID)
}

// CreateMarketSellOrder places a spot market sell for amount of the base asset.
func (t *BinanceTrader) CreateMarketSellOrder(ctx context.Context, pair domain.Pair, amount decimal.Decimal, clientOrderID string) (domain.Order, error) {
	return t.createOrder(ctx, pair, domain.SideSell, amount, decimal.Zero, clientOrderID)
}

func (t *BinanceTrader) createOrder(ctx context.Context, pair domain.Pair, side domain.Side, amount, price decimal.Decimal, clientOrderID string) (domain.Order, error) {
	amount, err := t.lots.quantity(ctx, pair, amount)
	if err != nil {
		return domain.Order{}, err
	}

	sideType := binance.SideTypeBuy
	if side == domain.SideSell {
		sideType = binance.SideTypeSell
	}

	resp, err := t.client.NewCreateOrderService().Symbol(pair.Symbol()).
		Side(sideType).Type(binance.OrderTypeMarket).
		Quantity(amount.String()).
		NewClientOrderID(clientOrderID).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return domain.Order{}, errors.Wrapf(err, "failed to create %s order", side)
	}

	return orderFromBinance(resp, pair, side, amount, price), nil
}

func orderFromBinance(resp *binance.CreateOrderResponse, pair domain.Pair, side domain.Side, amount, fallbackPrice decimal.Decimal) domain.Order {
	filled := parseDecimal(resp.ExecutedQuantity)
	cost := parseDecimal(resp.CummulativeQuoteQuantity)

	price := fallbackPrice
	if filled.IsPositive() && cost.IsPositive() {
		price = cost.Div(filled)
	}
	if cost.IsZero() {
		cost = filled.Mul(price)
	}

	ts := time.Now().UTC()
	if resp.TransactTime > 0 {
		ts = time.UnixMilli(resp.TransactTime).UTC()
	}

	return domain.Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Pair:          pair,
		Side:          side,
		Amount:        amount,
		Filled:        filled,
		Price:         price,
		Cost:          cost,
		Timestamp:     ts,
	}
}

// FetchBalance returns free and locked amounts for every asset of the spot account.
func (t *BinanceTrader) FetchBalance(ctx context.Context) (domain.Balance, error) {
	acc, err := t.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get account")
	}

	return balanceFromBinance(acc.Balances), nil
}

func balanceFromBinance(balances []binance.Balance) domain.Balance {
	out := make(domain.Balance, len(balances))
	for _, b := range balances {
		free := parseDecimal(b.Free)
		locked := parseDecimal(b.Locked)
		out[b.Asset] = domain.AssetBalance{Free: free, Used: locked, Total: free.Add(locked)}
	}
	return out
}
