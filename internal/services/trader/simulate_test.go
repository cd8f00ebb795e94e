package trader

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sigrelay/internal/domain"
	"go.uber.org/zap"
)

// mockPricer is a simple mock for the Pricer interface.
type mockPricer struct {
	price decimal.Decimal
	err   error
}

func (m *mockPricer) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	return m.price, m.err
}

var btcusdt = domain.Pair{From: "BTC", To: "USDT"}

func newTestSimulate(t *testing.T, pricer *mockPricer) *SimulateTrader {
	t.Helper()
	trader, err := NewSimulateTrader(zap.NewNop(), pricer, "USDT", decimal.NewFromInt(10000), nil)
	require.NoError(t, err)
	return trader
}

func TestSimulateTrader_NewSimulateTrader(t *testing.T) {
	trader := newTestSimulate(t, &mockPricer{price: decimal.NewFromInt(50000)})
	assert.NotNil(t, trader.pricer)

	balance, err := trader.FetchBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, balance, 1)
	assert.True(t, balance["USDT"].Free.Equal(decimal.NewFromInt(10000)))
	assert.True(t, balance["USDT"].Total.Equal(decimal.NewFromInt(10000)))

	_, err = NewSimulateTrader(zap.NewNop(), nil, "USDT", decimal.NewFromInt(1), nil)
	assert.Error(t, err)
}

func TestSimulateTrader_Buy(t *testing.T) {
	pricer := &mockPricer{price: decimal.NewFromInt(50000)}
	trader := newTestSimulate(t, pricer)

	ctx := context.Background()
	amount := decimal.NewFromFloat(0.1)

	order, err := trader.CreateMarketBuyOrder(ctx, btcusdt, amount, decimal.Zero, "test-order-1")
	require.NoError(t, err)
	assert.Equal(t, "test-order-1", order.ClientOrderID)
	assert.Equal(t, domain.SideBuy, order.Side)
	assert.Equal(t, domain.OrderStatusFilled, order.Status())
	assert.True(t, order.Filled.Equal(amount))
	assert.True(t, order.Price.Equal(pricer.price))
	assert.True(t, order.Cost.Equal(decimal.NewFromInt(5000)))

	balance, err := trader.FetchBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance["BTC"].Total.Equal(amount))
	assert.True(t, balance["USDT"].Total.Equal(decimal.NewFromInt(5000))) // 10000 - 0.1*50000
}

func TestSimulateTrader_Buy_UsesSignalPrice(t *testing.T) {
	pricer := &mockPricer{err: errors.New("pricer must not be called")}
	trader := newTestSimulate(t, pricer)

	order, err := trader.CreateMarketBuyOrder(context.Background(), btcusdt, decimal.NewFromInt(1), decimal.NewFromInt(4000), "id")
	require.NoError(t, err)
	assert.True(t, order.Price.Equal(decimal.NewFromInt(4000)))
}

func TestSimulateTrader_Sell_InsufficientBalance(t *testing.T) {
	trader := newTestSimulate(t, &mockPricer{price: decimal.NewFromInt(50000)})

	// try to sell without having any BTC
	_, err := trader.CreateMarketSellOrder(context.Background(), btcusdt, decimal.NewFromFloat(1.0), "test-order-sell")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Insufficient assets")
}

func TestSimulateTrader_Buy_InsufficientBalance(t *testing.T) {
	trader := newTestSimulate(t, &mockPricer{price: decimal.NewFromInt(50000)})

	// 0.3 * 50000 = 15000 USDT, but we only have 10000
	_, err := trader.CreateMarketBuyOrder(context.Background(), btcusdt, decimal.NewFromFloat(0.3), decimal.Zero, "some-order")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Insufficient assets")

	balance, err := trader.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance["USDT"].Total.Equal(decimal.NewFromInt(10000)), "failed order must not move funds")
}

func TestSimulateTrader_InvalidAmount(t *testing.T) {
	trader := newTestSimulate(t, &mockPricer{price: decimal.NewFromInt(1)})

	_, err := trader.CreateMarketBuyOrder(context.Background(), btcusdt, decimal.Zero, decimal.Zero, "a")
	assert.Error(t, err)
	_, err = trader.CreateMarketSellOrder(context.Background(), btcusdt, decimal.NewFromInt(-1), "b")
	assert.Error(t, err)
}

func TestSimulateTrader_PricerError(t *testing.T) {
	trader := newTestSimulate(t, &mockPricer{err: errors.New("ticker down")})

	_, err := trader.CreateMarketSellOrder(context.Background(), btcusdt, decimal.NewFromInt(1), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticker down")
}

func TestSimulateTrader_FullTradeCycle(t *testing.T) {
	pricer := &mockPricer{}
	trader := newTestSimulate(t, pricer)
	ctx := context.Background()

	// buy 0.1 BTC at 50000
	pricer.price = decimal.NewFromInt(50000)
	buyAmount := decimal.NewFromFloat(0.1)
	_, err := trader.CreateMarketBuyOrder(ctx, btcusdt, buyAmount, decimal.Zero, "buy-order-1")
	require.NoError(t, err)

	// sell 0.05 BTC at 60000
	pricer.price = decimal.NewFromInt(60000)
	sellAmount := decimal.NewFromFloat(0.05)
	order, err := trader.CreateMarketSellOrder(ctx, btcusdt, sellAmount, "sell-order-1")
	require.NoError(t, err)
	assert.True(t, order.Cost.Equal(decimal.NewFromInt(3000)))

	balance, err := trader.FetchBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance["BTC"].Total.Equal(buyAmount.Sub(sellAmount)))
	assert.True(t, balance["USDT"].Total.Equal(decimal.NewFromInt(8000))) // 5000 + 60000*0.05
}

type memoryWallet struct {
	saved map[string]decimal.Decimal
	saves int
}

func (m *memoryWallet) Load() (map[string]decimal.Decimal, error) { return m.saved, nil }

func (m *memoryWallet) Save(w map[string]decimal.Decimal) error {
	m.saves++
	m.saved = make(map[string]decimal.Decimal, len(w))
	for k, v := range w {
		m.saved[k] = v
	}
	return nil
}

func TestSimulateTrader_WalletStore(t *testing.T) {
	store := &memoryWallet{}
	p := &mockPricer{price: decimal.NewFromInt(50000)}

	first, err := NewSimulateTrader(zap.NewNop(), p, "USDT", decimal.NewFromInt(10000), store)
	require.NoError(t, err)
	_, err = first.CreateMarketBuyOrder(context.Background(), btcusdt, decimal.RequireFromString("0.1"), decimal.Zero, "cid")
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)

	// a restarted trader continues from the saved wallet, not the starting quote
	second, err := NewSimulateTrader(zap.NewNop(), p, "USDT", decimal.NewFromInt(10000), store)
	require.NoError(t, err)
	balance, err := second.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance["USDT"].Total.Equal(decimal.NewFromInt(5000)))
	assert.True(t, balance["BTC"].Total.Equal(decimal.RequireFromString("0.1")))
}
