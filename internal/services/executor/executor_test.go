package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/sigrelay/config"
	"github.com/vadiminshakov/sigrelay/internal/domain"
	"github.com/vadiminshakov/sigrelay/internal/events"
)

type placeCall struct {
	side          domain.Side
	pair          domain.Pair
	amount        decimal.Decimal
	price         decimal.Decimal
	clientOrderID string
}

// fakeExchange rejects attempts with errs in order, then fills.
type fakeExchange struct {
	mu           sync.Mutex
	calls        []placeCall
	errs         []error
	balanceCalls int
	balanceErr   error
}

func (f *fakeExchange) place(c placeCall) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, c)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.Order{}, err
		}
	}

	price := c.price
	if price.IsZero() {
		price = decimal.NewFromInt(50000)
	}
	return domain.Order{
		ID:            fmt.Sprintf("ex-%d", len(f.calls)),
		ClientOrderID: c.clientOrderID,
		Pair:          c.pair,
		Side:          c.side,
		Amount:        c.amount,
		Filled:        c.amount,
		Price:         price,
		Cost:          c.amount.Mul(price),
		Timestamp:     time.Now(),
	}, nil
}

func (f *fakeExchange) CreateMarketBuyOrder(_ context.Context, pair domain.Pair, amount, price decimal.Decimal, id string) (domain.Order, error) {
	return f.place(placeCall{side: domain.SideBuy, pair: pair, amount: amount, price: price, clientOrderID: id})
}

func (f *fakeExchange) CreateMarketSellOrder(_ context.Context, pair domain.Pair, amount decimal.Decimal, id string) (domain.Order, error) {
	return f.place(placeCall{side: domain.SideSell, pair: pair, amount: amount, clientOrderID: id})
}

func (f *fakeExchange) FetchBalance(context.Context) (domain.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return domain.Balance{
		"USDT": {Free: decimal.NewFromInt(100), Total: decimal.NewFromInt(100)},
		"DOGE": {},
	}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	records []events.Record
}

func (s *recordingSink) Report(_ context.Context, r events.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *recordingSink) kinds() []events.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Kind, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Kind)
	}
	return out
}

func testAccount() config.Account {
	return config.Account{
		Name:     "acc",
		Endpoint: "ws://127.0.0.1:8080",
		Token:    "tok",
		Exchange: config.Exchange{Name: config.ExchangeSimulate},
		FeeRate:  decimal.RequireFromString("0.001"),
		Retry: config.Retry{
			Limit:        10,
			ShrinkFactor: decimal.RequireFromString("0.002"),
			Backoff:      time.Millisecond,
			MaxBackoff:   2 * time.Millisecond,
		},
		OrdersPerSecond: 1000,
	}
}

// steppedExchange accepts amounts in multiples of step only.
type steppedExchange struct {
	*fakeExchange
	step    decimal.Decimal
	stepErr error
}

func (s *steppedExchange) LotSize(context.Context, domain.Pair) (decimal.Decimal, error) {
	return s.step, s.stepErr
}

func newTestExecutor(acc config.Account, ex Exchange) (*Executor, *recordingSink) {
	sink := &recordingSink{}
	e := New(acc, ex, sink, nil)
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("cid-%d", n)
	}
	return e, sink
}

func insufficient() error {
	return fmt.Errorf("failed to create sell order: %w", &common.APIError{
		Code:    -2010,
		Message: "Account has insufficient balance for requested action.",
	})
}

func TestExecute_EntryFillBuys(t *testing.T) {
	ex := &fakeExchange{}
	e, sink := newTestExecutor(testAccount(), ex)

	out, err := e.Execute(context.Background(), domain.SignalEvent{
		Kind:     domain.SignalEntryFill,
		Pair:     "BTC/USDT",
		Amount:   decimal.RequireFromString("0.01"),
		OpenRate: decimal.NewFromInt(60000),
	})
	require.NoError(t, err)

	require.Len(t, ex.calls, 1)
	assert.Equal(t, domain.SideBuy, ex.calls[0].side)
	assert.True(t, ex.calls[0].price.Equal(decimal.NewFromInt(60000)))
	assert.True(t, ex.calls[0].amount.Equal(decimal.RequireFromString("0.01")))

	res := out.Result
	assert.Equal(t, domain.ActionBuy, out.Action)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "cid-1", res.ClientOrderID)
	assert.True(t, res.Fee.Equal(decimal.RequireFromString("0.6")), res.Fee.String()) // 0.01 * 0.001 * 60000

	require.NotNil(t, out.Balance)
	assert.Equal(t, []string{"USDT"}, out.Balance.SortedAssets())
	assert.Equal(t, 1, ex.balanceCalls)

	assert.Equal(t, []events.Kind{
		events.KindSignalReceived,
		events.KindOrderAttempt,
		events.KindOrderResult,
		events.KindBalanceSnapshot,
	}, sink.kinds())
}

func TestExecute_RetryableShrinksAmount(t *testing.T) {
	ex := &fakeExchange{errs: []error{insufficient(), insufficient()}}
	e, _ := newTestExecutor(testAccount(), ex)

	out, err := e.Execute(context.Background(), domain.SignalEvent{
		Kind:        domain.SignalExitFill,
		Pair:        "BTC/USDT",
		Amount:      decimal.RequireFromString("0.01"),
		StakeAmount: decimal.NewFromInt(600),
	})
	require.NoError(t, err)

	require.Len(t, ex.calls, 3)
	want := []string{"0.01", "0.00998", "0.00996004"}
	for i, c := range ex.calls {
		assert.Equal(t, domain.SideSell, c.side)
		assert.True(t, c.amount.Equal(decimal.RequireFromString(want[i])), "attempt %d amount %s", i+1, c.amount)
		assert.Equal(t, fmt.Sprintf("cid-%d", i+1), c.clientOrderID)
	}

	res := out.Result
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, res.RequestedAmount.Equal(decimal.RequireFromString("0.00996004")))
	assert.True(t, res.StakeAmount.Equal(decimal.RequireFromString("597.6024")), res.StakeAmount.String())
}

func TestExecute_LotStepShrinksEveryAttempt(t *testing.T) {
	ex := &steppedExchange{
		fakeExchange: &fakeExchange{errs: []error{insufficient(), insufficient(), insufficient(), insufficient()}},
		step:         decimal.RequireFromString("0.0001"),
	}
	e, _ := newTestExecutor(testAccount(), ex)

	out, err := e.Execute(context.Background(), domain.SignalEvent{
		Kind:        domain.SignalExitFill,
		Pair:        "BTC/USDT",
		Amount:      decimal.RequireFromString("0.01"),
		StakeAmount: decimal.NewFromInt(600),
	})
	require.NoError(t, err)

	// 0.2% of 0.0099 is below one step, the amount still drops by a step
	want := []string{"0.01", "0.0099", "0.0098", "0.0097", "0.0096"}
	require.Len(t, ex.calls, len(want))
	for i, c := range ex.calls {
		assert.True(t, c.amount.Equal(decimal.RequireFromString(want[i])), "attempt %d amount %s", i+1, c.amount)
	}
	assert.Equal(t, 5, out.Result.Attempts)
	assert.True(t, out.Result.StakeAmount.Equal(decimal.NewFromInt(576)), out.Result.StakeAmount.String())
}

func TestExecute_LotStepLimits(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		errs      []error
		stepErr   error
		wantCalls int
	}{
		{name: "below one step", amount: "0.00005", wantCalls: 0},
		{name: "nothing left to shrink", amount: "0.0001", errs: []error{insufficient()}, wantCalls: 1},
		{name: "lot size unavailable", amount: "0.01", stepErr: errors.New("exchange info timeout"), wantCalls: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &steppedExchange{
				fakeExchange: &fakeExchange{errs: tt.errs},
				step:         decimal.RequireFromString("0.0001"),
				stepErr:      tt.stepErr,
			}
			e, _ := newTestExecutor(testAccount(), ex)

			_, err := e.Execute(context.Background(), domain.SignalEvent{
				Kind:   domain.SignalExitFill,
				Pair:   "BTC/USDT",
				Amount: decimal.RequireFromString(tt.amount),
			})

			var terminal *domain.TerminalOrderError
			require.True(t, errors.As(err, &terminal))
			assert.False(t, terminal.Exhausted)
			assert.Equal(t, tt.wantCalls, terminal.Attempts)
			assert.Len(t, ex.calls, tt.wantCalls)
			for _, c := range ex.calls {
				assert.True(t, c.amount.IsPositive())
			}
		})
	}
}

func TestExecute_RetryBudgetExhausted(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = errors.New("The current system is busy, please try again later")
	}
	ex := &fakeExchange{errs: errs}
	e, sink := newTestExecutor(testAccount(), ex)

	ev := domain.SignalEvent{
		Kind:        domain.SignalExitFill,
		Pair:        "ETH/USDT",
		Amount:      decimal.NewFromInt(1),
		StakeAmount: decimal.NewFromInt(3000),
	}
	out, err := e.Execute(context.Background(), ev)
	require.Error(t, err)

	var terminal *domain.TerminalOrderError
	require.True(t, errors.As(err, &terminal))
	assert.True(t, terminal.Exhausted)
	assert.Equal(t, 10, terminal.Attempts)
	assert.Equal(t, "ETH/USDT", terminal.Pair)
	assert.Equal(t, "127.0.0.1:8080", terminal.Endpoint)
	assert.Equal(t, domain.SignalExitFill, terminal.Kind)
	assert.True(t, IsRetryable(terminal))

	assert.Len(t, ex.calls, 10)
	for i := 1; i < len(ex.calls); i++ {
		assert.True(t, ex.calls[i].amount.LessThan(ex.calls[i-1].amount))
	}
	assert.Equal(t, domain.OrderStatusFailed, out.Result.Status)
	assert.NotNil(t, out.Balance, "balance is fetched after a failed order")
	assert.Contains(t, sink.kinds(), events.KindError)

	// the executor keeps working for the next signal
	out, err = e.Execute(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, out.Result.Status)
	assert.Len(t, ex.calls, 11)
}

func TestExecute_NonRetryableSingleAttempt(t *testing.T) {
	ex := &fakeExchange{errs: []error{errors.New("Filter failure: LOT_SIZE")}}
	e, _ := newTestExecutor(testAccount(), ex)

	out, err := e.Execute(context.Background(), domain.SignalEvent{
		Kind:   domain.SignalEntryFill,
		Pair:   "BTC/USDT",
		Amount: decimal.RequireFromString("0.01"),
	})

	var terminal *domain.TerminalOrderError
	require.True(t, errors.As(err, &terminal))
	assert.False(t, terminal.Exhausted)
	assert.Equal(t, 1, terminal.Attempts)
	assert.Len(t, ex.calls, 1)
	assert.Equal(t, "Filter failure: LOT_SIZE", out.Result.Error)
	assert.Equal(t, 1, ex.balanceCalls)
}

func TestExecute_InvalidEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.SignalEvent
	}{
		{name: "bad pair", ev: domain.SignalEvent{Kind: domain.SignalEntryFill, Pair: "BTCUSDT", Amount: decimal.NewFromInt(1)}},
		{name: "zero amount", ev: domain.SignalEvent{Kind: domain.SignalExitFill, Pair: "BTC/USDT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExchange{}
			e, _ := newTestExecutor(testAccount(), ex)

			_, err := e.Execute(context.Background(), tt.ev)
			var terminal *domain.TerminalOrderError
			require.True(t, errors.As(err, &terminal))
			assert.Equal(t, 0, terminal.Attempts)
			assert.Empty(t, ex.calls)
			assert.Equal(t, 1, ex.balanceCalls)
		})
	}
}

func TestExecute_Routing(t *testing.T) {
	tests := []struct {
		kind     domain.SignalKind
		wantSide domain.Side
		wantNone bool
	}{
		{kind: domain.SignalEntryFill, wantSide: domain.SideBuy},
		{kind: domain.SignalEntry, wantSide: domain.SideBuy},
		{kind: domain.SignalExitFill, wantSide: domain.SideSell},
		{kind: domain.SignalExit, wantSide: domain.SideSell},
		{kind: "status", wantNone: true},
		{kind: "exit_cancel", wantNone: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ex := &fakeExchange{}
			e, _ := newTestExecutor(testAccount(), ex)

			out, err := e.Execute(context.Background(), domain.SignalEvent{
				Kind:   tt.kind,
				Pair:   "BTC/USDT",
				Amount: decimal.NewFromInt(1),
			})
			require.NoError(t, err)
			assert.Equal(t, 1, ex.balanceCalls)

			if tt.wantNone {
				assert.Equal(t, domain.ActionNone, out.Action)
				assert.Empty(t, ex.calls)
				return
			}
			require.Len(t, ex.calls, 1)
			assert.Equal(t, tt.wantSide, ex.calls[0].side)
		})
	}
}

func TestExecute_DryRun(t *testing.T) {
	for _, kind := range []domain.SignalKind{domain.SignalEntry, domain.SignalEntryFill, domain.SignalExit, domain.SignalExitFill, "status"} {
		t.Run(string(kind), func(t *testing.T) {
			acc := testAccount()
			acc.DryRun = true
			ex := &fakeExchange{}
			e, _ := newTestExecutor(acc, ex)

			out, err := e.Execute(context.Background(), domain.SignalEvent{
				Kind:   kind,
				Pair:   "BTC/USDT",
				Amount: decimal.NewFromInt(1),
			})
			require.NoError(t, err)
			assert.Empty(t, ex.calls)
			assert.Equal(t, 1, ex.balanceCalls)
			require.NotNil(t, out.Balance)
			if kind.IsKnown() {
				assert.Equal(t, domain.OrderStatusSkipped, out.Result.Status)
			}
		})
	}
}

func TestExecute_BalanceFetchFailure(t *testing.T) {
	ex := &fakeExchange{balanceErr: errors.New("timeout")}
	e, sink := newTestExecutor(testAccount(), ex)

	out, err := e.Execute(context.Background(), domain.SignalEvent{
		Kind:   domain.SignalEntryFill,
		Pair:   "BTC/USDT",
		Amount: decimal.NewFromInt(1),
	})
	require.NoError(t, err, "a failed balance fetch does not fail the signal")
	assert.Nil(t, out.Balance)
	assert.Equal(t, domain.OrderStatusFilled, out.Result.Status)
	assert.Equal(t, 1+balanceFetchRetries, ex.balanceCalls)

	kinds := sink.kinds()
	assert.Equal(t, events.KindError, kinds[len(kinds)-1])
}

func TestExecute_Cancelled(t *testing.T) {
	ex := &fakeExchange{errs: []error{insufficient(), insufficient(), insufficient()}}
	acc := testAccount()
	acc.Retry.Backoff = time.Second
	acc.Retry.MaxBackoff = 2 * time.Second
	e, _ := newTestExecutor(acc, ex)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, domain.SignalEvent{
		Kind:   domain.SignalExitFill,
		Pair:   "BTC/USDT",
		Amount: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, ex.balanceCalls)
}
