// Package executor turns feed signals into exchange orders for one account.
package executor

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/sigrelay/config"
	"github.com/vadiminshakov/sigrelay/internal/domain"
	"github.com/vadiminshakov/sigrelay/internal/events"
	"github.com/vadiminshakov/sigrelay/pkg/retrier"
)

const balanceFetchRetries = 2

// Exchange is the capability set an account's exchange handle provides.
type Exchange interface {
	CreateMarketBuyOrder(ctx context.Context, pair domain.Pair, amount, price decimal.Decimal, clientOrderID string) (domain.Order, error)
	CreateMarketSellOrder(ctx context.Context, pair domain.Pair, amount decimal.Decimal, clientOrderID string) (domain.Order, error)
	FetchBalance(ctx context.Context) (domain.Balance, error)
}

// LotSizer is implemented by exchanges that accept base amounts only in
// multiples of a per-pair step.
type LotSizer interface {
	LotSize(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}

// Outcome of one executed signal.
type Outcome struct {
	Action domain.Action
	// Result is zero when the signal was ignored.
	Result domain.OrderResult
	// Balance is nil when the fetch failed.
	Balance *domain.BalanceSnapshot
}

// Executor executes signals for one account. Calls must be sequential.
type Executor struct {
	account  config.Account
	exchange Exchange
	sink     events.Sink
	logger   *zap.Logger
	source   events.Source

	limiter *rate.Limiter
	policy  retrypolicy.RetryPolicy[domain.Order]
	balance *retrier.Retrier
	newID   func() string
}

func New(acc config.Account, exchange Exchange, sink events.Sink, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = events.Discard
	}

	e := &Executor{
		account:  acc,
		exchange: exchange,
		sink:     sink,
		logger:   logger,
		source: events.Source{
			Account:  acc.Name,
			Exchange: acc.Exchange.Name,
			Endpoint: acc.EndpointHost(),
		},
		limiter: rate.NewLimiter(rate.Limit(acc.OrdersPerSecond), 1),
		balance: retrier.New(
			retrier.WithInitialInterval(acc.Retry.Backoff),
			retrier.WithMaxInterval(acc.Retry.MaxBackoff),
			retrier.WithMaxRetries(balanceFetchRetries),
			retrier.WithRetryIf(func(err error) bool {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}),
		),
		newID: uuid.NewString,
	}
	e.policy = e.buildPolicy()

	return e
}

func (e *Executor) buildPolicy() retrypolicy.RetryPolicy[domain.Order] {
	builder := retrypolicy.NewBuilder[domain.Order]().
		HandleIf(func(_ domain.Order, err error) bool {
			return IsRetryable(err)
		}).
		WithMaxAttempts(e.account.Retry.Limit).
		ReturnLastFailure().
		OnRetry(func(ev failsafe.ExecutionEvent[domain.Order]) {
			e.logger.Debug("retrying order", zap.Error(ev.LastError()))
		})

	if e.account.Retry.MaxBackoff > e.account.Retry.Backoff {
		builder = builder.WithBackoff(e.account.Retry.Backoff, e.account.Retry.MaxBackoff)
	} else {
		builder = builder.WithDelay(e.account.Retry.Backoff)
	}

	return builder.Build()
}

// Execute routes the signal, places the order (unless the account is dry
// run) and takes a balance snapshot. Every signal is followed by a snapshot,
// kinds without a route just place no order. A *domain.TerminalOrderError
// is returned when the order was given up on; the snapshot is taken anyway.
func (e *Executor) Execute(ctx context.Context, ev domain.SignalEvent) (Outcome, error) {
	e.sink.Report(ctx, events.SignalReceived(e.source, ev))

	action := domain.RouteSignal(ev.Kind)
	out := Outcome{Action: action}

	logger := e.logger.With(
		zap.String("kind", ev.Kind.String()),
		zap.String("pair", ev.Pair),
		zap.String("trade_id", ev.TradeID),
	)

	var terminal *domain.TerminalOrderError
	switch {
	case e.account.DryRun:
		if action != domain.ActionNone {
			out.Result = e.skipped(ev, action)
			e.sink.Report(ctx, events.OrderCompleted(e.source, ev.Kind, out.Result))
		}
		logger.Info("no order placed, account is dry_run",
			zap.String("exchange", e.account.Exchange.Name),
			zap.String("endpoint", e.source.Endpoint))
	case action == domain.ActionNone:
		logger.Debug("no route for signal kind, order skipped")
	default:
		res, err := e.placeOrder(ctx, ev, action)
		if err != nil && ctx.Err() != nil {
			return out, ctx.Err()
		}
		out.Result = res
		out.Result.TradeID = ev.TradeID
		if err != nil {
			terminal = err
			logger.Error("order failed", zap.Error(err))
			e.sink.Report(ctx, events.Failed(e.source, ev.Kind, err))
		} else {
			logger.Info("order placed",
				zap.String("order_id", res.OrderID),
				zap.String("status", string(res.Status)),
				zap.String("filled", res.FilledAmount.String()),
				zap.String("price", res.Price.String()),
				zap.Int("attempts", res.Attempts))
		}
		e.sink.Report(ctx, events.OrderCompleted(e.source, ev.Kind, out.Result))
	}

	snapshot, err := e.fetchBalance(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		logger.Warn("balance fetch failed", zap.Error(err))
		e.sink.Report(ctx, events.Failed(e.source, ev.Kind, err))
	} else {
		out.Balance = &snapshot
		e.sink.Report(ctx, events.BalanceTaken(e.source, ev.Kind, snapshot))
	}

	if terminal != nil {
		return out, terminal
	}
	return out, nil
}

func (e *Executor) skipped(ev domain.SignalEvent, action domain.Action) domain.OrderResult {
	pair, _ := domain.ParsePair(ev.Pair)
	return domain.OrderResult{
		TradeID:         ev.TradeID,
		Pair:            pair,
		Side:            action.Side(),
		RequestedAmount: ev.Amount,
		StakeAmount:     ev.StakeAmount,
		Price:           ev.OpenRate,
		Status:          domain.OrderStatusSkipped,
		Timestamp:       time.Now().UTC(),
	}
}

// placeOrder runs the retry policy. Every attempt waits on the rate limiter
// and carries a fresh client order id; a retryable rejection shrinks amount
// and stake by the shrink factor before the next attempt. Amounts are kept
// on the exchange lot step and shrink by at least one step, so no attempt
// resends a rejected size.
func (e *Executor) placeOrder(ctx context.Context, ev domain.SignalEvent, action domain.Action) (domain.OrderResult, *domain.TerminalOrderError) {
	side := action.Side()
	amount, stake := ev.Amount, ev.StakeAmount
	attempts := 0

	fail := func(err error, exhausted bool) (domain.OrderResult, *domain.TerminalOrderError) {
		pair, _ := domain.ParsePair(ev.Pair)
		res := domain.OrderResult{
			Pair:            pair,
			Side:            side,
			RequestedAmount: amount,
			StakeAmount:     stake,
			Status:          domain.OrderStatusFailed,
			Attempts:        attempts,
			Error:           err.Error(),
			Timestamp:       time.Now().UTC(),
		}
		return res, &domain.TerminalOrderError{
			Kind:        ev.Kind,
			Pair:        ev.Pair,
			Amount:      amount,
			StakeAmount: stake,
			Endpoint:    e.source.Endpoint,
			Attempts:    attempts,
			Exhausted:   exhausted,
			Err:         err,
		}
	}

	pair, err := domain.ParsePair(ev.Pair)
	if err != nil {
		return fail(err, false)
	}
	if !amount.IsPositive() {
		return fail(errors.Errorf("invalid amount %s", amount.String()), false)
	}

	step, err := e.lotSize(ctx, pair)
	if err != nil {
		return fail(err, false)
	}
	if step.IsPositive() {
		amount = domain.FloorToStep(amount, step)
		if !amount.IsPositive() {
			return fail(errors.Errorf("amount %s is below the lot size %s", ev.Amount.String(), step.String()), false)
		}
	}

	order, err := failsafe.With[domain.Order](e.policy).WithContext(ctx).Get(func() (domain.Order, error) {
		if attempts > 0 {
			next, nextStake, ok := e.shrink(amount, stake, step)
			if !ok {
				return domain.Order{}, errors.Errorf("amount %s cannot shrink below the lot size %s", amount.String(), step.String())
			}
			amount, stake = next, nextStake
		}
		attempts++

		if err := e.limiter.Wait(ctx); err != nil {
			return domain.Order{}, err
		}

		id := e.newID()
		var (
			o   domain.Order
			err error
		)
		if side == domain.SideBuy {
			o, err = e.exchange.CreateMarketBuyOrder(ctx, pair, amount, ev.OpenRate, id)
		} else {
			o, err = e.exchange.CreateMarketSellOrder(ctx, pair, amount, id)
		}
		err = Classify(err)

		attempt := events.OrderAttempt{
			Attempt:       attempts,
			Pair:          pair,
			Side:          side,
			Amount:        amount,
			StakeAmount:   stake,
			ClientOrderID: id,
		}
		if err != nil {
			attempt.Error = err.Error()
			attempt.Retryable = IsRetryable(err)
			e.logger.Warn("order attempt rejected",
				zap.Int("attempt", attempts),
				zap.String("amount", amount.String()),
				zap.String("stake_amount", stake.String()),
				zap.Bool("retryable", attempt.Retryable),
				zap.Error(err))
		}
		e.sink.Report(ctx, events.OrderAttempted(e.source, ev.Kind, attempt))

		return o, err
	})
	if err != nil {
		return fail(err, IsRetryable(err) && attempts >= e.account.Retry.Limit)
	}

	if order.ClientOrderID == "" {
		order.ClientOrderID = order.ID
	}
	return domain.NewOrderResult(order, stake, e.account.FeeRate, attempts), nil
}

// lotSize returns the pair's step, zero when the exchange has none.
func (e *Executor) lotSize(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	sizer, ok := e.exchange.(LotSizer)
	if !ok {
		return decimal.Zero, nil
	}
	return sizer.LotSize(ctx, pair)
}

// shrink applies the shrink factor. With a step the amount is floored to it
// and drops by at least one step; ok is false when nothing is left.
func (e *Executor) shrink(amount, stake, step decimal.Decimal) (decimal.Decimal, decimal.Decimal, bool) {
	factor := decimal.NewFromInt(1).Sub(e.account.Retry.ShrinkFactor)
	if !step.IsPositive() {
		return amount.Mul(factor), stake.Mul(factor), true
	}

	next := domain.FloorToStep(amount.Mul(factor), step)
	if next.GreaterThanOrEqual(amount) {
		next = amount.Sub(step)
	}
	if !next.IsPositive() {
		return amount, stake, false
	}
	return next, stake.Mul(next).Div(amount), true
}

func (e *Executor) fetchBalance(ctx context.Context) (domain.BalanceSnapshot, error) {
	balance, err := retrier.DoWithData(e.balance, ctx, e.exchange.FetchBalance)
	if err != nil {
		return domain.BalanceSnapshot{}, errors.Wrap(err, "fetch balance")
	}
	return domain.NewBalanceSnapshot(time.Now().UTC(), e.account.Name, e.account.Exchange.Name, balance), nil
}
