package report

import (
	"context"

	"go.uber.org/zap"

	"github.com/vadiminshakov/sigrelay/internal/domain"
	"github.com/vadiminshakov/sigrelay/internal/events"
)

// Log writes every record as one structured log entry. Signals, orders and
// balances are info level, attempts debug, errors error.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("report")}
}

func (l *Log) Report(_ context.Context, r events.Record) {
	fields := []zap.Field{
		zap.String("record", string(r.Kind)),
		zap.String("account", r.Source.Account),
		zap.String("exchange", r.Source.Exchange),
		zap.String("endpoint", r.Source.Endpoint),
		zap.String("kind", string(r.SignalKind)),
	}
	if pair := pairOf(r); !pair.IsZero() {
		fields = append(fields, zap.String("pair", pair.String()))
	}

	switch r.Kind {
	case events.KindSignalReceived:
		l.logger.Info("signal received", append(fields,
			zap.String("trade_id", r.Signal.TradeID),
			zap.Any("fields", r.Signal.Fields))...)
	case events.KindOrderAttempt:
		a := r.Attempt
		l.logger.Debug("order attempt", append(fields,
			zap.Int("attempt", a.Attempt),
			zap.String("side", string(a.Side)),
			zap.Stringer("amount", a.Amount),
			zap.Stringer("stake_amount", a.StakeAmount),
			zap.String("client_order_id", a.ClientOrderID),
			zap.String("error", a.Error))...)
	case events.KindOrderResult:
		o := r.Order
		l.logger.Info("order result", append(fields,
			zap.String("trade_id", o.TradeID),
			zap.String("order_id", o.OrderID),
			zap.String("side", string(o.Side)),
			zap.String("status", string(o.Status)),
			zap.Stringer("amount", o.RequestedAmount),
			zap.Stringer("filled", o.FilledAmount),
			zap.Stringer("price", o.Price),
			zap.Stringer("cost", o.Cost),
			zap.Stringer("fee", o.Fee),
			zap.Int("attempts", o.Attempts))...)
	case events.KindBalanceSnapshot:
		assets := make(map[string]string, len(r.Balance.Assets))
		for asset, b := range r.Balance.Assets {
			assets[asset] = b.Total.String()
		}
		l.logger.Info("balance", append(fields, zap.Any("total", assets))...)
	case events.KindError:
		l.logger.Error("relay error", append(fields, zap.String("error", r.Error))...)
	}
}

func pairOf(r events.Record) domain.Pair {
	switch {
	case r.Order != nil:
		return r.Order.Pair
	case r.Attempt != nil:
		return r.Attempt.Pair
	default:
		return domain.Pair{}
	}
}
