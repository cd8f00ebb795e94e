// Package events defines the structured records the relay reports and the
// sinks that consume them.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/sigrelay/internal/domain"
)

// Kind type of a report record.
type Kind string

const (
	KindSignalReceived  Kind = "signal_received"
	KindOrderAttempt    Kind = "order_attempt"
	KindOrderResult     Kind = "order_result"
	KindBalanceSnapshot Kind = "balance_snapshot"
	KindError           Kind = "error"
)

// Source identifies the account a record belongs to.
type Source struct {
	Account  string `json:"account"`
	Exchange string `json:"exchange"`
	Endpoint string `json:"endpoint"`
}

// OrderAttempt one placement attempt of an order sequence.
type OrderAttempt struct {
	Attempt       int             `json:"attempt"`
	Pair          domain.Pair     `json:"pair"`
	Side          domain.Side     `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	StakeAmount   decimal.Decimal `json:"stake_amount"`
	ClientOrderID string          `json:"client_order_id"`
	Error         string          `json:"error,omitempty"`
	Retryable     bool            `json:"retryable,omitempty"`
}

// Record is one report entry. Exactly one payload field is set, matching Kind.
type Record struct {
	Kind   Kind      `json:"kind"`
	Time   time.Time `json:"ts"`
	Source Source    `json:"source"`

	// SignalKind is the kind of the signal the record was produced for.
	SignalKind domain.SignalKind `json:"signal_kind,omitempty"`

	Signal  *domain.SignalEvent     `json:"signal,omitempty"`
	Attempt *OrderAttempt           `json:"attempt,omitempty"`
	Order   *domain.OrderResult     `json:"order,omitempty"`
	Balance *domain.BalanceSnapshot `json:"balance,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

func SignalReceived(src Source, ev domain.SignalEvent) Record {
	return Record{Kind: KindSignalReceived, Time: now(), Source: src, SignalKind: ev.Kind, Signal: &ev}
}

func OrderAttempted(src Source, kind domain.SignalKind, a OrderAttempt) Record {
	return Record{Kind: KindOrderAttempt, Time: now(), Source: src, SignalKind: kind, Attempt: &a}
}

func OrderCompleted(src Source, kind domain.SignalKind, res domain.OrderResult) Record {
	return Record{Kind: KindOrderResult, Time: now(), Source: src, SignalKind: kind, Order: &res}
}

func BalanceTaken(src Source, kind domain.SignalKind, s domain.BalanceSnapshot) Record {
	return Record{Kind: KindBalanceSnapshot, Time: now(), Source: src, SignalKind: kind, Balance: &s}
}

func Failed(src Source, kind domain.SignalKind, err error) Record {
	return Record{Kind: KindError, Time: now(), Source: src, SignalKind: kind, Error: err.Error()}
}

func now() time.Time { return time.Now().UTC() }

// Sink consumes report records. Implementations must be safe for concurrent
// use: every pipeline reports into the same sinks. Delivery failures are
// handled by the sink itself, reporting never fails a signal.
type Sink interface {
	Report(ctx context.Context, r Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Record)

func (f SinkFunc) Report(ctx context.Context, r Record) { f(ctx, r) }

// Fanout delivers every record to all sinks in order.
type Fanout []Sink

func (f Fanout) Report(ctx context.Context, r Record) {
	for _, s := range f {
		s.Report(ctx, r)
	}
}

// Discard drops every record.
var Discard Sink = SinkFunc(func(context.Context, Record) {})
