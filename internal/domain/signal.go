package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// SignalKind is the message type announced by the signal feed.
type SignalKind string

const (
	SignalEntry     SignalKind = "entry"
	SignalEntryFill SignalKind = "entry_fill"
	SignalExit      SignalKind = "exit"
	SignalExitFill  SignalKind = "exit_fill"
)

// SubscribedKinds lists the kinds requested on every (re)subscription.
// Only fill confirmations are requested: orders follow confirmed fills.
var SubscribedKinds = []SignalKind{SignalEntryFill, SignalExitFill}

// String returns the string representation.
func (k SignalKind) String() string {
	return string(k)
}

// IsKnown reports whether the kind is one the relay understands.
func (k SignalKind) IsKnown() bool {
	switch k {
	case SignalEntry, SignalEntryFill, SignalExit, SignalExitFill:
		return true
	}
	return false
}

// SignalEvent single message received from the signal feed.
type SignalEvent struct {
	Kind        SignalKind      `json:"type"`
	Exchange    string          `json:"exchange"`
	Pair        string          `json:"pair"`
	TradeID     string          `json:"trade_id"`
	Amount      decimal.Decimal `json:"amount"`
	StakeAmount decimal.Decimal `json:"stake_amount"`
	OpenRate    decimal.Decimal `json:"open_rate"`
	CloseRate   decimal.Decimal `json:"close_rate"`
	ReceivedAt  time.Time       `json:"received_at"`
	// Fields holds every field of the message as received, for reporting.
	Fields map[string]any `json:"fields,omitempty"`
}

type signalPayload struct {
	Exchange    string          `json:"exchange"`
	Pair        string          `json:"pair"`
	TradeID     json.Number     `json:"trade_id"`
	Amount      decimal.Decimal `json:"amount"`
	StakeAmount decimal.Decimal `json:"stake_amount"`
	OpenRate    decimal.Decimal `json:"open_rate"`
	CloseRate   decimal.Decimal `json:"close_rate"`
}

// DecodeSignal decodes one feed message. The message must be a JSON object
// carrying at least a non-empty "type". Trade fields are read from the
// object itself or, when present, from its nested "data" object.
func DecodeSignal(data []byte, receivedAt time.Time) (SignalEvent, error) {
	var envelope struct {
		Type SignalKind      `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return SignalEvent{}, errors.Wrap(err, "decode signal message")
	}
	if envelope.Type == "" {
		return SignalEvent{}, errors.New("signal message has no type")
	}

	body := data
	if trimmed := bytes.TrimSpace(envelope.Data); len(trimmed) > 0 && trimmed[0] == '{' {
		body = trimmed
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return SignalEvent{}, errors.Wrap(err, "decode signal fields")
	}
	fields["type"] = string(envelope.Type)

	var p signalPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return SignalEvent{}, errors.Wrap(err, "decode signal fields")
	}

	return SignalEvent{
		Kind:        envelope.Type,
		Exchange:    p.Exchange,
		Pair:        p.Pair,
		TradeID:     p.TradeID.String(),
		Amount:      p.Amount,
		StakeAmount: p.StakeAmount,
		OpenRate:    p.OpenRate,
		CloseRate:   p.CloseRate,
		ReceivedAt:  receivedAt,
		Fields:      fields,
	}, nil
}
