package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus final state of an order placement sequence.
type OrderStatus string

const (
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFailed          OrderStatus = "failed"
	OrderStatusSkipped         OrderStatus = "skipped"
)

// Order is what an exchange handle reports for an accepted market order.
type Order struct {
	ID            string
	ClientOrderID string
	Pair          Pair
	Side          Side
	Amount        decimal.Decimal
	Filled        decimal.Decimal
	Price         decimal.Decimal
	Cost          decimal.Decimal
	Timestamp     time.Time
}

// Status derives the fill status of an accepted order.
func (o Order) Status() OrderStatus {
	switch {
	case o.Filled.GreaterThanOrEqual(o.Amount) && o.Filled.IsPositive():
		return OrderStatusFilled
	case o.Filled.IsPositive():
		return OrderStatusPartiallyFilled
	default:
		return OrderStatusFailed
	}
}

// OrderResult outcome of executing one signal against one account.
type OrderResult struct {
	TradeID         string          `json:"trade_id,omitempty"`
	OrderID         string          `json:"order_id,omitempty"`
	ClientOrderID   string          `json:"client_order_id,omitempty"`
	Pair            Pair            `json:"pair"`
	Side            Side            `json:"side"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	FilledAmount    decimal.Decimal `json:"filled_amount"`
	StakeAmount     decimal.Decimal `json:"stake_amount"`
	Price           decimal.Decimal `json:"price"`
	Cost            decimal.Decimal `json:"cost"`
	Fee             decimal.Decimal `json:"fee"`
	Status          OrderStatus     `json:"status"`
	Attempts        int             `json:"attempts"`
	Error           string          `json:"error,omitempty"`
	Timestamp       time.Time       `json:"ts"`
}

// ComputeFee returns filled × rate × price.
func ComputeFee(filled, price, rate decimal.Decimal) decimal.Decimal {
	return filled.Mul(rate).Mul(price)
}

// NewOrderResult builds a result from an accepted order.
func NewOrderResult(o Order, stake, feeRate decimal.Decimal, attempts int) OrderResult {
	return OrderResult{
		OrderID:         o.ID,
		ClientOrderID:   o.ClientOrderID,
		Pair:            o.Pair,
		Side:            o.Side,
		RequestedAmount: o.Amount,
		FilledAmount:    o.Filled,
		StakeAmount:     stake,
		Price:           o.Price,
		Cost:            o.Cost,
		Fee:             ComputeFee(o.Filled, o.Price, feeRate),
		Status:          o.Status(),
		Attempts:        attempts,
		Timestamp:       o.Timestamp,
	}
}

// FloorToStep rounds a positive amount down to a multiple of step. A
// non-positive step leaves amount unchanged.
func FloorToStep(amount, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return amount
	}
	return amount.Sub(amount.Mod(step))
}
