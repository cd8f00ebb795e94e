package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ConnectError the feed could not be reached or the subscription handshake failed.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// StreamError the connection broke or delivered an undecodable message.
type StreamError struct {
	Endpoint string
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Endpoint, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// RetryableOrderError an order rejection matching a known transient pattern.
type RetryableOrderError struct {
	Pattern string
	Err     error
}

func (e *RetryableOrderError) Error() string {
	return fmt.Sprintf("retryable order rejection (%s): %v", e.Pattern, e.Err)
}

func (e *RetryableOrderError) Unwrap() error { return e.Err }

// TerminalOrderError the order for a signal was given up on.
type TerminalOrderError struct {
	Kind        SignalKind
	Pair        string
	Amount      decimal.Decimal
	StakeAmount decimal.Decimal
	Endpoint    string
	Attempts    int
	Exhausted   bool
	Err         error
}

func (e *TerminalOrderError) Error() string {
	reason := "non-retryable"
	if e.Exhausted {
		reason = "retry budget exhausted"
	}
	return fmt.Sprintf("%v - pair: %s | amount: %s | stake_amount: %s | %s %s failed after %d attempt(s) (%s)",
		e.Err, e.Pair, e.Amount.String(), e.StakeAmount.String(), e.Endpoint, e.Kind, e.Attempts, reason)
}

func (e *TerminalOrderError) Unwrap() error { return e.Err }

// ConfigError an account configuration is malformed.
type ConfigError struct {
	Account string
	Field   string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Account == "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("config: account %q: %s: %s", e.Account, e.Field, e.Reason)
}
