package executor

import (
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/sigrelay/internal/domain"
)

// binanceRetryableCodes are API codes that clear by themselves.
var binanceRetryableCodes = map[int64]bool{
	-1003: true, // too much request weight
	-1015: true, // too many new orders
}

// binanceRejected is NEW_ORDER_REJECTED; only its balance variant shrinks.
const binanceRejected = -2010

var bybitRetryableCodes = map[int]bool{
	170131: true, // spot: insufficient balance
	10016:  true, // server busy
}

// retryableMarkers cover exchanges that reject with plain text: hyperliquid,
// the simulated wallet and BingX style gateways. Matched case-insensitively,
// never against errors that carry an exchange code.
var retryableMarkers = []string{
	"Insufficient assets",
	"Insufficient spot balance",
	"Insufficient margin",
	"PlaceMultiOrdersNormalUser",
	"The current system is busy, please try again later",
	"Too many requests",
}

// Classify wraps err into *domain.RetryableOrderError when the rejection
// is worth retrying, otherwise returns err unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var already *domain.RetryableOrderError
	if errors.As(err, &already) {
		return err
	}

	pattern, coded := classifyCode(err)
	if !coded {
		pattern = classifyText(err.Error())
	}
	if pattern == "" {
		return err
	}
	return &domain.RetryableOrderError{Pattern: pattern, Err: err}
}

// classifyCode decides by exchange error code. coded is false when err
// carries none.
func classifyCode(err error) (pattern string, coded bool) {
	var binanceErr *common.APIError
	if errors.As(err, &binanceErr) && binanceErr.IsValid() {
		switch {
		case binanceRetryableCodes[binanceErr.Code]:
			return fmt.Sprintf("binance %d", binanceErr.Code), true
		case binanceErr.Code == binanceRejected && strings.Contains(strings.ToLower(binanceErr.Message), "insufficient balance"):
			return fmt.Sprintf("binance %d", binanceErr.Code), true
		}
		return "", true
	}

	var bybitLimit *bybit.RateLimitV5Error
	if errors.As(err, &bybitLimit) {
		return "bybit rate limit", true
	}
	var bybitErr *bybit.ErrorResponse
	if errors.As(err, &bybitErr) {
		if bybitRetryableCodes[bybitErr.RetCode] {
			return fmt.Sprintf("bybit %d", bybitErr.RetCode), true
		}
		return "", true
	}

	return "", false
}

func classifyText(msg string) string {
	msg = strings.ToLower(msg)
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return marker
		}
	}
	return ""
}

// IsRetryable reports whether err was classified as retryable.
func IsRetryable(err error) bool {
	var r *domain.RetryableOrderError
	return errors.As(err, &r)
}
