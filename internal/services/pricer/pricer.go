package pricer

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sigrelay/internal/domain"
)

// Pricer returns the last traded price of a pair.
type Pricer interface {
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}
