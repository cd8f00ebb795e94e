// Package trader implements the exchange capability set used by the order
// executor: market buy, market sell and a full balance fetch.
package trader

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/sigrelay/internal/domain"
)

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// lotSteps caches the base quantity step of each pair. Steps are fetched
// from the exchange once and never refreshed.
type lotSteps struct {
	fetch func(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)

	mu    sync.Mutex
	steps map[string]decimal.Decimal
}

func newLotSteps(fetch func(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)) *lotSteps {
	return &lotSteps{fetch: fetch, steps: make(map[string]decimal.Decimal)}
}

func (l *lotSteps) get(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if step, ok := l.steps[pair.Symbol()]; ok {
		return step, nil
	}
	step, err := l.fetch(ctx, pair)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to get lot size of %s", pair.String())
	}
	if !step.IsPositive() {
		return decimal.Zero, errors.Errorf("exchange reported lot size %s for %s", step.String(), pair.String())
	}
	l.steps[pair.Symbol()] = step
	return step, nil
}

// quantity floors amount to the pair's step. An amount below one step is an
// error, exchanges reject zero quantities anyway.
func (l *lotSteps) quantity(ctx context.Context, pair domain.Pair, amount decimal.Decimal) (decimal.Decimal, error) {
	step, err := l.get(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	qty := domain.FloorToStep(amount, step)
	if !qty.IsPositive() {
		return decimal.Zero, errors.Errorf("amount %s is below the %s lot size %s", amount.String(), pair.String(), step.String())
	}
	return qty, nil
}
