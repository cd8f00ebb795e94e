package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sigrelay/internal/domain"
	"github.com/vadiminshakov/sigrelay/internal/services/pricer"
	"go.uber.org/zap"
)

// SimulateTrader is an in-memory spot paper wallet. Buys fill at the signal
// price when it is known, otherwise (and for every sell) at the pricer price.
//
// Shortfalls are rejected with an "Insufficient assets" error, which the
// executor treats like the real exchange rejection and shrinks the order.
type SimulateTrader struct {
	mu     sync.RWMutex
	logger *zap.Logger
	wallet map[string]decimal.Decimal
	pricer pricer.Pricer
	store  WalletStore
}

// WalletStore persists the paper wallet. *simstate.Store implements it.
type WalletStore interface {
	Load() (map[string]decimal.Decimal, error)
	Save(wallet map[string]decimal.Decimal) error
}

// NewSimulateTrader creates a paper wallet holding quote of quoteAsset. With
// a non-nil store a previously saved wallet is restored instead, and every
// fill is saved.
func NewSimulateTrader(logger *zap.Logger, p pricer.Pricer, quoteAsset string, quote decimal.Decimal, store WalletStore) (*SimulateTrader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p == nil {
		return nil, errors.New("pricer is required for SimulateTrader")
	}

	wallet := map[string]decimal.Decimal{quoteAsset: quote}
	if store != nil {
		saved, err := store.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to restore simulated wallet")
		}
		if saved != nil {
			wallet = saved
			logger.Info("simulate wallet restored", zap.Int("assets", len(saved)))
		}
	}

	logger.Info("simulate init",
		zap.String("asset", quoteAsset),
		zap.String("balance", wallet[quoteAsset].String()))

	return &SimulateTrader{
		logger: logger,
		wallet: wallet,
		pricer: p,
		store:  store,
	}, nil
}

// persist must be called with mu held. A failed save only loses history,
// the fill itself stands.
func (t *SimulateTrader) persist() {
	if t.store == nil {
		return
	}
	if err := t.store.Save(t.wallet); err != nil {
		t.logger.Warn("failed to save simulated wallet", zap.Error(err))
	}
}

func (t *SimulateTrader) CreateMarketBuyOrder(ctx context.Context, pair domain.Pair, amount, price decimal.Decimal, clientOrderID string) (domain.Order, error) {
	if !amount.IsPositive() {
		return domain.Order{}, fmt.Errorf("buy amount must be positive, got %s", amount.String())
	}
	if !price.IsPositive() {
		var err error
		if price, err = t.pricer.GetPrice(ctx, pair); err != nil {
			return domain.Order{}, errors.Wrap(err, "failed to get price for simulated buy")
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cost := amount.Mul(price)
	if have := t.wallet[pair.To]; have.LessThan(cost) {
		return domain.Order{}, errors.Errorf("Insufficient assets: %s balance %s, need %s",
			pair.To, have.String(), cost.String())
	}
	t.wallet[pair.To] = t.wallet[pair.To].Sub(cost)
	t.wallet[pair.From] = t.wallet[pair.From].Add(amount)
	t.persist()

	t.logger.Info("Simulated buy executed",
		zap.String("id", clientOrderID),
		zap.String("pair", pair.String()),
		zap.String("amount", amount.String()),
		zap.String("price", price.String()))

	return t.filled(pair, domain.SideBuy, amount, price, clientOrderID), nil
}

func (t *SimulateTrader) CreateMarketSellOrder(ctx context.Context, pair domain.Pair, amount decimal.Decimal, clientOrderID string) (domain.Order, error) {
	if !amount.IsPositive() {
		return domain.Order{}, fmt.Errorf("sell amount must be positive, got %s", amount.String())
	}
	price, err := t.pricer.GetPrice(ctx, pair)
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "failed to get price for simulated sell")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if have := t.wallet[pair.From]; have.LessThan(amount) {
		return domain.Order{}, errors.Errorf("Insufficient assets: %s balance %s, need %s",
			pair.From, have.String(), amount.String())
	}
	t.wallet[pair.From] = t.wallet[pair.From].Sub(amount)
	t.wallet[pair.To] = t.wallet[pair.To].Add(amount.Mul(price))
	t.persist()

	t.logger.Info("Simulated sell executed",
		zap.String("id", clientOrderID),
		zap.String("pair", pair.String()),
		zap.String("amount", amount.String()),
		zap.String("price", price.String()))

	return t.filled(pair, domain.SideSell, amount, price, clientOrderID), nil
}

func (t *SimulateTrader) filled(pair domain.Pair, side domain.Side, amount, price decimal.Decimal, clientOrderID string) domain.Order {
	return domain.Order{
		ID:            uuid.NewString(),
		ClientOrderID: clientOrderID,
		Pair:          pair,
		Side:          side,
		Amount:        amount,
		Filled:        amount,
		Price:         price,
		Cost:          amount.Mul(price),
		Timestamp:     time.Now().UTC(),
	}
}

// FetchBalance returns a copy of the wallet. Paper orders fill at once,
// nothing is ever locked.
func (t *SimulateTrader) FetchBalance(_ context.Context) (domain.Balance, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(domain.Balance, len(t.wallet))
	for asset, amount := range t.wallet {
		out[asset] = domain.AssetBalance{Free: amount, Total: amount}
	}
	return out, nil
}
