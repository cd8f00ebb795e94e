package internal

import (
	"context"
	"fmt"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigrelay/config"
	"github.com/vadiminshakov/sigrelay/internal/clients"
	"github.com/vadiminshakov/sigrelay/internal/services/executor"
	"github.com/vadiminshakov/sigrelay/internal/services/pricer"
	"github.com/vadiminshakov/sigrelay/internal/services/trader"
	"github.com/vadiminshakov/sigrelay/internal/storage/simstate"
)

// ExchangeFactory builds the exchange handle of an account. Pipelines call
// it on every restart, handles are never shared between accounts.
type ExchangeFactory func(ctx context.Context, acc config.Account, logger *zap.Logger) (executor.Exchange, error)

// NewExchange creates an authenticated client for the account's exchange
// and wraps it into an exchange handle.
func NewExchange(ctx context.Context, acc config.Account, logger *zap.Logger) (executor.Exchange, error) {
	client, err := newClient(ctx, acc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s client", acc.Exchange.Name)
	}

	provider, err := newServiceProvider(client, logger)
	if err != nil {
		return nil, err
	}
	return provider.Exchange()
}

func newClient(ctx context.Context, acc config.Account) (any, error) {
	ex := acc.Exchange
	switch ex.Name {
	case config.ExchangeBinance:
		return clients.NewBinanceClient(ex.Key, ex.Secret, ex.BaseURL), nil
	case config.ExchangeBybit:
		return clients.NewBybitClient(ex.Key, ex.Secret, ex.BaseURL), nil
	case config.ExchangeHyperliquid:
		return clients.NewHyperliquidClient(ctx, ex.Secret, ex.BaseURL)
	case config.ExchangeSimulate:
		return clients.NewSimulateClient(ex.SimulateAsset, ex.SimulateQuote, ex.SimulateStateDir, acc.Name), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", ex.Name)
	}
}

// serviceProvider creates platform-specific services.
type serviceProvider interface {
	Exchange() (executor.Exchange, error)
}

// newServiceProvider dispatches on the client type.
// This is the single point of truth for platform-specific implementations.
func newServiceProvider(client any, logger *zap.Logger) (serviceProvider, error) {
	switch c := client.(type) {
	case *binance.Client:
		return &binanceProvider{client: c}, nil
	case *bybit.Client:
		return &bybitProvider{client: c, logger: logger}, nil
	case *clients.SimulateClient:
		return &simulateProvider{client: c, logger: logger}, nil
	case *clients.HyperliquidClient:
		return &hyperliquidProvider{client: c, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}

type binanceProvider struct {
	client *binance.Client
}

// Binance reports fills in the order response, no pricer needed.
func (p *binanceProvider) Exchange() (executor.Exchange, error) {
	return trader.NewBinanceTrader(p.client), nil
}

type bybitProvider struct {
	client *bybit.Client
	logger *zap.Logger
}

func (p *bybitProvider) Exchange() (executor.Exchange, error) {
	return trader.NewBybitTrader(p.client, pricer.NewBybitPricer(p.client), p.logger), nil
}

type simulateProvider struct {
	client *clients.SimulateClient
	logger *zap.Logger
}

func (p *simulateProvider) Exchange() (executor.Exchange, error) {
	asset, quote := p.client.StartingBalance()

	var store trader.WalletStore
	if dir, account := p.client.StateLocation(); dir != "" {
		s, err := simstate.NewStore(dir, account)
		if err != nil {
			return nil, err
		}
		store = s
	}
	prices := pricer.NewBinancePricer(p.client.GetBinanceClient())
	return trader.NewSimulateTrader(p.logger, prices, asset, quote, store)
}

type hyperliquidProvider struct {
	client *clients.HyperliquidClient
	logger *zap.Logger
}

func (p *hyperliquidProvider) Exchange() (executor.Exchange, error) {
	ex := p.client.Exchange()
	return trader.NewHyperliquidTrader(ex, p.client.AccountAddress(), pricer.NewHyperliquidPricer(ex.Info()), p.logger)
}
