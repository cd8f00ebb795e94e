package clients

import (
	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// SimulateClient backs the paper exchange: a starting wallet plus a public
// Binance client for real market prices.
type SimulateClient struct {
	binanceClient *binance.Client
	quoteAsset    string
	quote         decimal.Decimal
	stateDir      string
	account       string
}

// NewSimulateClient creates a client whose wallet starts with quote of
// quoteAsset. A non-empty stateDir persists the wallet of account there.
func NewSimulateClient(quoteAsset string, quote decimal.Decimal, stateDir, account string) *SimulateClient {
	return &SimulateClient{
		binanceClient: NewPublicBinanceClient(),
		quoteAsset:    quoteAsset,
		quote:         quote,
		stateDir:      stateDir,
		account:       account,
	}
}

// GetBinanceClient returns the underlying Binance client.
func (c *SimulateClient) GetBinanceClient() *binance.Client {
	return c.binanceClient
}

// StartingBalance returns the asset and amount the paper wallet starts with.
func (c *SimulateClient) StartingBalance() (string, decimal.Decimal) {
	return c.quoteAsset, c.quote
}

// StateLocation returns where the wallet is persisted; dir is empty when it
// is not.
func (c *SimulateClient) StateLocation() (dir, account string) {
	return c.stateDir, c.account
}
