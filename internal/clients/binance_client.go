package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient returns an authenticated spot client. A non-empty
// baseURL overrides the production endpoint (e.g. the spot testnet).
func NewBinanceClient(apiKey, apiSecret, baseURL string) *binance.Client {
	client := binance.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return client
}

// NewPublicBinanceClient returns a client without API keys, usable for
// public market data only.
func NewPublicBinanceClient() *binance.Client {
	return binance.NewClient("", "")
}
