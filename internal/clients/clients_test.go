package clients

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSimulateClient(t *testing.T) {
	c := NewSimulateClient("USDC", decimal.NewFromInt(5), "/tmp/sim", "paper")
	asset, amount := c.StartingBalance()
	assert.Equal(t, "USDC", asset)
	assert.True(t, amount.Equal(decimal.NewFromInt(5)))
	dir, account := c.StateLocation()
	assert.Equal(t, "/tmp/sim", dir)
	assert.Equal(t, "paper", account)
	assert.Empty(t, c.GetBinanceClient().APIKey)
}

func TestNewBinanceClient_BaseURL(t *testing.T) {
	client := NewBinanceClient("key", "secret", "https://testnet.binance.vision")
	assert.Equal(t, "https://testnet.binance.vision", client.BaseURL)
	assert.Equal(t, "key", client.APIKey)

	public := NewPublicBinanceClient()
	assert.Empty(t, public.APIKey)
}

func TestNewHyperliquidClient(t *testing.T) {
	// well-known test key, never funded
	const key = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	c, err := NewHyperliquidClient(context.Background(), key, "")
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", c.AccountAddress())
	assert.NotNil(t, c.Exchange())

	_, err = NewHyperliquidClient(context.Background(), "not-hex", "")
	assert.Error(t, err)
}
