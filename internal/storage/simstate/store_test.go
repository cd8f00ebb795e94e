package simstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "Paper Account #1")
	require.NoError(t, err)

	wallet, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, wallet)

	require.NoError(t, store.Save(map[string]decimal.Decimal{
		"USDT": decimal.RequireFromString("9400.5"),
		"BTC":  decimal.RequireFromString("0.01"),
	}))
	assert.FileExists(t, filepath.Join(dir, "paper_account_1.json"))

	wallet, err = store.Load()
	require.NoError(t, err)
	require.Len(t, wallet, 2)
	assert.True(t, wallet["USDT"].Equal(decimal.RequireFromString("9400.5")))
	assert.True(t, wallet["BTC"].Equal(decimal.RequireFromString("0.01")))
}

func TestStore_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "paper")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "paper.json"), []byte(`{"wallet":{"USDT":"lots"}}`), 0o644))
	_, err = store.Load()
	assert.Error(t, err)
}

func TestSanitizeScope(t *testing.T) {
	tests := map[string]string{
		"":                "",
		"  Main  ":        "main",
		"binance/BTC-USD": "binance_btc_usd",
		"--x--":           "x",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeScope(in), in)
	}

	_, err := NewStore(t.TempDir(), "!!!")
	assert.Error(t, err)
}
