package pricer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sigrelay/internal/domain"
)

func TestBinancePricer_GetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","price":"50000.10"}]`))
	}))
	defer srv.Close()

	client := binance.NewClient("", "")
	client.BaseURL = srv.URL

	price, err := NewBinancePricer(client).GetPrice(context.Background(), domain.Pair{From: "BTC", To: "USDT"})
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("50000.10")))
}

func TestBinancePricer_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := binance.NewClient("", "")
	client.BaseURL = srv.URL

	_, err := NewBinancePricer(client).GetPrice(context.Background(), domain.Pair{From: "BTC", To: "USDT"})
	assert.Error(t, err)
}
