package exec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polygraalx/polygraalx/types"
)

func TestClobGatewayOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order", r.URL.Path)
		require.Equal(t, "POST", r.Method)
		assert.Equal(t, "key", r.Header.Get("POLY_API_KEY"))
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))

		var order orderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))
		assert.Equal(t, "BUY", order.Side)
		assert.Equal(t, "FOK", order.OrderType)
		assert.Equal(t, "10.00", order.Amount)

		json.NewEncoder(w).Encode(orderResponse{
			OrderID:      "ord-1",
			Status:       "matched",
			Success:      true,
			TakingAmount: "20",
			MakingAmount: "10",
		})
	}))
	defer srv.Close()

	g := NewClobGateway(ClobConfig{BaseURL: srv.URL, APIKey: "key", APISecret: "secret"})

	fill, err := g.Open(context.Background(), "BTC", types.SideYes, "tok-yes", decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", fill.OrderID)
	assert.True(t, fill.Shares.Equal(decimal.NewFromInt(20)))
	assert.True(t, fill.AvgPrice.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, fill.Notional.Equal(decimal.NewFromInt(10)))
}

func TestClobGatewayOpenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(orderResponse{Success: false, ErrorMsg: "not enough balance"})
	}))
	defer srv.Close()

	g := NewClobGateway(ClobConfig{BaseURL: srv.URL})

	_, err := g.Open(context.Background(), "BTC", types.SideYes, "tok-yes", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestClobGatewayTimeoutIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	g := NewClobGateway(ClobConfig{BaseURL: srv.URL, Timeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Open(ctx, "BTC", types.SideYes, "tok-yes", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestClobGatewayClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var order orderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))
		assert.Equal(t, "SELL", order.Side)
		assert.Equal(t, "20.0000", order.Size)

		json.NewEncoder(w).Encode(orderResponse{
			OrderID:      "ord-2",
			Success:      true,
			TakingAmount: "11",
		})
	}))
	defer srv.Close()

	g := NewClobGateway(ClobConfig{BaseURL: srv.URL})

	fill, err := g.Close(context.Background(), "pos-1", "tok-yes", decimal.NewFromInt(20))
	require.NoError(t, err)
	assert.True(t, fill.Notional.Equal(decimal.NewFromInt(11)))
	assert.True(t, fill.AvgPrice.Equal(decimal.NewFromFloat(0.55)))
}
