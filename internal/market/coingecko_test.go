package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aisatoshi/internal/types"
)

func newCoinGeckoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		switch r.URL.Query().Get("ids") {
		case "ethereum":
			w.Write([]byte(`{"ethereum":{"usd":3000.12,"usd_24h_change":-1.234}}`))
		case "bitcoin":
			w.Write([]byte(`{"bitcoin":{"usd":65000,"usd_24h_change":2.5}}`))
		case "broken":
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"status":{"error_code":429}}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCoinID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"eth", "ethereum"},
		{" BTC ", "bitcoin"},
		{"", "ethereum"},
		{"比特币", "bitcoin"},
		{"pepe", "pepe"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CoinID(tt.in), tt.in)
	}
}

func TestPrice(t *testing.T) {
	srv := newCoinGeckoServer(t)
	cg := NewCoinGecko(srv.URL+"/", time.Second)

	q, err := cg.Price(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, types.PriceQuote{Coin: "ethereum", Symbol: "ETH", USD: 3000.12, Change24h: -1.234}, q)

	q, err = cg.Price(context.Background(), "比特币")
	require.NoError(t, err)
	assert.Equal(t, "BTC", q.Symbol)
	assert.Equal(t, 65000.0, q.USD)
}

func TestPrice_UnknownCoin(t *testing.T) {
	srv := newCoinGeckoServer(t)
	_, err := NewCoinGecko(srv.URL, time.Second).Price(context.Background(), "nosuchcoin")
	require.Error(t, err)
	msg, ok := types.ValidationMessage(err)
	require.True(t, ok)
	assert.Contains(t, msg, "nosuchcoin")
}

func TestPrice_HTTPError(t *testing.T) {
	srv := newCoinGeckoServer(t)
	_, err := NewCoinGecko(srv.URL, time.Second).Price(context.Background(), "broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCollaborator)
	assert.Contains(t, err.Error(), "429")
}

func TestFormatQuote(t *testing.T) {
	out := FormatQuote(types.PriceQuote{Symbol: "ETH", USD: 3000.12, Change24h: -1.234})
	assert.Contains(t, out, "ETH")
	assert.Contains(t, out, "$3000.12")
	assert.Contains(t, out, "📉")
	assert.Contains(t, out, "-1.23%")

	out = FormatQuote(types.PriceQuote{Symbol: "PEPE", USD: 0.0000123, Change24h: 5})
	assert.Contains(t, out, "$0.000012")
	assert.Contains(t, out, "+5.00%")
}
