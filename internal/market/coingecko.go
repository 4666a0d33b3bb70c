// Package market answers coin price queries against the CoinGecko API.
package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/types"
)

// DefaultCoin is queried when no coin is named.
const DefaultCoin = "eth"

// symbolIDs maps ticker symbols to CoinGecko ids.
var symbolIDs = map[string]string{
	"btc":   "bitcoin",
	"eth":   "ethereum",
	"usdt":  "tether",
	"usdc":  "usd-coin",
	"bnb":   "binancecoin",
	"sol":   "solana",
	"xrp":   "ripple",
	"doge":  "dogecoin",
	"ada":   "cardano",
	"trx":   "tron",
	"ton":   "the-open-network",
	"matic": "matic-network",
	"比特币":   "bitcoin",
	"以太坊":   "ethereum",
	"以太币":   "ethereum",
}

// CoinID resolves a symbol, name or id to a CoinGecko id.
func CoinID(coin string) string {
	c := strings.ToLower(strings.TrimSpace(coin))
	if c == "" {
		c = DefaultCoin
	}
	if id, ok := symbolIDs[c]; ok {
		return id
	}
	return c
}

// symbolFor returns the display symbol for a coin argument.
func symbolFor(coin, id string) string {
	c := strings.ToLower(strings.TrimSpace(coin))
	if _, ok := symbolIDs[c]; ok && isASCII(c) {
		return strings.ToUpper(c)
	}
	for sym, cid := range symbolIDs {
		if cid == id && isASCII(sym) {
			return strings.ToUpper(sym)
		}
	}
	return strings.ToUpper(id)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// CoinGecko implements types.PriceSource.
type CoinGecko struct {
	baseURL string
	client  *http.Client
}

// NewCoinGecko creates a price source. baseURL is the API root, e.g.
// https://api.coingecko.com/api/v3.
func NewCoinGecko(baseURL string, timeout time.Duration) *CoinGecko {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CoinGecko{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Price returns the USD price and 24h change of coin.
func (c *CoinGecko) Price(ctx context.Context, coin string) (types.PriceQuote, error) {
	id := CoinID(coin)
	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")

	body, err := c.get(ctx, "/simple/price?"+q.Encode())
	if err != nil {
		return types.PriceQuote{}, types.CollaboratorFailure("coingecko", err)
	}

	entry := gjson.GetBytes(body, gjson.Escape(id))
	if !entry.Exists() || !entry.Get("usd").Exists() {
		return types.PriceQuote{}, types.ValidationError("找不到币种: %s", coin)
	}

	quote := types.PriceQuote{
		Coin:      id,
		Symbol:    symbolFor(coin, id),
		USD:       entry.Get("usd").Float(),
		Change24h: entry.Get("usd_24h_change").Float(),
	}
	logging.DispatchDebug("Price %s: %.4f USD (%.2f%%)", quote.Symbol, quote.USD, quote.Change24h)
	return quote, nil
}

func (c *CoinGecko) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON response")
	}
	return body, nil
}

// FormatQuote renders a quote for the chat.
func FormatQuote(q types.PriceQuote) string {
	arrow := "📈"
	if q.Change24h < 0 {
		arrow = "📉"
	}
	return fmt.Sprintf("💰 %s 价格: $%s\n%s 24h: %+.2f%%", q.Symbol, formatUSD(q.USD), arrow, q.Change24h)
}

// formatUSD prints cents; sub-dollar prices keep more precision.
func formatUSD(v float64) string {
	if v != 0 && v < 1 && v > -1 {
		return strconv.FormatFloat(v, 'f', 6, 64)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
