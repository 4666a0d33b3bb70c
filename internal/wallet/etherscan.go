// Package wallet answers balance queries for the configured wallet address
// through the Etherscan account API.
package wallet

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/types"
)

// weiPerEther is 10^18.
var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Etherscan implements types.BalanceSource.
type Etherscan struct {
	baseURL string
	apiKey  string
	address string
	client  *http.Client
}

// NewEtherscan creates a balance source for address.
func NewEtherscan(baseURL, apiKey, address string, timeout time.Duration) *Etherscan {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Etherscan{
		baseURL: baseURL,
		apiKey:  apiKey,
		address: strings.TrimSpace(address),
		client:  &http.Client{Timeout: timeout},
	}
}

// Address returns the watched address.
func (e *Etherscan) Address() string {
	return e.address
}

// Balance returns the wallet's ETH balance.
func (e *Etherscan) Balance(ctx context.Context) (types.WalletBalance, error) {
	if e.address == "" {
		return types.WalletBalance{}, types.ValidationError("钱包地址未配置")
	}

	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "balance")
	q.Set("address", e.address)
	q.Set("tag", "latest")
	if e.apiKey != "" {
		q.Set("apikey", e.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return types.WalletBalance{}, types.CollaboratorFailure("etherscan", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return types.WalletBalance{}, types.CollaboratorFailure("etherscan", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.WalletBalance{}, types.CollaboratorFailure("etherscan", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.WalletBalance{}, types.CollaboratorFailure("etherscan", fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	res := gjson.ParseBytes(body)
	if res.Get("status").String() != "1" {
		msg := res.Get("result").String()
		if msg == "" {
			msg = res.Get("message").String()
		}
		return types.WalletBalance{}, types.CollaboratorFailure("etherscan", fmt.Errorf("api error: %s", msg))
	}

	wei, ok := new(big.Int).SetString(res.Get("result").String(), 10)
	if !ok {
		return types.WalletBalance{}, types.CollaboratorFailure("etherscan", fmt.Errorf("bad balance %q", res.Get("result").String()))
	}

	bal := types.WalletBalance{Address: e.address, Wei: wei.String(), Ether: WeiToEther(wei, 6)}
	logging.DispatchDebug("Balance of %s: %s ETH", e.address, bal.Ether)
	return bal, nil
}

// WeiToEther renders wei as ether rounded to prec decimals.
func WeiToEther(wei *big.Int, prec int) string {
	r := new(big.Rat).SetFrac(wei, weiPerEther)
	return r.FloatString(prec)
}

// FormatBalance renders a balance for the chat.
func FormatBalance(b types.WalletBalance) string {
	return fmt.Sprintf("💰 钱包余额: %s ETH\n地址: %s", b.Ether, b.Address)
}
