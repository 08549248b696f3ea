package chaindata

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/flexycode/altflex/internal/circuitbreaker"
	"github.com/flexycode/altflex/internal/logging"
	"github.com/flexycode/altflex/internal/retry"
)

const breakerKey = "chaindata"

// EtherscanClient fetches address state from an etherscan-compatible API.
type EtherscanClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewEtherscanClient creates a provider client for the given base URL
// (e.g. https://api.etherscan.io/api).
func NewEtherscanClient(baseURL, apiKey string) *EtherscanClient {
	return &EtherscanClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// FetchAddress queries balance, transaction history, and code for an address.
// Any provider failure is reported as ErrUnavailable.
func (c *EtherscanClient) FetchAddress(ctx context.Context, address string) (*AddressState, error) {
	if !c.breaker.Allow(breakerKey) {
		return nil, fmt.Errorf("circuit open: %w", ErrUnavailable)
	}

	state := &AddressState{
		Address:   address,
		FetchedAt: time.Now(),
	}

	err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		balance, err := c.fetchBalance(ctx, address)
		if err != nil {
			return err
		}
		state.BalanceWei = balance

		txs, err := c.fetchTransactions(ctx, address)
		if err != nil {
			return err
		}
		state.TxCount = len(txs)
		if len(txs) > 0 {
			if ts, err := strconv.ParseInt(txs[0].TimeStamp, 10, 64); err == nil {
				state.FirstSeen = time.Unix(ts, 0).UTC()
			}
		}

		code, err := c.fetchCode(ctx, address)
		if err != nil {
			return err
		}
		state.IsContract = code != "" && code != "0x"
		return nil
	})
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		logging.L(ctx).Warn("chain data fetch failed", "address", address, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.breaker.RecordSuccess(breakerKey)
	return state, nil
}

// apiResponse is the etherscan envelope: status "1" means success.
type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type txSummary struct {
	TimeStamp string `json:"timeStamp"`
}

func (c *EtherscanClient) fetchBalance(ctx context.Context, address string) (*big.Int, error) {
	raw, err := c.get(ctx, url.Values{
		"module":  {"account"},
		"action":  {"balance"},
		"address": {address},
		"tag":     {"latest"},
	})
	if err != nil {
		return nil, err
	}

	var balanceStr string
	if err := json.Unmarshal(raw, &balanceStr); err != nil {
		return nil, fmt.Errorf("unexpected balance payload: %w", err)
	}

	balance, ok := new(big.Int).SetString(balanceStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance value %q", balanceStr)
	}
	return balance, nil
}

func (c *EtherscanClient) fetchTransactions(ctx context.Context, address string) ([]txSummary, error) {
	raw, err := c.get(ctx, url.Values{
		"module":     {"account"},
		"action":     {"txlist"},
		"address":    {address},
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"sort":       {"asc"},
	})
	if err != nil {
		return nil, err
	}

	var txs []txSummary
	if err := json.Unmarshal(raw, &txs); err != nil {
		return nil, fmt.Errorf("unexpected txlist payload: %w", err)
	}
	return txs, nil
}

func (c *EtherscanClient) fetchCode(ctx context.Context, address string) (string, error) {
	raw, err := c.get(ctx, url.Values{
		"module":  {"proxy"},
		"action":  {"eth_getCode"},
		"address": {address},
		"tag":     {"latest"},
	})
	if err != nil {
		return "", err
	}

	var code string
	if err := json.Unmarshal(raw, &code); err != nil {
		return "", fmt.Errorf("unexpected code payload: %w", err)
	}
	return code, nil
}

func (c *EtherscanClient) get(ctx context.Context, params url.Values) (json.RawMessage, error) {
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retry.Permanent(fmt.Errorf("provider returned status %d", resp.StatusCode))
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	// Proxy actions return raw JSON-RPC results without a status field.
	if envelope.Status == "0" && envelope.Message != "No transactions found" {
		return nil, retry.Permanent(fmt.Errorf("provider error: %s", envelope.Message))
	}
	return envelope.Result, nil
}
