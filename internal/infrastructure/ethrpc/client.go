package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"txcanceller/internal/application"
	"txcanceller/internal/domain"
)

const defaultLookback = 8

// Client is a minimal JSON-RPC client that samples fees from recently mined transactions.
type Client struct {
	url        string
	httpClient *http.Client
	idCounter  uint64
	lookback   int
}

type Config struct {
	URL      string
	Lookback int
	Timeout  time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		lookback:   cfg.Lookback,
	}, nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

// FetchRecentFeeSample returns the last transaction of the newest block that has one,
// searching at most lookback blocks back from head.
func (c *Client) FetchRecentFeeSample(ctx context.Context) (domain.FeeSample, error) {
	head, err := c.LatestBlockNumber(ctx)
	if err != nil {
		return domain.FeeSample{}, err
	}
	for i := 0; i < c.lookback && uint64(i) <= head; i++ {
		var block rpcBlock
		if err := c.call(ctx, "eth_getBlockByNumber", []any{formatHexUint(head - uint64(i)), true}, &block); err != nil {
			return domain.FeeSample{}, err
		}
		if len(block.Transactions) == 0 {
			continue
		}
		return c.sampleFrom(ctx, block, block.Transactions[len(block.Transactions)-1])
	}
	return domain.FeeSample{}, fmt.Errorf("%w: no transactions in the last %d blocks", application.ErrUpstreamUnavailable, c.lookback)
}

func (c *Client) sampleFrom(ctx context.Context, block rpcBlock, tx rpcTransaction) (domain.FeeSample, error) {
	var receipt rpcReceipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{tx.Hash}, &receipt); err != nil {
		return domain.FeeSample{}, err
	}
	timestamp, err := parseHexUint(block.Timestamp)
	if err != nil {
		return domain.FeeSample{}, err
	}
	gasLimit, err := parseHexBig(tx.Gas)
	if err != nil {
		return domain.FeeSample{}, err
	}
	feeCap := tx.MaxFeePerGas
	if feeCap == "" {
		feeCap = tx.GasPrice
	}
	gasFeeCap, err := parseHexBig(feeCap)
	if err != nil {
		return domain.FeeSample{}, err
	}
	gasUsed, err := parseHexBig(receipt.GasUsed)
	if err != nil {
		return domain.FeeSample{}, err
	}
	return domain.FeeSample{
		CID:       tx.Hash,
		Timestamp: time.Unix(int64(timestamp), 0).UTC(),
		GasLimit:  gasLimit,
		GasFeeCap: gasFeeCap,
		GasUsed:   gasUsed,
	}, nil
}

type rpcBlock struct {
	Number       string           `json:"number"`
	Timestamp    string           `json:"timestamp"`
	Transactions []rpcTransaction `json:"transactions"`
}

type rpcTransaction struct {
	Hash         string `json:"hash"`
	Gas          string `json:"gas"`
	GasPrice     string `json:"gasPrice"`
	MaxFeePerGas string `json:"maxFeePerGas"`
}

type rpcReceipt struct {
	GasUsed string `json:"gasUsed"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", application.ErrUpstreamUnavailable, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s: rpc status %d", application.ErrUpstreamUnavailable, method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 || string(decoded.Result) == "null" {
		return fmt.Errorf("%w: %s returned no result", application.ErrUpstreamUnavailable, method)
	}
	return json.Unmarshal(decoded.Result, result)
}

func parseHexUint(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}

func parseHexBig(value string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return nil, errors.New("empty hex value")
	}
	parsed, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex value %q", value)
	}
	return parsed, nil
}

func formatHexUint(value uint64) string {
	return fmt.Sprintf("0x%x", value)
}
