package ethrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"txcanceller/internal/application"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	mu      sync.Mutex
	head    uint64
	blocks  map[string]any
	methods []string
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.methods = append(n.methods, req.Method)
	n.mu.Unlock()

	var result any
	switch req.Method {
	case "eth_blockNumber":
		result = formatHexUint(n.head)
	case "eth_getBlockByNumber":
		result = n.blocks[req.Params[0].(string)]
	case "eth_getTransactionReceipt":
		result = map[string]any{"gasUsed": "0x5208"}
	default:
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": -32601, "message": "method not found"},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestClient_FetchRecentFeeSampleUsesLastTransaction(t *testing.T) {
	node := &fakeNode{
		head: 0x10,
		blocks: map[string]any{
			"0x10": map[string]any{"number": "0x10", "timestamp": "0x65000000", "transactions": []any{}},
			"0xf": map[string]any{
				"number":    "0xf",
				"timestamp": "0x64ffffff",
				"transactions": []any{
					map[string]any{"hash": "0xaaa", "gas": "0x1", "gasPrice": "0x1"},
					map[string]any{"hash": "0xbbb", "gas": "0x7530", "maxFeePerGas": "0x3b9aca00", "gasPrice": "0x1"},
				},
			},
		},
	}
	server := httptest.NewServer(node)
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL})
	require.NoError(t, err)

	sample, err := client.FetchRecentFeeSample(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "0xbbb", sample.CID)
	assert.Equal(t, "30000", sample.GasLimit.String())
	assert.Equal(t, "1000000000", sample.GasFeeCap.String())
	assert.Equal(t, "21000", sample.GasUsed.String())
	assert.Equal(t, time.Unix(0x64ffffff, 0).UTC(), sample.Timestamp)
	assert.Equal(t, []string{"eth_blockNumber", "eth_getBlockByNumber", "eth_getBlockByNumber", "eth_getTransactionReceipt"}, node.methods)
}

func TestClient_FetchRecentFeeSampleFallsBackToGasPrice(t *testing.T) {
	node := &fakeNode{
		head: 1,
		blocks: map[string]any{
			"0x1": map[string]any{
				"timestamp":    "0x1",
				"transactions": []any{map[string]any{"hash": "0xlegacy", "gas": "0x5208", "gasPrice": "0x64"}},
			},
		},
	}
	server := httptest.NewServer(node)
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL})
	require.NoError(t, err)

	sample, err := client.FetchRecentFeeSample(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "100", sample.GasFeeCap.String())
}

func TestClient_FetchRecentFeeSampleEmptyChain(t *testing.T) {
	node := &fakeNode{
		head: 1,
		blocks: map[string]any{
			"0x1": map[string]any{"timestamp": "0x1", "transactions": []any{}},
			"0x0": map[string]any{"timestamp": "0x0", "transactions": []any{}},
		},
	}
	server := httptest.NewServer(node)
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL, Lookback: 4})
	require.NoError(t, err)

	_, err = client.FetchRecentFeeSample(context.Background())

	assert.ErrorIs(t, err, application.ErrUpstreamUnavailable)
}

func TestClient_CallErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL})
	require.NoError(t, err)

	_, err = client.LatestBlockNumber(context.Background())
	assert.ErrorIs(t, err, application.ErrUpstreamUnavailable)

	node := &fakeNode{}
	rpcServer := httptest.NewServer(node)
	defer rpcServer.Close()
	client, err = NewClient(Config{URL: rpcServer.URL})
	require.NoError(t, err)

	err = client.call(context.Background(), "eth_unknown", []any{}, new(string))
	assert.ErrorContains(t, err, "method not found")
}

func TestParseHexBig(t *testing.T) {
	v, err := parseHexBig("0xffffffffffffffffffff")
	require.NoError(t, err)
	assert.Equal(t, "1208925819614629174706175", v.String())

	_, err = parseHexBig("0x")
	assert.Error(t, err)
	_, err = parseHexBig("0xzz")
	assert.Error(t, err)
}
