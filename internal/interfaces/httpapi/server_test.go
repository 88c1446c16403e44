package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"txcanceller/internal/application"
	"txcanceller/internal/domain"
	"txcanceller/internal/infrastructure/memory"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSent struct{ hash string }

func (s stubSent) Hash() string { return s.hash }

func (s stubSent) Wait(context.Context) error { return nil }

type stubSender struct {
	mu    sync.Mutex
	count int
}

func (s *stubSender) Send(_ context.Context, params domain.ReplacementParams) (application.SentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return stubSent{hash: fmt.Sprintf("0xreplacement%d", params.Nonce)}, nil
}

type stubOracle struct{ err error }

func (o stubOracle) FetchRecentFeeSample(context.Context) (domain.FeeSample, error) {
	if o.err != nil {
		return domain.FeeSample{}, o.err
	}
	return domain.FeeSample{
		CID:       "bafy",
		Timestamp: time.Unix(1700000000, 0),
		GasLimit:  big.NewInt(21000),
		GasFeeCap: big.NewInt(100),
		GasUsed:   big.NewInt(20000),
	}, nil
}

type stubRPC struct{ err error }

func (r stubRPC) LatestBlockNumber(context.Context) (uint64, error) { return 1, r.err }

type testServer struct {
	server  *httptest.Server
	store   *memory.Store
	history *memory.History
	metrics *Metrics
	sender  *stubSender
}

func newTestServer(t *testing.T, oracle application.FeeOracle, rpc RPCStatus) *testServer {
	t.Helper()
	store := memory.NewStore()
	history := memory.NewHistory(16)
	metrics := NewMetrics()
	sender := &stubSender{}
	canceller, err := application.NewCanceller(store, sender, oracle, nil, application.CancellerConfig{
		Events:   history,
		Observer: metrics,
	})
	require.NoError(t, err)
	srv, err := NewServer(Config{StuckAfter: time.Hour}, Dependencies{
		Canceller: canceller,
		Store:     store,
		RPC:       rpc,
		History:   history,
		Metrics:   metrics,
	}, BuildInfo{Version: "test"})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{server: ts, store: store, history: history, metrics: metrics, sender: sender}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, ts.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(payload)
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(Config{}, Dependencies{}, BuildInfo{})
	assert.Error(t, err)
}

func TestServer_HealthAndReadiness(t *testing.T) {
	ts := newTestServer(t, stubOracle{}, stubRPC{})
	status, _ := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	status, body := ts.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "ready")

	down := newTestServer(t, stubOracle{}, stubRPC{err: errors.New("dial")})
	status, body = down.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "rpc not ready")
}

func TestServer_TrackListAndConfirm(t *testing.T) {
	ts := newTestServer(t, stubOracle{}, nil)

	status, body := ts.do(t, http.MethodPost, "/pending", `{"hash":"0xa","from":"0xf","nonce":20,"maxPriorityFeePerGas":"10","gasLimit":"0x1"}`)
	require.Equal(t, http.StatusCreated, status, body)
	status, _ = ts.do(t, http.MethodPost, "/pending", `{"hash":"0xb","from":"0xf","nonce":20,"maxPriorityFeePerGas":"13","gasLimit":"2"}`)
	require.Equal(t, http.StatusCreated, status)

	status, body = ts.do(t, http.MethodGet, "/pending", "")
	require.Equal(t, http.StatusOK, status)
	var listed []pendingJSON
	require.NoError(t, json.Unmarshal([]byte(body), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, "0xa", listed[0].Hash)
	assert.Equal(t, "1", listed[0].GasLimit)

	status, _ = ts.do(t, http.MethodPost, "/confirm", `{"hash":"0xb","nonce":20}`)
	assert.Equal(t, http.StatusOK, status)
	records, err := ts.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestServer_TrackRejectsInvalidInput(t *testing.T) {
	ts := newTestServer(t, stubOracle{}, nil)

	status, _ := ts.do(t, http.MethodPost, "/pending", `{"hash":"0xa","from":"0xf","nonce":1,"gasLimit":"1"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = ts.do(t, http.MethodPost, "/pending", `{"hash":"0xa","from":"0xf","maxPriorityFeePerGas":"ten","gasLimit":"1"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = ts.do(t, http.MethodPost, "/pending", `{"unexpected":true}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = ts.do(t, http.MethodDelete, "/pending", "")
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestServer_SweepReplacesAndRecords(t *testing.T) {
	ts := newTestServer(t, stubOracle{}, nil)
	status, _ := ts.do(t, http.MethodPost, "/pending", `{"hash":"0xa","from":"0xf","nonce":7,"maxPriorityFeePerGas":"10","gasLimit":"1"}`)
	require.Equal(t, http.StatusCreated, status)

	status, body := ts.do(t, http.MethodPost, "/sweep?older_than=0s&concurrency=2", "")

	require.Equal(t, http.StatusOK, status, body)
	var resp struct {
		Outcomes []outcomeJSON `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, "replaced", resp.Outcomes[0].Status)
	assert.Equal(t, "0xreplacement7", resp.Outcomes[0].ReplacementHash)
	assert.Equal(t, 1, ts.sender.count)
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.sweeps))
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.outcomes.WithLabelValues("replaced")))

	status, body = ts.do(t, http.MethodGet, "/replacements?hash=0xa", "")
	require.Equal(t, http.StatusOK, status)
	var events []domain.ReplacementEvent
	require.NoError(t, json.Unmarshal([]byte(body), &events))
	require.Len(t, events, 1)
	assert.Equal(t, domain.ReplacementStatusReplaced, events[0].Status)
	assert.Equal(t, "bafy", events[0].FeeSampleCID)
}

func TestServer_SweepWithNothingStale(t *testing.T) {
	ts := newTestServer(t, stubOracle{err: errors.New("must not be called")}, nil)
	status, _ := ts.do(t, http.MethodPost, "/pending", `{"hash":"0xa","from":"0xf","nonce":7,"maxPriorityFeePerGas":"10","gasLimit":"1"}`)
	require.Equal(t, http.StatusCreated, status)

	status, body := ts.do(t, http.MethodPost, "/sweep", "")

	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"outcomes":[]`)
	assert.Equal(t, 0, ts.sender.count)
}

func TestServer_SweepOracleOutage(t *testing.T) {
	ts := newTestServer(t, stubOracle{err: application.ErrUpstreamUnavailable}, nil)
	status, _ := ts.do(t, http.MethodPost, "/pending", `{"hash":"0xa","from":"0xf","nonce":7,"maxPriorityFeePerGas":"10","gasLimit":"1"}`)
	require.Equal(t, http.StatusCreated, status)

	status, _ = ts.do(t, http.MethodPost, "/sweep?older_than=0s", "")

	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.oracleErrors))

	status, _ = ts.do(t, http.MethodPost, "/sweep?older_than=soon", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_MetricsAndVersion(t *testing.T) {
	ts := newTestServer(t, stubOracle{}, nil)

	status, body := ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "txcanceller_sweeps_total")

	status, body = ts.do(t, http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"Version":"test"`)
}
