package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"time"

	"txcanceller/internal/application"
	"txcanceller/internal/domain"
)

type Canceller interface {
	AddPending(ctx context.Context, tx domain.PendingTransaction) error
	RemoveConfirmed(ctx context.Context, tx domain.PendingTransaction) error
	CancelOlderThan(ctx context.Context, age time.Duration, opts ...application.SweepOption) ([]application.Outcome, error)
}

type PendingStore interface {
	List(ctx context.Context) ([]domain.PendingTransaction, error)
	Ping(ctx context.Context) error
}

type RPCStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

type Config struct {
	StuckAfter  time.Duration
	Concurrency int
}

type Server struct {
	cfg       Config
	canceller Canceller
	store     PendingStore
	rpc       RPCStatus
	history   application.ReplacementHistory
	metrics   *Metrics
	buildInfo BuildInfo
}

type Dependencies struct {
	Canceller Canceller
	Store     PendingStore
	RPC       RPCStatus
	History   application.ReplacementHistory
	Metrics   *Metrics
}

func NewServer(cfg Config, deps Dependencies, buildInfo BuildInfo) (*Server, error) {
	if deps.Canceller == nil || deps.Store == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = application.DefaultConcurrency
	}
	return &Server{
		cfg:       cfg,
		canceller: deps.Canceller,
		store:     deps.Store,
		rpc:       deps.RPC,
		history:   deps.History,
		metrics:   deps.Metrics,
		buildInfo: buildInfo,
	}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/pending", s.handlePending)
	mux.HandleFunc("/confirm", s.handleConfirm)
	mux.HandleFunc("/sweep", s.handleSweep)
	mux.HandleFunc("/replacements", s.handleReplacements)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	if s.rpc != nil {
		if _, err := s.rpc.LatestBlockNumber(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "rpc not ready")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type pendingJSON struct {
	Hash                 string    `json:"hash"`
	From                 string    `json:"from"`
	Nonce                uint64    `json:"nonce"`
	MaxPriorityFeePerGas string    `json:"maxPriorityFeePerGas"`
	GasLimit             string    `json:"gasLimit"`
	Timestamp            time.Time `json:"timestamp"`
	AgeSeconds           float64   `json:"ageSeconds"`
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listPending(w, r)
	case http.MethodPost:
		s.trackPending(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list failed")
		return
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Nonce != records[j].Nonce {
			return records[i].Nonce < records[j].Nonce
		}
		return records[i].Hash < records[j].Hash
	})
	now := time.Now()
	out := make([]pendingJSON, 0, len(records))
	for _, record := range records {
		out = append(out, pendingJSON{
			Hash:                 record.Hash,
			From:                 record.From,
			Nonce:                record.Nonce,
			MaxPriorityFeePerGas: bigString(record.MaxPriorityFeePerGas),
			GasLimit:             bigString(record.GasLimit),
			Timestamp:            record.Timestamp,
			AgeSeconds:           record.Age(now).Seconds(),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type trackRequest struct {
	Hash                 string `json:"hash"`
	From                 string `json:"from"`
	Nonce                uint64 `json:"nonce"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	GasLimit             string `json:"gasLimit"`
}

func (s *Server) trackPending(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	fee, err := parseAmount("maxPriorityFeePerGas", req.MaxPriorityFeePerGas)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	gasLimit, err := parseAmount("gasLimit", req.GasLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.canceller.AddPending(r.Context(), domain.PendingTransaction{
		Hash:                 req.Hash,
		From:                 req.From,
		Nonce:                req.Nonce,
		MaxPriorityFeePerGas: fee,
		GasLimit:             gasLimit,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "tracked", "hash": req.Hash})
}

type confirmRequest struct {
	Hash  string `json:"hash"`
	Nonce uint64 `json:"nonce"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req confirmRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.canceller.RemoveConfirmed(r.Context(), domain.PendingTransaction{Hash: req.Hash, Nonce: req.Nonce}); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "confirmed", "hash": req.Hash, "nonce": req.Nonce})
}

type outcomeJSON struct {
	Hash            string `json:"hash"`
	Nonce           uint64 `json:"nonce"`
	Status          string `json:"status"`
	ReplacementHash string `json:"replacementHash,omitempty"`
	Error           string `json:"error,omitempty"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	age := s.cfg.StuckAfter
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "invalid older_than")
			return
		}
		age = parsed
	}
	concurrency := s.cfg.Concurrency
	if raw := r.URL.Query().Get("concurrency"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid concurrency")
			return
		}
		concurrency = parsed
	}

	outcomes, err := s.canceller.CancelOlderThan(r.Context(), age, application.WithConcurrency(concurrency))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	out := make([]outcomeJSON, 0, len(outcomes))
	for _, outcome := range outcomes {
		item := outcomeJSON{
			Hash:            outcome.Hash,
			Nonce:           outcome.Nonce,
			Status:          string(outcome.Status()),
			ReplacementHash: outcome.ReplacementHash,
		}
		if outcome.Err != nil {
			item.Error = outcome.Err.Error()
		}
		out = append(out, item)
	}
	respondJSON(w, http.StatusOK, map[string]any{"olderThan": age.String(), "outcomes": out})
}

func (s *Server) handleReplacements(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "replacement history is not configured")
		return
	}
	filter := application.HistoryFilter{
		OriginalHash: r.URL.Query().Get("hash"),
		From:         r.URL.Query().Get("from"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	events, err := s.history.QueryReplacements(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if events == nil {
		events = []domain.ReplacementEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	if raw == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(raw, 0)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, raw)
	}
	return value, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrInvalidTx):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrUpstreamUnavailable):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
