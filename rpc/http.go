package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crypton/core/events"
	"crypton/core/types"
	"crypton/native/market"
	"crypton/native/oracle"
	"crypton/native/token"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "CRYPTON_RPC_TOKEN"
	eventTailSize   = 256
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000

	codeMarketInvalidParams = -32031
	codeMarketNotFound      = -32032
	codeMarketForbidden     = -32033
	codeMarketConflict      = -32034
	codeMarketInternal      = -32035
)

var (
	rpcRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crypton",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "JSON-RPC requests by method and outcome.",
	}, []string{"method", "outcome"})
	rpcDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crypton",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "JSON-RPC request latency by method.",
	}, []string{"method"})
)

// Server exposes the settlement engine, token ledger and price oracle over
// JSON-RPC 2.0. Mutating methods require the bearer token from
// CRYPTON_RPC_TOKEN; admin methods additionally run as the configured admin
// identity.
type Server struct {
	engine    *market.Engine
	ledger    *token.Ledger
	oracle    *oracle.Adapter
	admin     [20]byte
	authToken string
	log       *slog.Logger

	mu     sync.Mutex
	events []*types.Event
}

// NewServer wires a server around the engine and its collaborators.
func NewServer(engine *market.Engine, ledger *token.Ledger, adapter *oracle.Adapter, admin [20]byte, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:    engine,
		ledger:    ledger,
		oracle:    adapter,
		admin:     admin,
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
		log:       log,
	}
}

// Emit implements events.Emitter, retaining a bounded tail of recent events
// for market_events consumers.
func (s *Server) Emit(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, payload)
	if len(s.events) > eventTailSize {
		s.events = s.events[len(s.events)-eventTailSize:]
	}
}

func (s *Server) recentEvents(limit int) []*types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	tail := s.events[len(s.events)-limit:]
	out := make([]*types.Event, len(tail))
	copy(out, tail)
	return out
}

// Handler returns the HTTP handler serving the RPC endpoint, health check and
// Prometheus metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the handler on addr until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func jsonUnmarshalStrict(data []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(&RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(&RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Result:  result,
	})
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "rpc auth token not configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body")
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large")
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload")
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version")
		return
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method is required")
		return
	}

	start := time.Now()
	outcome := s.dispatch(w, r, &req, method)
	rpcRequests.WithLabelValues(method, outcome).Inc()
	rpcDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest, method string) string {
	handler, ok := s.routes()[method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found: "+method)
		return "not_found"
	}
	if handler.authenticated {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message)
			return "unauthorized"
		}
	}
	if err := handler.fn(w, req); err != nil {
		return "error"
	}
	return "ok"
}

type route struct {
	authenticated bool
	fn            func(http.ResponseWriter, *RPCRequest) error
}

func (s *Server) routes() map[string]route {
	return map[string]route{
		"market_getListing":        {false, s.handleGetListing},
		"market_feePercent":        {false, s.handleFeePercent},
		"market_pricingToken":      {false, s.handlePricingToken},
		"market_collectedFees":     {false, s.handleCollectedFees},
		"market_decimals":          {false, s.handleDecimals},
		"market_isSigner":          {false, s.handleIsSigner},
		"market_events":            {false, s.handleEvents},
		"token_balanceOf":          {false, s.handleBalanceOf},
		"token_allowance":          {false, s.handleAllowance},
		"oracle_quote":             {false, s.handleOracleQuote},
		"token_approve":            {true, s.handleApprove},
		"token_mint":               {true, s.handleMint},
		"market_placeTokens":       {true, s.handlePlaceTokens},
		"market_buyTokens":         {true, s.handleBuyTokens},
		"market_finishRound":       {true, s.handleFinishRound},
		"market_getCollectedFunds": {true, s.handleGetCollectedFunds},
		"market_withdrawFees":      {true, s.handleWithdrawFees},
		"market_setFeePercent":     {true, s.handleSetFeePercent},
		"market_setPricingToken":   {true, s.handleSetPricingToken},
		"market_grantSigner":       {true, s.handleGrantSigner},
		"market_revokeSigner":      {true, s.handleRevokeSigner},
	}
}

// marketError maps engine failures onto the JSON-RPC error layout.
func marketError(w http.ResponseWriter, id interface{}, err error) error {
	switch {
	case errors.Is(err, market.ErrNoSuchListing):
		writeError(w, http.StatusNotFound, id, codeMarketNotFound, err.Error())
	case errors.Is(err, market.ErrUnauthorized), errors.Is(err, market.ErrSignerMismatch):
		writeError(w, http.StatusForbidden, id, codeMarketForbidden, err.Error())
	case errors.Is(err, market.ErrNonceReused), errors.Is(err, market.ErrListingExists):
		writeError(w, http.StatusConflict, id, codeMarketConflict, err.Error())
	case errors.Is(err, market.ErrInvalidAmount),
		errors.Is(err, market.ErrInvalidSignature),
		errors.Is(err, market.ErrInsufficientVolume),
		errors.Is(err, oracle.ErrNoPriceRoute),
		errors.Is(err, token.ErrUnknownToken),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, token.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, id, codeMarketInvalidParams, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeMarketInternal, err.Error())
	}
	return err
}
