package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/bucket"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/circuitbreaker"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/stats"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/wallet"
)

const shutdownTimeout = 5 * time.Second

// Node is the view of the running TimeNode the server reports on and controls
type Node interface {
	Ready() error
	LastHead() (models.Head, bool)
	Window() bucket.Window
	Requests() []models.TxRequest
	TrackAddress(ctx context.Context, address common.Address) error
	UntrackRequest(address common.Address) bool
	Accounts() []wallet.AccountState
	Stats() stats.Summary
	BreakerState() circuitbreaker.State
	ResetBreaker()
}

// Server represents a health check HTTP server
type Server struct {
	port   string
	node   Node
	apiKey string
	logger logger.Logger
}

// NewServer creates a new health check server. An empty apiKey disables auth.
func NewServer(port string, node Node, apiKey string, log logger.Logger) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Server{
		port:   port,
		node:   node,
		apiKey: apiKey,
		logger: log,
	}
}

// authMiddleware is a middleware that checks for a valid API key
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Get API key from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		// Check if the header has the correct format
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		// Validate API key
		if parts[1] != s.apiKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Readiness check
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := s.node.Ready(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	mux.Handle("/status", s.authMiddleware(http.HandlerFunc(s.handleStatus)))
	mux.Handle("/requests", s.authMiddleware(http.HandlerFunc(s.handleRequests)))
	mux.Handle("/requests/track", s.authMiddleware(http.HandlerFunc(s.handleTrack)))
	mux.Handle("/requests/untrack", s.authMiddleware(http.HandlerFunc(s.handleUntrack)))

	// Circuit breaker admin control endpoint
	mux.Handle("/circuit/reset", s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.node.ResetBreaker()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Circuit breaker reset"))
	})))

	// Expose Prometheus metrics with API key authentication
	mux.Handle("/metrics", s.authMiddleware(promhttp.Handler()))

	return mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Starting health and metrics server on port %s", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server error: %w", err)
	}
	return nil
}

type bucketView struct {
	CurrentBlock     uint64 `json:"current_block"`
	CurrentTimestamp uint64 `json:"current_timestamp"`
	NextBlock        uint64 `json:"next_block"`
	NextTimestamp    uint64 `json:"next_timestamp"`
}

type statusView struct {
	Started         bool                  `json:"started"`
	LastBlock       uint64                `json:"last_block"`
	LastTimestamp   uint64                `json:"last_timestamp"`
	Buckets         bucketView            `json:"buckets"`
	TrackedRequests int                   `json:"tracked_requests"`
	Accounts        []wallet.AccountState `json:"accounts"`
	Circuit         circuitbreaker.State  `json:"circuit"`
	Stats           stats.Summary         `json:"stats"`
}

type requestView struct {
	Address              string `json:"address"`
	Unit                 string `json:"unit"`
	Status               string `json:"status"`
	ClaimWindowStart     uint64 `json:"claim_window_start"`
	FreezeStart          uint64 `json:"freeze_start"`
	ExecutionWindowStart uint64 `json:"execution_window_start"`
	ExecutionWindowEnd   uint64 `json:"execution_window_end"`
	ReservedWindowEnd    uint64 `json:"reserved_window_end"`
	Bounty               string `json:"bounty,omitempty"`
	RequiredDeposit      string `json:"required_deposit,omitempty"`
	GasPrice             string `json:"gas_price,omitempty"`
	Claimed              bool   `json:"claimed"`
	ClaimedBy            string `json:"claimed_by,omitempty"`
	ClaimSubmitted       bool   `json:"claim_submitted"`
	ExecuteSubmitted     bool   `json:"execute_submitted"`
}

func newRequestView(r models.TxRequest) requestView {
	v := requestView{
		Address:              r.Address.Hex(),
		Unit:                 r.Unit.String(),
		Status:               r.Status.String(),
		ClaimWindowStart:     r.ClaimWindowStart,
		FreezeStart:          r.FreezeStart,
		ExecutionWindowStart: r.ExecutionWindowStart,
		ExecutionWindowEnd:   r.ExecutionWindowEnd,
		ReservedWindowEnd:    r.ReservedWindowEnd,
		Claimed:              r.Claimed,
		ClaimSubmitted:       r.ClaimSubmitted,
		ExecuteSubmitted:     r.ExecuteSubmitted,
	}
	if r.Bounty != nil {
		v.Bounty = r.Bounty.String()
	}
	if r.RequiredDeposit != nil {
		v.RequiredDeposit = r.RequiredDeposit.String()
	}
	if r.GasPrice != nil {
		v.GasPrice = r.GasPrice.String()
	}
	if r.Claimed {
		v.ClaimedBy = r.ClaimedBy.Hex()
	}
	return v
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	head, started := s.node.LastHead()
	window := s.node.Window()

	status := statusView{
		Started:       started,
		LastBlock:     head.Block,
		LastTimestamp: head.Timestamp,
		Buckets: bucketView{
			CurrentBlock:     uint64(window.Current.Block),
			CurrentTimestamp: uint64(window.Current.Timestamp),
			NextBlock:        uint64(window.Next.Block),
			NextTimestamp:    uint64(window.Next.Timestamp),
		},
		TrackedRequests: len(s.node.Requests()),
		Accounts:        s.node.Accounts(),
		Circuit:         s.node.BreakerState(),
		Stats:           s.node.Stats(),
	}
	s.writeJSON(w, status)
}

func (s *Server) handleRequests(w http.ResponseWriter, _ *http.Request) {
	requests := s.node.Requests()
	views := make([]requestView, 0, len(requests))
	for _, r := range requests {
		views = append(views, newRequestView(r))
	}
	s.writeJSON(w, views)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	address, ok := addressParam(w, r)
	if !ok {
		return
	}

	if err := s.node.TrackAddress(r.Context(), address); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, models.ErrRequestNotFound) {
			code = http.StatusNotFound
		} else if models.IsIntegrityError(err) {
			code = http.StatusUnprocessableEntity
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	s.logger.InfoWithRequest(address, "Tracking on admin request")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Tracking %s", address.Hex())))
}

func (s *Server) handleUntrack(w http.ResponseWriter, r *http.Request) {
	address, ok := addressParam(w, r)
	if !ok {
		return
	}

	if !s.node.UntrackRequest(address) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("%s is not tracked", address.Hex())))
		return
	}
	s.logger.InfoWithRequest(address, "Untracked on admin request")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Untracked %s", address.Hex())))
}

// addressParam validates a POST carrying an address query parameter
func addressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return common.Address{}, false
	}

	raw := r.URL.Query().Get("address")
	if raw == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing address parameter"))
		return common.Address{}, false
	}
	if !common.IsHexAddress(raw) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid address"))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error encoding JSON: %v", err)
	}
}
