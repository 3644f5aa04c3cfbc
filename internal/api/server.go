package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/ledger"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/market"
	"github.com/kjannette/trahn-gridsim/internal/models"
	"github.com/kjannette/trahn-gridsim/internal/observability"
	"github.com/kjannette/trahn-gridsim/internal/optimizer"
	"github.com/kjannette/trahn-gridsim/internal/performance"
)

const maxQueryLimit = 1000

type Pinger interface {
	Ping(ctx context.Context) error
}

type RunStore interface {
	List(ctx context.Context, limit int, optimizationID *uuid.UUID) ([]models.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Run, error)
	Stats(ctx context.Context) (*models.RunStats, error)
}

type TradeStore interface {
	GetByRun(ctx context.Context, runID uuid.UUID, reason ledger.Reason, limit int) ([]ledger.Trade, error)
}

type EquityStore interface {
	GetByRun(ctx context.Context, runID uuid.UUID, stride int) ([]performance.EquitySnapshot, error)
}

type OptimizationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Optimization, error)
	List(ctx context.Context, limit int) ([]models.Optimization, error)
	Runs(ctx context.Context, id uuid.UUID, limit int) ([]models.OptimizationRun, error)
}

// JobRunner starts and tracks background optimizations.
type JobRunner interface {
	Start(ctx context.Context, candles []market.Candle, ranges config.Ranges) (uuid.UUID, error)
	Job(id uuid.UUID) (optimizer.Job, bool)
	Jobs() []optimizer.Job
	Cancel() bool
	Running() bool
}

// Deps wires the server. Stores are nil when persistence is disabled and
// the matching routes answer 503.
type Deps struct {
	DB            Pinger
	Runs          RunStore
	Trades        TradeStore
	Equity        EquityStore
	Optimizations OptimizationStore
	Jobs          JobRunner
	Candles       []market.Candle
	Metrics       *observability.Metrics
}

type Server struct {
	deps       Deps
	httpServer *http.Server
	apiKey     string
	log        *logrus.Entry
}

func NewServer(deps Deps, port int, apiKey, corsOrigin string) *Server {
	s := &Server{
		deps:   deps,
		apiKey: apiKey,
		log:    logger.Component("API"),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(corsOrigin),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler builds the full middleware chain around the route table.
func (s *Server) Handler(corsOrigin string) http.Handler {
	mux := http.NewServeMux()

	// Run routes
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/stats", s.handleRunStats)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /v1/runs/{id}/trades", s.handleRunTrades)
	mux.HandleFunc("GET /v1/runs/{id}/equity", s.handleRunEquity)

	// Optimization routes
	mux.HandleFunc("GET /v1/optimizations", s.handleListOptimizations)
	mux.HandleFunc("POST /v1/optimizations", s.handleStartOptimization)
	mux.HandleFunc("GET /v1/optimizations/{id}", s.handleGetOptimization)
	mux.HandleFunc("GET /v1/optimizations/{id}/runs", s.handleOptimizationRuns)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("DELETE /v1/jobs/current", s.handleCancelJob)

	// No auth required
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	return s.metricsMiddleware(s.authMiddleware(corsMiddleware(mux, corsOrigin)))
}

func (s *Server) Start() error {
	s.log.Infof("REST API server started on http://localhost%s", s.httpServer.Addr)
	s.log.Infof("Health check: http://localhost%s/health", s.httpServer.Addr)
	if s.apiKey != "" {
		s.log.Info("Authentication: enabled (Bearer token)")
	} else {
		s.log.Info("Authentication: disabled (no API_KEY configured)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func publicPath(path string) bool {
	return path == "/health" || path == "/metrics"
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || publicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware labels requests by the matched route pattern so ids do
// not explode the label space.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	if s.deps.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.ObserveHTTP(route, rec.status, time.Since(start))
	})
}

// --- validation helpers ---

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id, expected a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func persistenceDisabled(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, "persistence is disabled (DATABASE_ENABLED=false)")
}
