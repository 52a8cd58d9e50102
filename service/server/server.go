package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/stellarpay/service/metrics"
	"github.com/brojonat/stellarpay/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the components the HTTP API is built from.
// Submitter, Transactions and Balances are required; the rest are optional.
type Deps struct {
	Submitter    PaymentSubmitter
	Transactions TransactionLookup
	Balances     BalanceLookup
	Store        PaymentStore        // nil disables the audit trail and its routes
	Reconciler   temporal.Reconciler // nil skips reconcile-by-hash after submission
	// ReconcileTimeout bounds each reconcile; zero uses temporal.DefaultReconcileTimeout.
	ReconcileTimeout time.Duration
	Feed             PaymentFeed      // nil disables the streaming routes
	Metrics          *metrics.Metrics // nil disables /metrics
}

// Server represents the HTTP server for the payment service.
type Server struct {
	addr    string
	deps    Deps
	version string
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
func New(addr string, deps Deps, version string, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		deps:    deps,
		version: version,
		logger:  logger,
	}
}

// Handler builds the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	d := s.deps

	route := func(pattern, name string, h http.Handler) {
		if d.Metrics != nil {
			h = metrics.HTTPMetricsMiddleware(d.Metrics, name)(h)
		}
		mux.Handle(pattern, h)
	}

	// Payment routes
	route("POST /api/v1/payments", "/api/v1/payments", handleSubmitPayment(d.Submitter, d.Store, d.Reconciler, d.ReconcileTimeout, s.logger))
	route("GET /api/v1/transactions/{hash}", "/api/v1/transactions/{hash}", handleGetTransaction(d.Transactions, s.logger))
	route("GET /api/v1/accounts/{address}/balance", "/api/v1/accounts/{address}/balance", handleGetBalance(d.Balances, s.logger))

	// Audit trail routes (if a store is configured)
	if d.Store != nil {
		route("GET /api/v1/payments", "/api/v1/payments", handleListPayments(d.Store, s.logger))
		route("GET /api/v1/payments/{id}", "/api/v1/payments/{id}", handleGetPayment(d.Store, s.logger))
		route("GET /api/v1/accounts/{address}/transactions", "/api/v1/accounts/{address}/transactions", handleListTransactions(d.Store, s.logger))
	} else {
		s.logger.Warn("store not configured, audit trail endpoints disabled")
	}

	// SSE streaming endpoints (if a payment feed is configured)
	if d.Feed != nil {
		mux.Handle("GET /api/v1/stream/payments/{address}", handleStreamPayments(d.Feed, d.Metrics, s.logger))
		mux.Handle("GET /api/v1/stream/payments", handleStreamPayments(d.Feed, d.Metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("payment feed not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"version": s.version}, http.StatusOK)
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Submission waits on the ledger for up to the envelope's validity window.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the feed first so streaming clients disconnect
	if c, ok := s.deps.Feed.(io.Closer); ok {
		c.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
