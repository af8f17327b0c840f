package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/tally/internal/caps"
	"github.com/opensource-finance/tally/internal/domain"
	"github.com/opensource-finance/tally/internal/rates"
	"github.com/opensource-finance/tally/internal/rules"
	"github.com/opensource-finance/tally/internal/simulate"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.UsageCache, bus domain.EventBus, matcher *rules.Matcher, accountant *caps.Accountant, normalizer *rates.Normalizer, orchestrator *simulate.Orchestrator, version string) *Server {
	handler := NewHandler(repo, cache, bus, matcher, accountant, normalizer, orchestrator, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Simulation
	router.Post("/simulate", handler.Simulate)
	router.Post("/preview", handler.Preview)

	// Cap accounting
	router.Get("/cap-usage/{paymentMethodID}", handler.GetCapUsage)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	// Conversion rates
	router.Get("/rates", handler.GetRates)
	router.Put("/rates", handler.UpdateRates)

	// Payment methods
	router.Get("/payment-methods", handler.ListPaymentMethods)
	router.Post("/payment-methods", handler.CreatePaymentMethod)

	// Transaction ledger
	router.Post("/transactions", handler.CreateTransaction)
	router.Get("/transactions/{id}", handler.GetTransaction)
	router.Delete("/transactions/{id}", handler.DeleteTransaction)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
