package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the API server
type Server struct {
	handler *Handler
	apiKey  string
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a new API server. An empty apiKey disables bearer auth.
func NewServer(port int, handler *Handler, apiKey string, logger *zap.Logger) *Server {
	return &Server{
		handler: handler,
		apiKey:  apiKey,
		logger:  logger,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the API server
func (s *Server) Start() error {
	router := s.setupRoutes()
	s.server.Handler = router

	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)
	router.Use(s.authMiddleware)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/balances", s.handler.GetAllBalances).Methods("GET")
	api.HandleFunc("/balances/{chain}", s.handler.GetBalance).Methods("GET")

	api.HandleFunc("/invoices", s.handler.ListInvoices).Methods("GET")
	api.HandleFunc("/invoices", s.handler.CreateInvoice).Methods("POST")
	api.HandleFunc("/invoices/{number}", s.handler.GetInvoice).Methods("GET")
	api.HandleFunc("/invoices/{number}/audit", s.handler.GetInvoiceAudit).Methods("GET")
	api.HandleFunc("/invoices/{number}/pay", s.handler.PayInvoice).Methods("POST")

	api.HandleFunc("/bridges", s.handler.ListPendingBridges).Methods("GET")
	api.HandleFunc("/bridges/{burn_tx_hash}", s.handler.GetBridgeStatus).Methods("GET")

	api.HandleFunc("/reconcile", s.handler.RunReconciliation).Methods("POST")

	api.HandleFunc("/health", s.healthCheck).Methods("GET")

	return router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces bearer auth when an API key is configured. The
// health endpoint stays open for probes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/api/health" || r.Method == "OPTIONS" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.apiKey {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// healthCheck returns the API health status
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
