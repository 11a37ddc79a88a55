// Package api provides the HTTP interface of the inventory scanner: scan
// control, the live record stream, host history and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	apihandlers "github.com/anstrom/inventorama/internal/api/handlers"
	"github.com/anstrom/inventorama/internal/api/middleware"
	"github.com/anstrom/inventorama/internal/auth"
	"github.com/anstrom/inventorama/internal/config"
	"github.com/anstrom/inventorama/internal/db"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/metrics"
	"github.com/anstrom/inventorama/internal/scanning"
	"github.com/anstrom/inventorama/internal/scheduler"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	readHeaderTimeout     = 10 * time.Second
	idleTimeout           = 60 * time.Second
)

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	manager    *scanning.Manager
	database   *db.DB
	metrics    *metrics.PrometheusMetrics
	logger     *logging.Logger
	schedule   *scheduler.Scheduler
	websocket  *apihandlers.WebSocketHandler
	keys       *auth.KeyRing
	version    string
}

// Option configures a Server.
type Option func(*Server)

// WithDatabase enables the history endpoint and the database health check.
func WithDatabase(database *db.DB) Option {
	return func(s *Server) { s.database = database }
}

// WithMetrics exposes /metrics and records request metrics.
func WithMetrics(pm *metrics.PrometheusMetrics) Option {
	return func(s *Server) { s.metrics = pm }
}

// WithScheduler exposes the recurring scan under /api/v1/schedule.
func WithScheduler(sched *scheduler.Scheduler) Option {
	return func(s *Server) { s.schedule = sched }
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// New creates a new API server instance.
func New(cfg *config.Config, manager *scanning.Manager, logger *logging.Logger, opts ...Option) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("scan manager is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		router:  mux.NewRouter(),
		config:  cfg,
		manager: manager,
		logger:  logger.WithComponent("api"),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.API.Auth.Enabled {
		keys, err := auth.NewKeyRing(cfg.API.Auth.KeyHashes)
		if err != nil {
			return nil, fmt.Errorf("invalid API authentication settings: %w", err)
		}
		s.keys = keys
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.GetAPIAddress(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	if s.metrics != nil {
		s.router.Use(middleware.Metrics(s.metrics))
	}
	if s.keys != nil {
		s.router.Use(middleware.Authentication(s.keys, s.logger))
	}
	s.router.Use(middleware.SecurityHeaders())
}

func (s *Server) setupRoutes() {
	var pinger apihandlers.Pinger
	if s.database != nil {
		pinger = s.database
	}
	defaults, err := s.config.ScanSettings()
	if err != nil {
		s.logger.Warn("invalid scan defaults in configuration", "error", err)
	}

	health := apihandlers.NewHealthHandler(pinger, s.version, s.logger)
	scans := apihandlers.NewScanHandler(s.manager, defaults, s.logger)
	s.websocket = apihandlers.NewWebSocketHandler(s.manager, s.logger)

	// The stream is registered outside the API subrouter so the request
	// timeout does not end long-lived connections.
	s.router.HandleFunc("/api/v1/ws", s.websocket.ServeWS).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.RequestTimeout(s.config.API.RequestTimeout))
	api.Use(middleware.MaxBodySize(s.config.API.MaxRequestSize))
	api.Use(middleware.ContentType())

	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	api.HandleFunc("/liveness", health.Liveness).Methods(http.MethodGet)

	api.HandleFunc("/scans", scans.StartScan).Methods(http.MethodPost)
	api.HandleFunc("/scans/current", scans.GetCurrent).Methods(http.MethodGet)
	api.HandleFunc("/scans/current", scans.CancelCurrent).Methods(http.MethodDelete)

	if s.database != nil {
		history := apihandlers.NewHistoryHandler(db.NewRecordRepository(s.database), s.logger)
		api.HandleFunc("/hosts/{address}/history", history.GetHistory).Methods(http.MethodGet)
	}

	if s.schedule != nil {
		schedule := apihandlers.NewScheduleHandler(s.schedule, s.logger)
		api.HandleFunc("/schedule", schedule.GetSchedule).Methods(http.MethodGet)
		api.HandleFunc("/schedule/run", schedule.RunSchedule).Methods(http.MethodPost)
	}

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	s.router.HandleFunc("/", s.index).Methods(http.MethodGet)
}

// Handler returns the router wrapped in proxy header and CORS handling.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	if cors := s.config.API.CORS; cors.Enabled {
		h = handlers.CORS(
			handlers.AllowedOrigins(cors.AllowedOrigins),
			handlers.AllowedMethods(cors.AllowedMethods),
			handlers.AllowedHeaders(cors.AllowedHeaders),
		)(h)
	}
	return handlers.ProxyHeaders(h)
}

// Router returns the configured router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server", "address", s.httpServer.Addr, "tls", s.config.API.TLS.Enabled)

	errChan := make(chan error, 1)
	go func() {
		var err error
		if tls := s.config.API.TLS; tls.Enabled {
			err = s.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	_ = s.websocket.Close()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	endpoints := map[string]string{
		"health":  "/api/v1/health",
		"scans":   "/api/v1/scans",
		"current": "/api/v1/scans/current",
		"stream":  "/api/v1/ws",
	}
	if s.database != nil {
		endpoints["history"] = "/api/v1/hosts/{address}/history"
	}
	if s.schedule != nil {
		endpoints["schedule"] = "/api/v1/schedule"
	}
	if s.metrics != nil {
		endpoints["metrics"] = "/metrics"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"service":   "inventorama",
		"version":   s.version,
		"endpoints": endpoints,
		"timestamp": time.Now().UTC(),
	}); err != nil {
		s.logger.Error("Failed to encode API index response", "error", err)
	}
}
