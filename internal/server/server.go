// Package server exposes qrels synthesis, evaluation, carbon costing and the
// run history over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ricesearch/greeneval/internal/bus"
	"github.com/ricesearch/greeneval/internal/dataset"
	"github.com/ricesearch/greeneval/internal/evaluation"
	"github.com/ricesearch/greeneval/internal/experiment"
	"github.com/ricesearch/greeneval/internal/judgment"
	"github.com/ricesearch/greeneval/internal/metrics"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
	"github.com/ricesearch/greeneval/internal/pkg/middleware"
	"github.com/ricesearch/greeneval/internal/pkg/security"
	"github.com/ricesearch/greeneval/internal/store"
	"github.com/ricesearch/greeneval/internal/sustainability"
)

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is reported by /healthz.
	Version string

	// RateLimit is the per-client request rate. Zero disables limiting.
	RateLimit int

	// MetricsPath serves Prometheus metrics when Deps.Metrics is set.
	MetricsPath string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		MetricsPath:     "/metrics",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Deps are the services behind the API. Runner, Bus, Index and Metrics may be nil.
type Deps struct {
	Evaluator  *evaluation.Evaluator
	Judgment   judgment.Config
	Index      judgment.VectorIndex
	Accountant *sustainability.Accountant
	Mix        sustainability.EnergyMix
	Hardware   sustainability.Hardware
	Runs       store.Storage
	Registry   *dataset.Registry
	Runner     *experiment.Runner
	Bus        bus.Bus
	Metrics    *metrics.Metrics
}

// Server is the API server.
type Server struct {
	cfg     Config
	deps    Deps
	log     *logger.Logger
	handler http.Handler
	limiter *middleware.RateLimiter

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a server and builds its routes.
func New(cfg Config, deps Deps, log *logger.Logger) *Server {
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = def.MetricsPath
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if log == nil {
		log = logger.Default()
	}
	if deps.Evaluator == nil {
		deps.Evaluator = evaluation.NewEvaluator(log)
	}
	if deps.Mix == nil {
		deps.Mix = sustainability.DefaultEnergyMix()
	}
	if deps.Hardware == (sustainability.Hardware{}) {
		deps.Hardware = sustainability.DefaultHardware()
	}
	if deps.Accountant == nil {
		deps.Accountant = sustainability.NewAccountant(sustainability.DefaultIntensityTable())
	}

	s := &Server{cfg: cfg, deps: deps, log: log}
	s.handler = s.setupRoutes()
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", addr, "version", s.cfg.Version)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.httpServer == nil {
		return nil
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.httpServer = nil
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("Server stopped")
	return nil
}

func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/qrels", s.handleQrels)
	mux.HandleFunc("POST /v1/cost", s.handleCost)
	evaluation.NewHandler(s.deps.Evaluator, maxBodyBytes).RegisterRoutes(mux)
	NewRunsHandler(s.deps.Runs).RegisterRoutes(mux)
	NewExperimentHandler(s.deps.Registry, s.deps.Runner, s.log).RegisterRoutes(mux)

	if s.deps.Metrics != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.deps.Metrics.Handler())
	}

	var handler http.Handler = ResponseWrapperMiddleware(mux)
	if s.cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: float64(s.cfg.RateLimit),
			Burst:             s.cfg.RateLimit * 2,
		})
		handler = s.limiter.Middleware(handler)
	}
	if s.deps.Metrics != nil {
		handler = metrics.HTTPMiddleware(s.deps.Metrics, handler)
	}
	return withLogging(handler, s.log)
}

// withLogging tags the request context with a request ID and logs each request.
func withLogging(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = GenerateRequestID()
		}
		r = r.WithContext(logger.ContextWithRequestID(r.Context(), requestID))
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.WithContext(r.Context()).Debug("HTTP request",
			"method", r.Method,
			"path", security.SanitizeForLog(r.URL.Path),
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
