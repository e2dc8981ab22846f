// Package server provides the HTTP server that exposes the evaluation API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ricesearch/rankeval/internal/config"
	"github.com/ricesearch/rankeval/internal/evaluation"
	"github.com/ricesearch/rankeval/internal/metrics"
	"github.com/ricesearch/rankeval/internal/pkg/logger"
	"github.com/ricesearch/rankeval/internal/pkg/middleware"
	"github.com/ricesearch/rankeval/internal/retrieval"
)

// Server is the HTTP server of the evaluation API.
type Server struct {
	cfg        Config
	appCfg     config.Config
	log        *logger.Logger
	httpServer *http.Server

	metrics *metrics.Metrics
	limiter *middleware.RateLimiter

	evalHandler *evaluation.Handler
	health      *HealthHandler

	mu       sync.RWMutex
	started  bool
	listener net.Listener
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// ConfigFromApp takes the listen address from the application config.
func ConfigFromApp(appCfg config.Config, version string) Config {
	cfg := DefaultConfig()
	cfg.Host = appCfg.Host
	cfg.Port = appCfg.Port
	if version != "" {
		cfg.Version = version
	}
	return cfg
}

// New creates a new server. m may be nil, in which case no metrics are
// collected or exposed.
func New(cfg Config, appCfg config.Config, log *logger.Logger, m *metrics.Metrics) (*Server, error) {
	if cfg.Port == 0 {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.Discard()
	}

	s := &Server{
		cfg:     cfg,
		appCfg:  appCfg,
		log:     log,
		metrics: m,
	}

	// A typed nil *Metrics must not reach the evaluator as a Recorder.
	var rec retrieval.Recorder
	if m != nil {
		rec = m
	}
	evaluator := evaluation.NewEvaluator(appCfg.Metric, log, rec)
	s.evalHandler = evaluation.NewHandler(evaluator, log)
	s.health = NewHealthHandler(cfg.Version)

	if rlCfg, ok := middleware.ConfigFromSecurity(appCfg.Security); ok {
		s.limiter = middleware.NewRateLimiter(rlCfg)
	}

	return s, nil
}

// Start starts the HTTP server and blocks until it is stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.started = true
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}

	if !s.started {
		return nil
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
		return err
	}

	s.started = false
	s.listener = nil
	s.log.Info("Server stopped")

	return nil
}

// Handler returns the routed handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.health.RegisterRoutes(mux)
	s.evalHandler.RegisterRoutes(mux)

	if s.metrics != nil && s.appCfg.Observability.MetricsEnabled {
		path := s.appCfg.Observability.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, s.metrics.Handler())
	}

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	if s.metrics != nil {
		handler = metrics.HTTPMiddleware(s.metrics, handler)
	}
	handler = requestIDMiddleware(handler)

	return wrapWithLogging(handler, s.log)
}

// wrapWithLogging logs every request at debug level.
func wrapWithLogging(handler http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		handler.ServeHTTP(wrapped, r)

		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"request_id", wrapped.Header().Get(RequestIDHeader),
			"duration", time.Since(start),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Health returns whether the server is serving.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
