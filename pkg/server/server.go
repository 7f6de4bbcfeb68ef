package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"mercator-hq/sentinel/pkg/config"
	"mercator-hq/sentinel/pkg/engine"
	"mercator-hq/sentinel/pkg/telemetry/health"
	"mercator-hq/sentinel/pkg/telemetry/tracing"
)

// BuildInfo is reported by the version endpoint.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Server is the governance HTTP API.
type Server struct {
	config       config.ServerConfig
	audit        config.AuditConfig
	metrics      config.MetricsConfig
	healthConfig config.HealthConfig
	engine       *engine.Engine
	checker      *health.Checker
	build        BuildInfo
	tlsConfig    *tls.Config

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	logger       *slog.Logger
}

// New creates the API server for eng. checker may be nil, in which case
// readiness always reports ready.
func New(cfg *config.Config, eng *engine.Engine, checker *health.Checker, build BuildInfo) *Server {
	if checker == nil {
		checker = health.New(cfg.Telemetry.Health.CheckTimeout)
	}
	return &Server{
		config:       cfg.Server,
		audit:        cfg.Audit,
		metrics:      cfg.Telemetry.Metrics,
		healthConfig: cfg.Telemetry.Health,
		engine:       eng,
		checker:      checker,
		build:        build,
		logger:       slog.Default().With("component", "server"),
	}
}

// UseTLS serves HTTPS with c. It must be called before Start.
func (s *Server) UseTLS(c *tls.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tlsConfig = c
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		ln.Close()
		return errors.New("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		TLSConfig:    s.tlsConfig,
	}
	srv := s.httpServer
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "address", ln.Addr().String(), "tls", srv.TLSConfig != nil)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown stops accepting requests and waits for in-flight ones, bounded
// by the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		srv := s.httpServer
		running := s.isRunning
		s.mu.Unlock()
		if !running || srv == nil {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}
		if err := srv.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		s.logger.Info("API server stopped")
	})
	return shutdownErr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(s.logger))
	r.Use(requestID)
	r.Use(tracing.HTTPMiddleware)
	r.Use(accessLog(s.logger))

	liveness := s.healthConfig.LivenessPath
	if liveness == "" {
		liveness = "/health"
	}
	readiness := s.healthConfig.ReadinessPath
	if readiness == "" {
		readiness = "/ready"
	}
	r.Get(liveness, s.checker.LivenessHandler())
	r.Get(readiness, s.checker.ReadinessHandler())
	r.Get("/version", health.VersionHandler(s.build.Version, s.build.Commit, s.build.BuildTime))

	if c := s.engine.Metrics(); c != nil && s.metrics.Enabled {
		path := s.metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, c.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(limitBody(s.config.MaxBodyBytes))

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", s.handleListPolicies)
			r.Post("/", s.handleCompilePolicy)
			r.Get("/{id}", s.handleGetPolicy)
		})

		r.Post("/snapshots", s.handleSnapshot)
		r.Post("/events", s.handleEvents)
		r.Post("/enforce", s.handleEnforce)

		r.Get("/rollout", s.handleRolloutStatus)
		r.Post("/rollout/advance", s.handleAdvance)

		r.Get("/overrides", s.handleGetOverrides)
		r.Delete("/overrides", s.handleClearOverrides)

		r.Get("/alerts", s.handleListAlerts)
		r.Post("/alerts/{id}/resolve", s.handleResolveAlert)

		r.Post("/drift/check", s.handleCheckDrift)

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", s.handleQueryAudit)
			r.Get("/export", s.handleExportSubject)
			r.Get("/{id}", s.handleGetAudit)
			r.Get("/{id}/explain", s.handleExplain)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "no route for " + r.URL.Path})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method_not_allowed"})
	})
	return r
}
