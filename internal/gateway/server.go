package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/threadrun/internal/config"
	httpapi "github.com/nextlevelbuilder/threadrun/internal/http"
)

// Server is the HTTP server in front of the thread API.
type Server struct {
	cfg     *config.Config
	rt      *Runtime
	version string

	metricsHandler http.Handler // nil = /metrics not served
	rateLimiter    *RateLimiter

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new gateway server.
func NewServer(cfg *config.Config, rt *Runtime, version string) *Server {
	return &Server{
		cfg:     cfg,
		rt:      rt,
		version: version,
		// rate_limit_rpm <= 0 disables limiting.
		rateLimiter: NewRateLimiter(cfg.Gateway.RateLimitRPM, 5),
	}
}

// SetMetricsHandler serves h on the configured metrics path.
func (s *Server) SetMetricsHandler(h http.Handler) { s.metricsHandler = h }

// RateLimiter returns the server's per-organization rate limiter.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	httpapi.NewHealthHandler(s.rt.DB, s.version).RegisterRoutes(mux)

	threadsHandler := httpapi.NewThreadsHandler(s.rt.Bind, s.cfg.Gateway.Token, s.cfg.Gateway.MaxBodyBytes)
	if s.rateLimiter.Enabled() {
		threadsHandler.SetRateLimiter(s.rateLimiter.Allow)
	}
	threadsHandler.SetTracker(s.rt.Tracker.Begin)
	threadsHandler.RegisterRoutes(mux)

	if s.metricsHandler != nil {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, s.metricsHandler)
	}

	s.mux = mux
	return mux
}

// Start listens until ctx is done, then drains in-flight requests for up to
// gateway.shutdown_timeout.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := s.cfg.Gateway.Addr()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	return s.shutdown()
}

func (s *Server) shutdown() error {
	timeout := s.cfg.Gateway.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("gateway draining", "in_flight", s.rt.Tracker.InFlight(), "timeout", timeout)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Warn("gateway shutdown incomplete", "error", err)
	}
	if err := s.rt.Tracker.Wait(ctx); err != nil {
		slog.Warn("gateway drain timed out", "in_flight", s.rt.Tracker.InFlight())
		s.httpServer.Close()
		return nil
	}
	slog.Info("gateway stopped")
	return nil
}
