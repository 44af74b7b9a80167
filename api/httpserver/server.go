package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"

	"github.com/shafiqahmeddev/lqap-project/common"
	"github.com/shafiqahmeddev/lqap-project/metrics"
)

// RouteRegistrar is implemented by services that expose HTTP endpoints;
// the server mounts each registrar's routes on its router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// HTTPServerConfig configures a BaseServer.
type HTTPServerConfig struct {
	// ListenAddr is the address the API listens on.
	ListenAddr string

	// MetricsAddr is the listen address of the Prometheus endpoint.
	// Empty disables the metrics server.
	MetricsAddr string

	// EnablePprof mounts the pprof API under /debug.
	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long the server stays up after /drain marks it
	// not ready, giving load balancers time to notice.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds the wait for in-flight requests on
	// shutdown.
	GracefulShutdownDuration time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BaseServer is the shared HTTP chassis for the LQAP node, ledger, and
// scorer services: one chi router with request logging, health and drain
// endpoints, and an optional metrics sidecar.
type BaseServer struct {
	cfg   *HTTPServerConfig
	log   *slog.Logger
	ready atomic.Bool

	api     *http.Server
	metrics *metrics.MetricsServer
}

// New builds a server and mounts every registrar's routes. The server
// starts in the ready state.
func New(cfg *HTTPServerConfig, registrars ...RouteRegistrar) (*BaseServer, error) {
	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}

	s := &BaseServer{
		cfg:     cfg,
		log:     cfg.Log,
		metrics: metricsSrv,
	}
	s.api = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router(registrars),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.ready.Store(true)

	return s, nil
}

func (s *BaseServer) router(registrars []RouteRegistrar) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	for _, registrar := range registrars {
		registrar.RegisterRoutes(mux)
	}

	logged := func(next http.Handler) http.Handler {
		return httplogger.LoggingMiddlewareSlog(s.log, next)
	}
	mux.With(logged).Get("/livez", s.handleLivez)
	mux.With(logged).Get("/readyz", s.handleReadyz)
	mux.With(logged).Get("/drain", s.handleDrain)
	mux.With(logged).Get("/undrain", s.handleUndrain)

	if s.cfg.EnablePprof {
		s.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}

	return mux
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"status":"` + status + `"}`))
}

func (s *BaseServer) handleLivez(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "alive")
}

func (s *BaseServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

func (s *BaseServer) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Swap(false) {
		writeStatus(w, http.StatusOK, "already draining")
		return
	}
	s.log.Info("Server marked not ready")

	go func() {
		time.Sleep(s.cfg.DrainDuration)
		s.log.Info("Drain period completed")
	}()

	writeStatus(w, http.StatusOK, "draining")
}

func (s *BaseServer) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if s.ready.Swap(true) {
		writeStatus(w, http.StatusOK, "already ready")
		return
	}
	s.log.Info("Server marked ready")
	writeStatus(w, http.StatusOK, "ready")
}

// RunInBackground starts the API and, when configured, the metrics
// server, each on its own goroutine.
func (s *BaseServer) RunInBackground() {
	if s.cfg.MetricsAddr != "" {
		go func() {
			s.log.Info("Starting metrics server", "addr", s.cfg.MetricsAddr)
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("Metrics server failed", "err", err)
			}
		}()
	}

	go func() {
		s.log.Info("Starting HTTP server", "addr", s.cfg.ListenAddr)
		if err := s.api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server failed", "err", err)
		}
	}()
}

// Shutdown stops both servers, waiting up to GracefulShutdownDuration
// for each.
func (s *BaseServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := s.api.Shutdown(ctx); err != nil {
		s.log.Error("HTTP server shutdown failed", "err", err)
	} else {
		s.log.Info("HTTP server stopped")
	}

	if s.cfg.MetricsAddr != "" {
		mctx, mcancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
		defer mcancel()
		if err := s.metrics.Shutdown(mctx); err != nil {
			s.log.Error("Metrics server shutdown failed", "err", err)
		} else {
			s.log.Info("Metrics server stopped")
		}
	}
}
