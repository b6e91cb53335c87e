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

	"github.com/qumail/keypool-backend/api"
	"github.com/qumail/keypool-backend/metrics"
)

// Server wraps the pool API behind the usual operational surface: health
// endpoints, drain, optional pprof, a separate metrics listener and graceful
// shutdown. TLS is mandatory unless the config explicitly allows insecure
// serving for development.
type Server struct {
	cfg     *api.HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
	handler    *Handler
}

// New creates a server for the given handler.
func New(cfg *api.HTTPServerConfig, handler *Handler) (*Server, error) {
	if cfg.TLS == nil && !cfg.AllowInsecure {
		return nil, errors.New("TLS config required: pool API refuses to serve plaintext")
	}

	srv := &Server{
		cfg:     cfg,
		log:     cfg.Log,
		handler: handler,
	}
	srv.isReady.Store(true)

	if cfg.MetricsAddr != "" {
		srv.metricsSrv = metrics.New(cfg.MetricsAddr)
	}

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.getRouter(),
		TLSConfig:    cfg.TLS,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv, nil
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.With(srv.httpLogger).Post("/api/v1/entities", srv.handler.HandleRegister)
	mux.With(srv.httpLogger).Delete("/api/v1/entities/{entity}", srv.handler.HandleDelete)
	mux.With(srv.httpLogger).Get("/api/v1/pools/low", srv.handler.HandleLowPools)
	mux.With(srv.httpLogger).Get("/api/v1/pools/{entity}", srv.handler.HandleStatus)
	mux.With(srv.httpLogger).Post("/api/v1/pools/{entity}/allocate", srv.handler.HandleAllocate)
	mux.With(srv.httpLogger).Post("/api/v1/pools/{entity}/refill", srv.handler.HandleRefill)
	mux.With(srv.httpLogger).Post("/api/v1/keys/fetch", srv.handler.HandleFetch)
	mux.With(srv.httpLogger).Post("/api/v1/keys/consume", srv.handler.HandleConsume)
	mux.With(srv.httpLogger).Get("/api/v1/entropy", srv.handler.HandleEntropy)

	mux.With(srv.httpLogger).Get("/livez", srv.handleLivenessCheck)
	mux.With(srv.httpLogger).Get("/readyz", srv.handleReadinessCheck)
	mux.With(srv.httpLogger).Get("/drain", srv.handleDrain)
	mux.With(srv.httpLogger).Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if wasReady := srv.isReady.Swap(false); !wasReady {
		return
	}
	srv.log.Info("Server marked as not ready")
	// Give load balancers time to observe readiness before returning.
	time.Sleep(srv.cfg.DrainDuration)
	w.WriteHeader(http.StatusOK)
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if wasReady := srv.isReady.Swap(true); wasReady {
		return
	}
	srv.log.Info("Server marked as ready")
	w.WriteHeader(http.StatusOK)
}

// RunInBackground starts the API listener (TLS when configured) and the
// metrics listener.
func (srv *Server) RunInBackground() {
	if srv.metricsSrv != nil {
		srv.log.Info("Starting metrics server", "addr", srv.cfg.MetricsAddr)
		srv.metricsSrv.RunInBackground(nil)
	}

	go func() {
		var err error
		if srv.srv.TLSConfig != nil {
			srv.log.Info("Starting pool API server with mutual TLS", "addr", srv.cfg.ListenAddr)
			err = srv.srv.ListenAndServeTLS("", "")
		} else {
			srv.log.Warn("Starting pool API server WITHOUT TLS (development mode)", "addr", srv.cfg.ListenAddr)
			err = srv.srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("HTTP server stopped", "err", err)
		}
	}()
}

// Shutdown drains and gracefully stops both listeners.
func (srv *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()

	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	}
	if srv.metricsSrv != nil {
		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful metrics server shutdown failed", "err", err)
		}
	}
	srv.log.Info("HTTP server shutdown complete")
}
