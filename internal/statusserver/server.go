// Package statusserver exposes the state of a running stack over HTTP.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"

	"github.com/picklr-io/zitadelhost/internal/logging"
	"github.com/picklr-io/zitadelhost/internal/resource"
)

type Config struct {
	ListenAddr string
	Notifier   *resource.Notifier
	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
	Log      *slog.Logger

	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

type Server struct {
	cfg     Config
	started atomic.Bool
	log     *slog.Logger
	srv     *http.Server
}

func New(cfg Config) (*Server, error) {
	if cfg.Notifier == nil {
		return nil, errors.New("status server needs a notifier")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.GracefulShutdownDuration <= 0 {
		cfg.GracefulShutdownDuration = 5 * time.Second
	}
	s := &Server{
		cfg: cfg,
		log: logging.OrDefault(cfg.Log).With("component", "statusserver"),
	}
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// MarkStarted records that the stack finished starting. /readyz stays unavailable until
// then.
func (s *Server) MarkStarted(started bool) { s.started.Store(started) }

func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.With(s.httpLogger).Get("/livez", s.handleLivenessCheck)
	mux.With(s.httpLogger).Get("/readyz", s.handleReadinessCheck)
	mux.With(s.httpLogger).Get("/resources", s.handleResources)
	mux.With(s.httpLogger).Get("/resources/{name}", s.handleResource)
	mux.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.log, next)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleLivenessCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

type readiness struct {
	Status   string   `json:"status"`
	NotReady []string `json:"notReady,omitempty"`
}

func (s *Server) handleReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	var pending []string
	for _, snap := range s.cfg.Notifier.All() {
		if snap.State != resource.StateRunning && snap.State != resource.StateFinished {
			pending = append(pending, snap.Resource)
		}
	}
	if !s.started.Load() || len(pending) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, readiness{Status: "not ready", NotReady: pending})
		return
	}
	writeJSON(w, http.StatusOK, readiness{Status: "ready"})
}

func (s *Server) handleResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Notifier.All())
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snap, ok := s.cfg.Notifier.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource " + name})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) RunInBackground() {
	go func() {
		s.log.Info("Starting status server", "listenAddress", s.cfg.ListenAddr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server failed", "err", err)
		}
	}()
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error("Graceful status server shutdown failed", "err", err)
	} else {
		s.log.Info("Status server gracefully stopped")
	}
}
