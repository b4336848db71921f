// Package httpserver provides the optional status server of a batch run:
// liveness, progress, a snapshot of the report and Prometheus metrics.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/pipeline"
	"github.com/helixir/ask-llm/internal/report"
)

// Source exposes the state of a run. *pipeline.Run implements it.
type Source interface {
	Progress() pipeline.Progress
	Report() *report.Report
}

// Server is the status HTTP server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	gatherer   prometheus.Gatherer
	source     atomic.Value // holds sourceBox
	started    time.Time
	logger     zerolog.Logger

	streamInterval time.Duration
}

type sourceBox struct{ Source }

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a status server. gatherer backs /metrics and may be nil.
func NewServer(cfg Config, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		gatherer:       gatherer,
		started:        time.Now(),
		logger:         logger.With().Str("component", "http-server").Logger(),
		streamInterval: defaultStreamInterval,
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Attach sets the run whose state the server reports. Until a run is
// attached, /progress and /report answer 503.
func (s *Server) Attach(src Source) {
	s.source.Store(sourceBox{src})
}

func (s *Server) current() Source {
	box, _ := s.source.Load().(sourceBox)
	return box.Source
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthHandler)
	r.Get("/progress", s.progressHandler)
	r.Get("/progress/stream", s.streamProgress)
	r.Get("/report", s.reportHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return r
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Uptime: time.Since(s.started).Round(time.Second).String()}
	if src := s.current(); src != nil {
		resp.RunID = src.Progress().RunID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) progressHandler(w http.ResponseWriter, _ *http.Request) {
	src := s.current()
	if src == nil {
		writeError(w, http.StatusServiceUnavailable, "run not started")
		return
	}
	writeJSON(w, http.StatusOK, src.Progress())
}

func (s *Server) reportHandler(w http.ResponseWriter, _ *http.Request) {
	src := s.current()
	if src == nil {
		writeError(w, http.StatusServiceUnavailable, "run not started")
		return
	}
	data, err := report.MarshalReport(src.Report())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot encode report")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
