// Package server exposes the schedule-events API: install, replace, pause,
// resume and remove republish schedules, and inspect their run history.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/teranos/repost/am"
	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/logger"
	"github.com/teranos/repost/pulse/budget"
)

// Server serves the schedule API over HTTP
type Server struct {
	cfg       am.ServerConfig
	schedules ScheduleService
	logger    *zap.SugaredLogger
	budget    BudgetReporter
	router    chi.Router
	http      *http.Server
}

// BudgetReporter exposes CAPTCHA spend on the health endpoint
type BudgetReporter interface {
	Status(ctx context.Context) (*budget.Status, error)
}

// Option configures a Server
type Option func(*Server)

// WithBudget reports CAPTCHA spend from b on GET /api/health
func WithBudget(b BudgetReporter) Option {
	return func(s *Server) { s.budget = b }
}

// New wires the routes. The server is not listening until Serve or ListenAndServe.
func New(cfg am.ServerConfig, schedules ScheduleService, log *zap.SugaredLogger, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		schedules: schedules,
		logger:    log.Named("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLog(s.logger))
	r.Use(recoverer(s.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSchedule)
				r.Put("/", s.handleUpsertSchedule)
				r.Patch("/", s.handleUpdateSchedule)
				r.Delete("/", s.handleDeleteSchedule)
				r.Get("/executions", s.handleListExecutions)
			})
		})
	})
	return r
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	logger.AddPulseOpenSymbol(s.logger).Infow("HTTP API listening", logger.FieldAddress, ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}

// ListenAndServe listens on the configured address
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.cfg.Addr)
	}
	return s.Serve(ln)
}

// Shutdown stops accepting requests and waits for active ones until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	start := time.Now()
	err := s.http.Shutdown(ctx)
	logger.AddPulseCloseSymbol(s.logger).Infow("HTTP API stopped",
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return errors.Wrap(err, "shutdown")
}
