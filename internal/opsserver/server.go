// Package opsserver serves the operational HTTP endpoint: liveness, metrics and schedule state.
package opsserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"rss_relay/internal/metrics"
	"rss_relay/internal/scheduler"
	"rss_relay/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Source provides the state exposed by the endpoint.
type Source interface {
	Jobs() []scheduler.JobInfo
	AggressiveMode() bool
	Stats(ctx context.Context) (storage.Stats, error)
}

type jobsResponse struct {
	Aggressive bool                `json:"aggressive"`
	Jobs       []scheduler.JobInfo `json:"jobs"`
}

// Server is the ops HTTP server.
type Server struct {
	listen  string
	src     Source
	version string
	log     *slog.Logger
	router  *routegroup.Bundle
}

// New creates a Server listening on listen.
func New(listen string, src Source, version string, log *slog.Logger) *Server {
	s := &Server{
		listen:  listen,
		src:     src,
		version: version,
		log:     log,
		router:  routegroup.New(http.NewServeMux()),
	}

	s.router.Use(rest.AppInfo("rss_relay", "rss_relay", version))
	s.router.Use(rest.Ping)
	s.router.Use(rest.Recoverer(logAdapter{log}))

	s.router.Handle("GET /metrics", metrics.Handler())
	s.router.HandleFunc("GET /jobs", s.jobsHandler)
	s.router.HandleFunc("GET /stats", s.statsHandler)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("ops server shutdown", "error", err)
		}
	}()

	s.log.Info("ops server listening", "addr", s.listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

func (s *Server) jobsHandler(w http.ResponseWriter, _ *http.Request) {
	jobs := s.src.Jobs()
	if jobs == nil {
		jobs = []scheduler.JobInfo{}
	}
	rest.RenderJSON(w, jobsResponse{Aggressive: s.src.AggressiveMode(), Jobs: jobs})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.src.Stats(r.Context())
	if err != nil {
		rest.SendErrorJSON(w, r, logAdapter{s.log}, http.StatusInternalServerError, err, "can't load stats")
		return
	}
	rest.RenderJSON(w, st)
}

// logAdapter routes rest middleware logging to slog.
type logAdapter struct {
	log *slog.Logger
}

func (l logAdapter) Logf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}
