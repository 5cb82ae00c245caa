// Package server exposes the scheduler's control and status API over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiregroup/engine"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	port   string
	engine *engine.Engine
	logger zerolog.Logger
}

func New(port string, e *engine.Engine) *Server {
	return &Server{
		port:   port,
		engine: e,
		logger: log.With().Str("component", "http").Logger(),
	}
}

// Router builds the handler tree.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/health"))
	router.Use(middleware.CleanPath)
	router.Use(middleware.RequestID)
	router.Use(s.requestLogger)

	gatherer := s.engine.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router.Post("/queries", s.createQuery)
	router.Route("/groups", func(r chi.Router) {
		r.Get("/", s.listGroups)
		r.Route("/{groupID}", func(r chi.Router) {
			r.Get("/", s.getGroup)
			r.Delete("/", s.deleteGroup)
			r.Post("/isolate", s.isolateGroup)
			r.Delete("/queries/{queryID}", s.deleteQuery)
		})
	})
	router.Get("/apps/{appID}/route", s.route)
	router.Get("/workers", s.listWorkers)
	router.Post("/workers/{workerID}/recover", s.recoverWorker)

	return router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Handled request")
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Msgf("Running the web server on port: %s", s.port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("Web server stopped")
	return nil
}
