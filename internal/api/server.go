// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/tOgg1/approvalq/internal/enqueue"
	"github.com/tOgg1/approvalq/internal/instance"
	"github.com/tOgg1/approvalq/internal/logging"
	"github.com/tOgg1/approvalq/internal/metrics"
	"github.com/tOgg1/approvalq/internal/models"
	"github.com/tOgg1/approvalq/internal/sweep"
)

// Enqueuer queues approval events.
type Enqueuer interface {
	Enqueue(ctx context.Context, instance string, approvalType models.ApprovalType, itemID string, details json.RawMessage) ([]enqueue.Outcome, error)
}

// Sweeper runs collation passes.
type Sweeper interface {
	Run(ctx context.Context, instance string) (sweep.Report, error)
	RunAll(ctx context.Context) []sweep.Report
}

// Instances resolves configured instances.
type Instances interface {
	Get(name string) (*instance.Instance, error)
	Sorted() []string
}

// Options configures the HTTP server.
type Options struct {
	Addr           string
	AllowedOrigins []string
}

// Server serves the HTTP API.
type Server struct {
	enqueuer  Enqueuer
	sweeper   Sweeper
	instances Instances
	router    chi.Router
	http      *http.Server
	logger    zerolog.Logger
}

// NewServer builds the router.
func NewServer(enqueuer Enqueuer, sweeper Sweeper, instances Instances, opts Options) *Server {
	s := &Server{
		enqueuer:  enqueuer,
		sweeper:   sweeper,
		instances: instances,
		logger:    logging.Component("api"),
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/instances", s.handleInstances)
		r.Post("/instances/{instance}/approvals", s.handleEnqueue)
		r.Get("/instances/{instance}/pending", s.handlePending)
		r.Get("/instances/{instance}/pending/{id}", s.handlePendingRow)
		r.Post("/sweeps", s.handleSweep)
	})

	s.router = r
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("http api listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqLogger := s.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		r = r.WithContext(logging.WithContext(r.Context(), reqLogger))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		reqLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
