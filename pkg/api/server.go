package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/result"
	"github.com/athrane/pineapple-sub012/pkg/stores"
	"github.com/athrane/pineapple-sub012/pkg/workspace"
)

// Runner executes runs.
type Runner interface {
	Start(ctx context.Context, req *engine.RunRequest) (*engine.Run, error)
	Get(id string) (*engine.Run, bool)
	Runs() []*engine.Run
}

// Resolver turns a selection into a run request.
type Resolver interface {
	Request(ctx context.Context, sel workspace.Selection) (*engine.RunRequest, error)
}

// RunReader reads persisted runs.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*engine.Run, error)
	ListRuns(ctx context.Context, filter stores.RunFilter) ([]*engine.Run, error)
	GetResultTree(ctx context.Context, runID string) (*result.Snapshot, error)
	HealthCheck(ctx context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithRunReader serves runs from a store in addition to the runner's.
func WithRunReader(store RunReader) Option {
	return func(s *Server) { s.store = store }
}

// WithMetricsHandler exposes handler on /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) { s.metrics = handler }
}

// WithLogger sets the server's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithWaitTimeout bounds how long a request may wait for a run.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Server) { s.waitTimeout = d }
}

// DefaultWaitTimeout is the longest a request waits for a run by default.
const DefaultWaitTimeout = 5 * time.Minute

// Server serves the run API.
type Server struct {
	runner      Runner
	resolver    Resolver
	store       RunReader
	metrics     http.Handler
	logger      zerolog.Logger
	validate    *validator.Validate
	waitTimeout time.Duration
}

// NewServer creates a server starting runs on runner.
func NewServer(runner Runner, resolver Resolver, opts ...Option) *Server {
	s := &Server{
		runner:      runner,
		resolver:    resolver,
		logger:      zerolog.Nop(),
		validate:    validator.New(),
		waitTimeout: DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.createRun)
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
		r.Get("/{id}/wait", s.waitRun)
	})

	return r
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", addr).Msg("Starting API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Handled request")
	})
}
