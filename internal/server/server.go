// Package server exposes table schemas, row validation and row writes over
// HTTP.
//
// Routes:
//
//	GET  /healthz
//	GET  /types
//	GET  /tables
//	GET  /tables/{table}/schema
//	POST /tables/{table}/validate
//	POST /tables/{table}/rows   insert
//	PUT  /tables/{table}/rows   update, body {"keys": {...}, "row": {...}}
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koustreak/pgshape/internal/config"
	"github.com/koustreak/pgshape/internal/logger"
	"github.com/koustreak/pgshape/internal/registry"
	"github.com/koustreak/pgshape/internal/sink"
	"github.com/koustreak/pgshape/internal/table"
	"golang.org/x/time/rate"
)

// Models resolves table models. *table.Registry implements it.
type Models interface {
	Model(ctx context.Context, table string) (*table.Model, error)
	Tables() []string
	Types() *registry.Registry
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server is the HTTP API.
type Server struct {
	models  Models
	sink    sink.Sink
	cfg     config.ServerConfig
	limiter *rate.Limiter
	checks  map[string]HealthCheck
	log     *logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a named check to /healthz.
func WithHealthCheck(name string, c HealthCheck) Option {
	return func(s *Server) { s.checks[name] = c }
}

// WithLogger sets the request logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l.Component("server") }
}

// New returns a server over models. A nil sink disables the write routes.
func New(models Models, sk sink.Sink, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		models: models,
		sink:   sk,
		cfg:    cfg,
		checks: make(map[string]HealthCheck),
		log:    logger.L().Component("server"),
	}
	if cfg.WriteRate > 0 {
		burst := cfg.WriteBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.WriteRate), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Get("/types", s.types)
	r.Get("/tables", s.tables)

	r.Route("/tables/{table}", func(r chi.Router) {
		r.Get("/schema", s.schema)
		r.Post("/validate", s.validate)
		r.Group(func(r chi.Router) {
			r.Use(s.throttle)
			r.Post("/rows", s.insert)
			r.Put("/rows", s.update)
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoWith("http server listening", map[string]any{"address": s.cfg.Address})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(s.log.WithContext(r.Context())))

		s.log.HTTPEvent().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "write rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
