package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/KaramelBytes/cleanloom/internal/cleaning"
	"github.com/KaramelBytes/cleanloom/internal/parser"
	"github.com/KaramelBytes/cleanloom/internal/session"
	"github.com/KaramelBytes/cleanloom/internal/source"
)

// Options configures the HTTP API.
type Options struct {
	// MaxUploadBytes caps multipart uploads; 0 means 50 MiB.
	MaxUploadBytes int64
	// SessionIdle is how long an unused session survives; 0 disables sweeping.
	SessionIdle time.Duration
	// Parse applies to uploaded files.
	Parse parser.Options
	Logger *slog.Logger
}

// Server exposes sessions over HTTP.
type Server struct {
	store    *session.Store
	fetcher  *source.Fetcher
	cleaner  *cleaning.Service // nil when no runtime is configured
	opt      Options
	log      *slog.Logger
	validate *validator.Validate
	router   *chi.Mux
}

// New wires the router. cleaner may be nil, in which case /clean answers 503.
func New(store *session.Store, fetcher *source.Fetcher, cleaner *cleaning.Service, opt Options) *Server {
	if opt.MaxUploadBytes <= 0 {
		opt.MaxUploadBytes = source.DefaultMaxBytes
	}
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	s := &Server{
		store:    store,
		fetcher:  fetcher,
		cleaner:  cleaner,
		opt:      opt,
		log:      lg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteSession)
			r.Post("/reset", s.handleReset)
			r.Post("/upload", s.handleUpload)
			r.Post("/fetch", s.handleFetch)
			r.Get("/schema", s.handleSchema)
			r.Get("/eda", s.handleEDA)
			r.Get("/preview", s.handlePreview)
			r.Get("/report", s.handleReport)
			r.Get("/plan", s.handlePlan)
			r.Post("/clean", s.handleClean)
			r.Get("/export.csv", s.handleExportCSV)
			r.Get("/export.xlsx", s.handleExportXLSX)
		})
	})
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// Idle sessions are swept in the background while it runs.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.opt.SessionIdle > 0 {
		go s.sweep(ctx, s.opt.SessionIdle)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) sweep(ctx context.Context, maxIdle time.Duration) {
	interval := maxIdle / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.store.Sweep(maxIdle); n > 0 {
				s.log.Info("swept idle sessions", "removed", n, "live", s.store.Len())
			}
		}
	}
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(lg *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			lg.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
