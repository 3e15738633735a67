// Package web provides the HTTP server and handlers for the file staging UI.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/filestage/internal/config"
	"github.com/JonMunkholm/filestage/internal/history"
	"github.com/JonMunkholm/filestage/internal/preview"
	"github.com/JonMunkholm/filestage/internal/session"
	"github.com/JonMunkholm/filestage/internal/web/middleware"
)

// HistoryReader lists stored submissions.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// Server is the HTTP server for the file staging application.
type Server struct {
	cfg      *config.Config
	sessions *session.Manager
	previews *preview.Registry
	history  HistoryReader

	intake        *intakeLimiter
	limiter       *rateLimiter
	uploadLimiter *rateLimiter

	router *chi.Mux
	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables /api/submissions backed by h.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, sessions *session.Manager, previews *preview.Registry, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		previews: previews,
		intake:   newIntakeLimiter(cfg.Staging.MaxConcurrentIntake, cfg.Staging.IntakeWait),
		router:   chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Rate.Enabled {
		s.limiter = newRateLimiter(cfg.Rate.RequestsPerMinute)
		s.uploadLimiter = newRateLimiter(cfg.Rate.UploadLimit)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))

	// Security hardening
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	s.router.Use(rateLimit(s.limiter))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Group(func(r chi.Router) {
		r.Use(s.requestTimeout)
		r.Get("/healthz", s.handleHealth)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.withSession)

		// Long-lived stream, no request timeout
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.requestTimeout)

			// Page and form posts (post/redirect/get)
			r.Get("/", s.handleIndex)
			r.Get("/preview/{id}", s.handlePreview)
			r.With(rateLimit(s.uploadLimiter)).Post("/files", s.handleAddFiles)
			r.Post("/files/{index}/replace", s.handleBeginReplace)
			r.Post("/files/{index}/remove", s.handleRemove)
			r.With(rateLimit(s.uploadLimiter)).Post("/replace", s.handleReplace)
			r.Post("/replace/cancel", s.handleCancelReplace)
			r.Post("/submit", s.handleSubmit)
			r.Post("/notice/dismiss", s.handleDismissNotice)
			r.Post("/error/dismiss", s.handleDismissError)

			// API routes
			r.Route("/api", func(r chi.Router) {
				r.Get("/state", s.handleState)

				r.With(rateLimit(s.uploadLimiter)).Post("/files", s.handleAddFiles)
				r.Post("/files/{index}/replace", s.handleBeginReplace)
				r.Delete("/files/{index}", s.handleRemove)

				r.With(rateLimit(s.uploadLimiter)).Post("/replace", s.handleReplace)
				r.Post("/replace/cancel", s.handleCancelReplace)

				r.Post("/submit", s.handleSubmit)
				r.Post("/notice/dismiss", s.handleDismissNotice)
				r.Post("/error/dismiss", s.handleDismissError)

				r.Get("/submissions", s.handleSubmissions)
			})
		})
	})
}

// requestTimeout cancels the request context after the configured timeout.
func (s *Server) requestTimeout(next http.Handler) http.Handler {
	if s.cfg.Server.RequestTimeout <= 0 {
		return next
	}
	return chimw.Timeout(s.cfg.Server.RequestTimeout)(next)
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// WaitForIntake blocks until no upload is being parsed or ctx is done.
func (s *Server) WaitForIntake(ctx context.Context) error {
	return s.intake.WaitForDrain(ctx)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.close()
	}
	if s.uploadLimiter != nil {
		s.uploadLimiter.close()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME type sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Prevent clickjacking
			w.Header().Set("X-Frame-Options", "DENY")

			// Content Security Policy - the page uses inline styles and one
			// inline script; previews load from self
			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; frame-ancestors 'none'")
			}

			// Control referrer information
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit applies rl, or nothing when rate limiting is disabled.
func rateLimit(rl *rateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.middleware
}
