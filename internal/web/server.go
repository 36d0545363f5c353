// Package web provides the HTTP server and handlers for plotting action exports.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/actionplot/internal/config"
	"github.com/JonMunkholm/actionplot/internal/core"
	"github.com/JonMunkholm/actionplot/internal/report"
	"github.com/JonMunkholm/actionplot/internal/transport"
	mw "github.com/JonMunkholm/actionplot/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP server for the plotting service.
type Server struct {
	cfg     *config.Config
	opener  *transport.Opener
	limiter *core.JobLimiter
	rate    *mw.RateLimiter
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance. Local paths are never readable
// through the server; remote sources follow cfg.Server.AllowRemoteSources.
func NewServer(cfg *config.Config) *Server {
	tc := cfg.Source.Transport()
	tc.AllowFiles = false
	tc.AllowRemote = cfg.Server.AllowRemoteSources

	s := &Server{
		cfg:     cfg,
		opener:  transport.NewOpener(tc),
		limiter: core.NewJobLimiter(cfg.Server.MaxConcurrentJobs, cfg.Server.MaxWaitTime),
		router:  chi.NewRouter(),
	}
	if cfg.Server.RateLimit > 0 {
		s.rate = mw.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(middleware.Timeout(s.cfg.Server.JobTimeout))
	s.router.Use(securityHeaders)
	if s.rate != nil {
		s.router.Use(s.rate.Handler)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	// Pages run the same jobs as the API, so they sit behind the same key.
	s.router.Group(func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))

		r.Get("/plot", s.handlePlotPage)
		r.Post("/plot", s.handlePlotPage)
	})

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))

		r.Get("/schemas", s.handleListSchemas)
		r.Post("/plot", s.handlePlot)
		r.Get("/plot", s.handlePlot)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then waits for running jobs.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rate != nil {
		s.rate.Close()
	}
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.limiter.WaitForDrain(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Limiter returns the job limiter.
func (s *Server) Limiter() *core.JobLimiter {
	return s.limiter
}

// securityHeaders adds security headers to all responses. The plot page
// needs the Plotly CDN and one inline script.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline' https://cdn.plot.ly; style-src 'self' 'unsafe-inline'; img-src 'self' data: blob:")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// writePayload writes a report payload.
func writePayload(w http.ResponseWriter, p report.Payload) {
	w.Header().Set("Content-Type", "application/json")
	if err := report.WriteJSON(w, p, false); err != nil {
		slog.Error("payload encode error", "run_id", p.RunID, "error", err)
	}
}
