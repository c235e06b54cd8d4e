// Package web provides the HTTP API for the conversion pipeline.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/convpipe/internal/config"
	"github.com/JonMunkholm/convpipe/internal/core"
	"github.com/JonMunkholm/convpipe/internal/database"
	"github.com/JonMunkholm/convpipe/internal/enrich"
	webmw "github.com/JonMunkholm/convpipe/internal/web/middleware"
)

// Processor is the service behind the HTTP handlers. *core.Service
// implements it.
type Processor interface {
	Process(ctx context.Context, source string, rows []core.Row) (*core.BatchResult, error)
	Records(ctx context.Context) ([]database.ProcessedRecord, error)
	DeleteRecord(ctx context.Context, id int64) error
	Summary(ctx context.Context) ([]enrich.ColumnSummary, error)
	Steps() []string
	Gatherer() prometheus.Gatherer
}

// Server is the HTTP server for the pipeline API.
type Server struct {
	svc    Processor
	cfg    *config.Config
	router *chi.Mux
	server *http.Server
}

// NewServer creates a Server with all routes registered.
func NewServer(svc Processor, cfg *config.Config) *Server {
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs", http.StatusTemporaryRedirect)
	})
	s.router.Get("/docs", s.handleDocs)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.svc.Gatherer(), promhttp.HandlerOpts{}))

	s.router.Group(func(r chi.Router) {
		r.Use(webmw.APIKeyAuth(s.cfg.Security.RequireAPIKey, s.cfg.Security.APIKeys))

		r.Post("/process_data/", s.handleProcessData)
		r.Post("/process_data", s.handleProcessData)
		r.Get("/data/", s.handleListData)
		r.Get("/data", s.handleListData)
		r.Delete("/data/{id}", s.handleDeleteData)
		r.Get("/summary/", s.handleSummary)
		r.Get("/summary", s.handleSummary)
	})
}

// Start listens on the configured address and blocks until the server stops.
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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
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
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
