// Package api serves the operator HTTP API: run progress, the log stream,
// cancellation, on-demand generation and output file metadata.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/llmstxt/internal/filecache"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/metrics"
	"git.home.luguber.info/inful/llmstxt/internal/progress"
)

// Triggerer starts generation runs. *runner.Runner implements it.
type Triggerer interface {
	Trigger(ctx context.Context, source string) (string, error)
}

// Deps are the collaborators of the API.
type Deps struct {
	Tracker      *progress.Tracker
	Runner       Triggerer
	Files        *filecache.Cache
	OutputFiles  []string // absolute paths reported by GET /files
	Registry     *prom.Registry
	Token        string
	LogRetention time.Duration
	PollInterval time.Duration // progress event stream
	Logger       *slog.Logger
}

// Server represents the API server.
type Server struct {
	Addr   string
	deps   Deps
	router *chi.Mux
	server *http.Server
	errs   *errors.HTTPErrorAdapter
	logger *slog.Logger
}

// NewServer creates a new API server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Files == nil {
		deps.Files = filecache.New()
	}
	if deps.LogRetention <= 0 {
		deps.LogRetention = 24 * time.Hour
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = time.Second
	}
	s := &Server{
		Addr:   addr,
		deps:   deps,
		router: chi.NewRouter(),
		errs:   errors.NewHTTPErrorAdapter(deps.Logger),
		logger: deps.Logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	if s.deps.Registry != nil {
		s.router.Method(http.MethodGet, "/metrics", metrics.HTTPHandler(s.deps.Registry, s.logger))
	}

	s.router.Group(func(r chi.Router) {
		r.Use(BearerAuth(s.deps.Token))

		// Event streams outlive the request timeout.
		r.Get("/progress/{run_id}/events", s.handleProgressEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/progress/current", s.handleCurrentProgress)
			r.Get("/progress/{run_id}", s.handleProgress)
			r.Post("/progress/{run_id}/cancel", s.handleCancel)
			r.Get("/logs", s.handleLogs)
			r.Delete("/logs", s.handlePruneLogs)
			r.Post("/generate", s.handleGenerate)
			r.Get("/files", s.handleFiles)
		})
	})
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("Starting API server", "addr", s.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Response represents a standard API response.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`

	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// Error writes an error response.
func (s *Server) Error(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, Response{Success: false, Error: message})
}

// Success writes a success response.
func (s *Server) Success(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, Response{Success: true, Data: data})
}

// Fail maps a classified error to its status code and writes it.
func (s *Server) Fail(w http.ResponseWriter, r *http.Request, err error) {
	status := s.errs.StatusCodeFor(err)
	body := s.errs.FormatErrorResponse(err)
	s.errs.Log(r, status, err)
	writeJSON(w, status, Response{
		Success: false, Error: body.Error, Code: body.Code,
		Details: body.Details, Retryable: body.Retryable,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tracker != nil {
		if err := s.deps.Tracker.DB().PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
