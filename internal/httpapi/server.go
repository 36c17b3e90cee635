// Package httpapi is the hub's HTTP surface: the downstream MCP endpoints
// (SSE and streamable HTTP, with optional scope and principal path
// segments) and the management API under /api/v1.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/auth"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/reqcontext"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/runtime"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

const apiTimeout = 60 * time.Second

// Server routes HTTP traffic to the runtime's components.
type Server struct {
	logger *zap.Logger
	rt     *runtime.Runtime
	router *chi.Mux
}

// NewServer builds the full route tree over the given runtime.
func NewServer(rt *runtime.Runtime, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger: logger,
		rt:     rt,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	obs := s.rt.Observability()
	if obs != nil {
		s.router.Use(obs.HTTPMiddleware())
	}
	s.router.Use(s.loggingMiddleware())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(s.correlationIDMiddleware())

	if obs != nil {
		if health := obs.Health(); health != nil {
			s.router.Get("/healthz", health.HealthzHandler())
			s.router.Get("/readyz", health.ReadyzHandler())
		}
		if metrics := obs.Metrics(); metrics != nil {
			s.router.Handle("/metrics", metrics.Handler())
		}
	}

	// Downstream MCP endpoints. The scope segment is optional; a leading
	// principal segment sets the effective user for the session. Static
	// routes win over the principal wildcard in chi, so the management
	// and observability paths are never shadowed.
	s.mountDownstream(s.router)
	s.router.Route("/{principal}", func(r chi.Router) {
		s.mountDownstream(r)
	})

	// Management API.
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(apiTimeout))
		r.Use(s.apiKeyMiddleware())

		r.Get("/status", s.handleStatus)

		r.Get("/upstreams", s.handleListUpstreams)
		r.Post("/upstreams", s.handleAddUpstream)
		r.Route("/upstreams/{name}", func(r chi.Router) {
			r.Get("/", s.handleGetUpstream)
			r.Put("/", s.handleUpdateUpstream)
			r.Delete("/", s.handleRemoveUpstream)
			r.Post("/enable", s.handleEnableUpstream)
			r.Post("/disable", s.handleDisableUpstream)
			r.Post("/restart", s.handleRestartUpstream)
			r.Get("/tools", s.handleUpstreamTools)
			r.Get("/logs", s.handleUpstreamLogs)
		})

		r.Get("/groups", s.handleListGroups)
		r.Post("/groups", s.handleAddGroup)
		r.Put("/groups/{id}", s.handleUpdateGroup)
		r.Delete("/groups/{id}", s.handleRemoveGroup)

		r.Get("/index/search", s.handleIndexSearch)

		r.Get("/tool-calls", s.handleListToolCalls)
		r.Get("/tool-calls/stats", s.handleToolCallStats)
		r.Get("/tool-calls/{id}", s.handleGetToolCall)

		r.Get("/sessions", s.handleListSessions)

		r.Post("/import", s.handleImport)

		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handleApplyConfig)
		r.Post("/config/reload", s.handleReloadConfig)
	})

	// Hub event stream for dashboards.
	s.router.With(s.apiKeyMiddleware()).Get("/events", s.handleEvents)
	s.router.With(s.apiKeyMiddleware()).Head("/events", s.handleEvents)
}

// Response envelope

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeSuccess(w http.ResponseWriter, data any) {
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, apiResponse{Success: false, Error: message})
}

// writeKindError maps an error's taxonomy kind to an HTTP status.
func (s *Server) writeKindError(w http.ResponseWriter, err error) {
	s.writeError(w, statusForKind(mcperr.KindOf(err)), err.Error())
}

// writeMutateError reports a failed settings mutation. Errors without a
// taxonomy kind come from validation and are the caller's fault.
func (s *Server) writeMutateError(w http.ResponseWriter, err error) {
	if kind := mcperr.KindOf(err); kind != "" {
		s.writeError(w, statusForKind(kind), err.Error())
		return
	}
	s.writeError(w, http.StatusBadRequest, err.Error())
}

func statusForKind(kind mcperr.Kind) int {
	switch kind {
	case mcperr.KindUnauthorized:
		return http.StatusUnauthorized
	case mcperr.KindScopeNotFound, mcperr.KindToolNotFound, mcperr.KindSessionNotFound:
		return http.StatusNotFound
	case mcperr.KindToolNotAllowed:
		return http.StatusForbidden
	case mcperr.KindConfiguration:
		return http.StatusBadRequest
	case mcperr.KindUpstreamUnavailable, mcperr.KindEmbedderUnavailable:
		return http.StatusServiceUnavailable
	case mcperr.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Middleware

func (s *Server) currentSettings() *settings.Settings {
	snap := s.rt.SettingsStore().Current()
	if snap == nil {
		return nil
	}
	return snap.Settings
}

func (s *Server) authConfig() *settings.AuthConfig {
	if cfg := s.currentSettings(); cfg != nil {
		return cfg.Auth
	}
	return nil
}

// apiKeyMiddleware gates the management API with the configured static
// key. An unset key leaves the API open, which matches the single-user
// local deployment the defaults target.
func (s *Server) apiKeyMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.CheckAPIKey(r, s.authConfig()); err != nil {
				s.writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) correlationIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = reqcontext.GenerateCorrelationID()
			}
			ctx := reqcontext.WithCorrelationID(r.Context(), correlationID)
			ctx = reqcontext.WithRequestSource(ctx, reqcontext.SourceRESTAPI)
			w.Header().Set("X-Correlation-ID", correlationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) loggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)
			s.logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}

// responseWriter captures the status code and keeps streaming handlers
// flushable.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
