package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/auth"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/session"
)

// mountDownstream registers the MCP transport endpoints on the given
// router, with and without a scope segment. The same handlers serve the
// principal-prefixed variants; chi exposes the segments as URL params.
func (s *Server) mountDownstream(r chi.Router) {
	r.Get("/sse", s.handleSSE)
	r.Get("/sse/{scope}", s.handleSSE)
	r.Post("/messages", s.handleMessage)
	r.Post("/messages/{scope}", s.handleMessage)
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		r.Method(method, "/mcp", http.HandlerFunc(s.handleStreamable))
		r.Method(method, "/mcp/{scope}", http.HandlerFunc(s.handleStreamable))
	}
}

// scopeServer authenticates the request, applies the principal segment
// and resolves the (scope, principal) pair to its server.
func (s *Server) scopeServer(r *http.Request) (*session.ScopeServer, error) {
	authed, err := auth.PrincipalFromRequest(r, s.authConfig())
	if err != nil {
		return nil, err
	}
	principalSeg := chi.URLParam(r, "principal")
	effective, err := auth.EffectivePrincipal(authed, principalSeg)
	if err != nil {
		return nil, err
	}
	scopeSeg := chi.URLParam(r, "scope")
	return s.rt.Sessions().ServerFor(effective, scopeSeg, downstreamEndpoints(principalSeg, scopeSeg))
}

// downstreamEndpoints computes the public paths for a scope server. The
// message path is advertised to SSE clients in the endpoint event, so it
// must mirror the mounted routes exactly.
func downstreamEndpoints(principal, scope string) session.Endpoints {
	base := ""
	if principal != "" {
		base = "/" + principal
	}
	ep := session.Endpoints{SSE: base + "/sse", Message: base + "/messages"}
	if scope != "" {
		ep.SSE += "/" + scope
		ep.Message += "/" + scope
	}
	return ep
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	ss, err := s.scopeServer(r)
	if err != nil {
		s.writeKindError(w, err)
		return
	}
	s.logger.Debug("sse session opened",
		zap.String("scope", ss.Scope().String()),
		zap.String("principal", ss.Principal().ID))
	ss.SSEHandler().ServeHTTP(w, r)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	ss, err := s.scopeServer(r)
	if err != nil {
		s.writeKindError(w, err)
		return
	}
	ss.MessageHandler().ServeHTTP(w, r)
}

func (s *Server) handleStreamable(w http.ResponseWriter, r *http.Request) {
	ss, err := s.scopeServer(r)
	if err != nil {
		s.writeKindError(w, err)
		return
	}
	ss.StreamableHandler().ServeHTTP(w, r)
}
