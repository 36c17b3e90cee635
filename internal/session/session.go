// Package session owns the downstream side of the hub: one MCP server per
// (scope, principal) pair, the SSE and streamable-HTTP transports serving
// it, and the registry of live client sessions with idle expiry.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/access"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/router"
)

// Info is the registry entry for one live downstream session.
type Info struct {
	SessionID     string       `json:"session_id"`
	Scope         access.Scope `json:"scope"`
	PrincipalID   string       `json:"principal_id"`
	ClientName    string       `json:"client_name,omitempty"`
	ClientVersion string       `json:"client_version,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Endpoints are the public paths a scope server is mounted on. The message
// path is advertised to SSE clients in the endpoint event, so it must match
// the route the HTTP layer serves.
type Endpoints struct {
	SSE     string
	Message string
}

// ScopeServer serves every downstream session bound to one (scope,
// principal) pair. All its sessions see the same filtered tool view, so
// view maintenance and change notification happen here, once, rather than
// per session.
type ScopeServer struct {
	key       string
	scope     access.Scope
	principal access.Principal

	mcp        *mcpserver.MCPServer
	sse        *mcpserver.SSEServer
	streamable *mcpserver.StreamableHTTPServer

	mu   sync.RWMutex
	view *access.View
	snap *router.ViewSnapshot
}

// Scope returns the server's routing scope.
func (ss *ScopeServer) Scope() access.Scope { return ss.scope }

// Principal returns the effective principal the server was created for.
func (ss *ScopeServer) Principal() access.Principal { return ss.principal }

// SSEHandler serves the event-stream endpoint.
func (ss *ScopeServer) SSEHandler() http.Handler { return ss.sse.SSEHandler() }

// MessageHandler serves client-to-server posts for SSE sessions.
func (ss *ScopeServer) MessageHandler() http.Handler { return ss.sse.MessageHandler() }

// StreamableHandler serves the streamable-HTTP endpoint (POST requests,
// GET listen streams, DELETE session teardown).
func (ss *ScopeServer) StreamableHandler() http.Handler { return ss.streamable }

func (ss *ScopeServer) current() (*access.View, *router.ViewSnapshot) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.view, ss.snap
}

func (ss *ScopeServer) currentView() *access.View {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.view
}

// setCurrent installs a re-resolved view and reports whether the published
// tool set changed.
func (ss *ScopeServer) setCurrent(view *access.View, snap *router.ViewSnapshot) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	changed := ss.snap == nil || ss.snap.Fingerprint() != snap.Fingerprint()
	ss.view = view
	ss.snap = snap
	return changed
}

// publish swaps the MCP server's registered tools to match the snapshot.
// The library notifies initialized sessions with tools/list_changed, so
// this must only run when setCurrent reported a change.
func (ss *ScopeServer) publish(rt *router.Router, snap *router.ViewSnapshot) {
	tools := make([]mcpserver.ServerTool, 0, len(snap.Published))
	for _, p := range snap.Published {
		tools = append(tools, mcpserver.ServerTool{
			Tool:    p.MCPTool(),
			Handler: ss.callHandler(rt),
		})
	}
	ss.mcp.SetTools(tools...)
}

// callHandler dispatches a published tool by its effective name against
// the view current at call time. Routing failures come back as in-band
// tool errors so the client always gets a response for its request id.
func (ss *ScopeServer) callHandler(rt *router.Router) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view, snap := ss.current()
		result, err := rt.CallTool(ctx, view, snap, request.Params.Name, request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return result, nil
	}
}

func (ss *ScopeServer) registerSmartTools(rt *router.Router) {
	ss.mcp.AddTool(router.SearchToolsTool(), rt.HandleSearchTools(ss.currentView))
	ss.mcp.AddTool(router.CallToolTool(), rt.HandleCallTool(ss.currentView))
}

// shutdown detaches every live transport of this scope server.
func (ss *ScopeServer) shutdown(ctx context.Context, logger *zap.Logger) {
	if err := ss.sse.Shutdown(ctx); err != nil {
		logger.Debug("sse server shutdown", zap.String("key", ss.key), zap.Error(err))
	}
	if err := ss.streamable.Shutdown(ctx); err != nil {
		logger.Debug("streamable server shutdown", zap.String("key", ss.key), zap.Error(err))
	}
}
