// Package transport builds MCP client connections for the four upstream
// kinds: stdio child processes, SSE streams, streamable HTTP, and the
// OpenAPI adapter that synthesizes tools from a REST description. Every
// kind is presented through the same Conn contract so the supervisor can
// drive them uniformly.
package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// Conn is the uniform contract every upstream connection satisfies.
// *client.Client from mcp-go implements it directly; the OpenAPI adapter
// implements it by translating tool calls into HTTP requests.
type Conn interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	OnNotification(handler func(mcp.JSONRPCNotification))
	OnConnectionLost(handler func(error))
	Close() error
}

// Connection pairs a Conn with kind-specific extras. For stdio upstreams
// Stderr becomes readable after Start; for every other kind it stays nil.
type Connection struct {
	Conn Conn
	Kind settings.UpstreamKind

	stdio stderrSource
}

type stderrSource interface {
	Stderr() io.Reader
}

// Stderr returns the child process stderr stream for stdio connections.
func (c *Connection) Stderr() (io.Reader, bool) {
	if c.stdio == nil {
		return nil, false
	}
	r := c.stdio.Stderr()
	return r, r != nil
}

// Options tunes connection construction.
type Options struct {
	// Logger receives transport-level diagnostics. Defaults to zap.NewNop.
	Logger *zap.Logger

	// Env builds the child environment for stdio upstreams. Defaults to
	// the safe-inherit policy in this package.
	Env *EnvBuilder
}

func (o *Options) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Options) env() *EnvBuilder {
	if o == nil || o.Env == nil {
		return NewEnvBuilder(nil)
	}
	return o.Env
}

// New constructs a Connection for the spec's kind. The connection is not
// started; callers drive Start and Initialize themselves so connect
// timeouts stay under their control.
func New(spec *settings.UpstreamSpec, opts *Options) (*Connection, error) {
	if spec == nil {
		return nil, fmt.Errorf("nil upstream spec")
	}

	switch spec.Kind {
	case settings.KindStdio:
		return newStdioConnection(spec, opts)
	case settings.KindSSE:
		return newSSEConnection(spec, opts)
	case settings.KindStreamHTTP:
		return newStreamHTTPConnection(spec, opts)
	case settings.KindOpenAPI:
		return newOpenAPIConnection(spec, opts)
	default:
		return nil, fmt.Errorf("upstream %q: unknown kind %q", spec.Name, spec.Kind)
	}
}

// mcpConn adapts *client.Client to Conn. The mcp-go client already has
// every method; the wrapper only exists so the interface assertion lives
// in one place.
type mcpConn struct {
	*client.Client
}

var _ Conn = (*mcpConn)(nil)
