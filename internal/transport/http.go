package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/client"
	uptransport "github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// httpRequestTimeout bounds individual HTTP round trips. Per-call deadlines
// for tool execution are enforced separately by the router.
const httpRequestTimeout = 180 * time.Second

// newStreamHTTPConnection builds a streamable HTTP connection. There is no
// persistent channel; each JSON-RPC exchange is its own request.
func newStreamHTTPConnection(spec *settings.UpstreamSpec, opts *Options) (*Connection, error) {
	if spec.URL == "" {
		return nil, fmt.Errorf("upstream %q: no url specified for http-stream transport", spec.Name)
	}

	opts.logger().Debug("creating streamable HTTP transport",
		zap.String("upstream", spec.Name),
		zap.String("url", spec.URL),
		zap.Int("header_count", len(spec.Headers)))

	tOpts := []uptransport.StreamableHTTPCOption{
		uptransport.WithHTTPTimeout(httpRequestTimeout),
	}
	if len(spec.Headers) > 0 {
		tOpts = append(tOpts, uptransport.WithHTTPHeaders(spec.Headers))
	}

	httpTransport, err := uptransport.NewStreamableHTTP(spec.URL, tOpts...)
	if err != nil {
		return nil, fmt.Errorf("upstream %q: create streamable HTTP transport: %w", spec.Name, err)
	}

	return &Connection{
		Conn: &mcpConn{client.NewClient(httpTransport)},
		Kind: settings.KindStreamHTTP,
	}, nil
}

// newSSEConnection builds an SSE connection: a persistent event stream for
// server-to-client messages, POSTs to the sibling messages endpoint for the
// reverse direction.
func newSSEConnection(spec *settings.UpstreamSpec, opts *Options) (*Connection, error) {
	if spec.URL == "" {
		return nil, fmt.Errorf("upstream %q: no url specified for sse transport", spec.Name)
	}

	logger := opts.logger()
	logger.Debug("creating SSE transport",
		zap.String("upstream", spec.Name),
		zap.String("url", spec.URL),
		zap.Int("header_count", len(spec.Headers)))

	cOpts := []uptransport.ClientOption{
		client.WithHTTPClient(newSSEHTTPClient(logger)),
	}
	if len(spec.Headers) > 0 {
		cOpts = append(cOpts, client.WithHeaders(spec.Headers))
	}

	sseClient, err := client.NewSSEMCPClient(spec.URL, cOpts...)
	if err != nil {
		return nil, fmt.Errorf("upstream %q: create SSE client: %w", spec.Name, err)
	}

	return &Connection{
		Conn: &mcpConn{sseClient},
		Kind: settings.KindSSE,
	}, nil
}

// newSSEHTTPClient tunes the HTTP client for long-lived event streams:
// keep-alives on, a small idle pool, and a header timeout instead of an
// overall one. An overall client timeout would cut the event stream itself;
// stalled streams are caught by keep-alive pings instead.
func newSSEHTTPClient(logger *zap.Logger) *http.Client {
	var rt http.RoundTripper = &http.Transport{
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   5,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	if logger.Core().Enabled(zapcore.DebugLevel) {
		rt = NewLoggingRoundTripper(rt, logger)
	}

	return &http.Client{Transport: rt}
}
