// Package reqcontext carries request-scoped metadata through context:
// correlation IDs that tie a downstream MCP call to the upstream calls it
// fans out to, and the surface a request entered through.
package reqcontext

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// ContextKey is the type for context keys to avoid collisions.
type ContextKey string

const (
	// CorrelationIDKey is the context key for correlation IDs.
	CorrelationIDKey ContextKey = "correlation_id"

	// RequestSourceKey is the context key for the request source.
	RequestSourceKey ContextKey = "request_source"
)

// RequestSource indicates which surface a request entered through.
type RequestSource string

const (
	// SourceRESTAPI marks requests from the management REST API.
	SourceRESTAPI RequestSource = "REST_API"

	// SourceCLI marks requests from a CLI command.
	SourceCLI RequestSource = "CLI"

	// SourceMCP marks requests from a downstream MCP client.
	SourceMCP RequestSource = "MCP"

	// SourceInternal marks background work such as keep-alive pings and
	// catalog refreshes.
	SourceInternal RequestSource = "INTERNAL"

	// SourceUnknown is returned when no source was recorded.
	SourceUnknown RequestSource = "UNKNOWN"
)

// GenerateCorrelationID returns a new unique correlation ID.
func GenerateCorrelationID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-" + strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}

// WithCorrelationID stores a correlation ID in the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// GetCorrelationID returns the correlation ID from the context, or "".
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestSource stores the request source in the context.
func WithRequestSource(ctx context.Context, source RequestSource) context.Context {
	return context.WithValue(ctx, RequestSourceKey, source)
}

// GetRequestSource returns the request source from the context.
func GetRequestSource(ctx context.Context) RequestSource {
	if ctx == nil {
		return SourceUnknown
	}
	if source, ok := ctx.Value(RequestSourceKey).(RequestSource); ok {
		return source
	}
	return SourceUnknown
}

// WithMetadata stamps the context with a fresh correlation ID and the given
// source in one step. Entry points call this once; everything downstream
// reads the values back out.
func WithMetadata(ctx context.Context, source RequestSource) context.Context {
	ctx = WithCorrelationID(ctx, GenerateCorrelationID())
	return WithRequestSource(ctx, source)
}
