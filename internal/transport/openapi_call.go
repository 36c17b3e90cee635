package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// maxResponseSize bounds REST responses buffered into a tool result.
const maxResponseSize = 32 << 20

// errorBodyLimit caps how much of an error response body is echoed into
// the tool error message.
const errorBodyLimit = 4096

// CallTool translates a synthesized tool call into an HTTP request against
// the service. HTTP-level failures surface as tool errors, not transport
// errors: the service answered, it just said no.
func (c *openAPIConn) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c.mu.RLock()
	op, ok := c.ops[req.Params.Name]
	baseURL := c.baseURL
	c.mu.RUnlock()
	if !ok || baseURL == nil {
		return nil, fmt.Errorf("unknown tool %q", req.Params.Name)
	}

	args := req.GetArguments()

	httpReq, callErr := c.buildRequest(ctx, op, baseURL, args)
	if callErr != nil {
		return mcp.NewToolResultError(callErr.Error()), nil
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s %s: %w", op.method, op.path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response for %s %s: %w", op.method, op.path, err)
	}

	c.logger.Debug("REST tool call completed",
		zap.String("tool", req.Params.Name),
		zap.String("method", op.method),
		zap.String("path", op.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode >= http.StatusBadRequest {
		msg := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if len(data) > 0 {
			body := data
			if len(body) > errorBodyLimit {
				body = body[:errorBodyLimit]
			}
			msg += ": " + string(body)
		}
		return mcp.NewToolResultError(msg), nil
	}

	if len(data) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))), nil
	}

	mediaType := responseMediaType(resp)
	if isTextualMedia(mediaType) {
		return mcp.NewToolResultText(string(data)), nil
	}

	summary := fmt.Sprintf("%s response (%d bytes)", mediaType, len(data))
	return mcp.NewToolResultResource(summary, mcp.BlobResourceContents{
		URI:      httpReq.URL.String(),
		MIMEType: mediaType,
		Blob:     base64.StdEncoding.EncodeToString(data),
	}), nil
}

// buildRequest maps tool arguments onto the operation: path parameters into
// the URL template, query and header parameters onto the request, and the
// rest into a JSON body when the operation takes one.
func (c *openAPIConn) buildRequest(ctx context.Context, op *restOperation, baseURL *url.URL, args map[string]any) (*http.Request, error) {
	consumed := make(map[string]struct{})

	// Track the path in both decoded and escaped form: url.URL.Path holds
	// the decoded value, and RawPath must carry the escaped rendering or
	// String() would re-escape substituted percent signs.
	path := op.path
	rawPath := op.path
	for _, name := range op.pathParams {
		v, ok := args[name]
		if !ok || v == nil {
			return nil, fmt.Errorf("missing required path parameter %q", name)
		}
		value := argString(v)
		path = strings.ReplaceAll(path, "{"+name+"}", value)
		rawPath = strings.ReplaceAll(rawPath, "{"+name+"}", url.PathEscape(value))
		consumed[name] = struct{}{}
	}

	query := url.Values{}
	for _, name := range op.queryParams {
		v, ok := args[name]
		consumed[name] = struct{}{}
		if !ok || v == nil {
			continue
		}
		if items, isList := v.([]any); isList {
			for _, item := range items {
				query.Add(name, argString(item))
			}
			continue
		}
		query.Add(name, argString(v))
	}

	var body io.Reader
	hasBody := false
	switch {
	case op.wrappedBody:
		consumed["request_body"] = struct{}{}
		if v, ok := args["request_body"]; ok && v != nil {
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
			body = bytes.NewReader(data)
			hasBody = true
		}
	case op.hasBody:
		for _, name := range op.headerParams {
			consumed[name] = struct{}{}
		}
		payload := make(map[string]any)
		for name, v := range args {
			if _, taken := consumed[name]; taken {
				continue
			}
			payload[name] = v
		}
		if len(payload) > 0 {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
			body = bytes.NewReader(data)
			hasBody = true
		}
	}

	target := *baseURL
	target.Path = joinURLPath(baseURL.Path, path)
	target.RawPath = joinURLPath(baseURL.EscapedPath(), rawPath)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, op.method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request for %s %s: %w", op.method, op.path, err)
	}

	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, name := range op.headerParams {
		if v, ok := args[name]; ok && v != nil {
			req.Header.Set(name, argString(v))
		}
	}
	// Configured headers last: authentication must win over tool arguments.
	c.applyHeaders(req)

	return req, nil
}

// argString renders a decoded JSON argument for use in a URL or header.
func argString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

func joinURLPath(base, path string) string {
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func responseMediaType(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ct
	}
	return mediaType
}

// isTextualMedia reports whether a response body can go into a text content
// block as-is. Everything else is wrapped as a base64 resource blob.
func isTextualMedia(mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/javascript",
		"application/x-www-form-urlencoded", "application/yaml", "application/x-yaml":
		return true
	}
	return strings.HasSuffix(mediaType, "+json") || strings.HasSuffix(mediaType, "+xml")
}
