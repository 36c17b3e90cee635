package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// maxSpecSize bounds fetched OpenAPI documents.
const maxSpecSize = 16 << 20

// openAPIConn synthesizes an MCP server from an OpenAPI description: one
// tool per operation, tool calls translated into HTTP requests. It
// implements Conn so the supervisor treats it like any other upstream.
type openAPIConn struct {
	name    string
	specURL string
	baseRef string
	headers map[string]string
	http    *http.Client
	logger  *zap.Logger

	mu      sync.RWMutex
	started bool
	baseURL *url.URL
	info    mcp.Implementation
	tools   []mcp.Tool
	ops     map[string]*restOperation
}

// restOperation is the call-time view of one synthesized tool.
type restOperation struct {
	method       string
	path         string
	pathParams   []string
	queryParams  []string
	headerParams []string
	hasBody      bool
	wrappedBody  bool
}

var _ Conn = (*openAPIConn)(nil)

func newOpenAPIConnection(spec *settings.UpstreamSpec, opts *Options) (*Connection, error) {
	if spec.SpecURL == "" {
		return nil, fmt.Errorf("upstream %q: no spec_url specified for openapi transport", spec.Name)
	}

	conn := &openAPIConn{
		name:    spec.Name,
		specURL: spec.SpecURL,
		baseRef: spec.BaseURL,
		headers: spec.Headers,
		http:    &http.Client{Timeout: httpRequestTimeout},
		logger:  opts.logger().With(zap.String("upstream", spec.Name)),
	}

	return &Connection{
		Conn: conn,
		Kind: settings.KindOpenAPI,
	}, nil
}

// Start fetches and parses the document and synthesizes the tool set.
// Reconnection re-runs this, so edits to the remote description are picked
// up on the supervisor's next reconcile.
func (c *openAPIConn) Start(ctx context.Context) error {
	data, err := c.fetchDocument(ctx)
	if err != nil {
		return fmt.Errorf("fetch OpenAPI document: %w", err)
	}

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("parse OpenAPI document: %w", err)
	}
	// Suffix duplicate operationIds before validating: kin-openapi rejects
	// documents that reuse an id, but real-world documents do, and the
	// renamed operations still synthesize into addressable tools.
	dedupeOperationIDs(doc)
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("OpenAPI document validation failed: %w", err)
	}

	baseURL, err := c.resolveBaseURL(doc)
	if err != nil {
		return err
	}

	tools, ops := c.synthesizeTools(doc)

	c.mu.Lock()
	c.started = true
	c.baseURL = baseURL
	c.tools = tools
	c.ops = ops
	c.info = mcp.Implementation{Name: documentTitle(doc, c.name), Version: documentVersion(doc)}
	c.mu.Unlock()

	c.logger.Info("synthesized tools from OpenAPI document",
		zap.String("base_url", baseURL.String()),
		zap.Int("tool_count", len(tools)))

	return nil
}

// Initialize returns a synthetic handshake result. There is no remote MCP
// server; the document's metadata stands in for serverInfo.
func (c *openAPIConn) Initialize(_ context.Context, _ mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.started {
		return nil, fmt.Errorf("openapi connection not started")
	}

	result := &mcp.InitializeResult{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ServerInfo:      c.info,
	}
	result.Capabilities.Tools = &struct {
		ListChanged bool `json:"listChanged,omitempty"`
	}{}
	return result, nil
}

func (c *openAPIConn) ListTools(_ context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.started {
		return nil, fmt.Errorf("openapi connection not started")
	}

	tools := make([]mcp.Tool, len(c.tools))
	copy(tools, c.tools)
	return &mcp.ListToolsResult{Tools: tools}, nil
}

// Ping issues a HEAD request against the base URL. Any response proves the
// service is reachable; 5xx means it is up but unhealthy.
func (c *openAPIConn) Ping(ctx context.Context) error {
	c.mu.RLock()
	baseURL := c.baseURL
	c.mu.RUnlock()
	if baseURL == nil {
		return fmt.Errorf("openapi connection not started")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL.String(), nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("service unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}

// OnNotification is a no-op: REST services never push list changes.
func (c *openAPIConn) OnNotification(func(mcp.JSONRPCNotification)) {}

// OnConnectionLost is a no-op: there is no persistent channel to lose.
func (c *openAPIConn) OnConnectionLost(func(error)) {}

func (c *openAPIConn) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *openAPIConn) fetchDocument(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(c.specURL, "http://") && !strings.HasPrefix(c.specURL, "https://") {
		data, err := os.ReadFile(c.specURL)
		if err != nil {
			return nil, err
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.specURL, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, c.specURL)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxSpecSize))
}

// resolveBaseURL prefers the configured base_url, then the document's first
// server entry. Relative server URLs resolve against the spec URL so specs
// served by the API itself keep working.
func (c *openAPIConn) resolveBaseURL(doc *openapi3.T) (*url.URL, error) {
	raw := c.baseRef
	if raw == "" && len(doc.Servers) > 0 {
		raw = doc.Servers[0].URL
	}
	if raw == "" {
		return nil, fmt.Errorf("no base_url configured and the document declares no servers")
	}

	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base URL %q: %w", raw, err)
	}

	if !base.IsAbs() {
		specURL, err := url.Parse(c.specURL)
		if err != nil || !specURL.IsAbs() {
			return nil, fmt.Errorf("base URL %q is relative and the spec location cannot anchor it", raw)
		}
		base = specURL.ResolveReference(base)
	}

	return base, nil
}

func (c *openAPIConn) applyHeaders(req *http.Request) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
}

// dedupeOperationIDs renames repeated operationIds with a numeric suffix,
// walking paths and methods in sorted order so the first occurrence keeps
// the bare id. Empty ids are left alone; synthesis derives a name from the
// method and path for those.
func dedupeOperationIDs(doc *openapi3.T) {
	if doc.Paths == nil {
		return
	}

	paths := make([]string, 0, len(doc.Paths.Map()))
	for path := range doc.Paths.Map() {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	seen := make(map[string]struct{})
	for _, path := range paths {
		item := doc.Paths.Map()[path]
		if item == nil {
			continue
		}

		methods := make([]string, 0, len(item.Operations()))
		for method := range item.Operations() {
			methods = append(methods, method)
		}
		sort.Strings(methods)

		for _, method := range methods {
			op := item.Operations()[method]
			if op == nil || op.OperationID == "" {
				continue
			}
			id := op.OperationID
			for n := 2; ; n++ {
				if _, taken := seen[id]; !taken {
					break
				}
				id = fmt.Sprintf("%s_%d", op.OperationID, n)
			}
			seen[id] = struct{}{}
			op.OperationID = id
		}
	}
}

// synthesizeTools walks every path and method and builds one tool per
// operation. Names come from operationId, falling back to method plus path;
// collisions get a numeric suffix so the tool set stays addressable.
func (c *openAPIConn) synthesizeTools(doc *openapi3.T) ([]mcp.Tool, map[string]*restOperation) {
	ops := make(map[string]*restOperation)
	var tools []mcp.Tool

	if doc.Paths == nil {
		return tools, ops
	}

	paths := make([]string, 0, len(doc.Paths.Map()))
	for path := range doc.Paths.Map() {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		item := doc.Paths.Map()[path]
		if item == nil {
			continue
		}

		methods := make([]string, 0, len(item.Operations()))
		for method := range item.Operations() {
			methods = append(methods, method)
		}
		sort.Strings(methods)

		for _, method := range methods {
			op := item.Operations()[method]
			if op == nil {
				continue
			}

			name := sanitizeToolName(op.OperationID)
			if name == "" {
				name = sanitizeToolName(strings.ToLower(method) + "_" + path)
			}
			if name == "" {
				name = "unnamed_operation"
			}
			base := name
			for n := 2; ; n++ {
				if _, taken := ops[name]; !taken {
					break
				}
				name = fmt.Sprintf("%s_%d", base, n)
			}

			tool, rest := c.buildTool(name, method, path, op, doc)
			tools = append(tools, tool)
			ops[name] = rest
		}
	}

	return tools, ops
}

func (c *openAPIConn) buildTool(name, method, path string, op *openapi3.Operation, doc *openapi3.T) (mcp.Tool, *restOperation) {
	rest := &restOperation{method: method, path: path}

	properties := make(map[string]any)
	var required []string

	// Request body properties first so a like-named parameter wins below.
	if op.RequestBody != nil && op.RequestBody.Value != nil {
		bodySchema := pickBodySchema(op.RequestBody.Value.Content)
		if bodySchema != nil {
			rest.hasBody = true
			resolved := resolveSchemaRef(bodySchema, doc)
			if isObjectSchema(resolved) {
				merged, requiredProps := mergeObjectProperties(resolved, doc)
				for propName, propRef := range merged {
					properties[propName] = schemaToMap(propRef, "", doc, 0)
				}
				if op.RequestBody.Value.Required {
					required = append(required, requiredProps...)
				}
			} else {
				rest.wrappedBody = true
				properties["request_body"] = schemaToMap(bodySchema, "", doc, 0)
				if op.RequestBody.Value.Required {
					required = append(required, "request_body")
				}
			}
		}
	}

	for _, paramRef := range op.Parameters {
		if paramRef == nil || paramRef.Value == nil {
			continue
		}
		param := paramRef.Value

		switch param.In {
		case openapi3.ParameterInPath:
			rest.pathParams = append(rest.pathParams, param.Name)
		case openapi3.ParameterInQuery:
			rest.queryParams = append(rest.queryParams, param.Name)
		case openapi3.ParameterInHeader:
			rest.headerParams = append(rest.headerParams, param.Name)
		default:
			continue
		}

		if param.Schema == nil {
			properties[param.Name] = map[string]any{"type": "string", "description": param.Description}
		} else {
			properties[param.Name] = schemaToMap(param.Schema, param.Description, doc, 0)
		}

		// Path parameters are always required in OpenAPI.
		if param.Required || param.In == openapi3.ParameterInPath {
			required = append(required, param.Name)
		}
	}

	required = dedupeStrings(required)

	description := op.Description
	if description == "" {
		description = op.Summary
	}
	if description == "" {
		description = fmt.Sprintf("%s %s", method, path)
	}

	tool := mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
		Annotations: mcp.ToolAnnotation{
			Title:          op.Summary,
			ReadOnlyHint:   boolPtr(method == http.MethodGet),
			IdempotentHint: boolPtr(isIdempotentMethod(method)),
			OpenWorldHint:  boolPtr(true),
		},
	}

	return tool, rest
}

func documentTitle(doc *openapi3.T, fallback string) string {
	if doc.Info != nil && doc.Info.Title != "" {
		return doc.Info.Title
	}
	return fallback
}

func documentVersion(doc *openapi3.T) string {
	if doc.Info != nil && doc.Info.Version != "" {
		return doc.Info.Version
	}
	return "0.0.0"
}

// pickBodySchema prefers application/json, then anything declared.
func pickBodySchema(content openapi3.Content) *openapi3.SchemaRef {
	if mt, ok := content["application/json"]; ok && mt != nil && mt.Schema != nil {
		return mt.Schema
	}
	for _, mt := range content {
		if mt != nil && mt.Schema != nil {
			return mt.Schema
		}
	}
	return nil
}

func isIdempotentMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// sanitizeToolName keeps letters, digits, dash and underscore, collapsing
// every other run into a single underscore. Collapsing also prevents the
// double underscore sequence, which the hub reserves for namespacing.
func sanitizeToolName(in string) string {
	var b strings.Builder
	b.Grow(len(in))
	lastUnderscore := false
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
