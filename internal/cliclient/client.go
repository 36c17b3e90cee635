// Package cliclient is the HTTP client the CLI commands use to talk to a
// running hub's management API. Every method targets one /api/v1 endpoint
// and decodes the standard response envelope.
package cliclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/index"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/runtime"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/session"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings/importer"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/storage"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/upstream"
)

const requestTimeout = 5 * time.Minute

// Client talks to the hub management API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewClient creates a management API client for the given base URL.
// apiKey may be empty when the server runs without one.
func NewClient(baseURL, apiKey string, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// APIError is a non-success response from the hub.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("hub API returned status %d", e.StatusCode)
	}
	return e.Message
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	if !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload from %s: %w", path, err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, out)
}

// Ping checks that the hub answers on its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hub not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: "hub health check failed"}
	}
	return nil
}

// Status fetches the hub status summary.
func (c *Client) Status(ctx context.Context) (*runtime.Status, error) {
	var st runtime.Status
	if err := c.get(ctx, "/api/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// UpstreamInfo joins an upstream's configured spec with its live status.
type UpstreamInfo struct {
	*settings.UpstreamSpec
	Status *upstream.Status `json:"status,omitempty"`
}

func (c *Client) ListUpstreams(ctx context.Context) ([]UpstreamInfo, error) {
	var out []UpstreamInfo
	if err := c.get(ctx, "/api/v1/upstreams", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetUpstream(ctx context.Context, name string) (*UpstreamInfo, error) {
	var out UpstreamInfo
	if err := c.get(ctx, "/api/v1/upstreams/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddUpstream(ctx context.Context, spec *settings.UpstreamSpec) (*UpstreamInfo, error) {
	var out UpstreamInfo
	if err := c.post(ctx, "/api/v1/upstreams", spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateUpstream(ctx context.Context, spec *settings.UpstreamSpec) (*UpstreamInfo, error) {
	var out UpstreamInfo
	if err := c.put(ctx, "/api/v1/upstreams/"+url.PathEscape(spec.Name), spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveUpstream(ctx context.Context, name string) error {
	return c.delete(ctx, "/api/v1/upstreams/"+url.PathEscape(name), nil)
}

func (c *Client) EnableUpstream(ctx context.Context, name string) error {
	return c.post(ctx, "/api/v1/upstreams/"+url.PathEscape(name)+"/enable", nil, nil)
}

func (c *Client) DisableUpstream(ctx context.Context, name string) error {
	return c.post(ctx, "/api/v1/upstreams/"+url.PathEscape(name)+"/disable", nil, nil)
}

func (c *Client) RestartUpstream(ctx context.Context, name string) error {
	return c.post(ctx, "/api/v1/upstreams/"+url.PathEscape(name)+"/restart", nil, nil)
}

// UpstreamTools lists the catalog entries one upstream currently exposes.
func (c *Client) UpstreamTools(ctx context.Context, name string) ([]catalog.Descriptor, error) {
	var out []catalog.Descriptor
	if err := c.get(ctx, "/api/v1/upstreams/"+url.PathEscape(name)+"/tools", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpstreamLogs tails the per-upstream log file on the server.
func (c *Client) UpstreamLogs(ctx context.Context, name string, tail int) ([]string, error) {
	query := url.Values{}
	if tail > 0 {
		query.Set("tail", strconv.Itoa(tail))
	}
	var out struct {
		Name  string   `json:"name"`
		Lines []string `json:"lines"`
	}
	if err := c.get(ctx, "/api/v1/upstreams/"+url.PathEscape(name)+"/logs", query, &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

func (c *Client) ListGroups(ctx context.Context) ([]*settings.Group, error) {
	var out []*settings.Group
	if err := c.get(ctx, "/api/v1/groups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddGroup(ctx context.Context, group *settings.Group) (*settings.Group, error) {
	var out settings.Group
	if err := c.post(ctx, "/api/v1/groups", group, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateGroup(ctx context.Context, group *settings.Group) (*settings.Group, error) {
	var out settings.Group
	if err := c.put(ctx, "/api/v1/groups/"+url.PathEscape(group.ID), group, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveGroup(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/v1/groups/"+url.PathEscape(id), nil)
}

// Search runs a full-text query over the indexed tool catalog.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]index.Result, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Query   string         `json:"query"`
		Results []index.Result `json:"results"`
	}
	if err := c.get(ctx, "/api/v1/index/search", q, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// ToolCallPage is one page of the tool call history.
type ToolCallPage struct {
	ToolCalls []*storage.ToolCallRecord `json:"tool_calls"`
	Total     int                       `json:"total"`
	Limit     int                       `json:"limit"`
	Offset    int                       `json:"offset"`
}

func (c *Client) ListToolCalls(ctx context.Context, filter storage.ToolCallFilter) (*ToolCallPage, error) {
	query := url.Values{}
	set := func(key, val string) {
		if val != "" {
			query.Set(key, val)
		}
	}
	set("upstream", filter.Upstream)
	set("tool", filter.Tool)
	set("session_id", filter.SessionID)
	set("status", filter.Status)
	if !filter.Since.IsZero() {
		query.Set("since", filter.Since.Format(time.RFC3339))
	}
	if !filter.Until.IsZero() {
		query.Set("until", filter.Until.Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}

	var out ToolCallPage
	if err := c.get(ctx, "/api/v1/tool-calls", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetToolCall(ctx context.Context, id string) (*storage.ToolCallRecord, error) {
	var out storage.ToolCallRecord
	if err := c.get(ctx, "/api/v1/tool-calls/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ToolCallStats(ctx context.Context) ([]*storage.ToolStatRecord, error) {
	var out []*storage.ToolStatRecord
	if err := c.get(ctx, "/api/v1/tool-calls/stats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]*session.Info, error) {
	var out struct {
		Sessions []*session.Info `json:"sessions"`
		Total    int             `json:"total"`
	}
	if err := c.get(ctx, "/api/v1/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// ImportRequest carries a client config document to merge into the hub.
type ImportRequest struct {
	Content  string   `json:"content"`
	Format   string   `json:"format,omitempty"`
	Names    []string `json:"names,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
	DryRun   bool     `json:"dry_run,omitempty"`
}

func (c *Client) Import(ctx context.Context, req ImportRequest) (*importer.Result, error) {
	var out importer.Result
	if err := c.post(ctx, "/api/v1/import", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfigView is the server's settings document with secrets redacted.
type ConfigView struct {
	Settings *settings.Settings `json:"settings"`
	Path     string             `json:"path"`
	Version  int64              `json:"version"`
}

func (c *Client) GetConfig(ctx context.Context) (*ConfigView, error) {
	var out ConfigView
	if err := c.get(ctx, "/api/v1/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApplyConfig replaces the server's settings document. It reports whether
// the document differed from the running one.
func (c *Client) ApplyConfig(ctx context.Context, cfg *settings.Settings) (bool, error) {
	var out struct {
		Applied bool `json:"applied"`
		Changed bool `json:"changed"`
	}
	if err := c.put(ctx, "/api/v1/config", cfg, &out); err != nil {
		return false, err
	}
	return out.Changed, nil
}

// ReloadConfig asks the server to re-read its settings file from disk.
func (c *Client) ReloadConfig(ctx context.Context) (bool, error) {
	var out struct {
		Reloaded bool `json:"reloaded"`
		Changed  bool `json:"changed"`
	}
	if err := c.post(ctx, "/api/v1/config/reload", nil, &out); err != nil {
		return false, err
	}
	return out.Changed, nil
}
