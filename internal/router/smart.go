package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/access"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/vector"
)

const (
	// SearchToolsName is the smart-scope discovery meta-tool.
	SearchToolsName = "search_tools"
	// CallToolName is the smart-scope dispatch meta-tool.
	CallToolName = "call_tool"
)

// SearchHit is one search_tools result row.
type SearchHit struct {
	UpstreamName string  `json:"upstreamName"`
	ToolName     string  `json:"toolName"`
	Description  string  `json:"description"`
	Confidence   float64 `json:"confidence"`
}

// SearchToolsTool defines the search_tools meta-tool.
func SearchToolsTool() mcp.Tool {
	return mcp.NewTool(SearchToolsName,
		mcp.WithDescription("Discover tools across all connected MCP servers by meaning, not by name. Describe what you want to accomplish in natural language; the hub returns the closest matching tools ranked by confidence. Follow up with call_tool to execute one of them."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language description of the task (e.g. 'get the weather forecast for a city')."),
		),
		mcp.WithNumber("k",
			mcp.Description(fmt.Sprintf("Maximum number of tools to return (default %d).", vector.DefaultSearchK)),
		),
		mcp.WithNumber("threshold",
			mcp.Description(fmt.Sprintf("Minimum similarity in [0,1]; results below it are dropped (default %.1f).", vector.DefaultSearchThreshold)),
		),
	)
}

// CallToolTool defines the call_tool meta-tool.
func CallToolTool() mcp.Tool {
	return mcp.NewTool(CallToolName,
		mcp.WithDescription("Execute a tool found via search_tools, addressed by its server and tool name."),
		mcp.WithString("upstreamName",
			mcp.Required(),
			mcp.Description("Server name exactly as returned by search_tools."),
		),
		mcp.WithString("toolName",
			mcp.Required(),
			mcp.Description("Tool name exactly as returned by search_tools."),
		),
		mcp.WithObject("arguments",
			mcp.Description("Arguments object passed through to the tool; consult its schema."),
		),
	)
}

// SearchTools runs a similarity query and filters the hits against the
// caller's view, so a principal never sees tools it could not call.
func (rt *Router) SearchTools(ctx context.Context, view *access.View, query string, k int, threshold float64) ([]SearchHit, error) {
	if rt.search == nil {
		return nil, mcperr.New(mcperr.KindEmbedderUnavailable, "smart routing is not enabled")
	}
	if k <= 0 {
		k = vector.DefaultSearchK
	}

	matches, err := rt.search.Search(ctx, query, k, threshold)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(matches))
	for _, m := range matches {
		if !view.Allows(m.UpstreamName, m.ToolName) {
			continue
		}
		desc, ok := rt.cat.Get(m.UpstreamName, m.ToolName)
		if !ok || !desc.Enabled {
			continue
		}
		hits = append(hits, SearchHit{
			UpstreamName: m.UpstreamName,
			ToolName:     m.ToolName,
			Description:  desc.Description,
			Confidence:   m.Similarity,
		})
	}
	rt.logger.Debug("smart search served",
		zap.String("query", query),
		zap.Int("matches", len(matches)),
		zap.Int("visible", len(hits)))
	return hits, nil
}

// CallNamed dispatches a smart-scope call addressed by real coordinates.
// The pair must be in the catalog and visible to the caller.
func (rt *Router) CallNamed(ctx context.Context, view *access.View, upstreamName, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	if _, ok := rt.cat.Get(upstreamName, toolName); !ok {
		return nil, mcperr.Newf(mcperr.KindToolNotAllowed, "tool %q of %q is not available", toolName, upstreamName)
	}
	if !view.Allows(upstreamName, toolName) {
		return nil, mcperr.Newf(mcperr.KindToolNotAllowed, "tool %q of %q is not allowed for this principal", toolName, upstreamName)
	}
	return rt.dispatch(ctx, upstreamName, toolName, args)
}

// HandleSearchTools adapts SearchTools to an MCP tool handler for a fixed
// view accessor. Failures come back as in-band tool errors so the client
// always receives a response for its request id.
func (rt *Router) HandleSearchTools(viewFn func() *access.View) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("missing required parameter 'query': %v", err)), nil
		}
		k := int(request.GetFloat("k", float64(vector.DefaultSearchK)))
		threshold := request.GetFloat("threshold", vector.DefaultSearchThreshold)

		hits, err := rt.SearchTools(ctx, viewFn(), query, k, threshold)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload, err := json.MarshalIndent(hits, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to serialize results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

// HandleCallTool adapts CallNamed to an MCP tool handler.
func (rt *Router) HandleCallTool(viewFn func() *access.View) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		upstreamName, err := request.RequireString("upstreamName")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("missing required parameter 'upstreamName': %v", err)), nil
		}
		toolName, err := request.RequireString("toolName")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("missing required parameter 'toolName': %v", err)), nil
		}

		var args map[string]any
		if raw, ok := request.GetArguments()["arguments"]; ok && raw != nil {
			args, ok = raw.(map[string]any)
			if !ok {
				return mcp.NewToolResultError("'arguments' must be an object"), nil
			}
		}

		result, err := rt.CallNamed(ctx, viewFn(), upstreamName, toolName, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return result, nil
	}
}
