// Package router implements the downstream side of the hub's MCP surface:
// publishing filtered tool views, dispatching tool calls to upstreams, and
// the similarity-discovery meta-tools of the smart scope.
package router

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/access"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/upstream"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/vector"
)

// Upstreams is the slice of the upstream manager the router dispatches
// through.
type Upstreams interface {
	CallTool(ctx context.Context, upstreamName, tool string, args map[string]any) (*mcp.CallToolResult, error)
	StateFor(upstreamName string) upstream.State
}

// CatalogReader is the catalog surface the router consumes.
type CatalogReader interface {
	Snapshot() (uint64, []catalog.Descriptor)
	Get(upstream, tool string) (catalog.Descriptor, bool)
}

// Searcher answers similarity queries for the smart scope. The vector
// index implements it; it is nil when smart routing is off.
type Searcher interface {
	Search(ctx context.Context, query string, k int, threshold float64) ([]vector.Match, error)
}

// SettingsSource provides the current settings snapshot.
type SettingsSource interface {
	Current() *settings.Snapshot
}

// CallRecord describes one completed (or failed) dispatch, for activity
// logging and metrics.
type CallRecord struct {
	UpstreamName string
	ToolName     string
	Arguments    map[string]any
	Result       *mcp.CallToolResult
	Duration     time.Duration
	Err          error
}

// Options configures a Router.
type Options struct {
	Logger    *zap.Logger
	Upstreams Upstreams
	Catalog   CatalogReader
	Settings  SettingsSource
	Search    Searcher // nil disables the smart meta-tools

	// Record, when set, observes every dispatched call.
	Record func(CallRecord)
}

// Router dispatches downstream MCP tool requests. It holds no per-session
// state; sessions pass their materialized view in.
type Router struct {
	logger    *zap.Logger
	upstreams Upstreams
	cat       CatalogReader
	cfg       SettingsSource
	search    Searcher
	record    func(CallRecord)
}

// New builds a Router.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		logger:    logger,
		upstreams: opts.Upstreams,
		cat:       opts.Catalog,
		cfg:       opts.Settings,
		search:    opts.Search,
		record:    opts.Record,
	}
}

// Materialize computes the current published view for a resolved scope,
// applying the hide-degraded policy from the live settings.
func (rt *Router) Materialize(view *access.View) *ViewSnapshot {
	version, descs := rt.cat.Snapshot()
	if view != nil && view.IsSmart {
		return SmartSnapshot(version)
	}

	var visible func(string) bool
	if cfg := rt.settings(); cfg != nil && cfg.HideDegradedFromList {
		visible = func(upstreamName string) bool {
			return rt.upstreams.StateFor(upstreamName) == upstream.StateReady
		}
	}
	return Materialize(view, version, descs, visible)
}

// CallTool dispatches an effective tool name from a non-smart session.
func (rt *Router) CallTool(ctx context.Context, view *access.View, snap *ViewSnapshot, effectiveName string, args map[string]any) (*mcp.CallToolResult, error) {
	upstreamName, toolName, ok := snap.Resolve(effectiveName)
	if !ok {
		return nil, mcperr.Newf(mcperr.KindToolNotFound, "tool %q is not available in this scope", effectiveName)
	}
	if !view.Allows(upstreamName, toolName) {
		return nil, mcperr.Newf(mcperr.KindToolNotAllowed, "tool %q is not allowed in this scope", effectiveName)
	}
	return rt.dispatch(ctx, upstreamName, toolName, args)
}

// dispatch forwards one call to a ready upstream under the configured
// per-call deadline. The upstream's result is returned verbatim; failures
// are classified but never retried here.
func (rt *Router) dispatch(ctx context.Context, upstreamName, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	desc, ok := rt.cat.Get(upstreamName, toolName)
	if !ok {
		return nil, mcperr.Newf(mcperr.KindToolNotFound, "tool %s%s%s is not in the catalog", upstreamName, Separator, toolName)
	}
	if !desc.Enabled {
		return nil, mcperr.Newf(mcperr.KindToolNotAllowed, "tool %q of %q is disabled", toolName, upstreamName)
	}
	if state := rt.upstreams.StateFor(upstreamName); state != upstream.StateReady {
		return nil, mcperr.Newf(mcperr.KindUpstreamUnavailable, "upstream %q is %s", upstreamName, state)
	}

	if timeout := rt.callTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := rt.upstreams.CallTool(ctx, upstreamName, toolName, args)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = mcperr.Wrapf(mcperr.KindUpstreamTimeout, err, "call to %q timed out after %s", toolName, elapsed.Round(time.Millisecond))
		} else {
			err = mcperr.UpstreamError(upstreamName, err)
		}
		rt.logger.Warn("tool call failed",
			zap.String("upstream", upstreamName),
			zap.String("tool", toolName),
			zap.Duration("duration", elapsed),
			zap.Error(err))
	}
	if rt.record != nil {
		rt.record(CallRecord{
			UpstreamName: upstreamName,
			ToolName:     toolName,
			Arguments:    args,
			Result:       result,
			Duration:     elapsed,
			Err:          err,
		})
	}
	return result, err
}

func (rt *Router) settings() *settings.Settings {
	if rt.cfg == nil {
		return nil
	}
	snap := rt.cfg.Current()
	if snap == nil {
		return nil
	}
	return snap.Settings
}

func (rt *Router) callTimeout() time.Duration {
	cfg := rt.settings()
	if cfg == nil {
		return settings.DefaultCallTimeout
	}
	return cfg.EffectiveCallTimeout()
}
