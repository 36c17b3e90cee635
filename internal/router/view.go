package router

import (
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/access"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/hash"
)

// Separator joins an upstream name and a tool name into an effective name
// when two upstreams export the same tool. Upstream and synthesized tool
// names are sanitized elsewhere so the separator never occurs naturally.
const Separator = "__"

// Published is one tool as a downstream client sees it.
type Published struct {
	Desc          catalog.Descriptor
	EffectiveName string
}

// MCPTool renders the published tool with its effective name and effective
// description; everything else is the upstream's own definition.
func (p Published) MCPTool() mcp.Tool {
	tool := p.Desc.Tool
	tool.Name = p.EffectiveName
	tool.Description = p.Desc.Description
	return tool
}

// ref addresses an upstream tool by its real coordinates.
type ref struct {
	upstream string
	tool     string
}

// ViewSnapshot is a session's materialized tool view at one catalog
// version: the published list, the reverse map from effective names, and a
// fingerprint for change detection.
type ViewSnapshot struct {
	CatalogVersion uint64
	Published      []Published

	byEffective map[string]ref
	fingerprint string
}

// Resolve reverse-maps an effective name. The second return is false when
// the name is not published in this view.
func (vs *ViewSnapshot) Resolve(effectiveName string) (upstream, tool string, ok bool) {
	if vs == nil {
		return "", "", false
	}
	r, ok := vs.byEffective[effectiveName]
	return r.upstream, r.tool, ok
}

// Fingerprint identifies the published list. Two snapshots with the same
// fingerprint publish identical tools, names and descriptions.
func (vs *ViewSnapshot) Fingerprint() string {
	if vs == nil {
		return ""
	}
	return vs.fingerprint
}

// Materialize computes the published tool list for a resolved view against
// a catalog snapshot.
//
// Filtering keeps tools that are enabled, admitted by the view's allowlists
// and whose upstream passes the visible predicate (nil admits everything;
// the session layer uses it to hide degraded upstreams when configured).
// A tool name exported by two or more upstreams in the filtered set is
// prefixed with its upstream name on every occurrence; unique names stay
// bare. The result is ordered by effective name. Naming depends only on
// the filtered set, so permuting the upstream order never changes it.
func Materialize(view *access.View, version uint64, descs []catalog.Descriptor, visible func(upstreamName string) bool) *ViewSnapshot {
	vs := &ViewSnapshot{
		CatalogVersion: version,
		byEffective:    make(map[string]ref),
	}
	if view.Empty() || view.IsSmart {
		vs.fingerprint = fingerprint(vs.Published)
		return vs
	}

	filtered := make([]catalog.Descriptor, 0, len(descs))
	counts := make(map[string]int)
	for _, d := range descs {
		if !d.Enabled || !view.Allows(d.UpstreamName, d.ToolName) {
			continue
		}
		if visible != nil && !visible(d.UpstreamName) {
			continue
		}
		filtered = append(filtered, d)
		counts[d.ToolName]++
	}

	vs.Published = make([]Published, 0, len(filtered))
	for _, d := range filtered {
		name := d.ToolName
		if counts[d.ToolName] > 1 {
			name = d.UpstreamName + Separator + d.ToolName
		}
		vs.Published = append(vs.Published, Published{Desc: d, EffectiveName: name})
		vs.byEffective[name] = ref{upstream: d.UpstreamName, tool: d.ToolName}
	}
	sort.Slice(vs.Published, func(i, j int) bool {
		return vs.Published[i].EffectiveName < vs.Published[j].EffectiveName
	})

	vs.fingerprint = fingerprint(vs.Published)
	return vs
}

// SmartSnapshot is the fixed view published to smart-scope sessions: the
// two discovery meta-tools.
func SmartSnapshot(version uint64) *ViewSnapshot {
	vs := &ViewSnapshot{
		CatalogVersion: version,
		byEffective:    make(map[string]ref),
	}
	vs.fingerprint = "smart"
	return vs
}

func fingerprint(published []Published) string {
	var b strings.Builder
	for _, p := range published {
		b.WriteString(p.EffectiveName)
		b.WriteByte(0)
		b.WriteString(p.Desc.Hash)
		b.WriteByte('\n')
	}
	return hash.StringHash(b.String())
}
