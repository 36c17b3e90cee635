package access

import (
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// Entry is one reachable upstream in a resolved view. A nil AllowedTools
// admits every tool the upstream exposes; a non-nil set, even an empty one,
// is an explicit allowlist.
type Entry struct {
	UpstreamName string
	AllowedTools map[string]struct{}
}

// Allows reports whether the entry admits the named tool.
func (e Entry) Allows(toolName string) bool {
	if e.AllowedTools == nil {
		return true
	}
	_, ok := e.AllowedTools[toolName]
	return ok
}

// View is the resolver output for one (scope, principal) pair: the ordered
// reachable upstreams and whether tool selection is deferred to similarity
// search instead of listing.
type View struct {
	Scope   Scope
	Entries []Entry
	IsSmart bool
}

// Empty reports whether the view reaches no upstream at all.
func (v *View) Empty() bool {
	return v == nil || len(v.Entries) == 0
}

// Entry returns the view's entry for the named upstream.
func (v *View) Entry(upstreamName string) (Entry, bool) {
	if v == nil {
		return Entry{}, false
	}
	for _, e := range v.Entries {
		if e.UpstreamName == upstreamName {
			return e, true
		}
	}
	return Entry{}, false
}

// Allows reports whether the view admits the given upstream tool.
func (v *View) Allows(upstreamName, toolName string) bool {
	e, ok := v.Entry(upstreamName)
	return ok && e.Allows(toolName)
}

// UpstreamNames returns the reachable upstream names in view order.
func (v *View) UpstreamNames() []string {
	if v == nil {
		return nil
	}
	names := make([]string, len(v.Entries))
	for i, e := range v.Entries {
		names[i] = e.UpstreamName
	}
	return names
}

// ResolveScope interprets the scope segment of a downstream URL against the
// current settings. An empty segment falls back to routing.defaultGroup when
// one is configured, otherwise to the global scope. The literals "global"
// and "$smart" are reserved and win over upstreams or groups of the same
// name; after that an upstream name wins over a group name. Scopes the
// principal cannot see resolve the same as scopes that do not exist.
func ResolveScope(cfg *settings.Settings, principal Principal, segment string) (Scope, error) {
	if cfg == nil {
		return Scope{}, mcperr.New(mcperr.KindConfiguration, "no settings snapshot")
	}
	if segment == "" {
		if cfg.Routing != nil && cfg.Routing.DefaultGroup != "" {
			segment = cfg.Routing.DefaultGroup
		} else {
			return GlobalScope(), nil
		}
	}
	switch segment {
	case globalLiteral:
		return GlobalScope(), nil
	case smartLiteral:
		return SmartScope(), nil
	}
	if u := cfg.FindUpstream(segment); u != nil && principal.CanSeeUpstream(u) {
		return UpstreamScope(u.Name), nil
	}
	if g := cfg.FindGroup(segment); g != nil && principal.CanSeeGroup(g) {
		return GroupScope(g.ID), nil
	}
	return Scope{}, mcperr.Newf(mcperr.KindScopeNotFound, "unknown scope %q", segment)
}

// ResolveView computes the reachable upstreams for a scope. The result is
// deterministic for a given settings snapshot: global and smart views keep
// the configured upstream order, group views keep the group's own order.
// A scope whose target has disappeared or turned invisible since parsing
// yields an empty view, not an error; only the global-restricted policy
// refuses outright.
func ResolveView(cfg *settings.Settings, principal Principal, scope Scope) (*View, error) {
	if cfg == nil {
		return nil, mcperr.New(mcperr.KindConfiguration, "no settings snapshot")
	}
	view := &View{Scope: scope}

	switch scope.Kind {
	case ScopeGlobal:
		if !cfg.Routing.GlobalAllowed() && !principal.IsAdmin {
			return nil, mcperr.New(mcperr.KindUnauthorized, "global scope is restricted to admins")
		}
		view.Entries = enabledVisible(cfg, principal)

	case ScopeSmart:
		view.IsSmart = true
		if cfg.SmartRouting.IsEnabled() {
			view.Entries = enabledVisible(cfg, principal)
		}

	case ScopeUpstream:
		u := cfg.FindUpstream(scope.Target)
		if u != nil && u.IsEnabled() && principal.CanSeeUpstream(u) {
			view.Entries = []Entry{{UpstreamName: u.Name}}
		}

	case ScopeGroup:
		g := cfg.FindGroup(scope.Target)
		if g == nil || !principal.CanSeeGroup(g) {
			return view, nil
		}
		seen := make(map[string]struct{}, len(g.Servers))
		for _, gs := range g.Servers {
			if gs == nil {
				continue
			}
			if _, dup := seen[gs.UpstreamName]; dup {
				continue
			}
			u := cfg.FindUpstream(gs.UpstreamName)
			if u == nil || !u.IsEnabled() || !principal.CanSeeUpstream(u) {
				continue
			}
			seen[gs.UpstreamName] = struct{}{}
			view.Entries = append(view.Entries, Entry{
				UpstreamName: u.Name,
				AllowedTools: toolSet(gs.SelectedTools),
			})
		}

	default:
		return nil, mcperr.Newf(mcperr.KindScopeNotFound, "unknown scope kind %q", scope.Kind)
	}
	return view, nil
}

func enabledVisible(cfg *settings.Settings, principal Principal) []Entry {
	var entries []Entry
	for _, u := range cfg.Upstreams {
		if u == nil || !u.IsEnabled() || !principal.CanSeeUpstream(u) {
			continue
		}
		entries = append(entries, Entry{UpstreamName: u.Name})
	}
	return entries
}

// toolSet keeps the nil-vs-empty distinction: nil means every tool, an
// empty list means none.
func toolSet(names []string) map[string]struct{} {
	if names == nil {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
