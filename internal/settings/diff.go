package settings

import (
	"maps"
	"reflect"
	"slices"
	"sort"
)

// UpstreamChange describes how one upstream's spec changed between two
// settings snapshots. ConnectionChanged means the transport has to be torn
// down and re-established; OverlayChanged means only the tool overrides
// moved and the catalog can be reprojected from cached tools.
type UpstreamChange struct {
	Name              string
	ConnectionChanged bool
	OverlayChanged    bool
}

// Diff captures what changed between two settings snapshots.
type Diff struct {
	AddedUpstreams   []string
	RemovedUpstreams []string
	ChangedUpstreams []UpstreamChange

	AddedGroups   []string
	RemovedGroups []string
	ChangedGroups []string

	RoutingChanged      bool
	SmartRoutingChanged bool
	TimingChanged       bool
	ListFlagsChanged    bool
	LoggingChanged      bool
	AuthChanged         bool
	ListenChanged       bool
}

// Empty reports whether the two snapshots are semantically identical.
func (d *Diff) Empty() bool {
	return len(d.AddedUpstreams) == 0 &&
		len(d.RemovedUpstreams) == 0 &&
		len(d.ChangedUpstreams) == 0 &&
		len(d.AddedGroups) == 0 &&
		len(d.RemovedGroups) == 0 &&
		len(d.ChangedGroups) == 0 &&
		!d.RoutingChanged &&
		!d.SmartRoutingChanged &&
		!d.TimingChanged &&
		!d.ListFlagsChanged &&
		!d.LoggingChanged &&
		!d.AuthChanged &&
		!d.ListenChanged
}

// UpstreamChanged reports whether the named upstream was added, removed or
// modified in any way.
func (d *Diff) UpstreamChanged(name string) bool {
	if slices.Contains(d.AddedUpstreams, name) || slices.Contains(d.RemovedUpstreams, name) {
		return true
	}
	for _, c := range d.ChangedUpstreams {
		if c.Name == name {
			return true
		}
	}
	return false
}

// GroupsOrRoutingChanged reports whether scope resolution inputs moved.
func (d *Diff) GroupsOrRoutingChanged() bool {
	return len(d.AddedGroups) > 0 || len(d.RemovedGroups) > 0 ||
		len(d.ChangedGroups) > 0 || d.RoutingChanged
}

// ComputeDiff compares two settings snapshots. Timestamps (Created/Updated)
// are ignored so that touch-only edits do not count as changes.
func ComputeDiff(oldS, newS *Settings) *Diff {
	d := &Diff{}
	if oldS == nil {
		oldS = &Settings{}
	}
	if newS == nil {
		newS = &Settings{}
	}

	oldUp := upstreamsByName(oldS)
	newUp := upstreamsByName(newS)

	for name, nu := range newUp {
		ou, ok := oldUp[name]
		if !ok {
			d.AddedUpstreams = append(d.AddedUpstreams, name)
			continue
		}
		change := UpstreamChange{
			Name:              name,
			ConnectionChanged: connectionFieldsChanged(ou, nu),
			OverlayChanged:    !toolOverridesEqual(ou.Tools, nu.Tools),
		}
		if change.ConnectionChanged || change.OverlayChanged {
			d.ChangedUpstreams = append(d.ChangedUpstreams, change)
		}
	}
	for name := range oldUp {
		if _, ok := newUp[name]; !ok {
			d.RemovedUpstreams = append(d.RemovedUpstreams, name)
		}
	}

	oldGroups := groupsByKey(oldS)
	newGroups := groupsByKey(newS)
	for key, ng := range newGroups {
		og, ok := oldGroups[key]
		if !ok {
			d.AddedGroups = append(d.AddedGroups, key)
			continue
		}
		if !groupsEqual(og, ng) {
			d.ChangedGroups = append(d.ChangedGroups, key)
		}
	}
	for key := range oldGroups {
		if _, ok := newGroups[key]; !ok {
			d.RemovedGroups = append(d.RemovedGroups, key)
		}
	}

	sort.Strings(d.AddedUpstreams)
	sort.Strings(d.RemovedUpstreams)
	sort.Slice(d.ChangedUpstreams, func(i, j int) bool {
		return d.ChangedUpstreams[i].Name < d.ChangedUpstreams[j].Name
	})
	sort.Strings(d.AddedGroups)
	sort.Strings(d.RemovedGroups)
	sort.Strings(d.ChangedGroups)

	d.RoutingChanged = !routingEqual(oldS.Routing, newS.Routing)
	d.SmartRoutingChanged = !reflect.DeepEqual(oldS.SmartRouting, newS.SmartRouting)
	d.TimingChanged = oldS.KeepAliveInterval != newS.KeepAliveInterval ||
		!durationPtrEqual(oldS.CallTimeout, newS.CallTimeout) ||
		oldS.IdleSessionTimeout != newS.IdleSessionTimeout
	d.ListFlagsChanged = oldS.HideDegradedFromList != newS.HideDegradedFromList ||
		oldS.ToolResponseLimit != newS.ToolResponseLimit
	d.LoggingChanged = !reflect.DeepEqual(oldS.Logging, newS.Logging)
	d.AuthChanged = !reflect.DeepEqual(oldS.Auth, newS.Auth)
	d.ListenChanged = oldS.Listen != newS.Listen

	return d
}

func upstreamsByName(s *Settings) map[string]*UpstreamSpec {
	m := make(map[string]*UpstreamSpec, len(s.Upstreams))
	for _, u := range s.Upstreams {
		if u != nil {
			m[u.Name] = u
		}
	}
	return m
}

// groupsByKey keys groups by ID when present, falling back to name. Renaming
// a group with a stable ID therefore shows up as a change, not as a
// remove-plus-add.
func groupsByKey(s *Settings) map[string]*Group {
	m := make(map[string]*Group, len(s.Groups))
	for _, g := range s.Groups {
		if g == nil {
			continue
		}
		key := g.ID
		if key == "" {
			key = g.Name
		}
		m[key] = g
	}
	return m
}

func connectionFieldsChanged(a, b *UpstreamSpec) bool {
	if a.Kind != b.Kind || a.IsEnabled() != b.IsEnabled() {
		return true
	}
	switch b.Kind {
	case KindStdio:
		return a.Command != b.Command ||
			!slices.Equal(a.Args, b.Args) ||
			!maps.Equal(a.Env, b.Env)
	case KindSSE, KindStreamHTTP:
		return a.URL != b.URL || !maps.Equal(a.Headers, b.Headers)
	case KindOpenAPI:
		return a.SpecURL != b.SpecURL || a.BaseURL != b.BaseURL ||
			!maps.Equal(a.Headers, b.Headers)
	}
	return false
}

func toolOverridesEqual(a, b map[string]*ToolOverride) bool {
	if len(a) != len(b) {
		return false
	}
	for name, oa := range a {
		ob, ok := b[name]
		if !ok {
			return false
		}
		if oa.IsEnabled() != ob.IsEnabled() {
			return false
		}
		var da, db string
		if oa != nil {
			da = oa.Description
		}
		if ob != nil {
			db = ob.Description
		}
		if da != db {
			return false
		}
	}
	return true
}

func groupsEqual(a, b *Group) bool {
	if a.Name != b.Name || a.Description != b.Description || a.Owner != b.Owner {
		return false
	}
	if len(a.Servers) != len(b.Servers) {
		return false
	}
	for i := range a.Servers {
		ga, gb := a.Servers[i], b.Servers[i]
		if (ga == nil) != (gb == nil) {
			return false
		}
		if ga == nil {
			continue
		}
		if ga.UpstreamName != gb.UpstreamName {
			return false
		}
		if (ga.SelectedTools == nil) != (gb.SelectedTools == nil) {
			return false
		}
		if !slices.Equal(ga.SelectedTools, gb.SelectedTools) {
			return false
		}
	}
	return true
}

func routingEqual(a, b *RoutingConfig) bool {
	if a.GlobalAllowed() != b.GlobalAllowed() {
		return false
	}
	var da, db string
	if a != nil {
		da = a.DefaultGroup
	}
	if b != nil {
		db = b.DefaultGroup
	}
	return da == db
}

func durationPtrEqual(a, b *Duration) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
