package access

// ScopeKind distinguishes the four routing targets a downstream session can
// bind to.
type ScopeKind string

const (
	ScopeGlobal   ScopeKind = "global"
	ScopeUpstream ScopeKind = "upstream"
	ScopeGroup    ScopeKind = "group"
	ScopeSmart    ScopeKind = "smart"
)

const (
	smartLiteral  = "$smart"
	globalLiteral = "global"
)

// Scope is a resolved routing target. Target holds the upstream name for
// ScopeUpstream and the group id for ScopeGroup; group-by-name lookups are
// normalized to the id at parse time so renames cannot silently retarget a
// live session.
type Scope struct {
	Kind   ScopeKind `json:"kind"`
	Target string    `json:"target,omitempty"`
}

// GlobalScope addresses every upstream the principal can see.
func GlobalScope() Scope { return Scope{Kind: ScopeGlobal} }

// SmartScope addresses the similarity-search pseudo-group.
func SmartScope() Scope { return Scope{Kind: ScopeSmart} }

// UpstreamScope addresses a single named upstream.
func UpstreamScope(name string) Scope {
	return Scope{Kind: ScopeUpstream, Target: name}
}

// GroupScope addresses a stored group by id.
func GroupScope(id string) Scope {
	return Scope{Kind: ScopeGroup, Target: id}
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeGlobal:
		return globalLiteral
	case ScopeSmart:
		return smartLiteral
	case ScopeUpstream:
		return "upstream:" + s.Target
	case ScopeGroup:
		return "group:" + s.Target
	}
	return string(s.Kind)
}
