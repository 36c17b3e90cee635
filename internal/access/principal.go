// Package access decides what a principal can reach: it parses routing
// scopes from request paths and resolves them, against a settings snapshot,
// into the ordered set of upstreams and tool allowlists a session may use.
// Resolution is pure. It never touches live connections, so it is safe to
// re-run on every configuration or catalog change.
package access

import (
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// AnonymousID is the principal id used when authentication is switched off.
const AnonymousID = "anonymous"

// Principal is the authenticated identity behind a downstream session or a
// management request.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
}

// Anonymous returns the principal for unauthenticated access. It carries
// admin privilege so a hub without configured auth behaves like a
// single-user tool.
func Anonymous() Principal {
	return Principal{ID: AnonymousID, DisplayName: "Anonymous", IsAdmin: true}
}

// CanSeeUpstream reports whether the upstream is visible to the principal.
// Admins see everything; everyone sees ownerless upstreams and their own.
func (p Principal) CanSeeUpstream(u *settings.UpstreamSpec) bool {
	if u == nil {
		return false
	}
	return p.IsAdmin || u.Owner == "" || u.Owner == p.ID
}

// CanSeeGroup reports whether the group is visible to the principal, under
// the same ownership rule as upstreams.
func (p Principal) CanSeeGroup(g *settings.Group) bool {
	if g == nil {
		return false
	}
	return p.IsAdmin || g.Owner == "" || g.Owner == p.ID
}
