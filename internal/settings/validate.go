package settings

import (
	"fmt"
	"regexp"
	"strings"
)

// nameRe restricts upstream and group names to characters that are safe in
// URL paths and in namespaced tool names.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateName checks a single upstream or group name. Double underscores
// are rejected because "__" separates the upstream name from the tool name
// in namespaced tool identifiers.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("name %q contains invalid characters (allowed: letters, digits, '-', '_')", name)
	}
	if strings.Contains(name, "__") {
		return fmt.Errorf("name %q must not contain %q", name, "__")
	}
	return nil
}

// Validate checks the settings for hard errors. It assumes ApplyDefaults has
// run; callers that accept external input should call both.
func (s *Settings) Validate() error {
	if s.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if s.CallTimeout != nil && *s.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative")
	}

	seenUpstreams := make(map[string]struct{}, len(s.Upstreams))
	for i, u := range s.Upstreams {
		if u == nil {
			return fmt.Errorf("upstreams[%d] is null", i)
		}
		if err := ValidateName(u.Name); err != nil {
			return fmt.Errorf("upstreams[%d]: %w", i, err)
		}
		if _, dup := seenUpstreams[u.Name]; dup {
			return fmt.Errorf("duplicate upstream name %q", u.Name)
		}
		seenUpstreams[u.Name] = struct{}{}
		if err := validateUpstream(u); err != nil {
			return fmt.Errorf("upstream %q: %w", u.Name, err)
		}
	}

	seenGroupIDs := make(map[string]struct{}, len(s.Groups))
	seenGroupNames := make(map[string]struct{}, len(s.Groups))
	for i, g := range s.Groups {
		if g == nil {
			return fmt.Errorf("groups[%d] is null", i)
		}
		if err := ValidateName(g.Name); err != nil {
			return fmt.Errorf("groups[%d]: %w", i, err)
		}
		if _, dup := seenGroupNames[g.Name]; dup {
			return fmt.Errorf("duplicate group name %q", g.Name)
		}
		seenGroupNames[g.Name] = struct{}{}
		if g.ID != "" {
			if _, dup := seenGroupIDs[g.ID]; dup {
				return fmt.Errorf("duplicate group id %q", g.ID)
			}
			seenGroupIDs[g.ID] = struct{}{}
		}
	}

	if s.Routing != nil && s.Routing.DefaultGroup != "" {
		if s.FindGroup(s.Routing.DefaultGroup) == nil {
			return fmt.Errorf("routing.default_group %q does not match any group", s.Routing.DefaultGroup)
		}
	}

	if s.SmartRouting != nil && s.SmartRouting.Enabled {
		switch s.SmartRouting.Provider {
		case EmbedProviderLocal, EmbedProviderOpenAI:
		default:
			return fmt.Errorf("smart_routing.provider %q is not supported (use %q or %q)",
				s.SmartRouting.Provider, EmbedProviderLocal, EmbedProviderOpenAI)
		}
	}

	if s.Auth != nil && !s.Auth.AnonymousAllowed() && s.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.allow_anonymous is false")
	}

	return nil
}

func validateUpstream(u *UpstreamSpec) error {
	if !u.Kind.Valid() {
		return fmt.Errorf("unknown kind %q (expected %q, %q, %q or %q)",
			u.Kind, KindStdio, KindSSE, KindStreamHTTP, KindOpenAPI)
	}
	switch u.Kind {
	case KindStdio:
		if u.Command == "" {
			return fmt.Errorf("stdio upstream requires a command")
		}
	case KindSSE, KindStreamHTTP:
		if u.URL == "" {
			return fmt.Errorf("%s upstream requires a url", u.Kind)
		}
	case KindOpenAPI:
		if u.SpecURL == "" {
			return fmt.Errorf("openapi upstream requires a spec_url")
		}
	}
	for toolName := range u.Tools {
		if toolName == "" {
			return fmt.Errorf("tool override with empty tool name")
		}
	}
	return nil
}

// Warnings reports soft problems that do not block applying the settings.
// Group entries referencing unknown upstreams stay in place and are skipped
// at resolution time.
func (s *Settings) Warnings() []string {
	var warnings []string
	for _, g := range s.Groups {
		if g == nil {
			continue
		}
		seen := make(map[string]struct{}, len(g.Servers))
		for _, gs := range g.Servers {
			if gs == nil {
				continue
			}
			if s.FindUpstream(gs.UpstreamName) == nil {
				warnings = append(warnings, fmt.Sprintf(
					"group %q references unknown upstream %q", g.Name, gs.UpstreamName))
			}
			if _, dup := seen[gs.UpstreamName]; dup {
				warnings = append(warnings, fmt.Sprintf(
					"group %q lists upstream %q more than once", g.Name, gs.UpstreamName))
			}
			seen[gs.UpstreamName] = struct{}{}
		}
	}
	return warnings
}
