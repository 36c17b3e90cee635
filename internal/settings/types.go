package settings

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// ConfigFileName is the canonical settings file name inside the data directory.
	ConfigFileName = "hub_config.json"
	// DefaultDataDir is the per-user data directory (under the home directory).
	DefaultDataDir = ".mcphub"

	defaultListen = "127.0.0.1:8080"

	// DefaultKeepAliveInterval is the upstream health probe interval.
	DefaultKeepAliveInterval = 60 * time.Second
	// DefaultCallTimeout bounds a single upstream tool call.
	DefaultCallTimeout = 60 * time.Second
	// DefaultIdleSessionTimeout expires downstream sessions with no activity.
	DefaultIdleSessionTimeout = 30 * time.Minute
)

// Duration is a time.Duration that marshals to a human-readable string
// ("60s", "1m30s") and accepts either a string or a number of nanoseconds
// when unmarshaling.
type Duration time.Duration

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

// UpstreamKind identifies the transport used to reach an upstream server.
type UpstreamKind string

const (
	KindStdio      UpstreamKind = "stdio"
	KindSSE        UpstreamKind = "sse"
	KindStreamHTTP UpstreamKind = "http-stream"
	KindOpenAPI    UpstreamKind = "openapi"
)

// Valid reports whether the kind is one of the supported transports.
func (k UpstreamKind) Valid() bool {
	switch k {
	case KindStdio, KindSSE, KindStreamHTTP, KindOpenAPI:
		return true
	}
	return false
}

// ToolOverride adjusts a single tool of an upstream without touching the
// upstream server itself. A nil Enabled means the tool stays enabled.
type ToolOverride struct {
	Enabled     *bool  `json:"enabled,omitempty" mapstructure:"enabled"`
	Description string `json:"description,omitempty" mapstructure:"description"`
}

// IsEnabled reports whether the tool should be published.
func (o *ToolOverride) IsEnabled() bool {
	return o == nil || o.Enabled == nil || *o.Enabled
}

// UpstreamSpec declares one upstream MCP server. Which fields apply depends
// on Kind: stdio uses Command/Args/Env, sse and http-stream use URL/Headers,
// openapi uses SpecURL/BaseURL/Headers.
type UpstreamSpec struct {
	Name    string            `json:"name" mapstructure:"name"`
	Kind    UpstreamKind      `json:"kind" mapstructure:"kind"`
	Command string            `json:"command,omitempty" mapstructure:"command"`
	Args    []string          `json:"args,omitempty" mapstructure:"args"`
	Env     map[string]string `json:"env,omitempty" mapstructure:"env"`
	URL     string            `json:"url,omitempty" mapstructure:"url"`
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	SpecURL string            `json:"spec_url,omitempty" mapstructure:"spec-url"`
	BaseURL string            `json:"base_url,omitempty" mapstructure:"base-url"`
	Enabled *bool             `json:"enabled,omitempty" mapstructure:"enabled"`

	// Tools holds per-tool overrides keyed by the upstream's own tool name.
	Tools map[string]*ToolOverride `json:"tools,omitempty" mapstructure:"tools"`

	// Owner is the principal id of the creator. Empty means public: every
	// principal can see the upstream.
	Owner string `json:"owner,omitempty" mapstructure:"owner"`

	Created time.Time `json:"created,omitempty" mapstructure:"created"`
	Updated time.Time `json:"updated,omitempty" mapstructure:"updated"`
}

// IsEnabled reports whether the upstream should be connected. An absent
// enabled flag counts as enabled.
func (s *UpstreamSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Clone returns a deep copy of the spec.
func (s *UpstreamSpec) Clone() *UpstreamSpec {
	if s == nil {
		return nil
	}
	cloned := *s
	if s.Args != nil {
		cloned.Args = make([]string, len(s.Args))
		copy(cloned.Args, s.Args)
	}
	cloned.Env = cloneStringMap(s.Env)
	cloned.Headers = cloneStringMap(s.Headers)
	if s.Enabled != nil {
		v := *s.Enabled
		cloned.Enabled = &v
	}
	if s.Tools != nil {
		cloned.Tools = make(map[string]*ToolOverride, len(s.Tools))
		for name, o := range s.Tools {
			if o == nil {
				cloned.Tools[name] = nil
				continue
			}
			oc := *o
			if o.Enabled != nil {
				v := *o.Enabled
				oc.Enabled = &v
			}
			cloned.Tools[name] = &oc
		}
	}
	return &cloned
}

// GroupServer references one upstream inside a group. A nil SelectedTools
// exposes every tool of the upstream; a non-nil (possibly empty) list is an
// explicit allowlist of the upstream's own tool names.
type GroupServer struct {
	UpstreamName  string   `json:"upstream" mapstructure:"upstream"`
	SelectedTools []string `json:"selected_tools" mapstructure:"selected-tools"`
}

// Clone returns a deep copy preserving the nil-vs-empty distinction of
// SelectedTools.
func (g *GroupServer) Clone() *GroupServer {
	if g == nil {
		return nil
	}
	cloned := *g
	if g.SelectedTools != nil {
		cloned.SelectedTools = make([]string, len(g.SelectedTools))
		copy(cloned.SelectedTools, g.SelectedTools)
	}
	return &cloned
}

// Group is a named selection of upstreams (and optionally a subset of their
// tools) that downstream clients can connect to as a scope.
type Group struct {
	ID          string         `json:"id" mapstructure:"id"`
	Name        string         `json:"name" mapstructure:"name"`
	Description string         `json:"description,omitempty" mapstructure:"description"`
	Servers     []*GroupServer `json:"servers,omitempty" mapstructure:"servers"`

	// Owner is the principal id of the creator. Empty means public: every
	// principal can see the group.
	Owner string `json:"owner,omitempty" mapstructure:"owner"`

	Created time.Time `json:"created,omitempty" mapstructure:"created"`
	Updated time.Time `json:"updated,omitempty" mapstructure:"updated"`
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	cloned := *g
	if g.Servers != nil {
		cloned.Servers = make([]*GroupServer, len(g.Servers))
		for i, gs := range g.Servers {
			cloned.Servers[i] = gs.Clone()
		}
	}
	return &cloned
}

// FindServer returns the group's entry for the named upstream, or nil.
func (g *Group) FindServer(upstreamName string) *GroupServer {
	for _, gs := range g.Servers {
		if gs != nil && gs.UpstreamName == upstreamName {
			return gs
		}
	}
	return nil
}

// SmartRoutingConfig controls the vector-similarity discovery surface.
type SmartRoutingConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Provider   string `json:"provider,omitempty" mapstructure:"provider"`
	EmbedModel string `json:"embed_model,omitempty" mapstructure:"embed-model"`
	BaseURL    string `json:"base_url,omitempty" mapstructure:"base-url"`
	APIKeyEnv  string `json:"api_key_env,omitempty" mapstructure:"api-key-env"`
	Dimensions int    `json:"dimensions,omitempty" mapstructure:"dimensions"`
}

const (
	// EmbedProviderLocal selects the built-in hash embedder (no network).
	EmbedProviderLocal = "local"
	// EmbedProviderOpenAI selects an OpenAI-compatible embeddings API.
	EmbedProviderOpenAI = "openai"

	// LocalEmbedModel names the built-in embedder so that switching between
	// local and remote models is visible as a model change.
	LocalEmbedModel = "builtin-trigram"
	// LocalEmbedDimensions is the vector size of the built-in embedder.
	LocalEmbedDimensions = 1024

	defaultOpenAIEmbedModel = "text-embedding-3-small"
	defaultOpenAIKeyEnv     = "OPENAI_API_KEY"
)

// RoutingConfig controls which scopes downstream clients may use.
type RoutingConfig struct {
	AllowGlobal  *bool  `json:"allow_global,omitempty" mapstructure:"allow-global"`
	DefaultGroup string `json:"default_group,omitempty" mapstructure:"default-group"`
}

// GlobalAllowed reports whether the global scope is open. Defaults to true.
func (r *RoutingConfig) GlobalAllowed() bool {
	return r == nil || r.AllowGlobal == nil || *r.AllowGlobal
}

// IsEnabled reports whether smart routing is switched on. A missing block
// means off.
func (s *SmartRoutingConfig) IsEnabled() bool {
	return s != nil && s.Enabled
}

// AuthConfig configures downstream and management authentication. An empty
// APIKey leaves the management API open; a nil or true AllowAnonymous lets
// MCP clients connect without a bearer token.
type AuthConfig struct {
	APIKey         string `json:"api_key,omitempty" mapstructure:"api-key"`
	JWTSecret      string `json:"jwt_secret,omitempty" mapstructure:"jwt-secret"`
	AllowAnonymous *bool  `json:"allow_anonymous,omitempty" mapstructure:"allow-anonymous"`
}

// AnonymousAllowed reports whether unauthenticated MCP sessions are accepted.
func (a *AuthConfig) AnonymousAllowed() bool {
	return a == nil || a.AllowAnonymous == nil || *a.AllowAnonymous
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max-size"` // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"`
	MaxAge        int    `json:"max_age" mapstructure:"max-age"` // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// Settings is the hub's complete configuration.
type Settings struct {
	Listen  string `json:"listen" mapstructure:"listen"`
	DataDir string `json:"data_dir,omitempty" mapstructure:"data-dir"`

	Upstreams []*UpstreamSpec `json:"upstreams" mapstructure:"upstreams"`
	Groups    []*Group        `json:"groups,omitempty" mapstructure:"groups"`

	SmartRouting *SmartRoutingConfig `json:"smart_routing,omitempty" mapstructure:"smart-routing"`
	Routing      *RoutingConfig      `json:"routing,omitempty" mapstructure:"routing"`

	KeepAliveInterval  Duration  `json:"keep_alive_interval,omitempty" mapstructure:"keep-alive-interval"`
	CallTimeout        *Duration `json:"call_timeout,omitempty" mapstructure:"call-timeout"`
	IdleSessionTimeout Duration  `json:"idle_session_timeout,omitempty" mapstructure:"idle-session-timeout"`

	HideDegradedFromList bool `json:"hide_degraded_upstreams_from_list" mapstructure:"hide-degraded-upstreams-from-list"`
	ToolResponseLimit    int  `json:"tool_response_limit,omitempty" mapstructure:"tool-response-limit"`

	Logging *LogConfig  `json:"logging,omitempty" mapstructure:"logging"`
	Auth    *AuthConfig `json:"auth,omitempty" mapstructure:"auth"`
}

// DefaultSettings returns settings with all defaults applied and no
// upstreams or groups.
func DefaultSettings() *Settings {
	s := &Settings{
		Listen:    defaultListen,
		Upstreams: []*UpstreamSpec{},
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    true,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
			JSONFormat:    false,
		},
	}
	s.ApplyDefaults()
	return s
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
// An explicitly configured zero CallTimeout is preserved (it disables the
// per-call deadline).
func (s *Settings) ApplyDefaults() {
	if s.Listen == "" {
		s.Listen = defaultListen
	}
	if s.KeepAliveInterval <= 0 {
		s.KeepAliveInterval = Duration(DefaultKeepAliveInterval)
	}
	if s.CallTimeout == nil {
		d := Duration(DefaultCallTimeout)
		s.CallTimeout = &d
	}
	if s.IdleSessionTimeout <= 0 {
		s.IdleSessionTimeout = Duration(DefaultIdleSessionTimeout)
	}
	if s.SmartRouting != nil && s.SmartRouting.Enabled {
		sr := s.SmartRouting
		if sr.Provider == "" {
			sr.Provider = EmbedProviderLocal
		}
		switch sr.Provider {
		case EmbedProviderLocal:
			if sr.EmbedModel == "" {
				sr.EmbedModel = LocalEmbedModel
			}
			if sr.Dimensions <= 0 {
				sr.Dimensions = LocalEmbedDimensions
			}
		case EmbedProviderOpenAI:
			if sr.EmbedModel == "" {
				sr.EmbedModel = defaultOpenAIEmbedModel
			}
			if sr.APIKeyEnv == "" {
				sr.APIKeyEnv = defaultOpenAIKeyEnv
			}
		}
	}
}

// EffectiveCallTimeout returns the per-call deadline, zero meaning none.
func (s *Settings) EffectiveCallTimeout() time.Duration {
	if s.CallTimeout == nil {
		return DefaultCallTimeout
	}
	return s.CallTimeout.Duration()
}

// FindUpstream returns the upstream with the given name, or nil.
func (s *Settings) FindUpstream(name string) *UpstreamSpec {
	for _, u := range s.Upstreams {
		if u != nil && u.Name == name {
			return u
		}
	}
	return nil
}

// FindGroup resolves a group by ID first, then by name.
func (s *Settings) FindGroup(idOrName string) *Group {
	for _, g := range s.Groups {
		if g != nil && g.ID == idOrName {
			return g
		}
	}
	for _, g := range s.Groups {
		if g != nil && g.Name == idOrName {
			return g
		}
	}
	return nil
}

// Clone returns a deep copy of the settings.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	cloned := *s
	if s.Upstreams != nil {
		cloned.Upstreams = make([]*UpstreamSpec, len(s.Upstreams))
		for i, u := range s.Upstreams {
			cloned.Upstreams[i] = u.Clone()
		}
	}
	if s.Groups != nil {
		cloned.Groups = make([]*Group, len(s.Groups))
		for i, g := range s.Groups {
			cloned.Groups[i] = g.Clone()
		}
	}
	if s.SmartRouting != nil {
		sr := *s.SmartRouting
		cloned.SmartRouting = &sr
	}
	if s.Routing != nil {
		r := *s.Routing
		if s.Routing.AllowGlobal != nil {
			v := *s.Routing.AllowGlobal
			r.AllowGlobal = &v
		}
		cloned.Routing = &r
	}
	if s.CallTimeout != nil {
		d := *s.CallTimeout
		cloned.CallTimeout = &d
	}
	if s.Logging != nil {
		l := *s.Logging
		cloned.Logging = &l
	}
	if s.Auth != nil {
		a := *s.Auth
		if s.Auth.AllowAnonymous != nil {
			v := *s.Auth.AllowAnonymous
			a.AllowAnonymous = &v
		}
		cloned.Auth = &a
	}
	return &cloned
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cloned := make(map[string]string, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}
