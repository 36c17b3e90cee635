package importer

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// codexFile is the Codex CLI config shape (TOML, [mcp_servers.*] tables).
type codexFile struct {
	MCPServers map[string]codexServer `toml:"mcp_servers"`
}

type codexServer struct {
	Command string            `toml:"command,omitempty"`
	Args    []string          `toml:"args,omitempty"`
	Cwd     string            `toml:"cwd,omitempty"`
	Env     map[string]string `toml:"env,omitempty"`
	EnvVars []string          `toml:"env_vars,omitempty"` // forwarded from the shell environment

	URL               string            `toml:"url,omitempty"`
	BearerToken       string            `toml:"bearer_token,omitempty"`
	BearerTokenEnvVar string            `toml:"bearer_token_env_var,omitempty"`
	HTTPHeaders       map[string]string `toml:"http_headers,omitempty"`
	EnvHTTPHeaders    map[string]string `toml:"env_http_headers,omitempty"`

	Enabled       *bool    `toml:"enabled,omitempty"`
	EnabledTools  []string `toml:"enabled_tools,omitempty"`
	DisabledTools []string `toml:"disabled_tools,omitempty"`

	StartupTimeoutSec float64 `toml:"startup_timeout_sec,omitempty"`
	StartupTimeoutMs  int64   `toml:"startup_timeout_ms,omitempty"`
	ToolTimeoutSec    float64 `toml:"tool_timeout_sec,omitempty"`
}

func parseCodex(content []byte) ([]*candidate, error) {
	var cfg codexFile
	if _, err := toml.Decode(string(content), &cfg); err != nil {
		return nil, fmt.Errorf("invalid TOML: %w", err)
	}
	if len(cfg.MCPServers) == 0 {
		return nil, fmt.Errorf("no MCP servers found in Codex config (looking for [mcp_servers.*] sections)")
	}

	candidates := make([]*candidate, 0, len(cfg.MCPServers))
	for _, name := range sortedKeys(cfg.MCPServers) {
		server := cfg.MCPServers[name]
		c := &candidate{name: name}

		kind := settings.KindStdio
		if server.URL != "" {
			kind = settings.KindStreamHTTP
		}

		env := map[string]string{}
		for k, v := range server.Env {
			env[k] = v
		}
		for _, envVar := range server.EnvVars {
			if val := os.Getenv(envVar); val != "" {
				env[envVar] = val
			}
		}

		headers := map[string]string{}
		for k, v := range server.HTTPHeaders {
			headers[k] = v
		}
		for headerName, envVar := range server.EnvHTTPHeaders {
			if val := os.Getenv(envVar); val != "" {
				headers[headerName] = val
			}
		}
		token := server.BearerToken
		if token == "" && server.BearerTokenEnvVar != "" {
			token = os.Getenv(server.BearerTokenEnvVar)
		}
		if token != "" {
			headers["Authorization"] = "Bearer " + token
		}

		c.spec = &settings.UpstreamSpec{
			Kind:    kind,
			Command: server.Command,
			Args:    server.Args,
			Enabled: server.Enabled,
		}
		if len(env) > 0 {
			c.spec.Env = env
		}
		if kind == settings.KindStreamHTTP {
			c.spec.URL = server.URL
			if len(headers) > 0 {
				c.spec.Headers = headers
			}
		}

		// Codex per-server tool filters translate into hub tool overrides
		// once the actual tool list is known; carry them as warnings.
		if len(server.EnabledTools) > 0 {
			c.skipped = append(c.skipped, "enabled_tools")
			c.warnings = append(c.warnings, "enabled_tools is not imported; use per-tool overrides after the first connect")
		}
		if len(server.DisabledTools) > 0 {
			c.skipped = append(c.skipped, "disabled_tools")
			c.warnings = append(c.warnings, "disabled_tools is not imported; use per-tool overrides after the first connect")
		}
		if server.Cwd != "" {
			c.skipped = append(c.skipped, "cwd")
		}
		if server.StartupTimeoutSec > 0 || server.StartupTimeoutMs > 0 {
			c.warnings = append(c.warnings, "startup_timeout is not supported")
		}
		if server.ToolTimeoutSec > 0 {
			c.warnings = append(c.warnings, "tool_timeout_sec is not supported; the hub call timeout applies")
		}

		if kind == settings.KindStdio && server.Command == "" {
			c.warnings = append(c.warnings, "stdio server missing command field")
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}
