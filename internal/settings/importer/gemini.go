package importer

import (
	"encoding/json"
	"fmt"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// geminiFile is the Gemini CLI config shape. Transport priority is
// httpUrl, then url (SSE), then command.
type geminiFile struct {
	MCPServers map[string]geminiServer `json:"mcpServers"`
}

type geminiServer struct {
	HTTPUrl string `json:"httpUrl,omitempty"`
	URL     string `json:"url,omitempty"`
	Command string `json:"command,omitempty"`

	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout int               `json:"timeout,omitempty"`

	Description  string   `json:"description,omitempty"`
	Trust        bool     `json:"trust,omitempty"`
	IncludeTools []string `json:"includeTools,omitempty"`
	ExcludeTools []string `json:"excludeTools,omitempty"`

	OAuth *struct {
		Enabled  bool   `json:"enabled,omitempty"`
		ClientID string `json:"clientId,omitempty"`
	} `json:"oauth,omitempty"`
}

func parseGemini(content []byte) ([]*candidate, error) {
	var cfg geminiFile
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(cfg.MCPServers) == 0 {
		return nil, fmt.Errorf("no MCP servers found in Gemini config")
	}

	candidates := make([]*candidate, 0, len(cfg.MCPServers))
	for _, name := range sortedKeys(cfg.MCPServers) {
		server := cfg.MCPServers[name]
		c := &candidate{name: name}

		var kind settings.UpstreamKind
		var url string
		switch {
		case server.HTTPUrl != "":
			kind, url = settings.KindStreamHTTP, server.HTTPUrl
		case server.URL != "":
			kind, url = settings.KindSSE, server.URL
		default:
			kind = settings.KindStdio
		}

		c.spec = &settings.UpstreamSpec{
			Kind:    kind,
			Command: server.Command,
			Args:    server.Args,
			Env:     server.Env,
			URL:     url,
			Headers: server.Headers,
		}

		if server.Cwd != "" {
			c.skipped = append(c.skipped, "cwd")
		}
		if server.Timeout > 0 {
			c.warnings = append(c.warnings, "timeout is not supported; the hub call timeout applies")
		}
		if server.Trust {
			c.warnings = append(c.warnings, "trust field ignored")
		}
		if len(server.IncludeTools) > 0 {
			c.skipped = append(c.skipped, "includeTools")
			c.warnings = append(c.warnings, "includeTools is not imported; use per-tool overrides after the first connect")
		}
		if len(server.ExcludeTools) > 0 {
			c.skipped = append(c.skipped, "excludeTools")
			c.warnings = append(c.warnings, "excludeTools is not imported; use per-tool overrides after the first connect")
		}
		if server.OAuth != nil && server.OAuth.ClientID != "" {
			c.skipped = append(c.skipped, "oauth")
			c.warnings = append(c.warnings, "OAuth credentials are not supported; configure static headers instead")
		}

		if kind == settings.KindStdio && server.Command == "" {
			c.warnings = append(c.warnings, "stdio server missing command field")
		}
		if kind != settings.KindStdio && url == "" {
			c.warnings = append(c.warnings, fmt.Sprintf("%s server missing url field", kind))
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}
