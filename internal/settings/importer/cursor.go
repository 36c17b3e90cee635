package importer

import (
	"encoding/json"
	"fmt"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// cursorFile is the Cursor IDE config shape.
type cursorFile struct {
	MCPServers map[string]struct {
		Command string            `json:"command,omitempty"`
		Args    []string          `json:"args,omitempty"`
		Env     map[string]string `json:"env,omitempty"`
		EnvFile string            `json:"envFile,omitempty"`
		Cwd     string            `json:"cwd,omitempty"`
		URL     string            `json:"url,omitempty"`
		Type    string            `json:"type,omitempty"` // sse, streamable-http, streamableHttp
		Headers map[string]string `json:"headers,omitempty"`
		Auth    *struct {
			ClientID string `json:"CLIENT_ID,omitempty"`
		} `json:"auth,omitempty"`
	} `json:"mcpServers"`
}

func parseCursor(content []byte) ([]*candidate, error) {
	var cfg cursorFile
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(cfg.MCPServers) == 0 {
		return nil, fmt.Errorf("no MCP servers found in Cursor config")
	}

	candidates := make([]*candidate, 0, len(cfg.MCPServers))
	for _, name := range sortedKeys(cfg.MCPServers) {
		server := cfg.MCPServers[name]
		c := &candidate{name: name}

		// Cursor defaults url-based servers to SSE.
		label := server.Type
		if label == "" && server.URL != "" {
			label = "sse"
		}
		kind, err := mapKind(label)
		if err != nil {
			c.err = err
			candidates = append(candidates, c)
			continue
		}

		c.spec = &settings.UpstreamSpec{
			Kind:    kind,
			Command: server.Command,
			Args:    server.Args,
			Env:     server.Env,
			URL:     server.URL,
			Headers: server.Headers,
		}
		if server.EnvFile != "" {
			c.skipped = append(c.skipped, "envFile")
			c.warnings = append(c.warnings, "envFile is not supported; use env instead")
		}
		if server.Cwd != "" {
			c.skipped = append(c.skipped, "cwd")
		}
		if server.Auth != nil && server.Auth.ClientID != "" {
			c.skipped = append(c.skipped, "auth")
			c.warnings = append(c.warnings, "OAuth credentials are not supported; configure static headers instead")
		}
		switch kind {
		case settings.KindStdio:
			if server.Command == "" {
				c.warnings = append(c.warnings, "stdio server missing command field")
			}
		default:
			if server.URL == "" {
				c.warnings = append(c.warnings, fmt.Sprintf("%s server missing url field", kind))
			}
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}
