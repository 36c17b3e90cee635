package importer

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// claudeDesktopFile is the Claude Desktop config shape. Only stdio servers
// exist in this format.
type claudeDesktopFile struct {
	MCPServers map[string]struct {
		Command string            `json:"command"`
		Args    []string          `json:"args"`
		Env     map[string]string `json:"env,omitempty"`
	} `json:"mcpServers"`
}

func parseClaudeDesktop(content []byte) ([]*candidate, error) {
	var cfg claudeDesktopFile
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(cfg.MCPServers) == 0 {
		return nil, fmt.Errorf("no MCP servers found in Claude Desktop config")
	}

	candidates := make([]*candidate, 0, len(cfg.MCPServers))
	for _, name := range sortedKeys(cfg.MCPServers) {
		server := cfg.MCPServers[name]
		c := &candidate{
			name: name,
			spec: &settings.UpstreamSpec{
				Kind:    settings.KindStdio,
				Command: server.Command,
				Args:    server.Args,
				Env:     server.Env,
			},
		}
		if server.Command == "" {
			c.warnings = append(c.warnings, "missing command field")
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// claudeCodeFile is the Claude Code config shape, which adds url-based
// transports via a type field (stdio, http, sse, websocket).
type claudeCodeFile struct {
	MCPServers map[string]struct {
		Type    string            `json:"type,omitempty"`
		Command string            `json:"command,omitempty"`
		Args    []string          `json:"args,omitempty"`
		Env     map[string]string `json:"env,omitempty"`
		URL     string            `json:"url,omitempty"`
		Headers map[string]string `json:"headers,omitempty"`
	} `json:"mcpServers"`
}

func parseClaudeCode(content []byte) ([]*candidate, error) {
	var cfg claudeCodeFile
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(cfg.MCPServers) == 0 {
		return nil, fmt.Errorf("no MCP servers found in Claude Code config")
	}

	candidates := make([]*candidate, 0, len(cfg.MCPServers))
	for _, name := range sortedKeys(cfg.MCPServers) {
		server := cfg.MCPServers[name]
		c := &candidate{name: name}

		label := server.Type
		if label == "" && server.URL != "" {
			label = "http"
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

// sortedKeys keeps import output deterministic regardless of map order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
