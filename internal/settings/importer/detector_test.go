package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name           string
		content        string
		wantFormat     SourceFormat
		wantConfidence string
		wantErr        bool
	}{
		{
			name: "claude desktop with global shortcut",
			content: `{
				"globalShortcut": "Ctrl+Shift+M",
				"mcpServers": {
					"github": {"command": "uvx", "args": ["mcp-server-github"]}
				}
			}`,
			wantFormat:     FormatClaudeDesktop,
			wantConfidence: "high",
		},
		{
			name: "stdio only defaults to claude desktop",
			content: `{
				"mcpServers": {
					"github": {"command": "uvx"},
					"filesystem": {"command": "npx", "args": ["-y", "server-filesystem"]}
				}
			}`,
			wantFormat:     FormatClaudeDesktop,
			wantConfidence: "medium",
		},
		{
			name: "claude code websocket type",
			content: `{
				"mcpServers": {
					"ws": {"type": "websocket", "url": "ws://localhost:8080"}
				}
			}`,
			wantFormat:     FormatClaudeCode,
			wantConfidence: "high",
		},
		{
			name: "claude code http type",
			content: `{
				"mcpServers": {
					"api": {"type": "http", "url": "http://localhost:3000/mcp"}
				}
			}`,
			wantFormat:     FormatClaudeCode,
			wantConfidence: "medium",
		},
		{
			name: "cursor streamable-http",
			content: `{
				"mcpServers": {
					"api": {"type": "streamable-http", "url": "http://localhost:3000/mcp"}
				}
			}`,
			wantFormat:     FormatCursor,
			wantConfidence: "high",
		},
		{
			name: "cursor auth client id",
			content: `{
				"mcpServers": {
					"api": {"url": "http://localhost:3000/sse", "auth": {"CLIENT_ID": "abc"}}
				}
			}`,
			wantFormat:     FormatCursor,
			wantConfidence: "high",
		},
		{
			name: "cursor envFile",
			content: `{
				"mcpServers": {
					"local": {"command": "srv", "envFile": ".env"}
				}
			}`,
			wantFormat:     FormatCursor,
			wantConfidence: "medium",
		},
		{
			name: "gemini httpUrl",
			content: `{
				"mcpServers": {
					"api": {"httpUrl": "http://localhost:3000/mcp"}
				}
			}`,
			wantFormat:     FormatGemini,
			wantConfidence: "high",
		},
		{
			name: "gemini tool filters",
			content: `{
				"mcpServers": {
					"api": {"command": "srv", "includeTools": ["a", "b"]}
				}
			}`,
			wantFormat:     FormatGemini,
			wantConfidence: "medium",
		},
		{
			name: "codex toml",
			content: `
[mcp_servers.github]
command = "uvx"
args = ["mcp-server-github"]
`,
			wantFormat:     FormatCodex,
			wantConfidence: "high",
		},
		{
			name: "url without type falls back to cursor",
			content: `{
				"mcpServers": {
					"api": {"url": "http://localhost:3000/sse"}
				}
			}`,
			wantFormat:     FormatCursor,
			wantConfidence: "low",
		},
		{
			name:    "not a config",
			content: `{"otherKey": true}`,
			wantErr: true,
		},
		{
			name:    "garbage",
			content: `not json or toml = [`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detection, err := Detect([]byte(tt.content))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, detection.Format)
			assert.Equal(t, tt.wantConfidence, detection.Confidence)
			assert.NotEmpty(t, detection.Indicators)
		})
	}
}
