package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

func TestImport_ClaudeDesktop(t *testing.T) {
	content := `{
		"globalShortcut": "Ctrl+Shift+M",
		"mcpServers": {
			"github": {
				"command": "uvx",
				"args": ["mcp-server-github"],
				"env": {"GITHUB_TOKEN": "ghp_test"}
			}
		}
	}`

	result, err := Import([]byte(content), nil)
	require.NoError(t, err)

	assert.Equal(t, FormatClaudeDesktop, result.Format)
	assert.Equal(t, "Claude Desktop", result.FormatDisplayName)
	require.Len(t, result.Imported, 1)

	spec := result.Imported[0].Spec
	assert.Equal(t, "github", spec.Name)
	assert.Equal(t, settings.KindStdio, spec.Kind)
	assert.Equal(t, "uvx", spec.Command)
	assert.Equal(t, []string{"mcp-server-github"}, spec.Args)
	assert.Equal(t, "ghp_test", spec.Env["GITHUB_TOKEN"])
	assert.False(t, spec.Created.IsZero())
	assert.Equal(t, 1, result.Summary.Imported)
}

func TestImport_ClaudeCode_TransportMapping(t *testing.T) {
	content := `{
		"mcpServers": {
			"local": {"type": "stdio", "command": "srv"},
			"events": {"type": "sse", "url": "http://localhost:9100/sse"},
			"api": {"type": "http", "url": "http://localhost:9200/mcp", "headers": {"X-Token": "t"}},
			"ws": {"type": "websocket", "url": "ws://localhost:9300"}
		}
	}`

	result, err := Import([]byte(content), &Options{FormatHint: FormatClaudeCode})
	require.NoError(t, err)

	require.Len(t, result.Imported, 3)
	byName := map[string]*settings.UpstreamSpec{}
	for _, imp := range result.Imported {
		byName[imp.Spec.Name] = imp.Spec
	}
	assert.Equal(t, settings.KindStdio, byName["local"].Kind)
	assert.Equal(t, settings.KindSSE, byName["events"].Kind)
	assert.Equal(t, settings.KindStreamHTTP, byName["api"].Kind)
	assert.Equal(t, "t", byName["api"].Headers["X-Token"])

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "ws", result.Failed[0].Name)
	assert.Contains(t, result.Failed[0].Error, "not supported")
}

func TestImport_Cursor_SkippedFields(t *testing.T) {
	content := `{
		"mcpServers": {
			"api": {
				"type": "streamable-http",
				"url": "http://localhost:3000/mcp",
				"envFile": ".env",
				"auth": {"CLIENT_ID": "abc"}
			}
		}
	}`

	result, err := Import([]byte(content), nil)
	require.NoError(t, err)

	assert.Equal(t, FormatCursor, result.Format)
	require.Len(t, result.Imported, 1)
	imp := result.Imported[0]
	assert.Equal(t, settings.KindStreamHTTP, imp.Spec.Kind)
	assert.Contains(t, imp.SkippedFields, "envFile")
	assert.Contains(t, imp.SkippedFields, "auth")
}

func TestImport_Codex(t *testing.T) {
	t.Setenv("CODEX_TEST_TOKEN", "tok-123")
	content := `
[mcp_servers.docs]
command = "docs-server"
args = ["--port", "0"]

[mcp_servers.api]
url = "http://localhost:4000/mcp"
bearer_token_env_var = "CODEX_TEST_TOKEN"
disabled_tools = ["dangerous_tool"]
`

	result, err := Import([]byte(content), nil)
	require.NoError(t, err)
	assert.Equal(t, FormatCodex, result.Format)
	require.Len(t, result.Imported, 2)

	byName := map[string]*ImportedUpstream{}
	for _, imp := range result.Imported {
		byName[imp.Spec.Name] = imp
	}

	docs := byName["docs"]
	assert.Equal(t, settings.KindStdio, docs.Spec.Kind)
	assert.Equal(t, "docs-server", docs.Spec.Command)

	api := byName["api"]
	assert.Equal(t, settings.KindStreamHTTP, api.Spec.Kind)
	assert.Equal(t, "Bearer tok-123", api.Spec.Headers["Authorization"])
	assert.Contains(t, api.SkippedFields, "disabled_tools")
}

func TestImport_Gemini_TransportPriority(t *testing.T) {
	content := `{
		"mcpServers": {
			"both": {"httpUrl": "http://localhost:1/mcp", "url": "http://localhost:2/sse"},
			"ssesrv": {"url": "http://localhost:3/sse", "trust": true},
			"local": {"command": "srv", "excludeTools": ["x"]}
		}
	}`

	result, err := Import([]byte(content), &Options{FormatHint: FormatGemini})
	require.NoError(t, err)
	require.Len(t, result.Imported, 3)

	byName := map[string]*ImportedUpstream{}
	for _, imp := range result.Imported {
		byName[imp.Spec.Name] = imp
	}

	assert.Equal(t, settings.KindStreamHTTP, byName["both"].Spec.Kind)
	assert.Equal(t, "http://localhost:1/mcp", byName["both"].Spec.URL)
	assert.Equal(t, settings.KindSSE, byName["ssesrv"].Spec.Kind)
	assert.Contains(t, byName["local"].SkippedFields, "excludeTools")
}

func TestImport_DuplicatesAndFilter(t *testing.T) {
	content := `{
		"mcpServers": {
			"github": {"command": "uvx"},
			"notion": {"command": "npx"},
			"slack": {"command": "npx"}
		}
	}`

	result, err := Import([]byte(content), &Options{
		Names:    []string{"github", "notion", "missing"},
		Existing: []string{"notion"},
	})
	require.NoError(t, err)

	require.Len(t, result.Imported, 1)
	assert.Equal(t, "github", result.Imported[0].Spec.Name)

	reasons := map[string]string{}
	for _, s := range result.Skipped {
		reasons[s.Name] = s.Reason
	}
	assert.Equal(t, "already_exists", reasons["notion"])
	assert.Equal(t, "filtered_out", reasons["slack"])

	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], `"missing" not found`)

	assert.Equal(t, Summary{Total: 3, Imported: 1, Skipped: 2, Failed: 0}, result.Summary)
}

func TestImport_SanitizesNames(t *testing.T) {
	content := `{
		"mcpServers": {
			"My Server (v2)": {"command": "srv"}
		}
	}`

	result, err := Import([]byte(content), &Options{FormatHint: FormatClaudeDesktop})
	require.NoError(t, err)

	require.Len(t, result.Imported, 1)
	assert.Equal(t, "My_Server_v2", result.Imported[0].Spec.Name)
	assert.Equal(t, "My Server (v2)", result.Imported[0].OriginalName)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "renamed")
}

func TestImport_DisabledOption(t *testing.T) {
	content := `{"mcpServers": {"github": {"command": "uvx"}}}`

	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	result, err := Import([]byte(content), &Options{
		FormatHint: FormatClaudeDesktop,
		Disabled:   true,
		Now:        stamp,
	})
	require.NoError(t, err)

	require.Len(t, result.Imported, 1)
	spec := result.Imported[0].Spec
	assert.False(t, spec.IsEnabled())
	assert.Equal(t, stamp, spec.Created)
}

func TestImport_UnknownFormat(t *testing.T) {
	_, err := Import([]byte(`{"something": "else"}`), nil)
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"already-valid", "already-valid"},
		{"My Server (v2)", "My_Server_v2"},
		{"a/b\\c.d", "a_b_c_d"},
		{"weird__name", "weird_name"},
		{"  padded  ", "padded"},
		{"???", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), "input %q", tt.in)
	}
}
