package index

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

func tool(name, desc string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: desc,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"repository": map[string]any{"type": "string"},
			},
		},
	}
}

func seededCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New(zaptest.NewLogger(t))
	cat.SetTools("github", []mcp.Tool{
		tool("create_issue", "Open a new issue in a GitHub repository"),
		tool("merge_pull_request", "Merge an open pull request"),
		tool("list_workflows", "List GitHub Actions workflows"),
	})
	cat.SetTools("weather", []mcp.Tool{
		tool("current_conditions", "Current weather conditions for a city"),
		tool("forecast", "Five day weather forecast for a city"),
	})
	return cat
}

func builtManager(t *testing.T, cat Catalog) *Manager {
	t.Helper()
	m, err := NewManager(cat, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	m.rebuild()
	return m
}

func TestSearchByDescription(t *testing.T) {
	m := builtManager(t, seededCatalog(t))

	tests := []struct {
		name        string
		query       string
		topUpstream string
		topTool     string
	}{
		{
			name:        "full text match on description",
			query:       "merge pull request",
			topUpstream: "github",
			topTool:     "merge_pull_request",
		},
		{
			name:        "exact tool name",
			query:       "create_issue",
			topUpstream: "github",
			topTool:     "create_issue",
		},
		{
			name:        "domain word",
			query:       "weather forecast",
			topUpstream: "weather",
			topTool:     "forecast",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := m.Search(tt.query, 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, tt.topUpstream, results[0].UpstreamName)
			assert.Equal(t, tt.topTool, results[0].ToolName)
		})
	}
}

func TestSearchValidatesQuery(t *testing.T) {
	m := builtManager(t, seededCatalog(t))

	_, err := m.Search("", 10)
	require.Error(t, err)
}

func TestSearchHonorsLimit(t *testing.T) {
	m := builtManager(t, seededCatalog(t))

	results, err := m.Search("a city weather", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDisabledToolsStaySearchable(t *testing.T) {
	cat := seededCatalog(t)
	off := false
	cat.ApplySettings(&settings.Settings{
		Upstreams: []*settings.UpstreamSpec{
			{
				Name:    "weather",
				Kind:    settings.KindStreamHTTP,
				URL:     "https://weather.example.com/mcp",
				Tools:   map[string]*settings.ToolOverride{"forecast": {Enabled: &off}},
				Enabled: nil,
			},
		},
	})
	m := builtManager(t, cat)

	results, err := m.Search("forecast", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "forecast", results[0].ToolName)
	assert.False(t, results[0].Enabled)
}

func TestRunFollowsCatalog(t *testing.T) {
	cat := seededCatalog(t)
	m, err := NewManager(cat, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	docCount := func() uint64 {
		n, _ := m.DocumentCount()
		return n
	}
	require.Eventually(t, func() bool { return docCount() == 5 }, 3*time.Second, 10*time.Millisecond)

	cat.SetTools("jira", []mcp.Tool{tool("create_ticket", "Create a Jira ticket in a project")})
	require.Eventually(t, func() bool { return docCount() == 6 }, 3*time.Second, 10*time.Millisecond)

	results, searchErr := m.Search("Jira ticket", 5)
	require.NoError(t, searchErr)
	require.NotEmpty(t, results)
	assert.Equal(t, "jira", results[0].UpstreamName)

	cat.RemoveUpstream("github")
	require.Eventually(t, func() bool { return docCount() == 3 }, 3*time.Second, 10*time.Millisecond)
}

func TestApplyUpdateResyncsOnGap(t *testing.T) {
	cat := seededCatalog(t)
	m := builtManager(t, cat)

	version, _ := cat.Snapshot()
	require.Equal(t, version, m.LastVersion())

	// A gapped update carries an untrustworthy diff; the manager must
	// rebuild from the snapshot instead of applying it.
	m.applyUpdate(catalog.Update{
		OldVersion: version + 10,
		NewVersion: version + 11,
		Diff: catalog.Diff{
			Removed: []catalog.Descriptor{{UpstreamName: "github", ToolName: "create_issue"}},
		},
	})

	count, err := m.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), count)
	assert.Equal(t, version, m.LastVersion())
}

func TestStats(t *testing.T) {
	m := builtManager(t, seededCatalog(t))

	stats := m.Stats()
	assert.Equal(t, uint64(5), stats["document_count"])
	assert.Equal(t, "BM25", stats["search_backend"])
}
