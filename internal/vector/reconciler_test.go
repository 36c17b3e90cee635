package vector

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
)

func TestRunIndexesExistingCatalog(t *testing.T) {
	cat := issueCatalog(t)
	ix := newTestIndex(t, cat, newFakeEmbedder(16), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		ix.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ix.Len() == 3 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunFollowsCatalogChanges(t *testing.T) {
	cat := issueCatalog(t)
	ix := newTestIndex(t, cat, newFakeEmbedder(16), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ix.Run(ctx)

	require.Eventually(t, func() bool { return ix.Len() == 3 }, 3*time.Second, 10*time.Millisecond)

	cat.SetTools("jira", []mcp.Tool{tool("create_ticket", "Create a ticket in a project")})
	require.Eventually(t, func() bool { return ix.Len() == 4 }, 3*time.Second, 10*time.Millisecond)

	cat.RemoveUpstream("github")
	require.Eventually(t, func() bool { return ix.Len() == 2 }, 3*time.Second, 10*time.Millisecond)

	desc, ok := cat.Get("jira", "create_ticket")
	require.True(t, ok)
	matches, err := ix.Search(ctx, desc.EmbeddingText(), 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "jira", matches[0].UpstreamName)
}

func TestApplyUpdateInOrder(t *testing.T) {
	cat := issueCatalog(t)
	ix := newTestIndex(t, cat, newFakeEmbedder(16), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := cat.Subscribe(ctx)
	ix.reconcileFull(ctx)
	require.Equal(t, 3, ix.Len())

	cat.SetTools("jira", []mcp.Tool{tool("create_ticket", "Create a ticket in a project")})
	select {
	case update := <-updates:
		ix.applyUpdate(ctx, update)
	case <-time.After(3 * time.Second):
		t.Fatal("no catalog update received")
	}

	assert.Equal(t, 4, ix.Len())
	version, _ := cat.Snapshot()
	assert.Equal(t, version, ix.LastVersion())
}

func TestApplyUpdateResyncsOnGap(t *testing.T) {
	cat := issueCatalog(t)
	ix := newTestIndex(t, cat, newFakeEmbedder(16), nil)
	ix.reconcileFull(context.Background())
	require.Equal(t, 3, ix.Len())

	// A gapped update means dropped notifications. Its diff must be
	// ignored in favor of a full resync from the catalog snapshot.
	ghost := catalog.Descriptor{
		UpstreamName: "ghost",
		ToolName:     "haunt",
		Description:  "not a real tool",
		Enabled:      true,
		Tool:         tool("haunt", "not a real tool"),
	}
	ix.applyUpdate(context.Background(), catalog.Update{
		OldVersion: 41,
		NewVersion: 42,
		Diff:       catalog.Diff{Added: []catalog.Descriptor{ghost}},
	})

	assert.Equal(t, 3, ix.Len())
	version, _ := cat.Snapshot()
	assert.Equal(t, version, ix.LastVersion())

	matches, err := ix.Search(context.Background(), ghost.EmbeddingText(), 10, 0)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, "ghost", m.UpstreamName)
	}
}

func TestRetryTickRecoversFromOutage(t *testing.T) {
	cat := catalog.New(zaptest.NewLogger(t))
	fake := newFakeEmbedder(16)
	fake.setFailures(1)
	ix := newTestIndex(t, cat, fake, nil)

	cat.SetTools("github", []mcp.Tool{tool("create_issue", "Open a new issue in a repository")})
	ix.reconcileFull(context.Background())
	require.Zero(t, ix.Len())
	require.Equal(t, 1, ix.Stats().PendingRetries)

	ix.retryPending(context.Background())
	assert.Equal(t, 1, ix.Len())
	assert.Zero(t, ix.Stats().PendingRetries)
}
