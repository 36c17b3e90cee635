package vector

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/storage"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/vector/embed"
)

func tool(name, desc string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: desc,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"title": map[string]any{"type": "string"},
			},
		},
	}
}

// fakeEmbedder produces one-hot vectors keyed by the text hash, so equal
// texts get equal vectors. Failures can be scripted.
type fakeEmbedder struct {
	mu       sync.Mutex
	model    string
	dim      int // reported by Dimensions
	vecDim   int // length of produced vectors
	failures int // fail this many upcoming calls
	calls    int
	batches  [][]string
}

func newFakeEmbedder(vecDim int) *fakeEmbedder {
	return &fakeEmbedder{model: "fake-model", vecDim: vecDim}
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.batches = append(f.batches, append([]string{}, texts...))
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("embedder down")
	}

	vecs := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, f.vecDim)
		h := fnv.New32a()
		_, _ = h.Write([]byte(text))
		vec[int(h.Sum32())%f.vecDim] = 1
		vecs[i] = vec
	}
	return vecs, nil
}

func (f *fakeEmbedder) Model() string { return f.model }

func (f *fakeEmbedder) Dimensions() int { return f.dim }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEmbedder) lastBatch() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	return f.batches[len(f.batches)-1]
}

func (f *fakeEmbedder) setFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *fakeEmbedder) setVecDim(dim int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vecDim = dim
}

func newTestIndex(t *testing.T, cat Catalog, embedder embed.Embedder, store *storage.Store) *Index {
	t.Helper()
	ix, err := NewIndex(Options{
		Logger:   zaptest.NewLogger(t),
		Store:    store,
		Embedder: embedder,
		Catalog:  cat,
	})
	require.NoError(t, err)
	t.Cleanup(ix.Close)
	return ix
}

func issueCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New(zaptest.NewLogger(t))
	cat.SetTools("github", []mcp.Tool{
		tool("create_issue", "Open a new issue in a repository"),
		tool("list_issues", "List issues in a repository"),
	})
	cat.SetTools("kubernetes", []mcp.Tool{
		tool("delete_pod", "Delete a pod from the cluster"),
	})
	return cat
}

func TestNewIndexValidatesOptions(t *testing.T) {
	_, err := NewIndex(Options{Catalog: issueCatalog(t)})
	require.Error(t, err)

	_, err = NewIndex(Options{Embedder: embed.NewLocal(16)})
	require.Error(t, err)
}

func TestSearchFindsMostSimilarTool(t *testing.T) {
	cat := issueCatalog(t)
	ix := newTestIndex(t, cat, embed.NewLocal(512), nil)
	ix.reconcileFull(context.Background())
	require.Equal(t, 3, ix.Len())

	matches, err := ix.Search(context.Background(), "open a new issue", 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "github", matches[0].UpstreamName)
	assert.Equal(t, "create_issue", matches[0].ToolName)
}

func TestSearchThresholdOneMatchesIdenticalTextOnly(t *testing.T) {
	cat := issueCatalog(t)
	ix := newTestIndex(t, cat, embed.NewLocal(512), nil)
	ix.reconcileFull(context.Background())

	desc, ok := cat.Get("github", "create_issue")
	require.True(t, ok)

	matches, err := ix.Search(context.Background(), desc.EmbeddingText(), 10, 1.0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "create_issue", matches[0].ToolName)
	assert.Equal(t, 1.0, matches[0].Similarity)
}

func TestSearchTieBreaksByName(t *testing.T) {
	cat := catalog.New(zaptest.NewLogger(t))
	cat.SetTools("zeta", []mcp.Tool{tool("same", "identical text")})
	cat.SetTools("alpha", []mcp.Tool{tool("zz_tool", "identical text"), tool("aa_tool", "identical text")})

	// Every text maps onto one constant vector, so all similarities tie.
	fake := newFakeEmbedder(8)
	ix := newTestIndex(t, cat, fake, nil)

	descs := []catalog.Descriptor{}
	_, all := cat.Snapshot()
	descs = append(descs, all...)
	items := make([]embedItem, 0, len(descs))
	for _, d := range descs {
		items = append(items, embedItem{
			key:          rowKey(d.UpstreamName, d.ToolName),
			upstreamName: d.UpstreamName,
			toolName:     d.ToolName,
			text:         "constant",
		})
		ix.mu.Lock()
		ix.pending[rowKey(d.UpstreamName, d.ToolName)] = "constant"
		ix.mu.Unlock()
	}
	require.False(t, ix.embedItems(context.Background(), items))
	require.Equal(t, 3, ix.Len())

	matches, err := ix.Search(context.Background(), "constant", 2, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "alpha", matches[0].UpstreamName)
	assert.Equal(t, "aa_tool", matches[0].ToolName)
	assert.Equal(t, "alpha", matches[1].UpstreamName)
	assert.Equal(t, "zz_tool", matches[1].ToolName)
}

func TestSearchNeverReturnsToolsAbsentFromCatalog(t *testing.T) {
	cat := issueCatalog(t)
	ix := newTestIndex(t, cat, embed.NewLocal(256), nil)
	ix.reconcileFull(context.Background())
	require.Equal(t, 3, ix.Len())

	// The catalog moves on; the index has not reconciled yet.
	cat.SetTools("github", []mcp.Tool{tool("create_issue", "Open a new issue in a repository")})

	matches, err := ix.Search(context.Background(), "issues in a repository", 10, 0)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, "list_issues", m.ToolName)
	}
}

func TestSearchEmbedderFailure(t *testing.T) {
	cat := issueCatalog(t)
	fake := newFakeEmbedder(8)
	ix := newTestIndex(t, cat, fake, nil)
	ix.reconcileFull(context.Background())

	fake.setFailures(1)
	_, err := ix.Search(context.Background(), "anything", 5, 0)
	require.Error(t, err)
}

func TestUpsertSkipsUnchangedTexts(t *testing.T) {
	cat := issueCatalog(t)
	fake := newFakeEmbedder(16)
	ix := newTestIndex(t, cat, fake, nil)

	ix.reconcileFull(context.Background())
	require.Equal(t, 3, ix.Len())
	assert.Equal(t, 1, fake.callCount())

	// Nothing changed, so a second reconcile embeds nothing.
	ix.reconcileFull(context.Background())
	assert.Equal(t, 1, fake.callCount())

	// Only the changed tool is re-embedded.
	cat.SetTools("github", []mcp.Tool{
		tool("create_issue", "Open a new issue with labels"),
		tool("list_issues", "List issues in a repository"),
	})
	ix.reconcileFull(context.Background())
	assert.Equal(t, 2, fake.callCount())
	require.Len(t, fake.lastBatch(), 1)
	assert.Contains(t, fake.lastBatch()[0], "create_issue")
}

func TestEmbedderFailureKeepsStaleRows(t *testing.T) {
	cat := issueCatalog(t)
	fake := newFakeEmbedder(16)
	ix := newTestIndex(t, cat, fake, nil)
	ix.reconcileFull(context.Background())
	require.Equal(t, 3, ix.Len())

	oldDesc, ok := cat.Get("github", "create_issue")
	require.True(t, ok)
	oldText := oldDesc.EmbeddingText()

	cat.SetTools("github", []mcp.Tool{
		tool("create_issue", "Completely rewritten description"),
		tool("list_issues", "List issues in a repository"),
	})
	fake.setFailures(1)
	ix.reconcileFull(context.Background())

	// The stale row still serves.
	assert.Equal(t, 3, ix.Len())
	assert.Equal(t, 1, ix.Stats().PendingRetries)

	matches, err := ix.Search(context.Background(), oldText, 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "create_issue", matches[0].ToolName)
	assert.Equal(t, oldText, matches[0].Text)

	// The retry sweep picks it up once the embedder recovers.
	ix.retryPending(context.Background())
	assert.Zero(t, ix.Stats().PendingRetries)

	newDesc, ok := cat.Get("github", "create_issue")
	require.True(t, ok)
	matches, err = ix.Search(context.Background(), newDesc.EmbeddingText(), 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, newDesc.EmbeddingText(), matches[0].Text)
}

func TestDisabledToolKeptButNotSearchable(t *testing.T) {
	cat := issueCatalog(t)
	fake := newFakeEmbedder(16)
	ix := newTestIndex(t, cat, fake, nil)
	ix.reconcileFull(context.Background())
	require.Positive(t, fake.callCount())

	disabled := false
	cat.ApplySettings(&settings.Settings{
		Upstreams: []*settings.UpstreamSpec{
			{
				Name:    "github",
				Kind:    settings.KindStdio,
				Command: "github-mcp",
				Tools: map[string]*settings.ToolOverride{
					"create_issue": {Enabled: &disabled},
				},
			},
		},
	})
	ix.reconcileFull(context.Background())

	// The row stays but search filters it.
	assert.Equal(t, 3, ix.Len())
	desc, ok := cat.Get("github", "create_issue")
	require.True(t, ok)
	require.False(t, desc.Enabled)

	matches, err := ix.Search(context.Background(), desc.EmbeddingText(), 10, 0)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, "create_issue", m.ToolName)
	}

	// Re-enabling costs no new embedding call. Snapshot after the search
	// above: queries embed through the same fake and count too.
	callsBeforeReenable := fake.callCount()
	cat.ApplySettings(&settings.Settings{
		Upstreams: []*settings.UpstreamSpec{
			{Name: "github", Kind: settings.KindStdio, Command: "github-mcp"},
		},
	})
	ix.reconcileFull(context.Background())
	assert.Equal(t, callsBeforeReenable, fake.callCount())

	matches, err = ix.Search(context.Background(), desc.EmbeddingText(), 10, 0)
	require.NoError(t, err)
	found := false
	for _, m := range matches {
		if m.ToolName == "create_issue" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDeleteUpstreamAndTool(t *testing.T) {
	cat := issueCatalog(t)
	store, err := storage.Open(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ix := newTestIndex(t, cat, newFakeEmbedder(16), store)
	ix.reconcileFull(context.Background())
	require.Equal(t, 3, ix.Len())

	ix.DeleteTool("github", "list_issues")
	assert.Equal(t, 2, ix.Len())

	ix.DeleteUpstream("github")
	assert.Equal(t, 1, ix.Len())

	count, err := store.CountEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPersistedRowsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	cat := issueCatalog(t)
	fake := newFakeEmbedder(16)

	store, err := storage.Open(dir, zap.NewNop().Sugar())
	require.NoError(t, err)

	ix := newTestIndex(t, cat, fake, store)
	ix.reconcileFull(context.Background())
	require.Equal(t, 3, ix.Len())
	require.Equal(t, 1, fake.callCount())
	require.NoError(t, store.Close())

	// Restart: rows load from disk and an unchanged catalog embeds nothing.
	store, err = storage.Open(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reborn := newTestIndex(t, cat, fake, store)
	assert.Equal(t, 3, reborn.Len())

	reborn.reconcileFull(context.Background())
	assert.Equal(t, 1, fake.callCount())
}

func TestModelChangeInvalidatesPersistedRows(t *testing.T) {
	dir := t.TempDir()
	cat := issueCatalog(t)

	store, err := storage.Open(dir, zap.NewNop().Sugar())
	require.NoError(t, err)

	first := newFakeEmbedder(16)
	ix := newTestIndex(t, cat, first, store)
	ix.reconcileFull(context.Background())
	require.NoError(t, store.Close())

	store, err = storage.Open(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	second := newFakeEmbedder(16)
	second.model = "another-model"
	reborn := newTestIndex(t, cat, second, store)
	assert.Zero(t, reborn.Len())

	count, err := store.CountEmbeddings()
	require.NoError(t, err)
	assert.Zero(t, count)

	// The next reconcile rebuilds the rows under the new model.
	reborn.reconcileFull(context.Background())
	assert.Equal(t, 3, reborn.Len())
	assert.Equal(t, 1, second.callCount())
}

func TestDimensionChangeRebuildsIndex(t *testing.T) {
	cat := issueCatalog(t)
	fake := newFakeEmbedder(4)
	ix := newTestIndex(t, cat, fake, nil)
	ix.reconcileFull(context.Background())
	require.Equal(t, 4, ix.Stats().Dimensions)

	// The embedder starts returning larger vectors; one changed tool
	// exposes the mismatch and forces a full rebuild.
	fake.setVecDim(8)
	cat.SetTools("github", []mcp.Tool{
		tool("create_issue", "Open a new issue with milestones"),
		tool("list_issues", "List issues in a repository"),
	})
	ix.reconcileFull(context.Background())

	stats := ix.Stats()
	assert.Equal(t, 8, stats.Dimensions)
	assert.Equal(t, 3, stats.Rows)
	assert.Zero(t, stats.PendingRetries)
}

func TestStatsReportsModel(t *testing.T) {
	cat := issueCatalog(t)
	ix := newTestIndex(t, cat, embed.NewLocal(64), nil)
	ix.reconcileFull(context.Background())

	stats := ix.Stats()
	assert.Equal(t, settings.LocalEmbedModel, stats.Model)
	assert.Equal(t, 64, stats.Dimensions)
	assert.Equal(t, 3, stats.Rows)
}
