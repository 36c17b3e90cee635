package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putEmbedding(t *testing.T, store *Store, upstream, tool string) {
	t.Helper()
	require.NoError(t, store.PutEmbedding(&EmbeddingRecord{
		UpstreamName: upstream,
		ToolName:     tool,
		Text:         tool + "\ndescription",
		Vector:       []float64{1, 0, 0},
		Dim:          3,
		Model:        "builtin-trigram",
	}))
}

func TestPutEmbeddingValidates(t *testing.T) {
	store := openTestStore(t)

	require.Error(t, store.PutEmbedding(nil))
	require.Error(t, store.PutEmbedding(&EmbeddingRecord{ToolName: "create_issue"}))
	require.Error(t, store.PutEmbedding(&EmbeddingRecord{UpstreamName: "github"}))
}

func TestPutEmbeddingSetsUpdatedAt(t *testing.T) {
	store := openTestStore(t)

	rec := &EmbeddingRecord{
		UpstreamName: "github",
		ToolName:     "create_issue",
		Vector:       []float64{1},
		Dim:          1,
	}
	require.NoError(t, store.PutEmbedding(rec))
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestPutEmbeddingOverwrites(t *testing.T) {
	store := openTestStore(t)

	putEmbedding(t, store, "github", "create_issue")
	require.NoError(t, store.PutEmbedding(&EmbeddingRecord{
		UpstreamName: "github",
		ToolName:     "create_issue",
		Text:         "create_issue\nupdated",
		Vector:       []float64{0, 1, 0},
		Dim:          3,
	}))

	rec, err := store.GetEmbedding("github", "create_issue")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "create_issue\nupdated", rec.Text)
	assert.Equal(t, []float64{0, 1, 0}, rec.Vector)

	count, err := store.CountEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeleteEmbeddingsByUpstream(t *testing.T) {
	store := openTestStore(t)

	putEmbedding(t, store, "github", "create_issue")
	putEmbedding(t, store, "github", "list_issues")
	putEmbedding(t, store, "jira", "create_ticket")

	deleted, err := store.DeleteEmbeddingsByUpstream("github")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	rows, err := store.ListEmbeddings()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "jira", rows[0].UpstreamName)

	deleted, err = store.DeleteEmbeddingsByUpstream("github")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestDeleteEmbeddingsByUpstreamIsExact(t *testing.T) {
	store := openTestStore(t)

	// "git" must not match rows belonging to "github".
	putEmbedding(t, store, "github", "create_issue")

	deleted, err := store.DeleteEmbeddingsByUpstream("git")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestClearEmbeddings(t *testing.T) {
	store := openTestStore(t)

	putEmbedding(t, store, "github", "create_issue")
	putEmbedding(t, store, "jira", "create_ticket")
	require.NoError(t, store.ClearEmbeddings())

	count, err := store.CountEmbeddings()
	require.NoError(t, err)
	assert.Zero(t, count)

	// The bucket is usable again after the rebuild.
	putEmbedding(t, store, "github", "create_issue")
	count, err = store.CountEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListEmbeddingsOrderedByKey(t *testing.T) {
	store := openTestStore(t)

	putEmbedding(t, store, "jira", "create_ticket")
	putEmbedding(t, store, "github", "list_issues")
	putEmbedding(t, store, "github", "create_issue")

	rows, err := store.ListEmbeddings()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "create_issue", rows[0].ToolName)
	assert.Equal(t, "list_issues", rows[1].ToolName)
	assert.Equal(t, "create_ticket", rows[2].ToolName)
}
