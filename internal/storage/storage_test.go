package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestOpenCreatesDatabaseFile(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(filepath.Join(dir, DBFileName))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DBFileName), store.Path())
}

func TestSchemaVersionStamped(t *testing.T) {
	store := openTestStore(t)

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(CurrentSchemaVersion), version)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop().Sugar()

	store, err := Open(dir, logger)
	require.NoError(t, err)
	require.NoError(t, store.PutEmbedding(&EmbeddingRecord{
		UpstreamName: "github",
		ToolName:     "create_issue",
		Text:         "create_issue\nOpens an issue",
		Vector:       []float64{0.1, 0.2},
		Dim:          2,
		Model:        "builtin-trigram",
	}))
	require.NoError(t, store.Close())

	store, err = Open(dir, logger)
	require.NoError(t, err)
	defer store.Close()

	rec, err := store.GetEmbedding("github", "create_issue")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []float64{0.1, 0.2}, rec.Vector)
	assert.Equal(t, "builtin-trigram", rec.Model)
}

func TestBackupProducesReadableCopy(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SaveToolCall(&ToolCallRecord{
		UpstreamName: "github",
		ToolName:     "create_issue",
		Status:       CallStatusSuccess,
	}))

	backupPath := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, store.Backup(backupPath))

	info, err := os.Stat(backupPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestSettingsSnapshotRoundTrip(t *testing.T) {
	store := openTestStore(t)

	loaded, savedAt, err := store.LoadSettingsSnapshot()
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.True(t, savedAt.IsZero())

	cfg := &settings.Settings{
		Listen: ":8080",
		Upstreams: []*settings.UpstreamSpec{
			{Name: "github", Kind: settings.KindStdio, Command: "github-mcp"},
		},
	}
	require.NoError(t, store.SaveSettingsSnapshot(cfg))

	loaded, savedAt, err = store.LoadSettingsSnapshot()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Upstreams, 1)
	assert.Equal(t, "github", loaded.Upstreams[0].Name)
	assert.WithinDuration(t, time.Now().UTC(), savedAt, 5*time.Second)
}

func TestSaveSettingsSnapshotOverwrites(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SaveSettingsSnapshot(&settings.Settings{Listen: ":8080"}))
	require.NoError(t, store.SaveSettingsSnapshot(&settings.Settings{Listen: ":9090"}))

	loaded, _, err := store.LoadSettingsSnapshot()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, ":9090", loaded.Listen)
}

func TestTruncateResponse(t *testing.T) {
	short, truncated := TruncateResponse("hello", 100)
	assert.Equal(t, "hello", short)
	assert.False(t, truncated)

	long, truncated := TruncateResponse("aaaaaaaaaa", 4)
	assert.Equal(t, "aaaa...[truncated]", long)
	assert.True(t, truncated)
}
