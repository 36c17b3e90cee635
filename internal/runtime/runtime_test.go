package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/router"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/storage"
)

func testSettings(t *testing.T) *settings.Settings {
	t.Helper()
	cfg := settings.DefaultSettings()
	cfg.DataDir = t.TempDir()
	cfg.Logging.EnableFile = false
	return cfg
}

func newTestRuntime(t *testing.T, cfg *settings.Settings) *Runtime {
	t.Helper()
	rt, err := New(cfg, "", "0.0.0-test", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func TestNewBuildsComponentGraph(t *testing.T) {
	rt := newTestRuntime(t, testSettings(t))

	assert.NotNil(t, rt.Bus())
	assert.NotNil(t, rt.SettingsStore())
	assert.NotNil(t, rt.Storage())
	assert.NotNil(t, rt.Catalog())
	assert.NotNil(t, rt.Upstreams())
	assert.NotNil(t, rt.Sessions())
	assert.NotNil(t, rt.TextIndex())
	assert.NotNil(t, rt.Observability())
	assert.Nil(t, rt.Vectors(), "smart routing off by default")
}

func TestNewWithSmartRoutingBuildsVectorIndex(t *testing.T) {
	cfg := testSettings(t)
	cfg.SmartRouting = &settings.SmartRoutingConfig{Enabled: true}
	cfg.ApplyDefaults()

	rt := newTestRuntime(t, cfg)
	require.NotNil(t, rt.Vectors())

	st := rt.StatusSummary()
	assert.True(t, st.SmartRouting)
	assert.NotNil(t, st.VectorStats)
}

func TestNewRejectsNilSettings(t *testing.T) {
	_, err := New(nil, "", "0.0.0-test", zap.NewNop())
	require.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	rt := newTestRuntime(t, testSettings(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	// Give the loops a moment to start before tearing down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop after context cancel")
	}
}

func TestRecordCallPersistsActivity(t *testing.T) {
	rt := newTestRuntime(t, testSettings(t))

	events := rt.Bus().Subscribe()
	defer rt.Bus().Unsubscribe(events)

	rt.recordCall(router.CallRecord{
		UpstreamName: "files",
		ToolName:     "read_file",
		Arguments:    map[string]any{"path": "/tmp/x"},
		Result:       mcp.NewToolResultText("contents"),
		Duration:     12 * time.Millisecond,
	})

	require.Eventually(t, func() bool {
		records, total, err := rt.Storage().ListToolCalls(storage.ToolCallFilter{})
		return err == nil && total == 1 && len(records) == 1
	}, 2*time.Second, 20*time.Millisecond)

	records, _, err := rt.Storage().ListToolCalls(storage.ToolCallFilter{})
	require.NoError(t, err)
	rec := records[0]
	assert.Equal(t, "files", rec.UpstreamName)
	assert.Equal(t, "read_file", rec.ToolName)
	assert.Equal(t, storage.CallStatusSuccess, rec.Status)
	assert.Contains(t, rec.Response, "contents")
	assert.Equal(t, int64(12), rec.DurationMs)

	select {
	case evt := <-events:
		assert.Equal(t, EventTypeToolCalled, evt.Type)
		assert.Equal(t, "files", evt.Payload["upstream"])
	case <-time.After(time.Second):
		t.Fatal("tool.called event was not published")
	}
}

func TestRecordCallStoresErrorKind(t *testing.T) {
	rt := newTestRuntime(t, testSettings(t))

	rt.recordCall(router.CallRecord{
		UpstreamName: "files",
		ToolName:     "read_file",
		Duration:     3 * time.Millisecond,
		Err:          mcperr.New(mcperr.KindUpstreamTimeout, "deadline elapsed"),
	})

	var rec *storage.ToolCallRecord
	require.Eventually(t, func() bool {
		records, _, err := rt.Storage().ListToolCalls(storage.ToolCallFilter{})
		if err != nil || len(records) != 1 {
			return false
		}
		rec = records[0]
		return true
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, storage.CallStatusError, rec.Status)
	assert.Equal(t, string(mcperr.KindUpstreamTimeout), rec.ErrorKind)
	assert.Contains(t, rec.ErrorMessage, "deadline elapsed")
	assert.Empty(t, rec.Response)
}

func TestStatusSummaryReflectsSettings(t *testing.T) {
	cfg := testSettings(t)
	cfg.Listen = "127.0.0.1:9191"
	rt := newTestRuntime(t, cfg)

	st := rt.StatusSummary()
	assert.Equal(t, "0.0.0-test", st.Version)
	assert.Equal(t, "127.0.0.1:9191", st.Listen)
	assert.Zero(t, st.Sessions)
	assert.False(t, st.SmartRouting)
	assert.False(t, st.LastUpdated.IsZero())
}

func TestCloseIsIdempotent(t *testing.T) {
	rt := newTestRuntime(t, testSettings(t))
	rt.Close()
	rt.Close()
}

func TestSettingsMutationReachesCatalog(t *testing.T) {
	rt := newTestRuntime(t, testSettings(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	_, err := rt.SettingsStore().Mutate("test", func(s *settings.Settings) error {
		s.Upstreams = append(s.Upstreams, &settings.UpstreamSpec{
			Name:    "local-files",
			Kind:    settings.KindStdio,
			Command: "mcp-files",
		})
		return nil
	})
	require.NoError(t, err)

	// The settings loop reprojects the catalog; the new upstream has no
	// tools yet but the spec must be known to the projection.
	require.Eventually(t, func() bool {
		cfg := rt.SettingsStore().Current().Settings
		return len(cfg.Upstreams) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("runtime stopped with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop after context cancel")
	}
}
