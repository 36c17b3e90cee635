package logs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

func fileConfig(t *testing.T) *settings.LogConfig {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LogDir = t.TempDir()
	cfg.EnableConsole = false
	cfg.EnableFile = true
	return cfg
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "trace", want: "debug"},
		{in: "debug", want: "debug"},
		{in: "", want: "info"},
		{in: "info", want: "info"},
		{in: "WARN", want: "warn"},
		{in: "warning", want: "warn"},
		{in: "error", want: "error"},
		{in: "verbose", wantErr: true},
	}

	for _, tc := range cases {
		level, err := ParseLevel(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "level %q", tc.in)
			continue
		}
		require.NoError(t, err, "level %q", tc.in)
		assert.Equal(t, tc.want, level.String(), "level %q", tc.in)
	}
}

func TestSetup_WritesToFile(t *testing.T) {
	cfg := fileConfig(t)

	logger, err := Setup(cfg)
	require.NoError(t, err)

	logger.Info("hub started", zap.String("listen", "127.0.0.1:8080"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, DefaultLogFilename))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "hub started")
	assert.Contains(t, content, "127.0.0.1:8080")
	assert.Contains(t, content, " | ")
}

func TestSetup_JSONFormat(t *testing.T) {
	cfg := fileConfig(t)
	cfg.JSONFormat = true

	logger, err := Setup(cfg)
	require.NoError(t, err)

	logger.Warn("upstream degraded", zap.String("upstream", "github"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, DefaultLogFilename))
	require.NoError(t, err)

	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "upstream degraded", entry["msg"])
	assert.Equal(t, "github", entry["upstream"])
}

func TestSetup_RespectsLevel(t *testing.T) {
	cfg := fileConfig(t)
	cfg.Level = "error"

	logger, err := Setup(cfg)
	require.NoError(t, err)

	logger.Info("quiet")
	logger.Error("loud")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, DefaultLogFilename))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "quiet")
	assert.Contains(t, string(data), "loud")
}

func TestSetup_NoOutputs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableConsole = false
	cfg.EnableFile = false

	_, err := Setup(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log outputs")
}

func TestSetup_UnknownLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "chatty"

	_, err := Setup(cfg)
	require.Error(t, err)
}

func TestSetupCommandLogger_Defaults(t *testing.T) {
	// Short-lived commands stay quiet unless a level is forced.
	logger, err := SetupCommandLogger(false, "", false, "")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	logger, err = SetupCommandLogger(true, "", false, "")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))

	logger, err = SetupCommandLogger(false, "debug", false, "")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestUpstreamLogger(t *testing.T) {
	cfg := fileConfig(t)

	logger, err := UpstreamLogger(cfg, "github")
	require.NoError(t, err)

	logger.Info("connection established")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "upstream-github.log"))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "connection established")
	assert.Contains(t, content, "github")

	// The main log file must stay untouched.
	_, err = os.Stat(filepath.Join(cfg.LogDir, DefaultLogFilename))
	assert.True(t, os.IsNotExist(err))
}

func TestReadUpstreamLogTail(t *testing.T) {
	cfg := fileConfig(t)

	lines := []string{"one", "two", "three", "four", "five"}
	logPath := filepath.Join(cfg.LogDir, UpstreamLogFilename("weather"))
	require.NoError(t, os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	tail, err := ReadUpstreamLogTail(cfg, "weather", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "four", "five"}, tail)

	// Asking for more lines than exist returns them all.
	tail, err = ReadUpstreamLogTail(cfg, "weather", 50)
	require.NoError(t, err)
	assert.Len(t, tail, 5)
}

func TestReadUpstreamLogTail_MissingFile(t *testing.T) {
	cfg := fileConfig(t)

	tail, err := ReadUpstreamLogTail(cfg, "nonexistent", 10)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

func TestLogFilePathIn(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	path, err := LogFilePathIn(dir, "main.log")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "main.log"), path)

	// The directory is created on demand.
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLogFilePathIn_HomeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := LogFilePathIn("~/hub-logs", "main.log")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "hub-logs", "main.log"), path)
}

func TestUpstreamLogFilename(t *testing.T) {
	assert.Equal(t, "upstream-github.log", UpstreamLogFilename("github"))
}
