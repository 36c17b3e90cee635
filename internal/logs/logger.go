// Package logs configures zap logging for the hub: a colored console core
// for interactive use, a rotated file core for long-running servers, and
// per-upstream log files so each upstream's stderr and lifecycle events can
// be inspected in isolation.
package logs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

const (
	// DefaultLogFilename is the main log file name inside the log directory.
	DefaultLogFilename = "main.log"

	tailDefaultLines = 50
	tailMaxLines     = 500
)

// DefaultConfig returns the logging configuration used when the settings
// file does not specify one: INFO to the console, no file output.
func DefaultConfig() *settings.LogConfig {
	return &settings.LogConfig{
		Level:         "info",
		EnableFile:    false,
		EnableConsole: true,
		Filename:      DefaultLogFilename,
		MaxSize:       10,
		MaxBackups:    5,
		MaxAge:        30,
		Compress:      true,
		JSONFormat:    false,
	}
}

// ParseLevel maps a config level string to a zap level. "trace" is accepted
// as an alias for debug so configs shared with other tools keep working.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return zap.DebugLevel, nil
	case "", "info":
		return zap.InfoLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("unknown log level: %q", level)
	}
}

// Setup builds the hub logger from config. Console and file cores are
// combined with a tee; both are wrapped in the secret sanitizer so resolved
// API keys and tokens never reach disk or terminal.
func Setup(cfg *settings.LogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var cores []zapcore.Core

	if cfg.EnableConsole {
		cores = append(cores, consoleCore(level))
	}

	if cfg.EnableFile {
		fc, err := fileCore(cfg, mainFilename(cfg), level)
		if err != nil {
			return nil, fmt.Errorf("create file core: %w", err)
		}
		cores = append(cores, fc)
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("no log outputs enabled: set enable_console or enable_file")
	}

	core := NewSecretSanitizer(zapcore.NewTee(cores...))
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

// SetupCommandLogger builds a logger for CLI commands. Short-lived commands
// default to WARN so their output stays readable; the serve command gets the
// configured level and optionally a file core in the standard log directory.
func SetupCommandLogger(serveCommand bool, logLevel string, logToFile bool, logDir string) (*zap.Logger, error) {
	cfg := DefaultConfig()
	cfg.LogDir = logDir
	cfg.EnableFile = logToFile

	switch {
	case logLevel != "":
		cfg.Level = logLevel
	case serveCommand:
		cfg.Level = "info"
	default:
		cfg.Level = "warn"
	}

	return Setup(cfg)
}

// UpstreamLogger creates a file-only logger for one upstream. Each upstream
// writes to upstream-<name>.log in the hub log directory and every entry is
// tagged with the upstream name. Console output is suppressed so a dozen
// chatty upstreams do not interleave on the operator's terminal.
func UpstreamLogger(cfg *settings.LogConfig, upstreamName string) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	core, err := fileCore(cfg, UpstreamLogFilename(upstreamName), level)
	if err != nil {
		return nil, fmt.Errorf("create upstream log core: %w", err)
	}

	logger := zap.New(NewSecretSanitizer(core), zap.AddCaller(), zap.AddCallerSkip(1))
	return logger.With(zap.String("upstream", upstreamName)), nil
}

// CLIUpstreamLogger is the console-only variant of UpstreamLogger, used when
// an upstream is run in the foreground for debugging and its output should
// go straight to the terminal instead of a file.
func CLIUpstreamLogger(logLevel string, upstreamName string) (*zap.Logger, error) {
	level, err := ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}

	logger := zap.New(NewSecretSanitizer(consoleCore(level)), zap.AddCaller(), zap.AddCallerSkip(1))
	return logger.With(zap.String("upstream", upstreamName)), nil
}

// UpstreamLogFilename returns the log file name for an upstream.
func UpstreamLogFilename(upstreamName string) string {
	return fmt.Sprintf("upstream-%s.log", upstreamName)
}

func mainFilename(cfg *settings.LogConfig) string {
	if cfg.Filename != "" {
		return cfg.Filename
	}
	return DefaultLogFilename
}

// consoleCore writes human-readable colored output to stderr, keeping stdout
// free for command results and MCP stdio framing.
func consoleCore(level zapcore.Level) zapcore.Core {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stderr),
		level,
	)
}

// fileCore writes to a rotated file under the log directory.
func fileCore(cfg *settings.LogConfig, filename string, level zapcore.Level) (zapcore.Core, error) {
	logPath, err := LogFilePathIn(cfg.LogDir, filename)
	if err != nil {
		return nil, fmt.Errorf("resolve log path: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	var encoder zapcore.Encoder
	if cfg.JSONFormat {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encCfg.EncodeCaller = zapcore.ShortCallerEncoder
		encCfg.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	return zapcore.NewCore(encoder, zapcore.AddSync(writer), level), nil
}

// ReadUpstreamLogTail returns the last n lines of an upstream's log file.
// A missing file yields an empty slice, not an error, so the management API
// can be queried before the upstream has ever logged anything.
func ReadUpstreamLogTail(cfg *settings.LogConfig, upstreamName string, lines int) ([]string, error) {
	if lines <= 0 {
		lines = tailDefaultLines
	}
	if lines > tailMaxLines {
		lines = tailMaxLines
	}

	var logDir string
	if cfg != nil {
		logDir = cfg.LogDir
	}
	logPath, err := LogFilePathIn(logDir, UpstreamLogFilename(upstreamName))
	if err != nil {
		return nil, fmt.Errorf("resolve log path: %w", err)
	}

	f, err := os.Open(filepath.Clean(logPath))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Keep a sliding window of the last n lines. Upstream logs rotate at
	// MaxSize so a full scan stays bounded.
	tail := make([]string, 0, lines)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		tail = append(tail, scanner.Text())
		if len(tail) > lines {
			tail = tail[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	return tail, nil
}
