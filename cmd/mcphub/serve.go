package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/httpapi"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/logs"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/runtime"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

const shutdownTimeout = 10 * time.Second

var (
	configFile        string
	dataDir           string
	listen            string
	serveLogLevel     string
	logToFile         bool
	logDir            string
	toolResponseLimit int
)

func addServeFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configFile, "config", "c", "", "Settings file path (default: ./hub_config.json, then ~/.mcphub/hub_config.json)")
	fs.StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.mcphub)")
	fs.StringVarP(&listen, "listen", "l", "", "Listen address, host:port")
	fs.StringVar(&serveLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.BoolVar(&logToFile, "log-to-file", true, "Also write logs to the hub log directory")
	fs.StringVar(&logDir, "log-dir", "", "Custom log directory (overrides the OS default)")
	fs.IntVar(&toolResponseLimit, "tool-response-limit", 0, "Stored tool response size limit in bytes (0 = default)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, cfgPath, err := settings.Load(configFile)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	applyServeOverrides(cfg)

	logger, err := logs.Setup(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(cfg, cfgPath, version, logger)
	if err != nil {
		return fmt.Errorf("start hub: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpapi.NewServer(rt, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("hub starting",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("config", cfgPath),
		zap.Int("upstreams", len(cfg.Upstreams)))

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- rt.Run(ctx) }()

	<-ctx.Done()
	logger.Info("hub shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	if err := <-runErr; err != nil {
		return err
	}
	logger.Info("hub stopped")
	return nil
}

func applyServeOverrides(cfg *settings.Settings) {
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if toolResponseLimit > 0 {
		cfg.ToolResponseLimit = toolResponseLimit
	}
	if cfg.Logging == nil {
		cfg.Logging = logs.DefaultConfig()
	}
	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
	}
	cfg.Logging.EnableFile = logToFile
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}
}
