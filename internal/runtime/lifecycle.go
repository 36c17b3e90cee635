package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// gaugeInterval paces the periodic refresh of process-level gauges.
const gaugeInterval = 15 * time.Second

// Run starts every component and blocks until ctx is canceled, then tears
// the runtime down. It is called at most once.
func (rt *Runtime) Run(ctx context.Context) error {
	snap := rt.store.Current()
	cfg := snap.Settings

	rt.cat.ApplySettings(cfg)
	rt.upstreams.Apply(ctx, cfg, nil)
	if err := rt.db.SaveSettingsSnapshot(cfg); err != nil {
		rt.logger.Warn("failed to mirror settings into storage", zap.Error(err))
	}

	var wg sync.WaitGroup

	if rt.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rt.watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				rt.logger.Warn("settings watcher stopped", zap.Error(err))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.settingsLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.catalogLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.gaugeLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.sessions.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.textIndex.Run(ctx)
	}()

	if rt.vectors != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.vectors.Run(ctx)
		}()
	}

	rt.logger.Info("runtime started",
		zap.String("version", rt.version),
		zap.Int("upstreams", len(cfg.Upstreams)),
		zap.Bool("smart_routing", rt.vectors != nil))

	<-ctx.Done()
	wg.Wait()
	rt.Close()
	return nil
}

// Close releases every component. Safe to call more than once, and safe to
// call without Run for a runtime that never started.
func (rt *Runtime) Close() {
	rt.closeOnce.Do(rt.close)
}

// settingsLoop reacts to every effective settings change: reconciling
// upstream connections, reprojecting the catalog, and mirroring the new
// settings into storage.
func (rt *Runtime) settingsLoop(ctx context.Context) {
	ch := rt.store.Subscribe(ctx)
	defer rt.store.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-ch:
			if !ok {
				return
			}
			if update.Type == settings.UpdateTypeInit {
				continue
			}
			cfg := update.Snapshot.Settings
			rt.logger.Info("applying settings update",
				zap.String("source", update.Source),
				zap.Int64("version", update.Snapshot.Version))

			rt.cat.ApplySettings(cfg)
			rt.upstreams.Apply(ctx, cfg, update.Diff)
			if err := rt.db.SaveSettingsSnapshot(cfg); err != nil {
				rt.logger.Warn("failed to mirror settings into storage", zap.Error(err))
			}
			if m := rt.obs.Metrics(); m != nil {
				m.RecordSettingsReload(update.Source)
			}
			rt.bus.Publish(EventTypeSettingsReloaded, map[string]any{
				"version": update.Snapshot.Version,
				"source":  update.Source,
			})
		}
	}
}

// catalogLoop mirrors catalog version bumps into metrics and the event bus.
func (rt *Runtime) catalogLoop(ctx context.Context) {
	ch := rt.cat.Subscribe(ctx)
	for update := range ch {
		_, descs := rt.cat.Snapshot()
		if m := rt.obs.Metrics(); m != nil {
			m.SetCatalogStats(update.NewVersion, len(descs))
		}
		rt.bus.Publish(EventTypeCatalogUpdated, map[string]any{
			"version": update.NewVersion,
			"tools":   len(descs),
		})
	}
}

func (rt *Runtime) gaugeLoop(ctx context.Context) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.obs.UpdateUptime()
			if m := rt.obs.Metrics(); m != nil {
				m.SetUpstreamStats(rt.upstreamCounts())
				m.SetSessionStats(rt.sessions.ScopeServerCount(), rt.sessions.SessionCount())
				if rt.vectors != nil {
					m.SetIndexedVectors(rt.vectors.Len())
				}
			}
		}
	}
}
