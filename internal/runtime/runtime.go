// Package runtime wires the hub's components together and owns their
// lifecycle outside the HTTP layer: settings, storage, the upstream
// manager, the catalog, indexes, and the downstream session manager.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/index"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/observability"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/router"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/session"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/storage"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/transport"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/upstream"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/vector"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/vector/embed"
)

// ServiceName identifies the hub in telemetry and initialize responses.
const ServiceName = "mcphub"

// Runtime owns every non-HTTP component of the hub process.
type Runtime struct {
	logger    *zap.Logger
	version   string
	closeOnce sync.Once

	bus       *Bus
	store     *settings.Store
	watcher   *settings.Watcher
	db        *storage.Store
	cat       *catalog.Catalog
	obs       *observability.Manager
	upstreams *upstream.Manager
	vectors   *vector.Index // nil when smart routing is off
	textIndex *index.Manager
	router    *router.Router
	sessions  *session.Manager
}

// New builds the full component graph for the given settings. configPath
// may be empty, in which case hot reload is disabled and mutations are not
// persisted to disk.
func New(cfg *settings.Settings, configPath string, version string, logger *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		var err error
		dataDir, err = settings.DefaultDataDirPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data directory: %w", err)
		}
	}

	var persist settings.PersistFunc
	if configPath != "" {
		persist = settings.SaveSettings
	}
	store := settings.NewStore(cfg, configPath, persist, logger)

	var watcher *settings.Watcher
	if configPath != "" {
		var err error
		watcher, err = settings.NewWatcher(store, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize settings watcher: %w", err)
		}
	}

	db, err := storage.Open(dataDir, logger.Sugar())
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	obs, err := observability.NewManager(logger, observability.DefaultConfig(ServiceName, version))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	rt := &Runtime{
		logger:  logger,
		version: version,
		bus:     NewBus(),
		store:   store,
		watcher: watcher,
		db:      db,
		cat:     catalog.New(logger),
		obs:     obs,
	}

	rt.upstreams = upstream.NewManager(upstream.Options{
		Logger:    logger,
		LogConfig: cfg.Logging,
		Env:       transport.NewEnvBuilder(transport.DefaultEnvConfig()),
		Events: upstream.Events{
			ToolsChanged: rt.onUpstreamTools,
			StateChanged: rt.onUpstreamState,
			Removed:      rt.onUpstreamRemoved,
		},
	})

	if cfg.SmartRouting.IsEnabled() {
		embedder, err := embed.New(cfg.SmartRouting)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		rt.vectors, err = vector.NewIndex(vector.Options{
			Logger:   logger,
			Store:    db,
			Embedder: embedder,
			Catalog:  rt.cat,
		})
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
	}

	rt.textIndex, err = index.NewManager(rt.cat, logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to initialize search index: %w", err)
	}

	var search router.Searcher
	if rt.vectors != nil {
		search = rt.vectors
	}
	rt.router = router.New(router.Options{
		Logger:    logger,
		Upstreams: rt.upstreams,
		Catalog:   rt.cat,
		Settings:  store,
		Search:    search,
		Record:    rt.recordCall,
	})

	rt.sessions = session.NewManager(session.Options{
		Logger:     logger,
		Router:     rt.router,
		Catalog:    rt.cat,
		Settings:   store,
		HubName:    ServiceName,
		HubVersion: version,
	})

	rt.registerCheckers(cfg)
	return rt, nil
}

func (rt *Runtime) registerCheckers(cfg *settings.Settings) {
	dbChecker := observability.NewDatabaseChecker("storage", rt.db.DB())
	rt.obs.RegisterHealthChecker(dbChecker)
	rt.obs.RegisterReadinessChecker(dbChecker)

	minReady := 0
	for _, spec := range cfg.Upstreams {
		if spec.IsEnabled() {
			minReady = 1
			break
		}
	}
	rt.obs.RegisterReadinessChecker(observability.NewUpstreamChecker("upstreams", rt.upstreamCounts, minReady))
}

// onUpstreamTools feeds every upstream tool listing into the catalog.
func (rt *Runtime) onUpstreamTools(upstreamName string, tools []mcp.Tool) {
	rt.cat.SetTools(upstreamName, tools)
	rt.bus.Publish(EventTypeUpstreamsChanged, map[string]any{
		"upstream": upstreamName,
		"tools":    len(tools),
	})
}

func (rt *Runtime) onUpstreamState(_ upstream.State, status upstream.Status) {
	if m := rt.obs.Metrics(); m != nil {
		m.RecordUpstreamStateChange(status.Name, status.State.String())
	}
	rt.bus.Publish(EventTypeUpstreamsChanged, map[string]any{
		"upstream": status.Name,
		"state":    status.State.String(),
	})
}

func (rt *Runtime) onUpstreamRemoved(upstreamName string) {
	rt.cat.RemoveUpstream(upstreamName)
	if rt.vectors != nil {
		rt.vectors.DeleteUpstream(upstreamName)
	}
	rt.bus.Publish(EventTypeUpstreamsChanged, map[string]any{
		"upstream": upstreamName,
		"removed":  true,
	})
}

// recordCall persists one dispatched tool call and feeds the metrics and
// event surfaces. The response body is stored truncated to the configured
// limit; errors store their kind instead of a body.
func (rt *Runtime) recordCall(rec router.CallRecord) {
	if m := rt.obs.Metrics(); m != nil {
		m.RecordToolCall(rec.UpstreamName, rec.ToolName, rec.Err, rec.Duration)
	}

	record := &storage.ToolCallRecord{
		UpstreamName: rec.UpstreamName,
		ToolName:     rec.ToolName,
		Arguments:    rec.Arguments,
		DurationMs:   rec.Duration.Milliseconds(),
		Status:       storage.CallStatusSuccess,
	}
	if rec.Err != nil {
		record.Status = storage.CallStatusError
		record.ErrorKind = string(mcperr.KindOf(rec.Err))
		record.ErrorMessage = rec.Err.Error()
	} else if rec.Result != nil {
		if data, err := json.Marshal(rec.Result.Content); err == nil {
			limit := 0
			if snap := rt.store.Current(); snap != nil {
				limit = snap.Settings.ToolResponseLimit
			}
			record.Response, record.ResponseTruncated = storage.TruncateResponse(string(data), limit)
		}
	}
	rt.db.SaveToolCallAsync(record)

	rt.bus.Publish(EventTypeToolCalled, map[string]any{
		"upstream":    rec.UpstreamName,
		"tool":        rec.ToolName,
		"status":      record.Status,
		"duration_ms": record.DurationMs,
	})
}

func (rt *Runtime) upstreamCounts() (total, ready int) {
	statuses := rt.upstreams.Status()
	for _, st := range statuses {
		if st.State == upstream.StateReady {
			ready++
		}
	}
	return len(statuses), ready
}

// Accessors for the HTTP layer and CLI wiring.

func (rt *Runtime) Bus() *Bus                           { return rt.bus }
func (rt *Runtime) SettingsStore() *settings.Store      { return rt.store }
func (rt *Runtime) Storage() *storage.Store             { return rt.db }
func (rt *Runtime) Catalog() *catalog.Catalog           { return rt.cat }
func (rt *Runtime) Upstreams() *upstream.Manager        { return rt.upstreams }
func (rt *Runtime) Sessions() *session.Manager          { return rt.sessions }
func (rt *Runtime) TextIndex() *index.Manager           { return rt.textIndex }
func (rt *Runtime) Vectors() *vector.Index              { return rt.vectors }
func (rt *Runtime) Observability() *observability.Manager { return rt.obs }
func (rt *Runtime) Version() string                     { return rt.version }

// Status is the high-level process summary served by the management API.
type Status struct {
	Version        string            `json:"version"`
	Listen         string            `json:"listen"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Upstreams      []upstream.Status `json:"upstreams"`
	UpstreamsReady int               `json:"upstreams_ready"`
	CatalogVersion uint64            `json:"catalog_version"`
	ToolsTotal     int               `json:"tools_total"`
	ScopeServers   int               `json:"scope_servers"`
	Sessions       int               `json:"sessions"`
	SmartRouting   bool              `json:"smart_routing"`
	VectorStats    *vector.Stats     `json:"vector_stats,omitempty"`
	LastUpdated    time.Time         `json:"last_updated"`
}

// StatusSummary assembles the current Status.
func (rt *Runtime) StatusSummary() Status {
	snap := rt.store.Current()
	version, descs := rt.cat.Snapshot()
	_, ready := rt.upstreamCounts()

	st := Status{
		Version:        rt.version,
		UptimeSeconds:  int64(time.Since(rt.obs.StartTime()).Seconds()),
		Upstreams:      rt.upstreams.Status(),
		UpstreamsReady: ready,
		CatalogVersion: version,
		ToolsTotal:     len(descs),
		ScopeServers:   rt.sessions.ScopeServerCount(),
		Sessions:       rt.sessions.SessionCount(),
		LastUpdated:    time.Now().UTC(),
	}
	if snap != nil {
		st.Listen = snap.Settings.Listen
		st.SmartRouting = snap.Settings.SmartRouting.IsEnabled()
	}
	if rt.vectors != nil {
		stats := rt.vectors.Stats()
		st.VectorStats = &stats
	}
	return st
}

// close tears down whatever New managed to construct, in reverse order.
func (rt *Runtime) close() {
	if rt.sessions != nil {
		rt.sessions.Close()
	}
	if rt.upstreams != nil {
		rt.upstreams.Close()
	}
	if rt.vectors != nil {
		rt.vectors.Close()
	}
	if rt.textIndex != nil {
		_ = rt.textIndex.Close()
	}
	if rt.cat != nil {
		rt.cat.Close()
	}
	if rt.watcher != nil {
		_ = rt.watcher.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
	if rt.obs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = rt.obs.Close(ctx)
		cancel()
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
}
