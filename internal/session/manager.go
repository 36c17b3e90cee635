package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/access"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/router"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// refreshDebounce coalesces bursts of catalog and settings changes into
// one view refresh, so a reconnecting upstream that re-lists twice does
// not double-notify every session.
const refreshDebounce = 100 * time.Millisecond

// Catalog is the catalog surface the manager consumes.
type Catalog interface {
	Subscribe(ctx context.Context) <-chan catalog.Update
}

// SettingsSource is the settings surface the manager consumes.
type SettingsSource interface {
	Current() *settings.Snapshot
	Subscribe(ctx context.Context) <-chan settings.Update
}

// Options configures a Manager.
type Options struct {
	Logger   *zap.Logger
	Router   *router.Router
	Catalog  Catalog
	Settings SettingsSource

	// HubName and HubVersion identify the hub in initialize responses.
	HubName    string
	HubVersion string
}

// Manager lazily creates one ScopeServer per (scope, principal) pair and
// keeps every live server's published view in step with the catalog and
// the settings. It also tracks individual client sessions with idle
// expiry.
type Manager struct {
	logger     *zap.Logger
	rt         *router.Router
	cat        Catalog
	cfg        SettingsSource
	hubName    string
	hubVersion string

	mu      sync.Mutex
	servers map[string]*ScopeServer
	closed  bool

	sessions *ttlcache.Cache[string, *Info]
}

// NewManager builds a Manager. Run must be called for view refreshes and
// idle expiry to happen.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := opts.HubName
	if name == "" {
		name = "mcphub"
	}
	version := opts.HubVersion
	if version == "" {
		version = "dev"
	}

	m := &Manager{
		logger:     logger,
		rt:         opts.Router,
		cat:        opts.Catalog,
		cfg:        opts.Settings,
		hubName:    name,
		hubVersion: version,
		servers:    make(map[string]*ScopeServer),
		sessions: ttlcache.New[string, *Info](
			ttlcache.WithTTL[string, *Info](idleTimeout(opts.Settings)),
		),
	}
	m.sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Info]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		info := item.Value()
		m.logger.Info("session expired idle",
			zap.String("session_id", info.SessionID),
			zap.String("scope", info.Scope.String()))
		m.dropSession(info)
	})
	return m
}

func idleTimeout(cfg SettingsSource) time.Duration {
	if cfg != nil {
		if snap := cfg.Current(); snap != nil && snap.Settings != nil {
			if d := snap.Settings.IdleSessionTimeout.Duration(); d > 0 {
				return d
			}
		}
	}
	return settings.DefaultIdleSessionTimeout
}

// dropSession force-closes the MCP session behind an expired registry
// entry, if its scope server is still around.
func (m *Manager) dropSession(info *Info) {
	m.mu.Lock()
	ss := m.servers[scopeKey(info.PrincipalID, info.Scope)]
	m.mu.Unlock()
	if ss != nil {
		ss.mcp.UnregisterSession(context.Background(), info.SessionID)
	}
}

// Run processes catalog and settings updates until the context ends,
// debouncing bursts, and drives session idle expiry.
func (m *Manager) Run(ctx context.Context) {
	go m.sessions.Start()
	defer m.sessions.Stop()

	catalogCh := m.cat.Subscribe(ctx)
	settingsCh := m.cfg.Subscribe(ctx)

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(refreshDebounce)
			fire = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(refreshDebounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case _, ok := <-catalogCh:
			if !ok {
				catalogCh = nil
				continue
			}
			schedule()
		case _, ok := <-settingsCh:
			if !ok {
				settingsCh = nil
				continue
			}
			schedule()
		case <-fire:
			m.RefreshAll()
		}
	}
}

// ServerFor returns the scope server for a principal and scope segment,
// creating it on first use. Scopes that resolve to an empty view are
// refused except for the global scope, which accepts an empty catalog and
// publishes an empty tool list. This also closes $smart when smart routing
// is disabled: its view resolves empty, so the session never opens.
func (m *Manager) ServerFor(principal access.Principal, segment string, endpoints Endpoints) (*ScopeServer, error) {
	cfg := m.currentSettings()
	scope, err := access.ResolveScope(cfg, principal, segment)
	if err != nil {
		return nil, err
	}
	view, err := access.ResolveView(cfg, principal, scope)
	if err != nil {
		return nil, err
	}
	if view.Empty() && scope.Kind != access.ScopeGlobal {
		return nil, mcperr.Newf(mcperr.KindScopeNotFound, "scope %q has no reachable upstreams", segment)
	}

	key := scopeKey(principal.ID, scope)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, mcperr.New(mcperr.KindSessionNotFound, "hub is shutting down")
	}
	if ss, ok := m.servers[key]; ok {
		return ss, nil
	}

	ss := m.newScopeServer(key, scope, principal, view, endpoints)
	m.servers[key] = ss
	m.logger.Info("scope server created",
		zap.String("scope", scope.String()),
		zap.String("principal", principal.ID))
	return ss, nil
}

func (m *Manager) newScopeServer(key string, scope access.Scope, principal access.Principal, view *access.View, endpoints Endpoints) *ScopeServer {
	ss := &ScopeServer{key: key, scope: scope, principal: principal}

	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, sess mcpserver.ClientSession) {
		info := &Info{
			SessionID:   sess.SessionID(),
			Scope:       scope,
			PrincipalID: principal.ID,
			CreatedAt:   time.Now(),
		}
		if withInfo, ok := sess.(mcpserver.SessionWithClientInfo); ok {
			clientInfo := withInfo.GetClientInfo()
			info.ClientName = clientInfo.Name
			info.ClientVersion = clientInfo.Version
		}
		m.sessions.Set(info.SessionID, info, ttlcache.DefaultTTL)
		m.logger.Info("session registered",
			zap.String("session_id", info.SessionID),
			zap.String("scope", scope.String()),
			zap.String("principal", principal.ID),
			zap.String("client", info.ClientName))
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, sess mcpserver.ClientSession) {
		m.sessions.Delete(sess.SessionID())
		m.logger.Info("session closed", zap.String("session_id", sess.SessionID()))
	})
	hooks.AddBeforeAny(func(ctx context.Context, _ any, _ mcp.MCPMethod, _ any) {
		if sess := mcpserver.ClientSessionFromContext(ctx); sess != nil {
			m.sessions.Touch(sess.SessionID())
		}
	})

	ss.mcp = mcpserver.NewMCPServer(
		m.hubName,
		m.hubVersion,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithHooks(hooks),
	)

	snap := m.rt.Materialize(view)
	ss.setCurrent(view, snap)
	if view.IsSmart {
		ss.registerSmartTools(m.rt)
	} else {
		ss.publish(m.rt, snap)
	}

	ss.sse = mcpserver.NewSSEServer(ss.mcp,
		mcpserver.WithSSEEndpoint(endpoints.SSE),
		mcpserver.WithMessageEndpoint(endpoints.Message),
		mcpserver.WithKeepAlive(true),
	)
	ss.streamable = mcpserver.NewStreamableHTTPServer(ss.mcp)
	return ss
}

// RefreshAll re-resolves every scope server's view against the current
// settings and catalog. Servers whose published tools changed swap their
// tool set, which notifies their sessions; unchanged servers stay silent.
// Servers whose scope target disappeared are torn down.
func (m *Manager) RefreshAll() {
	cfg := m.currentSettings()

	m.mu.Lock()
	servers := make([]*ScopeServer, 0, len(m.servers))
	for _, ss := range m.servers {
		servers = append(servers, ss)
	}
	m.mu.Unlock()

	for _, ss := range servers {
		if m.scopeGone(cfg, ss.scope) {
			m.remove(ss)
			continue
		}
		view, err := access.ResolveView(cfg, ss.principal, ss.scope)
		if err != nil {
			// The scope turned unauthorized (policy flip). Tear it down.
			m.remove(ss)
			continue
		}
		snap := m.rt.Materialize(view)
		if ss.setCurrent(view, snap) && !view.IsSmart {
			ss.publish(m.rt, snap)
			m.logger.Debug("scope view updated",
				zap.String("scope", ss.scope.String()),
				zap.String("principal", ss.principal.ID),
				zap.Int("tools", len(snap.Published)))
		}
	}
}

func (m *Manager) scopeGone(cfg *settings.Settings, scope access.Scope) bool {
	if cfg == nil {
		return false
	}
	switch scope.Kind {
	case access.ScopeUpstream:
		u := cfg.FindUpstream(scope.Target)
		return u == nil || !u.IsEnabled()
	case access.ScopeGroup:
		return cfg.FindGroup(scope.Target) == nil
	}
	return false
}

func (m *Manager) remove(ss *ScopeServer) {
	m.mu.Lock()
	delete(m.servers, ss.key)
	m.mu.Unlock()

	m.logger.Info("scope server removed", zap.String("scope", ss.scope.String()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ss.shutdown(ctx, m.logger)
}

// Sessions lists the live session registry sorted by creation time.
func (m *Manager) Sessions() []*Info {
	var infos []*Info
	for _, item := range m.sessions.Items() {
		infos = append(infos, item.Value())
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].SessionID < infos[j].SessionID
	})
	return infos
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	return m.sessions.Len()
}

// ScopeServerCount returns the number of live scope servers.
func (m *Manager) ScopeServerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.servers)
}

// Close tears down every scope server and the session registry.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	servers := make([]*ScopeServer, 0, len(m.servers))
	for _, ss := range m.servers {
		servers = append(servers, ss)
	}
	m.servers = make(map[string]*ScopeServer)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, ss := range servers {
		ss.shutdown(ctx, m.logger)
	}
	m.sessions.DeleteAll()
}

func (m *Manager) currentSettings() *settings.Settings {
	if m.cfg == nil {
		return nil
	}
	snap := m.cfg.Current()
	if snap == nil {
		return nil
	}
	return snap.Settings
}

func scopeKey(principalID string, scope access.Scope) string {
	return principalID + "|" + scope.String()
}
