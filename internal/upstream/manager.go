package upstream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/logs"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/transport"
)

// defaultMaxConcurrentConnects bounds how many upstream handshakes run at
// once during a reconcile burst.
const defaultMaxConcurrentConnects = 8

// Options configures a Manager.
type Options struct {
	Logger    *zap.Logger
	LogConfig *settings.LogConfig

	// Events receives tool and state updates from every supervisor.
	Events Events

	// MaxConcurrentConnects caps parallel connection handshakes.
	MaxConcurrentConnects int

	// Env builds child environments for stdio upstreams.
	Env *transport.EnvBuilder

	// Dial overrides connection construction in tests.
	Dial dialFunc
}

// Manager owns one supervisor per enabled upstream and reconciles the set
// against settings snapshots. Reconciliation for a single upstream is
// serial; different upstreams proceed independently.
type Manager struct {
	logger *zap.Logger
	logCfg *settings.LogConfig
	events Events
	dial   dialFunc
	env    *transport.EnvBuilder
	pool   pond.Pool

	mu        sync.RWMutex
	sups      map[string]*Supervisor
	keepAlive time.Duration
	closed    bool
}

// NewManager builds a Manager. It starts no connections until Apply.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.MaxConcurrentConnects
	if workers <= 0 {
		workers = defaultMaxConcurrentConnects
	}

	return &Manager{
		logger:    logger,
		logCfg:    opts.LogConfig,
		events:    opts.Events,
		dial:      opts.Dial,
		env:       opts.Env,
		pool:      pond.NewPool(workers),
		sups:      make(map[string]*Supervisor),
		keepAlive: settings.DefaultKeepAliveInterval,
	}
}

// Apply reconciles running supervisors against a settings snapshot.
//
// A nil diff forces a full sync: the desired set is computed by diffing
// the snapshot against what currently runs. With a diff, only the named
// upstreams are touched: added specs get supervisors, removed specs are
// torn down, connection changes tear down and re-create, and overlay-only
// changes are left to the catalog.
func (m *Manager) Apply(ctx context.Context, cfg *settings.Settings, diff *settings.Diff) {
	if cfg == nil {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.keepAlive = cfg.KeepAliveInterval.Duration()
	m.mu.Unlock()

	specs := make(map[string]*settings.UpstreamSpec, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		if u != nil && u.Name != "" {
			specs[u.Name] = u
		}
	}

	if diff == nil {
		diff = settings.ComputeDiff(m.supervisedSettings(), cfg)
	}

	for _, name := range diff.RemovedUpstreams {
		m.removeSupervisor(name)
		m.events.emitRemoved(name)
	}

	for _, name := range diff.AddedUpstreams {
		spec := specs[name]
		if spec == nil || !spec.IsEnabled() {
			continue
		}
		m.addSupervisor(ctx, spec)
	}

	for _, change := range diff.ChangedUpstreams {
		if !change.ConnectionChanged {
			// Overlay-only edits reproject the catalog without touching
			// the connection.
			if sup := m.supervisor(change.Name); sup != nil {
				if spec := specs[change.Name]; spec != nil {
					sup.updateSpec(spec)
				}
			}
			continue
		}
		m.removeSupervisor(change.Name)
		spec := specs[change.Name]
		if spec == nil || !spec.IsEnabled() {
			m.events.emitRemoved(change.Name)
			continue
		}
		m.addSupervisor(ctx, spec)
	}
}

// supervisedSettings reconstructs a settings view of what currently runs,
// for diffing against an incoming snapshot.
func (m *Manager) supervisedSettings() *settings.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &settings.Settings{}
	for _, sup := range m.sups {
		s.Upstreams = append(s.Upstreams, sup.Spec())
	}
	return s
}

func (m *Manager) addSupervisor(ctx context.Context, spec *settings.UpstreamSpec) {
	upLog, err := logs.UpstreamLogger(m.logCfg, spec.Name)
	if err != nil {
		m.logger.Warn("per-upstream log unavailable, using main logger",
			zap.String("upstream", spec.Name),
			zap.Error(err))
		upLog = m.logger
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, exists := m.sups[spec.Name]; exists {
		m.mu.Unlock()
		m.logger.Warn("supervisor already exists, skipping add",
			zap.String("upstream", spec.Name))
		return
	}
	sup := newSupervisor(supervisorConfig{
		spec:        spec,
		logger:      m.logger,
		upstreamLog: upLog,
		events:      m.events,
		dial:        m.dial,
		transportOpts: &transport.Options{
			Logger: m.logger,
			Env:    m.env,
		},
		keepAlive: m.keepAlive,
		acquire:   m.acquireConnectSlot,
	})
	m.sups[spec.Name] = sup
	m.mu.Unlock()

	m.logger.Info("supervising upstream",
		zap.String("upstream", spec.Name),
		zap.String("kind", string(spec.Kind)))
	sup.Start(ctx)
}

func (m *Manager) removeSupervisor(name string) {
	m.mu.Lock()
	sup := m.sups[name]
	delete(m.sups, name)
	m.mu.Unlock()

	if sup == nil {
		return
	}
	m.logger.Info("stopping upstream supervisor", zap.String("upstream", name))
	sup.Stop()
}

func (m *Manager) acquireConnectSlot(task func()) {
	_ = m.pool.Submit(task).Wait()
}

// CallTool forwards a tool call to the named upstream.
func (m *Manager) CallTool(ctx context.Context, upstreamName, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	sup := m.supervisor(upstreamName)
	if sup == nil {
		return nil, mcperr.Newf(mcperr.KindUpstreamUnavailable,
			"upstream %q is not configured", upstreamName)
	}
	return sup.CallTool(ctx, tool, args)
}

// RequestRefresh asks the named upstream to re-list its tools. It reports
// whether the upstream is known.
func (m *Manager) RequestRefresh(upstreamName string) bool {
	sup := m.supervisor(upstreamName)
	if sup == nil {
		return false
	}
	sup.RequestRefresh()
	return true
}

// Restart tears the named upstream's connection down and supervises it
// again from a clean state. It reports whether the upstream is known.
func (m *Manager) Restart(ctx context.Context, upstreamName string) bool {
	sup := m.supervisor(upstreamName)
	if sup == nil {
		return false
	}
	spec := sup.Spec()
	m.removeSupervisor(upstreamName)
	m.addSupervisor(ctx, spec)
	return true
}

// StateFor returns the lifecycle state of the named upstream. Unknown
// names report closed.
func (m *Manager) StateFor(upstreamName string) State {
	sup := m.supervisor(upstreamName)
	if sup == nil {
		return StateClosed
	}
	return sup.State()
}

// StatusFor returns the management view of one upstream.
func (m *Manager) StatusFor(upstreamName string) (Status, bool) {
	sup := m.supervisor(upstreamName)
	if sup == nil {
		return Status{}, false
	}
	return sup.Status(), true
}

// Status returns all upstream statuses sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	statuses := make([]Status, 0, len(m.sups))
	for _, sup := range m.sups {
		statuses = append(statuses, sup.Status())
	}
	m.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

func (m *Manager) supervisor(name string) *Supervisor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sups[name]
}

// Close stops every supervisor in parallel and waits for them.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sups := make([]*Supervisor, 0, len(m.sups))
	for _, sup := range m.sups {
		sups = append(sups, sup)
	}
	m.sups = make(map[string]*Supervisor)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, sup := range sups {
		wg.Add(1)
		go func(sup *Supervisor) {
			defer wg.Done()
			sup.Stop()
		}(sup)
	}
	wg.Wait()
	m.pool.StopAndWait()
}
