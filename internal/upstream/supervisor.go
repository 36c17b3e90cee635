package upstream

import (
	"bufio"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/transport"
)

const (
	// connectTimeout bounds transport start, initialize and the first
	// tool listing together.
	connectTimeout = 30 * time.Second

	// listTimeout bounds tool re-listing after a change notification.
	listTimeout = 30 * time.Second

	// closeTimeout bounds graceful connection close; a stuck child is
	// abandoned after this.
	closeTimeout = 5 * time.Second

	// pingFailureLimit is how many consecutive keep-alive failures move
	// a ready upstream to degraded.
	pingFailureLimit = 2

	clientName    = "mcphub"
	clientVersion = "1.0.0"
)

// Events carries supervisor output into the catalog and the event bus.
// Nil callbacks are skipped.
type Events struct {
	// ToolsChanged fires with the full current tool list after connect
	// and after every re-listing.
	ToolsChanged func(upstream string, tools []mcp.Tool)

	// StateChanged fires on every state transition.
	StateChanged func(old State, status Status)

	// Removed fires when a supervisor is torn down because its spec was
	// removed or disabled.
	Removed func(upstream string)
}

func (e Events) emitTools(upstream string, tools []mcp.Tool) {
	if e.ToolsChanged != nil {
		e.ToolsChanged(upstream, tools)
	}
}

func (e Events) emitState(old State, status Status) {
	if e.StateChanged != nil {
		e.StateChanged(old, status)
	}
}

func (e Events) emitRemoved(upstream string) {
	if e.Removed != nil {
		e.Removed(upstream)
	}
}

// dialFunc builds the transport connection. Tests substitute in-memory
// connections here.
type dialFunc func(spec *settings.UpstreamSpec, opts *transport.Options) (*transport.Connection, error)

type supervisorConfig struct {
	spec          *settings.UpstreamSpec
	logger        *zap.Logger
	upstreamLog   *zap.Logger
	events        Events
	dial          dialFunc
	transportOpts *transport.Options
	keepAlive     time.Duration

	// acquire serializes connect attempts through the manager's worker
	// pool so a large reconcile cannot spawn every child at once.
	acquire func(task func())
}

// Supervisor owns one upstream runtime: it drives the connection through
// the state machine, pumps stderr into the upstream's log, keeps the
// connection alive, and republishes tools on change notifications.
// State transitions for one upstream are serial; supervisors for different
// upstreams run independently.
type Supervisor struct {
	name string

	logger      *zap.Logger
	upstreamLog *zap.Logger
	events      Events
	dial        dialFunc
	tropts      *transport.Options
	keepAlive   time.Duration
	acquire     func(task func())

	sm *stateMachine
	bo *backoff.ExponentialBackOff

	mu   sync.RWMutex
	spec *settings.UpstreamSpec
	conn *transport.Connection

	reconnectC chan error
	refreshC   chan struct{}

	lifeMu  sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newSupervisor(cfg supervisorConfig) *Supervisor {
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	upstreamLog := cfg.upstreamLog
	if upstreamLog == nil {
		upstreamLog = zap.NewNop()
	}
	dial := cfg.dial
	if dial == nil {
		dial = transport.New
	}
	acquire := cfg.acquire
	if acquire == nil {
		acquire = func(task func()) { task() }
	}
	keepAlive := cfg.keepAlive
	if keepAlive <= 0 {
		keepAlive = settings.DefaultKeepAliveInterval
	}

	s := &Supervisor{
		name:        cfg.spec.Name,
		logger:      logger,
		upstreamLog: upstreamLog,
		events:      cfg.events,
		dial:        dial,
		tropts:      cfg.transportOpts,
		keepAlive:   keepAlive,
		acquire:     acquire,
		sm:          newStateMachine(cfg.spec.Name, cfg.spec.Kind, logger),
		bo:          newReconnectBackoff(),
		spec:        cfg.spec.Clone(),
		reconnectC:  make(chan error, 1),
		refreshC:    make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	s.sm.setOnChange(func(old, _ State, status Status) {
		s.logger.Info("upstream state changed",
			zap.String("upstream", s.name),
			zap.String("from", old.String()),
			zap.String("to", status.State.String()),
			zap.String("last_error", status.LastError))
		s.events.emitState(old, status)
	})

	return s
}

// newReconnectBackoff builds the retry schedule: base 1s, doubling, capped
// at 60s, with 20% jitter either way. It never gives up; removal or
// shutdown are the only exits.
func newReconnectBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 2
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Start launches the supervision loop. Starting twice, or after Stop, is
// a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
}

// Stop ends supervision, closes the connection and marks the runtime
// closed. It blocks until the loop has exited or the grace window passes,
// and is safe to call any number of times.
func (s *Supervisor) Stop() {
	s.lifeMu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.started {
			s.cancel()
		} else {
			s.sm.toClosed()
			close(s.done)
		}
	}
	s.lifeMu.Unlock()

	select {
	case <-s.done:
	case <-time.After(closeTimeout + time.Second):
		s.logger.Warn("supervisor did not stop within grace window",
			zap.String("upstream", s.name))
	}
}

// Status returns the runtime's current management view.
func (s *Supervisor) Status() Status { return s.sm.Status() }

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return s.sm.State() }

// Spec returns the supervised spec.
func (s *Supervisor) Spec() *settings.UpstreamSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spec
}

// updateSpec swaps in a spec whose connection fields are unchanged, such as
// a tool overlay edit. The live connection is untouched.
func (s *Supervisor) updateSpec(spec *settings.UpstreamSpec) {
	s.mu.Lock()
	s.spec = spec.Clone()
	s.mu.Unlock()
}

// RequestRefresh asks the supervisor to re-list tools. Duplicate requests
// coalesce.
func (s *Supervisor) RequestRefresh() {
	select {
	case s.refreshC <- struct{}{}:
	default:
	}
}

// CallTool forwards one tool call to the upstream. The caller owns the
// deadline; failures come back classified.
func (s *Supervisor) CallTool(ctx context.Context, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil || !s.sm.IsReady() {
		status := s.sm.Status()
		if status.LastError != "" {
			return nil, mcperr.Newf(mcperr.KindUpstreamUnavailable,
				"upstream %q is %s: %s", s.name, status.State, status.LastError)
		}
		return nil, mcperr.Newf(mcperr.KindUpstreamUnavailable,
			"upstream %q is %s", s.name, status.State)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	result, err := conn.Conn.CallTool(ctx, req)
	if err != nil {
		kind := mcperr.ClassifyUpstream(err)
		if kind == mcperr.KindUpstreamUnavailable || kind == mcperr.KindUpstreamProtocol {
			s.signalReconnect(err)
		}
		return nil, mcperr.Wrapf(kind, err, "upstream %q: call %q", s.name, tool)
	}
	return result, nil
}

func (s *Supervisor) signalReconnect(err error) {
	select {
	case s.reconnectC <- err:
	default:
	}
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connect(ctx)
		if err == nil {
			s.bo.Reset()
			err = s.serveReady(ctx)
		}
		s.closeConn()

		if ctx.Err() != nil {
			return
		}

		delay := s.bo.NextBackOff()
		s.sm.toDegraded(err, time.Now().Add(delay))
		s.logger.Warn("upstream degraded, retry scheduled",
			zap.String("upstream", s.name),
			zap.Error(err),
			zap.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connect dials, starts and initializes the connection, lists tools once
// and publishes them. On success the runtime is ready.
func (s *Supervisor) connect(ctx context.Context) error {
	s.sm.toConnecting()

	s.mu.RLock()
	spec := s.spec
	s.mu.RUnlock()

	var (
		conn       *transport.Connection
		serverInfo *mcp.InitializeResult
		tools      []*mcp.Tool
		connErr    error
	)

	// The pool slot covers the whole handshake so reconcile bursts do not
	// spawn every child process at once.
	s.acquire(func() {
		if ctx.Err() != nil {
			connErr = ctx.Err()
			return
		}

		var err error
		conn, err = s.dial(spec, s.tropts)
		if err != nil {
			connErr = err
			return
		}

		startCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		if err := conn.Conn.Start(startCtx); err != nil {
			connErr = err
			return
		}

		initRequest := mcp.InitializeRequest{}
		initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		initRequest.Params.ClientInfo = mcp.Implementation{
			Name:    clientName,
			Version: clientVersion,
		}
		initRequest.Params.Capabilities = mcp.ClientCapabilities{}

		serverInfo, err = conn.Conn.Initialize(startCtx, initRequest)
		if err != nil {
			connErr = err
			return
		}

		listed, err := listTools(startCtx, conn)
		if err != nil {
			connErr = err
			return
		}
		tools = listed
	})
	if connErr != nil {
		if conn != nil {
			closeConnection(conn, s.logger, s.name)
		}
		return connErr
	}

	s.registerHandlers(conn, serverInfo)
	s.pumpStderr(ctx, conn)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.sm.toReady(serverInfo.ServerInfo.Name, serverInfo.ServerInfo.Version,
		serverInfo.ProtocolVersion, len(tools))

	s.upstreamLog.Info("connected",
		zap.String("server_name", serverInfo.ServerInfo.Name),
		zap.String("server_version", serverInfo.ServerInfo.Version),
		zap.String("protocol_version", serverInfo.ProtocolVersion),
		zap.Int("tool_count", len(tools)))

	s.events.emitTools(s.name, derefTools(tools))
	return nil
}

func (s *Supervisor) registerHandlers(conn *transport.Connection, serverInfo *mcp.InitializeResult) {
	conn.Conn.OnConnectionLost(func(err error) {
		s.logger.Warn("upstream connection lost",
			zap.String("upstream", s.name),
			zap.Error(err))
		s.signalReconnect(err)
	})

	conn.Conn.OnNotification(func(notification mcp.JSONRPCNotification) {
		if notification.Method != string(mcp.MethodNotificationToolsListChanged) {
			return
		}
		s.logger.Info("upstream announced tool list change",
			zap.String("upstream", s.name))
		s.RequestRefresh()
	})

	if serverInfo.Capabilities.Tools == nil || !serverInfo.Capabilities.Tools.ListChanged {
		s.logger.Debug("upstream does not advertise tools.listChanged",
			zap.String("upstream", s.name))
	}
}

// serveReady blocks while the upstream is healthy. It returns the reason
// the ready phase ended; ctx errors mean shutdown.
func (s *Supervisor) serveReady(ctx context.Context) error {
	var keepAliveC <-chan time.Time
	if s.usesKeepAlive() {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		keepAliveC = ticker.C
	}

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-s.reconnectC:
			return err

		case <-s.refreshC:
			if err := s.refreshTools(ctx); err != nil {
				return err
			}

		case <-keepAliveC:
			if err := s.ping(ctx); err != nil {
				consecutiveFailures++
				s.logger.Warn("keep-alive ping failed",
					zap.String("upstream", s.name),
					zap.Int("consecutive_failures", consecutiveFailures),
					zap.Error(err))
				if consecutiveFailures >= pingFailureLimit {
					return mcperr.Wrapf(mcperr.KindUpstreamUnavailable, err,
						"%d consecutive keep-alive failures", consecutiveFailures)
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

// usesKeepAlive reports whether this transport needs periodic pings.
// Stdio children and SSE streams hold a persistent channel that can die
// silently; http-stream and openapi reconnect per request.
func (s *Supervisor) usesKeepAlive() bool {
	if s.keepAlive <= 0 {
		return false
	}
	s.mu.RLock()
	kind := s.spec.Kind
	s.mu.RUnlock()
	return kind == settings.KindStdio || kind == settings.KindSSE
}

func (s *Supervisor) ping(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return mcperr.New(mcperr.KindUpstreamUnavailable, "no active connection")
	}

	// A ping that takes the whole interval counts as a failure.
	pingCtx, cancel := context.WithTimeout(ctx, s.keepAlive)
	defer cancel()
	return conn.Conn.Ping(pingCtx)
}

func (s *Supervisor) refreshTools(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return mcperr.New(mcperr.KindUpstreamUnavailable, "no active connection")
	}

	listCtx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	tools, err := listTools(listCtx, conn)
	if err != nil {
		return err
	}

	s.sm.recordToolCount(len(tools))
	s.upstreamLog.Info("tool list refreshed", zap.Int("tool_count", len(tools)))
	s.events.emitTools(s.name, derefTools(tools))
	return nil
}

// pumpStderr mirrors the child's stderr into the upstream's own log file.
// Only stdio connections have one.
func (s *Supervisor) pumpStderr(ctx context.Context, conn *transport.Connection) {
	stderr, ok := conn.Stderr()
	if !ok {
		return
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			s.upstreamLog.Info("stderr", zap.String("message", line))
			s.logger.Debug("upstream stderr",
				zap.String("upstream", s.name),
				zap.String("message", line))
		}

		if err := scanner.Err(); err != nil {
			s.upstreamLog.Warn("stderr read error", zap.Error(err))
			return
		}
		s.upstreamLog.Info("stderr stream closed")
	}()
}

func (s *Supervisor) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		closeConnection(conn, s.logger, s.name)
	}
}

func (s *Supervisor) teardown() {
	s.closeConn()
	s.sm.toClosed()
}

// closeConnection closes gracefully, abandoning a close that hangs. Stuck
// stdio children otherwise block shutdown indefinitely.
func closeConnection(conn *transport.Connection, logger *zap.Logger, name string) {
	done := make(chan struct{})
	go func() {
		_ = conn.Conn.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(closeTimeout):
		logger.Warn("upstream close timed out, abandoning connection",
			zap.String("upstream", name),
			zap.Duration("timeout", closeTimeout))
	}
}

func listTools(ctx context.Context, conn *transport.Connection) ([]*mcp.Tool, error) {
	result, err := conn.Conn.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	tools := make([]*mcp.Tool, 0, len(result.Tools))
	for i := range result.Tools {
		tools = append(tools, &result.Tools[i])
	}
	return tools, nil
}

func derefTools(tools []*mcp.Tool) []mcp.Tool {
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if t != nil {
			out = append(out, *t)
		}
	}
	return out
}
