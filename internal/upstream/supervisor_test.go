package upstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/transport"
)

// fakeConn satisfies transport.Conn in-memory so supervisor behavior can be
// driven without child processes or sockets.
type fakeConn struct {
	mu sync.Mutex

	serverName string
	tools      []mcp.Tool

	startErr   error
	initErr    error
	listErr    error
	callErr    error
	callResult *mcp.CallToolResult
	pingErrs   []error

	starts   int
	closes   int
	pings    int
	lists    int
	lastTool string
	lastArgs map[string]any

	notify func(mcp.JSONRPCNotification)
	lost   func(error)
}

func newFakeConn(tools ...mcp.Tool) *fakeConn {
	return &fakeConn{serverName: "fake-server", tools: tools}
}

func (f *fakeConn) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeConn) Initialize(_ context.Context, _ mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return nil, f.initErr
	}
	result := &mcp.InitializeResult{ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION}
	result.ServerInfo = mcp.Implementation{Name: f.serverName, Version: "0.1.0"}
	result.Capabilities.Tools = &struct {
		ListChanged bool `json:"listChanged,omitempty"`
	}{ListChanged: true}
	return result, nil
}

func (f *fakeConn) ListTools(_ context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &mcp.ListToolsResult{Tools: append([]mcp.Tool(nil), f.tools...)}, nil
}

func (f *fakeConn) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTool = req.Params.Name
	f.lastArgs = req.GetArguments()
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.callResult != nil {
		return f.callResult, nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (f *fakeConn) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if len(f.pingErrs) > 0 {
		err := f.pingErrs[0]
		f.pingErrs = f.pingErrs[1:]
		return err
	}
	return nil
}

func (f *fakeConn) OnNotification(handler func(mcp.JSONRPCNotification)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify = handler
}

func (f *fakeConn) OnConnectionLost(handler func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lost = handler
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeConn) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeConn) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeConn) setCallErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callErr = err
}

func (f *fakeConn) setTools(tools ...mcp.Tool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = tools
}

func (f *fakeConn) queuePingErrs(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErrs = append(f.pingErrs, errs...)
}

func (f *fakeConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeConn) lastCall() (string, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTool, f.lastArgs
}

func (f *fakeConn) fireNotification(method string) {
	f.mu.Lock()
	handler := f.notify
	f.mu.Unlock()
	if handler == nil {
		return
	}
	n := mcp.JSONRPCNotification{}
	n.Method = method
	handler(n)
}

func (f *fakeConn) fireConnectionLost(err error) {
	f.mu.Lock()
	handler := f.lost
	f.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// fakeDialer hands out fake connections and records every dial.
type fakeDialer struct {
	mu    sync.Mutex
	conn  *fakeConn
	conns map[string]*fakeConn
	err   error
	dials int
	specs []*settings.UpstreamSpec
}

func (d *fakeDialer) dial(spec *settings.UpstreamSpec, _ *transport.Options) (*transport.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.specs = append(d.specs, spec)
	if d.err != nil {
		return nil, d.err
	}
	conn := d.conn
	if c, ok := d.conns[spec.Name]; ok {
		conn = c
	}
	if conn == nil {
		conn = newFakeConn()
	}
	return &transport.Connection{Conn: conn, Kind: spec.Kind}, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastSpec() *settings.UpstreamSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.specs) == 0 {
		return nil
	}
	return d.specs[len(d.specs)-1]
}

// eventRecorder captures supervisor output for assertions.
type eventRecorder struct {
	mu        sync.Mutex
	publishes [][]string
	states    []State
	removed   []string
}

func (r *eventRecorder) Events() Events {
	return Events{
		ToolsChanged: func(_ string, tools []mcp.Tool) {
			names := make([]string, 0, len(tools))
			for _, tool := range tools {
				names = append(names, tool.Name)
			}
			r.mu.Lock()
			r.publishes = append(r.publishes, names)
			r.mu.Unlock()
		},
		StateChanged: func(_ State, status Status) {
			r.mu.Lock()
			r.states = append(r.states, status.State)
			r.mu.Unlock()
		},
		Removed: func(name string) {
			r.mu.Lock()
			r.removed = append(r.removed, name)
			r.mu.Unlock()
		},
	}
}

func (r *eventRecorder) publishCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.publishes)
}

func (r *eventRecorder) lastPublish() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.publishes) == 0 {
		return nil
	}
	return r.publishes[len(r.publishes)-1]
}

func (r *eventRecorder) sawState(s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.states {
		if got == s {
			return true
		}
	}
	return false
}

func (r *eventRecorder) removedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

func quickBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.RandomizationFactor = 0
	bo.Multiplier = 1.5
	bo.MaxInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func slowBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 300 * time.Millisecond
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func stdioSpec(name string) *settings.UpstreamSpec {
	return &settings.UpstreamSpec{Name: name, Kind: settings.KindStdio, Command: "fake-server"}
}

func httpStreamSpec(name string) *settings.UpstreamSpec {
	return &settings.UpstreamSpec{Name: name, Kind: settings.KindStreamHTTP, URL: "http://127.0.0.1:9/mcp"}
}

func startSupervisor(t *testing.T, spec *settings.UpstreamSpec, conn *fakeConn, rec *eventRecorder, keepAlive time.Duration) (*Supervisor, *fakeDialer) {
	t.Helper()

	dialer := &fakeDialer{conn: conn}
	sup := newSupervisor(supervisorConfig{
		spec:      spec,
		logger:    zaptest.NewLogger(t),
		events:    rec.Events(),
		dial:      dialer.dial,
		keepAlive: keepAlive,
	})
	sup.bo = quickBackoff()
	t.Cleanup(sup.Stop)
	sup.Start(context.Background())
	return sup, dialer
}

func waitForState(t *testing.T, sup *Supervisor, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sup.State() == want
	}, 2*time.Second, 2*time.Millisecond, "upstream never reached %s", want)
}

func TestSupervisorConnectsAndPublishes(t *testing.T) {
	conn := newFakeConn(
		mcp.Tool{Name: "create_issue", Description: "Create an issue"},
		mcp.Tool{Name: "list_issues", Description: "List issues"},
	)
	rec := &eventRecorder{}
	sup, dialer := startSupervisor(t, stdioSpec("github"), conn, rec, 0)

	waitForState(t, sup, StateReady)

	status := sup.Status()
	assert.Equal(t, "github", status.Name)
	assert.Equal(t, settings.KindStdio, status.Kind)
	assert.Equal(t, "fake-server", status.ServerName)
	assert.Equal(t, "0.1.0", status.ServerVersion)
	assert.Equal(t, mcp.LATEST_PROTOCOL_VERSION, status.ProtocolVersion)
	assert.Equal(t, 2, status.ToolCount)

	assert.Equal(t, 1, dialer.dialCount())
	require.Equal(t, 1, rec.publishCount())
	assert.Equal(t, []string{"create_issue", "list_issues"}, rec.lastPublish())
}

func TestSupervisorRetriesUntilConnected(t *testing.T) {
	conn := newFakeConn(mcp.Tool{Name: "ping"})
	conn.setStartErr(errors.New("spawn failed: no such file"))
	rec := &eventRecorder{}

	dialer := &fakeDialer{conn: conn}
	sup := newSupervisor(supervisorConfig{
		spec:   stdioSpec("github"),
		logger: zaptest.NewLogger(t),
		events: rec.Events(),
		dial:   dialer.dial,
	})
	sup.bo = slowBackoff()
	t.Cleanup(sup.Stop)
	sup.Start(context.Background())

	waitForState(t, sup, StateDegraded)

	status := sup.Status()
	assert.Contains(t, status.LastError, "spawn failed")
	assert.GreaterOrEqual(t, status.RetryCount, 1)
	assert.False(t, status.NextRetryAt.IsZero())

	conn.setStartErr(nil)
	waitForState(t, sup, StateReady)

	assert.GreaterOrEqual(t, dialer.dialCount(), 2)
	status = sup.Status()
	assert.Empty(t, status.LastError)
	assert.Zero(t, status.RetryCount)
}

func TestSupervisorToolListNotificationRepublishes(t *testing.T) {
	conn := newFakeConn(mcp.Tool{Name: "create_issue"})
	rec := &eventRecorder{}
	sup, _ := startSupervisor(t, stdioSpec("github"), conn, rec, 0)

	waitForState(t, sup, StateReady)
	before := rec.publishCount()

	conn.setTools(
		mcp.Tool{Name: "create_issue"},
		mcp.Tool{Name: "close_issue"},
		mcp.Tool{Name: "merge_pr"},
	)
	conn.fireNotification(string(mcp.MethodNotificationToolsListChanged))

	require.Eventually(t, func() bool {
		return rec.publishCount() > before
	}, 2*time.Second, 2*time.Millisecond)

	assert.Equal(t, []string{"create_issue", "close_issue", "merge_pr"}, rec.lastPublish())
	assert.Equal(t, StateReady, sup.State())
	assert.Equal(t, 3, sup.Status().ToolCount)
}

func TestSupervisorIgnoresUnrelatedNotifications(t *testing.T) {
	conn := newFakeConn(mcp.Tool{Name: "create_issue"})
	rec := &eventRecorder{}
	sup, _ := startSupervisor(t, stdioSpec("github"), conn, rec, 0)

	waitForState(t, sup, StateReady)
	before := rec.publishCount()

	conn.fireNotification("notifications/resources/list_changed")
	conn.setTools(mcp.Tool{Name: "create_issue"}, mcp.Tool{Name: "close_issue"})
	conn.fireNotification(string(mcp.MethodNotificationToolsListChanged))

	require.Eventually(t, func() bool {
		return rec.publishCount() > before
	}, 2*time.Second, 2*time.Millisecond)

	// Only the tools notification produced a publish.
	assert.Equal(t, before+1, rec.publishCount())
	assert.Equal(t, []string{"create_issue", "close_issue"}, rec.lastPublish())
}

func TestSupervisorDegradesWhenRelistFails(t *testing.T) {
	conn := newFakeConn(mcp.Tool{Name: "create_issue"})
	rec := &eventRecorder{}
	sup, _ := startSupervisor(t, stdioSpec("github"), conn, rec, 0)

	waitForState(t, sup, StateReady)

	conn.setListErr(errors.New("stream broken"))
	conn.fireNotification(string(mcp.MethodNotificationToolsListChanged))

	require.Eventually(t, func() bool {
		return rec.sawState(StateDegraded)
	}, 2*time.Second, 2*time.Millisecond)

	conn.setListErr(nil)
	waitForState(t, sup, StateReady)
}

func TestSupervisorKeepAliveDoubleFailureDegrades(t *testing.T) {
	conn := newFakeConn(mcp.Tool{Name: "create_issue"})
	rec := &eventRecorder{}
	sup, _ := startSupervisor(t, stdioSpec("github"), conn, rec, 15*time.Millisecond)

	waitForState(t, sup, StateReady)

	conn.queuePingErrs(errors.New("write: broken pipe"), errors.New("write: broken pipe"))

	require.Eventually(t, func() bool {
		return rec.sawState(StateDegraded)
	}, 2*time.Second, 2*time.Millisecond)

	// The queue is drained, so the reconnected runtime pings cleanly.
	waitForState(t, sup, StateReady)
	assert.GreaterOrEqual(t, conn.pingCount(), 2)
}

func TestSupervisorKeepAliveSingleFailureTolerated(t *testing.T) {
	conn := newFakeConn(mcp.Tool{Name: "create_issue"})
	rec := &eventRecorder{}
	sup, _ := startSupervisor(t, stdioSpec("github"), conn, rec, 10*time.Millisecond)

	waitForState(t, sup, StateReady)
	conn.queuePingErrs(errors.New("transient hiccup"))

	require.Eventually(t, func() bool {
		return conn.pingCount() >= 4
	}, 2*time.Second, 2*time.Millisecond)

	assert.Equal(t, StateReady, sup.State())
	assert.False(t, rec.sawState(StateDegraded))
}

func TestSupervisorNoKeepAliveForRequestScopedTransports(t *testing.T) {
	conn := newFakeConn(mcp.Tool{Name: "create_issue"})
	rec := &eventRecorder{}
	sup, _ := startSupervisor(t, httpStreamSpec("search"), conn, rec, 10*time.Millisecond)

	waitForState(t, sup, StateReady)
	time.Sleep(60 * time.Millisecond)

	assert.Zero(t, conn.pingCount())
	assert.Equal(t, StateReady, sup.State())
}

func TestSupervisorReconnectsAfterConnectionLost(t *testing.T) {
	conn := newFakeConn(mcp.Tool{Name: "create_issue"})
	rec := &eventRecorder{}
	sup, dialer := startSupervisor(t, stdioSpec("github"), conn, rec, 0)

	waitForState(t, sup, StateReady)
	require.Equal(t, 1, dialer.dialCount())

	conn.fireConnectionLost(errors.New("pipe closed"))

	require.Eventually(t, func() bool {
		return dialer.dialCount() >= 2 && sup.State() == StateReady
	}, 2*time.Second, 2*time.Millisecond)
	assert.True(t, rec.sawState(StateDegraded))
}

func TestSupervisorCallToolBeforeConnected(t *testing.T) {
	sup := newSupervisor(supervisorConfig{
		spec:   stdioSpec("github"),
		logger: zaptest.NewLogger(t),
	})

	_, err := sup.CallTool(context.Background(), "create_issue", nil)
	require.Error(t, err)
	assert.Equal(t, mcperr.KindUpstreamUnavailable, mcperr.KindOf(err))
	assert.Contains(t, err.Error(), `upstream "github"`)
	assert.Contains(t, err.Error(), "disconnected")
}

func TestSupervisorCallToolForwardsResult(t *testing.T) {
	conn := newFakeConn(mcp.Tool{Name: "create_issue"})
	rec := &eventRecorder{}
	sup, _ := startSupervisor(t, stdioSpec("github"), conn, rec, 0)

	waitForState(t, sup, StateReady)

	result, err := sup.CallTool(context.Background(), "create_issue", map[string]any{"title": "crash on start"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)

	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	assert.Equal(t, "ok", text.Text)

	tool, args := conn.lastCall()
	assert.Equal(t, "create_issue", tool)
	assert.Equal(t, map[string]any{"title": "crash on start"}, args)
}

func TestSupervisorCallToolTimeoutDoesNotReconnect(t *testing.T) {
	conn := newFakeConn(mcp.Tool{Name: "create_issue"})
	rec := &eventRecorder{}
	sup, dialer := startSupervisor(t, stdioSpec("github"), conn, rec, 0)

	waitForState(t, sup, StateReady)
	conn.setCallErr(errors.New("request timed out after 30s"))

	_, err := sup.CallTool(context.Background(), "create_issue", nil)
	require.Error(t, err)
	assert.Equal(t, mcperr.KindUpstreamTimeout, mcperr.KindOf(err))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, StateReady, sup.State())
}

func TestSupervisorCallToolConnectionErrorReconnects(t *testing.T) {
	conn := newFakeConn(mcp.Tool{Name: "create_issue"})
	rec := &eventRecorder{}
	sup, dialer := startSupervisor(t, stdioSpec("github"), conn, rec, 0)

	waitForState(t, sup, StateReady)
	conn.setCallErr(errors.New("dial tcp: connection refused"))

	_, err := sup.CallTool(context.Background(), "create_issue", nil)
	require.Error(t, err)
	assert.Equal(t, mcperr.KindUpstreamUnavailable, mcperr.KindOf(err))
	assert.Contains(t, err.Error(), `call "create_issue"`)

	conn.setCallErr(nil)
	require.Eventually(t, func() bool {
		return dialer.dialCount() >= 2 && sup.State() == StateReady
	}, 2*time.Second, 2*time.Millisecond)
}

func TestSupervisorStopClosesConnection(t *testing.T) {
	conn := newFakeConn(mcp.Tool{Name: "create_issue"})
	rec := &eventRecorder{}
	sup, _ := startSupervisor(t, stdioSpec("github"), conn, rec, 0)

	waitForState(t, sup, StateReady)
	sup.Stop()

	assert.Equal(t, StateClosed, sup.State())
	assert.GreaterOrEqual(t, conn.closeCount(), 1)
	assert.True(t, rec.sawState(StateClosed))

	// Stop is idempotent.
	sup.Stop()
}
