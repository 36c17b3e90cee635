// Package upstream supervises connections to configured MCP servers. One
// supervisor per enabled upstream drives the connection through its state
// machine, keeps it alive, republishes its tools, and reconnects with
// exponential backoff when it breaks.
package upstream

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// State is the lifecycle position of one upstream runtime.
type State int

const (
	// StateDisconnected is the initial state before the first connect.
	StateDisconnected State = iota
	// StateConnecting covers transport start, initialize and the first
	// tool listing.
	StateConnecting
	// StateReady means the upstream serves calls.
	StateReady
	// StateDegraded means the last connect or keep-alive failed; a retry
	// is scheduled.
	StateDegraded
	// StateClosed is terminal: the spec was removed, disabled, or the hub
	// is shutting down.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its lowercase name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status is a point-in-time view of one upstream runtime, shaped for the
// management API.
type Status struct {
	Name            string                `json:"name"`
	Kind            settings.UpstreamKind `json:"kind"`
	State           State                 `json:"state"`
	LastError       string                `json:"last_error,omitempty"`
	RetryCount      int                   `json:"retry_count"`
	NextRetryAt     time.Time             `json:"next_retry_at,omitempty"`
	ConnectedAt     time.Time             `json:"connected_at,omitempty"`
	ServerName      string                `json:"server_name,omitempty"`
	ServerVersion   string                `json:"server_version,omitempty"`
	ProtocolVersion string                `json:"protocol_version,omitempty"`
	ToolCount       int                   `json:"tool_count"`
}

var validTransitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateClosed},
	StateConnecting:   {StateReady, StateDegraded, StateClosed},
	StateReady:        {StateDegraded, StateClosed},
	StateDegraded:     {StateConnecting, StateClosed},
	StateClosed:       {},
}

// stateMachine tracks one upstream's state and connection metadata. State
// change callbacks run outside the lock.
type stateMachine struct {
	name   string
	kind   settings.UpstreamKind
	logger *zap.Logger

	mu              sync.RWMutex
	current         State
	lastError       error
	retryCount      int
	nextRetryAt     time.Time
	connectedAt     time.Time
	serverName      string
	serverVersion   string
	protocolVersion string
	toolCount       int

	onChange func(old, new State, status Status)
}

func newStateMachine(name string, kind settings.UpstreamKind, logger *zap.Logger) *stateMachine {
	return &stateMachine{
		name:    name,
		kind:    kind,
		logger:  logger,
		current: StateDisconnected,
	}
}

func (sm *stateMachine) setOnChange(fn func(old, new State, status Status)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onChange = fn
}

// State returns the current state.
func (sm *stateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// IsReady reports whether the upstream serves calls.
func (sm *stateMachine) IsReady() bool {
	return sm.State() == StateReady
}

// Status returns the current snapshot.
func (sm *stateMachine) Status() Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.statusLocked()
}

func (sm *stateMachine) statusLocked() Status {
	status := Status{
		Name:            sm.name,
		Kind:            sm.kind,
		State:           sm.current,
		RetryCount:      sm.retryCount,
		NextRetryAt:     sm.nextRetryAt,
		ConnectedAt:     sm.connectedAt,
		ServerName:      sm.serverName,
		ServerVersion:   sm.serverVersion,
		ProtocolVersion: sm.protocolVersion,
		ToolCount:       sm.toolCount,
	}
	if sm.lastError != nil {
		status.LastError = sm.lastError.Error()
	}
	return status
}

// LastError returns the most recent failure, if any.
func (sm *stateMachine) LastError() error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.lastError
}

// transitionTo moves to the new state if the transition is valid. Invalid
// transitions are refused and logged so a supervisor bug cannot corrupt the
// lifecycle.
func (sm *stateMachine) transitionTo(next State, mutate func()) bool {
	sm.mu.Lock()
	old := sm.current
	if old == next {
		sm.mu.Unlock()
		return true
	}
	if !transitionAllowed(old, next) {
		sm.mu.Unlock()
		sm.logger.Warn("refusing invalid state transition",
			zap.String("upstream", sm.name),
			zap.String("from", old.String()),
			zap.String("to", next.String()))
		return false
	}

	sm.current = next
	if mutate != nil {
		mutate()
	}
	switch next {
	case StateReady:
		sm.lastError = nil
		sm.retryCount = 0
		sm.nextRetryAt = time.Time{}
		sm.connectedAt = time.Now()
	case StateClosed:
		sm.nextRetryAt = time.Time{}
	}

	status := sm.statusLocked()
	callback := sm.onChange
	sm.mu.Unlock()

	if callback != nil {
		callback(old, next, status)
	}
	return true
}

func transitionAllowed(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// toConnecting marks a connect attempt in progress.
func (sm *stateMachine) toConnecting() bool {
	return sm.transitionTo(StateConnecting, nil)
}

// toReady records the handshake result and resets the failure counters.
func (sm *stateMachine) toReady(serverName, serverVersion, protocolVersion string, toolCount int) bool {
	return sm.transitionTo(StateReady, func() {
		sm.serverName = serverName
		sm.serverVersion = serverVersion
		sm.protocolVersion = protocolVersion
		sm.toolCount = toolCount
	})
}

// toDegraded records the failure and the time of the next attempt.
func (sm *stateMachine) toDegraded(err error, nextRetryAt time.Time) bool {
	return sm.transitionTo(StateDegraded, func() {
		sm.lastError = err
		sm.retryCount++
		sm.nextRetryAt = nextRetryAt
	})
}

// toClosed marks the runtime terminal.
func (sm *stateMachine) toClosed() bool {
	return sm.transitionTo(StateClosed, nil)
}

// recordToolCount updates the published tool count without a transition.
func (sm *stateMachine) recordToolCount(n int) {
	sm.mu.Lock()
	sm.toolCount = n
	sm.mu.Unlock()
}
