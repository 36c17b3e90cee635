package upstream

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

func newTestStateMachine() *stateMachine {
	return newStateMachine("github", settings.KindStdio, zap.NewNop())
}

func TestStateMachineStartsDisconnected(t *testing.T) {
	sm := newTestStateMachine()
	assert.Equal(t, StateDisconnected, sm.State())
	assert.False(t, sm.IsReady())
}

func TestStateMachineHappyPath(t *testing.T) {
	sm := newTestStateMachine()

	require.True(t, sm.toConnecting())
	assert.Equal(t, StateConnecting, sm.State())

	require.True(t, sm.toReady("github-mcp", "2.1.0", "2025-03-26", 12))
	assert.True(t, sm.IsReady())

	status := sm.Status()
	assert.Equal(t, "github", status.Name)
	assert.Equal(t, settings.KindStdio, status.Kind)
	assert.Equal(t, "github-mcp", status.ServerName)
	assert.Equal(t, "2.1.0", status.ServerVersion)
	assert.Equal(t, "2025-03-26", status.ProtocolVersion)
	assert.Equal(t, 12, status.ToolCount)
	assert.False(t, status.ConnectedAt.IsZero())
}

func TestStateMachineRejectsInvalidTransitions(t *testing.T) {
	sm := newTestStateMachine()

	// Ready is only reachable through connecting.
	assert.False(t, sm.toReady("x", "1", "p", 0))
	assert.Equal(t, StateDisconnected, sm.State())

	require.True(t, sm.toConnecting())
	require.True(t, sm.toReady("x", "1", "p", 0))

	// A ready runtime cannot jump straight back to connecting.
	assert.False(t, sm.toConnecting())
	assert.Equal(t, StateReady, sm.State())

	require.True(t, sm.toClosed())

	// Closed is terminal.
	assert.False(t, sm.toConnecting())
	assert.False(t, sm.toDegraded(errors.New("late"), time.Now()))
	assert.Equal(t, StateClosed, sm.State())
}

func TestStateMachineSameStateIsNoOp(t *testing.T) {
	sm := newTestStateMachine()

	var calls int
	sm.setOnChange(func(State, State, Status) { calls++ })

	require.True(t, sm.toConnecting())
	require.True(t, sm.toConnecting())
	assert.Equal(t, 1, calls)
}

func TestStateMachineDegradedTracksRetry(t *testing.T) {
	sm := newTestStateMachine()
	require.True(t, sm.toConnecting())

	retryAt := time.Now().Add(2 * time.Second)
	require.True(t, sm.toDegraded(errors.New("connection refused"), retryAt))

	status := sm.Status()
	assert.Equal(t, StateDegraded, status.State)
	assert.Equal(t, "connection refused", status.LastError)
	assert.Equal(t, 1, status.RetryCount)
	assert.Equal(t, retryAt, status.NextRetryAt)

	require.True(t, sm.toConnecting())
	require.True(t, sm.toDegraded(errors.New("still down"), retryAt.Add(time.Second)))
	assert.Equal(t, 2, sm.Status().RetryCount)
}

func TestStateMachineReadyClearsFailureState(t *testing.T) {
	sm := newTestStateMachine()
	require.True(t, sm.toConnecting())
	require.True(t, sm.toDegraded(errors.New("boom"), time.Now().Add(time.Second)))
	require.True(t, sm.toConnecting())
	require.True(t, sm.toReady("srv", "1.0", "p", 3))

	status := sm.Status()
	assert.Empty(t, status.LastError)
	assert.Zero(t, status.RetryCount)
	assert.True(t, status.NextRetryAt.IsZero())
}

func TestStateMachineCallbackSeesTransition(t *testing.T) {
	sm := newTestStateMachine()

	type change struct {
		from, to State
	}
	var changes []change
	sm.setOnChange(func(old, _ State, status Status) {
		changes = append(changes, change{from: old, to: status.State})
	})

	require.True(t, sm.toConnecting())
	require.True(t, sm.toReady("srv", "1.0", "p", 1))
	require.True(t, sm.toClosed())

	require.Equal(t, []change{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateReady},
		{StateReady, StateClosed},
	}, changes)
}

func TestStateStringAndJSON(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateReady:        "ready",
		StateDegraded:     "degraded",
		StateClosed:       "closed",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())

		data, err := json.Marshal(state)
		require.NoError(t, err)
		assert.Equal(t, `"`+want+`"`, string(data))
	}
}

func TestStatusJSONUsesStateNames(t *testing.T) {
	sm := newTestStateMachine()
	require.True(t, sm.toConnecting())

	data, err := json.Marshal(sm.Status())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"connecting"`)
	assert.Contains(t, string(data), `"name":"github"`)
}
