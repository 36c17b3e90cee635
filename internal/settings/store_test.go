package settings

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSettings() *Settings {
	s := DefaultSettings()
	s.Upstreams = []*UpstreamSpec{
		{Name: "alpha", Kind: KindStdio, Command: "alpha-server"},
		{Name: "beta", Kind: KindStreamHTTP, URL: "http://localhost:9001/mcp"},
	}
	return s
}

func noPersist(*Settings, string) error { return nil }

func TestNewStore(t *testing.T) {
	st := NewStore(testSettings(), "/tmp/hub_config.json", noPersist, zap.NewNop())

	snapshot := st.Current()
	require.NotNil(t, snapshot)
	assert.Equal(t, int64(0), snapshot.Version)
	assert.Equal(t, "/tmp/hub_config.json", snapshot.Path)
	assert.Len(t, snapshot.Settings.Upstreams, 2)
}

func TestStore_Mutate(t *testing.T) {
	st := NewStore(testSettings(), "", nil, zap.NewNop())

	diff, err := st.Mutate("test", func(s *Settings) error {
		s.Upstreams = append(s.Upstreams, &UpstreamSpec{
			Name: "gamma", Kind: KindSSE, URL: "http://localhost:9002/sse",
		})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma"}, diff.AddedUpstreams)

	snapshot := st.Current()
	assert.Equal(t, int64(1), snapshot.Version)
	assert.NotNil(t, snapshot.Settings.FindUpstream("gamma"))
}

func TestStore_Mutate_NoOpKeepsVersion(t *testing.T) {
	st := NewStore(testSettings(), "", nil, zap.NewNop())

	diff, err := st.Mutate("test", func(*Settings) error { return nil })
	require.NoError(t, err)
	assert.True(t, diff.Empty())
	assert.Equal(t, int64(0), st.Version())
}

func TestStore_Mutate_ValidationFailureKeepsCurrent(t *testing.T) {
	st := NewStore(testSettings(), "", nil, zap.NewNop())

	_, err := st.Mutate("test", func(s *Settings) error {
		s.Upstreams[0].Name = "bad__name"
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid settings")

	assert.Equal(t, int64(0), st.Version())
	assert.NotNil(t, st.Current().Settings.FindUpstream("alpha"))
}

func TestStore_Mutate_FnErrorPropagates(t *testing.T) {
	st := NewStore(testSettings(), "", nil, zap.NewNop())

	wantErr := fmt.Errorf("upstream not found")
	_, err := st.Mutate("test", func(*Settings) error { return wantErr })
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, int64(0), st.Version())
}

func TestStore_MutateDoesNotLeakIntoSnapshot(t *testing.T) {
	st := NewStore(testSettings(), "", nil, zap.NewNop())
	before := st.Current().Settings

	_, err := st.Mutate("test", func(s *Settings) error {
		s.Upstreams[0].Command = "changed"
		return nil
	})
	require.NoError(t, err)

	// The pre-mutation snapshot must be untouched.
	assert.Equal(t, "alpha-server", before.FindUpstream("alpha").Command)
	assert.Equal(t, "changed", st.Current().Settings.FindUpstream("alpha").Command)
}

func TestStore_Replace(t *testing.T) {
	st := NewStore(testSettings(), "", nil, zap.NewNop())

	next := testSettings()
	next.Upstreams = next.Upstreams[:1]
	diff, err := st.Replace(next, UpdateTypeReload, "file_watcher")
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, diff.RemovedUpstreams)
	assert.Equal(t, int64(1), st.Version())
}

func TestStore_Subscribe(t *testing.T) {
	st := NewStore(testSettings(), "", nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := st.Subscribe(ctx)

	select {
	case update := <-updates:
		assert.Equal(t, UpdateTypeInit, update.Type)
		assert.Equal(t, int64(0), update.Snapshot.Version)
	case <-time.After(time.Second):
		t.Fatal("did not receive initial snapshot")
	}

	_, err := st.Mutate("test", func(s *Settings) error {
		s.HideDegradedFromList = true
		return nil
	})
	require.NoError(t, err)

	select {
	case update := <-updates:
		assert.Equal(t, UpdateTypeMutate, update.Type)
		assert.Equal(t, "test", update.Source)
		assert.Equal(t, int64(1), update.Snapshot.Version)
		require.NotNil(t, update.Diff)
		assert.True(t, update.Diff.ListFlagsChanged)
	case <-time.After(time.Second):
		t.Fatal("did not receive update notification")
	}
}

func TestStore_NoNotifyOnNoOp(t *testing.T) {
	st := NewStore(testSettings(), "", nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := st.Subscribe(ctx)
	<-updates // initial

	_, err := st.Mutate("test", func(*Settings) error { return nil })
	require.NoError(t, err)

	select {
	case update := <-updates:
		t.Fatalf("unexpected update for no-op mutation: %+v", update)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStore_PersistErrorSurfacedNotFatal(t *testing.T) {
	persistErr := fmt.Errorf("disk full")
	st := NewStore(testSettings(), "/tmp/hub_config.json", func(*Settings, string) error {
		return persistErr
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := st.Subscribe(ctx)
	<-updates // initial

	_, err := st.Mutate("test", func(s *Settings) error {
		s.HideDegradedFromList = true
		return nil
	})
	require.NoError(t, err, "persist failure must not roll back the mutation")
	assert.Equal(t, int64(1), st.Version())

	select {
	case update := <-updates:
		assert.ErrorIs(t, update.PersistErr, persistErr)
	case <-time.After(time.Second):
		t.Fatal("did not receive update notification")
	}
}

func TestStore_Close(t *testing.T) {
	st := NewStore(testSettings(), "", nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := st.Subscribe(ctx)
	<-sub

	st.Close()

	select {
	case _, ok := <-sub:
		assert.False(t, ok, "subscriber channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}
}

func TestStore_ConcurrentReads(t *testing.T) {
	st := NewStore(testSettings(), "", nil, zap.NewNop())

	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				if st.Current() == nil {
					t.Error("got nil snapshot")
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
