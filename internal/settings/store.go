package settings

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// UpdateType describes the nature of a settings update.
type UpdateType string

const (
	UpdateTypeInit   UpdateType = "init"   // Initial load
	UpdateTypeMutate UpdateType = "mutate" // In-memory modification (API, CLI)
	UpdateTypeReload UpdateType = "reload" // Reloaded from disk
	UpdateTypeImport UpdateType = "import" // Imported from a client config file
)

// Snapshot is an immutable point-in-time view of the settings. Consumers
// must not modify the embedded Settings; use Store.Mutate for changes.
type Snapshot struct {
	Settings  *Settings
	Path      string
	Version   int64
	Timestamp time.Time
}

// Update is delivered to subscribers after every effective settings change.
type Update struct {
	Snapshot  *Snapshot
	Type      UpdateType
	Diff      *Diff
	ChangedAt time.Time
	Source    string // e.g. "file_watcher", "api", "cli"

	// PersistErr is set when writing the new settings to disk failed. The
	// in-memory update still took effect.
	PersistErr error
}

// PersistFunc writes settings to the given path.
type PersistFunc func(s *Settings, path string) error

// Store manages settings state with lock-free reads and serialized updates.
//
// Reads go through an atomic snapshot so hot paths never contend with
// mutations. Updates are serialized through a single mutex, compared
// against the current snapshot, and dropped when nothing effectively
// changed, so the version only moves when the settings do.
type Store struct {
	logger *zap.Logger

	snapshot atomic.Value // *Snapshot

	updateMu    sync.Mutex
	version     int64
	subscribers []chan Update
	subMu       sync.RWMutex

	persist PersistFunc
}

// NewStore creates a store seeded with the given settings. A non-empty path
// enables persistence after each effective mutation; persist may be nil to
// use the default JSON writer.
func NewStore(initial *Settings, path string, persist PersistFunc, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if persist == nil {
		persist = SaveSettings
	}
	if initial == nil {
		initial = DefaultSettings()
	}

	st := &Store{
		logger:      logger,
		subscribers: make([]chan Update, 0),
		persist:     persist,
	}
	st.snapshot.Store(&Snapshot{
		Settings:  initial,
		Path:      path,
		Version:   0,
		Timestamp: time.Now(),
	})

	logger.Info("settings store initialized",
		zap.String("path", path),
		zap.Int("upstreams", len(initial.Upstreams)),
		zap.Int("groups", len(initial.Groups)))

	return st
}

// Current returns the current snapshot. Lock-free.
func (st *Store) Current() *Snapshot {
	return st.snapshot.Load().(*Snapshot)
}

// Version returns the current settings version.
func (st *Store) Version() int64 {
	return st.Current().Version
}

// Mutate applies fn to a deep copy of the current settings and installs the
// result if it validates and actually differs. The returned diff is empty
// (never nil) when the mutation was a no-op.
func (st *Store) Mutate(source string, fn func(*Settings) error) (*Diff, error) {
	return st.apply(UpdateTypeMutate, source, func(cur *Settings) (*Settings, error) {
		working := cur.Clone()
		if err := fn(working); err != nil {
			return nil, err
		}
		return working, nil
	})
}

// Replace swaps in a complete new settings value, used by disk reloads and
// imports. Like Mutate it validates first and no-ops on identical settings.
func (st *Store) Replace(newSettings *Settings, updateType UpdateType, source string) (*Diff, error) {
	return st.apply(updateType, source, func(*Settings) (*Settings, error) {
		return newSettings.Clone(), nil
	})
}

func (st *Store) apply(updateType UpdateType, source string, build func(*Settings) (*Settings, error)) (*Diff, error) {
	st.updateMu.Lock()
	defer st.updateMu.Unlock()

	current := st.Current()
	next, err := build(current.Settings)
	if err != nil {
		return nil, err
	}

	next.ApplyDefaults()
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	for _, w := range next.Warnings() {
		st.logger.Warn("settings warning", zap.String("detail", w))
	}

	diff := ComputeDiff(current.Settings, next)
	if diff.Empty() {
		st.logger.Debug("settings update produced no changes",
			zap.String("source", source))
		return diff, nil
	}

	st.version++
	newSnapshot := &Snapshot{
		Settings:  next,
		Path:      current.Path,
		Version:   st.version,
		Timestamp: time.Now(),
	}
	st.snapshot.Store(newSnapshot)

	var persistErr error
	if newSnapshot.Path != "" {
		if persistErr = st.persist(next, newSnapshot.Path); persistErr != nil {
			st.logger.Error("failed to persist settings; in-memory update kept",
				zap.String("path", newSnapshot.Path),
				zap.Error(persistErr))
		}
	}

	st.logger.Info("settings updated",
		zap.String("type", string(updateType)),
		zap.String("source", source),
		zap.Int64("old_version", current.Version),
		zap.Int64("new_version", newSnapshot.Version),
		zap.Int("upstreams_added", len(diff.AddedUpstreams)),
		zap.Int("upstreams_removed", len(diff.RemovedUpstreams)),
		zap.Int("upstreams_changed", len(diff.ChangedUpstreams)))

	st.notifySubscribers(Update{
		Snapshot:   newSnapshot,
		Type:       updateType,
		Diff:       diff,
		ChangedAt:  newSnapshot.Timestamp,
		Source:     source,
		PersistErr: persistErr,
	})

	return diff, nil
}

// ReloadFromFile reads the settings file from disk and replaces the current
// snapshot if the content changed.
func (st *Store) ReloadFromFile(source string) (*Diff, error) {
	path := st.Current().Path
	if path == "" {
		return nil, fmt.Errorf("no settings file path set")
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings from %s: %w", path, err)
	}
	return st.Replace(loaded, UpdateTypeReload, source)
}

// Save persists the current settings to disk regardless of diff state.
func (st *Store) Save() error {
	snapshot := st.Current()
	if snapshot.Path == "" {
		return fmt.Errorf("no settings file path set")
	}
	return st.persist(snapshot.Settings, snapshot.Path)
}

// Subscribe returns a channel receiving settings updates. The channel is
// buffered (size 10); slow consumers miss intermediate updates rather than
// blocking publishers. The initial snapshot is delivered as an init update.
func (st *Store) Subscribe(ctx context.Context) <-chan Update {
	st.subMu.Lock()
	defer st.subMu.Unlock()

	ch := make(chan Update, 10)
	st.subscribers = append(st.subscribers, ch)

	st.logger.Debug("new settings subscriber",
		zap.Int("total_subscribers", len(st.subscribers)))

	go func() {
		select {
		case ch <- Update{
			Snapshot:  st.Current(),
			Type:      UpdateTypeInit,
			Diff:      &Diff{},
			ChangedAt: time.Now(),
			Source:    "subscription",
		}:
		case <-ctx.Done():
			st.Unsubscribe(ch)
		}
	}()

	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (st *Store) Unsubscribe(ch <-chan Update) {
	st.subMu.Lock()
	defer st.subMu.Unlock()

	for i, sub := range st.subscribers {
		if sub == ch {
			st.subscribers = append(st.subscribers[:i], st.subscribers[i+1:]...)
			close(sub)
			st.logger.Debug("settings subscriber removed",
				zap.Int("remaining_subscribers", len(st.subscribers)))
			break
		}
	}
}

func (st *Store) notifySubscribers(update Update) {
	st.subMu.RLock()
	defer st.subMu.RUnlock()

	for _, ch := range st.subscribers {
		select {
		case ch <- update:
		default:
			st.logger.Warn("settings subscriber channel full, dropping update",
				zap.Int64("version", update.Snapshot.Version))
		}
	}
}

// Close closes all subscriber channels.
func (st *Store) Close() {
	st.subMu.Lock()
	defer st.subMu.Unlock()

	for _, ch := range st.subscribers {
		close(ch)
	}
	st.subscribers = nil
}
