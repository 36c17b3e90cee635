package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// settingsSnapshot wraps the mirrored configuration with the time it was
// applied, so operators can tell how stale the mirror is.
type settingsSnapshot struct {
	SavedAt  time.Time          `json:"saved_at"`
	Settings *settings.Settings `json:"settings"`
}

// SaveSettingsSnapshot mirrors the last-applied configuration into the
// database. The mirror is informational: the config file stays the source
// of truth, but the snapshot lets the status API report what is actually
// running and survives config-file corruption.
func (s *Store) SaveSettingsSnapshot(cfg *settings.Settings) error {
	if cfg == nil {
		return fmt.Errorf("settings snapshot cannot be nil")
	}

	snap := settingsSnapshot{
		SavedAt:  time.Now().UTC(),
		Settings: cfg,
	}
	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to marshal settings snapshot: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(SettingsBucket)).Put([]byte(SettingsSnapshotKey), data)
	})
}

// LoadSettingsSnapshot returns the mirrored configuration and when it was
// saved. Returns (nil, zero, nil) when no snapshot has been written yet.
func (s *Store) LoadSettingsSnapshot() (*settings.Settings, time.Time, error) {
	var snap settingsSnapshot
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(SettingsBucket)).Get([]byte(SettingsSnapshotKey))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("failed to parse settings snapshot: %w", err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, time.Time{}, err
	}
	return snap.Settings, snap.SavedAt, nil
}
