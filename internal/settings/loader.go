package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Helper to get current time (replaceable in tests).
var now = time.Now

// DefaultDataDirPath returns ~/.mcphub.
func DefaultDataDirPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultDataDir), nil
}

// ConfigPath returns the settings file path inside the given data directory,
// falling back to the default data directory when dataDir is empty.
func ConfigPath(dataDir string) string {
	if dataDir == "" {
		if d, err := DefaultDataDirPath(); err == nil {
			dataDir = d
		}
	}
	return filepath.Join(dataDir, ConfigFileName)
}

// LoadFromFile loads settings from a JSON file, applies defaults and
// validates. An empty file yields defaults, which makes --config=/dev/null
// usable as "defaults only".
func LoadFromFile(path string) (*Settings, error) {
	s := DefaultSettings()
	if path != "" {
		if err := loadSettingsFile(path, s); err != nil {
			return nil, fmt.Errorf("failed to load settings file %s: %w", path, err)
		}
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Load resolves the settings from file, environment and defaults, in that
// order of increasing precedence for the environment overrides. It returns
// the settings together with the resolved file path (empty when running
// purely from defaults and environment).
//
// Resolution order for the file: the explicit configPath argument, then
// ./hub_config.json, then ~/.mcphub/hub_config.json. When no file exists a
// default one is created in the data directory.
func Load(configPath string) (*Settings, string, error) {
	setupViper()

	s := DefaultSettings()
	resolvedPath := configPath

	if configPath != "" {
		if err := loadSettingsFile(configPath, s); err != nil {
			return nil, "", fmt.Errorf("failed to load settings file %s: %w", configPath, err)
		}
	} else {
		found, path, err := findSettingsFile(s)
		if err != nil {
			return nil, "", err
		}
		if found {
			resolvedPath = path
		} else {
			dataDir, err := ensureDataDir(s)
			if err != nil {
				return nil, "", err
			}
			resolvedPath = filepath.Join(dataDir, ConfigFileName)
			if err := SaveSettings(s, resolvedPath); err != nil {
				return nil, "", fmt.Errorf("failed to create default settings file: %w", err)
			}
		}
	}

	applyEnvOverrides(s)

	if _, err := ensureDataDir(s); err != nil {
		return nil, "", err
	}

	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid settings: %w", err)
	}

	return s, resolvedPath, nil
}

// SaveSettings writes settings as indented JSON. The file is created with
// 0600 since it can hold API keys and upstream credentials.
func SaveSettings(s *Settings, path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

func setupViper() {
	viper.SetEnvPrefix("MCPHUB")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	viper.SetDefault("listen", defaultListen)
	viper.SetDefault("data-dir", "")
	viper.SetDefault("log-level", "")
	viper.SetDefault("api-key", "")
}

// applyEnvOverrides layers MCPHUB_* environment variables over file values.
// Only scalar operational fields are overridable this way; structural
// settings (upstreams, groups) always come from the file or the API.
func applyEnvOverrides(s *Settings) {
	if v := viper.GetString("listen"); v != "" && viper.IsSet("listen") {
		s.Listen = v
	}
	if v := viper.GetString("data-dir"); v != "" {
		s.DataDir = v
	}
	if v := viper.GetString("log-level"); v != "" {
		if s.Logging == nil {
			s.Logging = &LogConfig{}
		}
		s.Logging.Level = v
	}
	if v := viper.GetString("api-key"); v != "" {
		if s.Auth == nil {
			s.Auth = &AuthConfig{}
		}
		s.Auth.APIKey = v
	}
}

func findSettingsFile(s *Settings) (found bool, path string, err error) {
	locations := []string{ConfigFileName}
	if homeDir, homeErr := os.UserHomeDir(); homeErr == nil {
		locations = append(locations, filepath.Join(homeDir, DefaultDataDir, ConfigFileName))
	}
	for _, location := range locations {
		if _, statErr := os.Stat(location); statErr == nil {
			return true, location, loadSettingsFile(location, s)
		}
	}
	return false, "", nil
}

func loadSettingsFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	// Empty file (including /dev/null) means no configuration.
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse settings file: %w", err)
	}

	for _, u := range s.Upstreams {
		if u != nil && u.Created.IsZero() {
			u.Created = now()
		}
	}
	for _, g := range s.Groups {
		if g != nil && g.Created.IsZero() {
			g.Created = now()
		}
	}
	return nil
}

func ensureDataDir(s *Settings) (string, error) {
	if s.DataDir == "" {
		dataDir, err := DefaultDataDirPath()
		if err != nil {
			return "", err
		}
		s.DataDir = dataDir
	}
	if err := os.MkdirAll(s.DataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory %s: %w", s.DataDir, err)
	}
	return s.DataDir, nil
}
