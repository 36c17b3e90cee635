package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// configView is the settings snapshot served to operators. Secrets are
// redacted: the API never echoes back credentials it would accept.
type configView struct {
	Settings *settings.Settings `json:"settings"`
	Path     string             `json:"path,omitempty"`
	Version  int64              `json:"version"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	snap := s.rt.SettingsStore().Current()
	if snap == nil {
		s.writeError(w, http.StatusInternalServerError, "no settings loaded")
		return
	}
	s.writeSuccess(w, configView{
		Settings: redactSettings(snap.Settings),
		Path:     snap.Path,
		Version:  snap.Version,
	})
}

func redactSettings(cfg *settings.Settings) *settings.Settings {
	if cfg == nil || cfg.Auth == nil {
		return cfg
	}
	clone := *cfg
	auth := *cfg.Auth
	if auth.APIKey != "" {
		auth.APIKey = "[redacted]"
	}
	if auth.JWTSecret != "" {
		auth.JWTSecret = "[redacted]"
	}
	clone.Auth = &auth
	return &clone
}

// handleApplyConfig replaces the whole settings document. The store
// validates, diffs, persists and notifies; the runtime loops do the rest.
func (s *Server) handleApplyConfig(w http.ResponseWriter, r *http.Request) {
	var cfg settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid settings document: "+err.Error())
		return
	}

	diff, err := s.rt.SettingsStore().Replace(&cfg, settings.UpdateTypeMutate, mutationSourceAPI)
	if err != nil {
		s.writeMutateError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{
		"applied": true,
		"changed": !diff.Empty(),
	})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, _ *http.Request) {
	diff, err := s.rt.SettingsStore().ReloadFromFile(mutationSourceAPI)
	if err != nil {
		s.writeMutateError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{
		"reloaded": true,
		"changed":  !diff.Empty(),
	})
}
