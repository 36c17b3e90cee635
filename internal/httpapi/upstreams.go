package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/logs"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/upstream"
)

const mutationSourceAPI = "api"

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.rt.StatusSummary())
}

// upstreamInfo joins the declarative spec with the live connection status.
type upstreamInfo struct {
	*settings.UpstreamSpec
	Status *upstream.Status `json:"status,omitempty"`
}

func (s *Server) upstreamInfoFor(spec *settings.UpstreamSpec) upstreamInfo {
	info := upstreamInfo{UpstreamSpec: spec}
	if st, ok := s.rt.Upstreams().StatusFor(spec.Name); ok {
		info.Status = &st
	}
	return info
}

func (s *Server) handleListUpstreams(w http.ResponseWriter, _ *http.Request) {
	cfg := s.currentSettings()
	if cfg == nil {
		s.writeSuccess(w, []upstreamInfo{})
		return
	}
	s.writeSuccess(w, lo.Map(cfg.Upstreams, func(spec *settings.UpstreamSpec, _ int) upstreamInfo {
		return s.upstreamInfoFor(spec)
	}))
}

func (s *Server) handleGetUpstream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cfg := s.currentSettings()
	spec, found := lo.Find(cfg.Upstreams, func(u *settings.UpstreamSpec) bool {
		return u.Name == name
	})
	if !found {
		s.writeError(w, http.StatusNotFound, "upstream not found: "+name)
		return
	}
	s.writeSuccess(w, s.upstreamInfoFor(spec))
}

func (s *Server) handleAddUpstream(w http.ResponseWriter, r *http.Request) {
	var spec settings.UpstreamSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid upstream spec: "+err.Error())
		return
	}

	now := time.Now().UTC()
	spec.Created = now
	spec.Updated = now

	_, err := s.rt.SettingsStore().Mutate(mutationSourceAPI, func(cfg *settings.Settings) error {
		if lo.ContainsBy(cfg.Upstreams, func(u *settings.UpstreamSpec) bool { return u.Name == spec.Name }) {
			return mcperr.Newf(mcperr.KindConfiguration, "upstream %q already exists", spec.Name)
		}
		cfg.Upstreams = append(cfg.Upstreams, &spec)
		return nil
	})
	if err != nil {
		s.writeMutateError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, apiResponse{Success: true, Data: s.upstreamInfoFor(&spec)})
}

func (s *Server) handleUpdateUpstream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var spec settings.UpstreamSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid upstream spec: "+err.Error())
		return
	}
	if spec.Name == "" {
		spec.Name = name
	}
	if spec.Name != name {
		s.writeError(w, http.StatusBadRequest, "upstream name in body does not match path")
		return
	}
	spec.Updated = time.Now().UTC()

	_, err := s.rt.SettingsStore().Mutate(mutationSourceAPI, func(cfg *settings.Settings) error {
		_, idx, found := lo.FindIndexOf(cfg.Upstreams, func(u *settings.UpstreamSpec) bool { return u.Name == name })
		if !found {
			return mcperr.Newf(mcperr.KindConfiguration, "upstream %q does not exist", name)
		}
		spec.Created = cfg.Upstreams[idx].Created
		cfg.Upstreams[idx] = &spec
		return nil
	})
	if err != nil {
		s.writeMutateError(w, err)
		return
	}
	s.writeSuccess(w, s.upstreamInfoFor(&spec))
}

func (s *Server) handleRemoveUpstream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	_, err := s.rt.SettingsStore().Mutate(mutationSourceAPI, func(cfg *settings.Settings) error {
		before := len(cfg.Upstreams)
		cfg.Upstreams = lo.Reject(cfg.Upstreams, func(u *settings.UpstreamSpec, _ int) bool {
			return u.Name == name
		})
		if len(cfg.Upstreams) == before {
			return mcperr.Newf(mcperr.KindConfiguration, "upstream %q does not exist", name)
		}
		// Drop the upstream from every group so resolution never sees a
		// dangling reference.
		for _, g := range cfg.Groups {
			g.Servers = lo.Reject(g.Servers, func(gs *settings.GroupServer, _ int) bool {
				return gs.UpstreamName == name
			})
		}
		return nil
	})
	if err != nil {
		s.writeMutateError(w, err)
		return
	}
	s.writeSuccess(w, map[string]string{"removed": name})
}

func (s *Server) setUpstreamEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := chi.URLParam(r, "name")
	_, err := s.rt.SettingsStore().Mutate(mutationSourceAPI, func(cfg *settings.Settings) error {
		spec, found := lo.Find(cfg.Upstreams, func(u *settings.UpstreamSpec) bool { return u.Name == name })
		if !found {
			return mcperr.Newf(mcperr.KindConfiguration, "upstream %q does not exist", name)
		}
		spec.Enabled = &enabled
		spec.Updated = time.Now().UTC()
		return nil
	})
	if err != nil {
		s.writeMutateError(w, err)
		return
	}
	s.writeSuccess(w, map[string]any{"name": name, "enabled": enabled})
}

func (s *Server) handleEnableUpstream(w http.ResponseWriter, r *http.Request) {
	s.setUpstreamEnabled(w, r, true)
}

func (s *Server) handleDisableUpstream(w http.ResponseWriter, r *http.Request) {
	s.setUpstreamEnabled(w, r, false)
}

func (s *Server) handleRestartUpstream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.rt.Upstreams().Restart(r.Context(), name) {
		s.writeError(w, http.StatusNotFound, "upstream not running: "+name)
		return
	}
	s.writeSuccess(w, map[string]string{"restarted": name})
}

func (s *Server) handleUpstreamTools(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	_, descs := s.rt.Catalog().Snapshot()
	tools := lo.Filter(descs, func(d catalog.Descriptor, _ int) bool {
		return d.UpstreamName == name
	})
	s.writeSuccess(w, tools)
}

func (s *Server) handleUpstreamLogs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tail := 100
	if raw := r.URL.Query().Get("tail"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "tail must be a positive integer")
			return
		}
		tail = parsed
	}

	var logCfg *settings.LogConfig
	if cfg := s.currentSettings(); cfg != nil {
		logCfg = cfg.Logging
	}
	lines, err := logs.ReadUpstreamLogTail(logCfg, name, tail)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeSuccess(w, map[string]any{"name": name, "lines": lines})
}
