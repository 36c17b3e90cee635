package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	cfg := s.currentSettings()
	if cfg == nil || cfg.Groups == nil {
		s.writeSuccess(w, []*settings.Group{})
		return
	}
	s.writeSuccess(w, cfg.Groups)
}

func (s *Server) handleAddGroup(w http.ResponseWriter, r *http.Request) {
	var group settings.Group
	if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid group: "+err.Error())
		return
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	group.Created = now
	group.Updated = now

	_, err := s.rt.SettingsStore().Mutate(mutationSourceAPI, func(cfg *settings.Settings) error {
		if lo.ContainsBy(cfg.Groups, func(g *settings.Group) bool {
			return g.ID == group.ID || g.Name == group.Name
		}) {
			return mcperr.Newf(mcperr.KindConfiguration, "group %q already exists", group.Name)
		}
		cfg.Groups = append(cfg.Groups, &group)
		return nil
	})
	if err != nil {
		s.writeMutateError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, apiResponse{Success: true, Data: &group})
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var group settings.Group
	if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid group: "+err.Error())
		return
	}
	group.ID = id
	group.Updated = time.Now().UTC()

	_, err := s.rt.SettingsStore().Mutate(mutationSourceAPI, func(cfg *settings.Settings) error {
		_, idx, found := lo.FindIndexOf(cfg.Groups, func(g *settings.Group) bool { return g.ID == id })
		if !found {
			return mcperr.Newf(mcperr.KindConfiguration, "group %q does not exist", id)
		}
		group.Created = cfg.Groups[idx].Created
		cfg.Groups[idx] = &group
		return nil
	})
	if err != nil {
		s.writeMutateError(w, err)
		return
	}
	s.writeSuccess(w, &group)
}

func (s *Server) handleRemoveGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, err := s.rt.SettingsStore().Mutate(mutationSourceAPI, func(cfg *settings.Settings) error {
		before := len(cfg.Groups)
		cfg.Groups = lo.Reject(cfg.Groups, func(g *settings.Group, _ int) bool { return g.ID == id })
		if len(cfg.Groups) == before {
			return mcperr.Newf(mcperr.KindConfiguration, "group %q does not exist", id)
		}
		return nil
	})
	if err != nil {
		s.writeMutateError(w, err)
		return
	}
	s.writeSuccess(w, map[string]string{"removed": id})
}
