package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/samber/lo"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings/importer"
)

// maxImportBody bounds the uploaded config file size.
const maxImportBody = 1 << 20

// importRequest carries a foreign MCP client configuration to merge into
// the hub settings.
type importRequest struct {
	// Content is the raw source file. Format is detected unless Format
	// names one of the supported source formats.
	Content  string   `json:"content"`
	Format   string   `json:"format,omitempty"`
	Names    []string `json:"names,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`

	// DryRun parses and reports without mutating the settings.
	DryRun bool `json:"dry_run,omitempty"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxImportBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid import request: "+err.Error())
		return
	}
	if req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	var existing []string
	if cfg := s.currentSettings(); cfg != nil {
		existing = lo.Map(cfg.Upstreams, func(u *settings.UpstreamSpec, _ int) string { return u.Name })
	}

	result, err := importer.Import([]byte(req.Content), &importer.Options{
		FormatHint: importer.SourceFormat(req.Format),
		Names:      req.Names,
		Existing:   existing,
		Disabled:   req.Disabled,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !req.DryRun && len(result.Imported) > 0 {
		_, err = s.rt.SettingsStore().Mutate("import", func(cfg *settings.Settings) error {
			for _, imp := range result.Imported {
				cfg.Upstreams = append(cfg.Upstreams, imp.Spec)
			}
			return nil
		})
		if err != nil {
			s.writeMutateError(w, err)
			return
		}
	}
	s.writeSuccess(w, result)
}
