package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/index"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/storage"
)

func (s *Server) handleIndexSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	results, err := s.rt.TextIndex().Search(query, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []index.Result{}
	}
	s.writeSuccess(w, map[string]any{"query": query, "results": results})
}

func (s *Server) handleListToolCalls(w http.ResponseWriter, r *http.Request) {
	filter, err := toolCallFilterFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, total, err := s.rt.Storage().ListToolCalls(filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*storage.ToolCallRecord{}
	}
	s.writeSuccess(w, map[string]any{
		"tool_calls": records,
		"total":      total,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	})
}

func toolCallFilterFromQuery(r *http.Request) (storage.ToolCallFilter, error) {
	q := r.URL.Query()
	filter := storage.ToolCallFilter{
		Upstream:  q.Get("upstream"),
		Tool:      q.Get("tool"),
		SessionID: q.Get("session_id"),
		Status:    q.Get("status"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return filter, &queryError{name}
		}
		*dst = parsed
	}
	for name, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, &queryError{name}
		}
		*dst = parsed
	}
	return filter, nil
}

type queryError struct {
	param string
}

func (e *queryError) Error() string {
	return "invalid query parameter: " + e.param
}

func (s *Server) handleGetToolCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.rt.Storage().GetToolCall(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		s.writeError(w, http.StatusNotFound, "tool call not found: "+id)
		return
	}
	s.writeSuccess(w, record)
}

func (s *Server) handleToolCallStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.rt.Storage().ToolStats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stats == nil {
		stats = []*storage.ToolStatRecord{}
	}
	s.writeSuccess(w, stats)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.rt.Sessions().Sessions()
	s.writeSuccess(w, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}
