package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const eventsHeartbeat = 30 * time.Second

// handleEvents streams hub events (upstream state, catalog versions,
// settings reloads, tool calls) over SSE for dashboards.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	fmt.Fprintf(w, ": connected\nretry: 5000\n\n")
	if canFlush {
		flusher.Flush()
	}

	events := s.rt.Bus().Subscribe()
	defer s.rt.Bus().Unsubscribe(events)

	heartbeat := time.NewTicker(eventsHeartbeat)
	defer heartbeat.Stop()

	if err := writeSSEEvent(w, flusher, canFlush, "status", s.rt.StatusSummary()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := writeSSEEvent(w, flusher, canFlush, "ping", map[string]any{
				"timestamp": time.Now().Unix(),
			}); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, flusher, canFlush, string(evt.Type), evt); err != nil {
				s.logger.Debug("event stream closed", zap.Error(err))
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, canFlush bool, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	if canFlush {
		flusher.Flush()
	}
	return nil
}
