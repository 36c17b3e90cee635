package runtime

import "time"

// EventType categorizes hub events broadcast to subscribers.
type EventType string

const (
	// EventTypeUpstreamsChanged fires when an upstream's state or tool set
	// changes.
	EventTypeUpstreamsChanged EventType = "upstreams.changed"
	// EventTypeCatalogUpdated fires after the aggregated catalog moves to a
	// new version.
	EventTypeCatalogUpdated EventType = "catalog.updated"
	// EventTypeSettingsReloaded fires after a settings snapshot replacement
	// from any source (file watch, API, CLI).
	EventTypeSettingsReloaded EventType = "settings.reloaded"
	// EventTypeToolCalled fires after each dispatched tool call.
	EventTypeToolCalled EventType = "tool.called"
)

// Event is one notification on the hub event bus.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func newEvent(eventType EventType, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
