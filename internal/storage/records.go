package storage

import (
	"encoding/json"
	"time"
)

// Bucket names for the bolt database.
const (
	SettingsBucket   = "settings"
	EmbeddingsBucket = "embeddings"
	ToolCallsBucket  = "tool_calls"
	ToolStatsBucket  = "tool_stats"
	MetaBucket       = "meta"
)

// Meta keys.
const (
	SchemaVersionKey    = "schema"
	SettingsSnapshotKey = "current"
)

// CurrentSchemaVersion is stamped into the meta bucket on open.
const CurrentSchemaVersion = 1

// DefaultMaxToolCallRecords caps the tool-call activity log. When the cap is
// exceeded the oldest records are pruned down to 90% of it.
const DefaultMaxToolCallRecords = 10000

// DefaultMaxResponseSize bounds the stored response excerpt of a tool call.
const DefaultMaxResponseSize = 64 * 1024

// ToolCallRecord is one entry in the tool-call activity log. Records are
// keyed by their ULID, which sorts chronologically.
type ToolCallRecord struct {
	ID                string         `json:"id"`
	SessionID         string         `json:"session_id,omitempty"`
	Scope             string         `json:"scope,omitempty"`
	UpstreamName      string         `json:"upstream_name"`
	ToolName          string         `json:"tool_name"`
	Arguments         map[string]any `json:"arguments,omitempty"`
	Response          string         `json:"response,omitempty"`
	ResponseTruncated bool           `json:"response_truncated,omitempty"`
	Status            string         `json:"status"`
	ErrorKind         string         `json:"error_kind,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	DurationMs        int64          `json:"duration_ms,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// Tool call statuses.
const (
	CallStatusSuccess = "success"
	CallStatusError   = "error"
)

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *ToolCallRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *ToolCallRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// ToolCallFilter narrows ListToolCalls results.
type ToolCallFilter struct {
	Upstream  string
	Tool      string
	SessionID string
	Status    string
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// Validate normalizes limit and offset.
func (f *ToolCallFilter) Validate() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches reports whether a record passes the filter.
func (f *ToolCallFilter) Matches(record *ToolCallRecord) bool {
	if f.Upstream != "" && record.UpstreamName != f.Upstream {
		return false
	}
	if f.Tool != "" && record.ToolName != f.Tool {
		return false
	}
	if f.SessionID != "" && record.SessionID != f.SessionID {
		return false
	}
	if f.Status != "" && record.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && record.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && record.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// ToolStatRecord accumulates usage counts per (upstream, tool).
type ToolStatRecord struct {
	UpstreamName string    `json:"upstream_name"`
	ToolName     string    `json:"tool_name"`
	Count        uint64    `json:"count"`
	LastUsed     time.Time `json:"last_used"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (t *ToolStatRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (t *ToolStatRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, t)
}

// EmbeddingRecord is one persisted tool embedding. Rows are keyed by
// (upstream, tool) and carry the exact text that was embedded so unchanged
// tools are not re-embedded on restart.
type EmbeddingRecord struct {
	UpstreamName string    `json:"upstream_name"`
	ToolName     string    `json:"tool_name"`
	Text         string    `json:"text"`
	Vector       []float64 `json:"vector"`
	Dim          int       `json:"dim"`
	Model        string    `json:"model"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (e *EmbeddingRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (e *EmbeddingRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, e)
}

// TruncateResponse truncates a response string if it exceeds maxSize.
// Returns the (potentially truncated) string and whether truncation occurred.
func TruncateResponse(response string, maxSize int) (string, bool) {
	if maxSize <= 0 {
		maxSize = DefaultMaxResponseSize
	}
	if len(response) <= maxSize {
		return response, false
	}
	return response[:maxSize] + "...[truncated]", true
}
