package importer

import (
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
)

// ErrUnknownFormat is returned when the content matches no supported client
// config format.
var ErrUnknownFormat = fmt.Errorf("unable to detect configuration format: supported formats are Claude Desktop, Claude Code, Cursor IDE, Codex CLI and Gemini CLI")

// Detection describes the auto-detected source format.
type Detection struct {
	Format     SourceFormat `json:"format"`
	Confidence string       `json:"confidence"` // "high", "medium", "low"
	Indicators []string     `json:"indicators"`
}

// Detect identifies the configuration format. Codex uses TOML so that is
// tried first; everything else is JSON keyed by "mcpServers".
func Detect(content []byte) (*Detection, error) {
	var tomlRaw map[string]interface{}
	if _, err := toml.Decode(string(content), &tomlRaw); err == nil {
		if _, ok := tomlRaw["mcp_servers"]; ok {
			return &Detection{
				Format:     FormatCodex,
				Confidence: "high",
				Indicators: []string{"toml_format", "mcp_servers_key"},
			}, nil
		}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, ErrUnknownFormat
	}
	servers, ok := raw["mcpServers"].(map[string]interface{})
	if !ok {
		return nil, ErrUnknownFormat
	}

	sig := collectSignals(raw, servers)
	return sig.decide(), nil
}

// signals are the per-format markers found while scanning the file once.
type signals struct {
	globalShortcut bool // Claude Desktop top-level key
	geminiHTTPURL  bool // Gemini httpUrl transport field
	geminiTrust    bool // Gemini trust / includeTools / excludeTools
	geminiGlobal   bool // Gemini top-level "mcp" section
	cursorStream   bool // Cursor streamable-http type
	cursorAuth     bool // Cursor auth.CLIENT_ID
	cursorEnvFile  bool // Cursor envFile
	websocketType  bool // Claude Code websocket type
	httpType       bool // plain "http" type (Claude Code)
	anyURLOrType   bool
}

func collectSignals(raw, servers map[string]interface{}) *signals {
	sig := &signals{}
	if _, ok := raw["globalShortcut"]; ok {
		sig.globalShortcut = true
	}
	if _, ok := raw["mcp"]; ok {
		sig.geminiGlobal = true
	}

	for _, entry := range servers {
		server, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if _, ok := server["httpUrl"]; ok {
			sig.geminiHTTPURL = true
		}
		for _, key := range []string{"trust", "includeTools", "excludeTools"} {
			if _, ok := server[key]; ok {
				sig.geminiTrust = true
			}
		}
		switch server["type"] {
		case "websocket":
			sig.websocketType = true
		case "streamable-http", "streamableHttp":
			sig.cursorStream = true
		case "http":
			sig.httpType = true
		}
		if auth, ok := server["auth"].(map[string]interface{}); ok {
			if _, ok := auth["CLIENT_ID"]; ok {
				sig.cursorAuth = true
			}
		}
		if _, ok := server["envFile"]; ok {
			sig.cursorEnvFile = true
		}
		if _, ok := server["url"]; ok {
			sig.anyURLOrType = true
		}
		if _, ok := server["type"]; ok {
			sig.anyURLOrType = true
		}
	}
	return sig
}

// decide picks the format with the strongest signal. High-confidence
// markers win over medium ones; a file with only stdio servers defaults to
// Claude Desktop, anything else falls back to Cursor as the most generic
// JSON shape.
func (sig *signals) decide() *Detection {
	base := []string{"json_format", "mcpServers_key"}
	hit := func(format SourceFormat, confidence, indicator string) *Detection {
		return &Detection{
			Format:     format,
			Confidence: confidence,
			Indicators: append(base, indicator),
		}
	}

	switch {
	case sig.globalShortcut:
		return hit(FormatClaudeDesktop, "high", "globalShortcut_key")
	case sig.geminiHTTPURL:
		return hit(FormatGemini, "high", "httpUrl_field")
	case sig.websocketType:
		return hit(FormatClaudeCode, "high", "type_websocket")
	case sig.cursorStream:
		return hit(FormatCursor, "high", "type_streamable_http")
	case sig.cursorAuth:
		return hit(FormatCursor, "high", "auth_CLIENT_ID")
	case sig.geminiTrust:
		return hit(FormatGemini, "medium", "gemini_tool_filters")
	case sig.cursorEnvFile:
		return hit(FormatCursor, "medium", "envFile_field")
	case sig.httpType:
		return hit(FormatClaudeCode, "medium", "type_http")
	case sig.geminiGlobal:
		return hit(FormatGemini, "medium", "mcp_global_config")
	case !sig.anyURLOrType:
		// Only command/args/env entries: the Claude Desktop shape.
		return hit(FormatClaudeDesktop, "medium", "all_stdio_servers")
	default:
		return hit(FormatCursor, "low", "generic_fallback")
	}
}
