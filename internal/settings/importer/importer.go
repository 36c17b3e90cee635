// Package importer reads MCP server definitions from the config files of
// common MCP clients (Claude Desktop, Claude Code, Cursor, Codex, Gemini)
// and converts them into hub upstream specs.
package importer

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// SourceFormat identifies a supported client configuration format.
type SourceFormat string

const (
	FormatUnknown       SourceFormat = "unknown"
	FormatClaudeDesktop SourceFormat = "claude_desktop"
	FormatClaudeCode    SourceFormat = "claude_code"
	FormatCursor        SourceFormat = "cursor"
	FormatCodex         SourceFormat = "codex"
	FormatGemini        SourceFormat = "gemini"
)

// Display returns the human-readable format name.
func (f SourceFormat) Display() string {
	switch f {
	case FormatClaudeDesktop:
		return "Claude Desktop"
	case FormatClaudeCode:
		return "Claude Code"
	case FormatCursor:
		return "Cursor IDE"
	case FormatCodex:
		return "Codex CLI"
	case FormatGemini:
		return "Gemini CLI"
	default:
		return "Unknown"
	}
}

// ImportedUpstream is one upstream ready to be added to the hub settings.
type ImportedUpstream struct {
	Spec *settings.UpstreamSpec `json:"spec"`

	// OriginalName is the name used in the source file, which may differ
	// from Spec.Name after sanitizing.
	OriginalName string `json:"original_name"`

	// SkippedFields lists source fields that have no hub equivalent.
	SkippedFields []string `json:"skipped_fields,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// SkippedUpstream is an upstream that was present but not imported.
type SkippedUpstream struct {
	Name   string `json:"name"`
	Reason string `json:"reason"` // "already_exists", "filtered_out"
}

// FailedUpstream is an upstream that could not be converted.
type FailedUpstream struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Summary holds counts for display.
type Summary struct {
	Total    int `json:"total"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Result is the outcome of an import run.
type Result struct {
	Format            SourceFormat        `json:"format"`
	FormatDisplayName string              `json:"format_display_name"`
	Imported          []*ImportedUpstream `json:"imported"`
	Skipped           []SkippedUpstream   `json:"skipped"`
	Failed            []FailedUpstream    `json:"failed"`
	Warnings          []string            `json:"warnings,omitempty"`
	Summary           Summary             `json:"summary"`
}

// Options configures an import run.
type Options struct {
	// FormatHint skips auto-detection when set.
	FormatHint SourceFormat

	// Names restricts the import to the listed upstream names.
	Names []string

	// Existing lists upstream names already configured; matching imports
	// are skipped as duplicates.
	Existing []string

	// Disabled imports upstreams in disabled state for later review.
	Disabled bool

	// Now is the timestamp stamped on imported specs (default time.Now).
	Now time.Time
}

// candidate is one upstream parsed from a source file before the shared
// name and duplicate handling.
type candidate struct {
	name     string
	spec     *settings.UpstreamSpec
	skipped  []string
	warnings []string
	err      error // set when the entry cannot be represented at all
}

type formatParser func(content []byte) ([]*candidate, error)

func parserFor(format SourceFormat) formatParser {
	switch format {
	case FormatClaudeDesktop:
		return parseClaudeDesktop
	case FormatClaudeCode:
		return parseClaudeCode
	case FormatCursor:
		return parseCursor
	case FormatCodex:
		return parseCodex
	case FormatGemini:
		return parseGemini
	default:
		return nil
	}
}

// Import converts client config content into hub upstream specs. The format
// is auto-detected unless opts.FormatHint is set.
func Import(content []byte, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	format := opts.FormatHint
	if format == "" || format == FormatUnknown {
		detection, err := Detect(content)
		if err != nil {
			return nil, err
		}
		format = detection.Format
	}

	parse := parserFor(format)
	if parse == nil {
		return nil, fmt.Errorf("no parser available for format %q", format)
	}

	candidates, err := parse(content)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Format:            format,
		FormatDisplayName: format.Display(),
		Imported:          []*ImportedUpstream{},
		Skipped:           []SkippedUpstream{},
		Failed:            []FailedUpstream{},
	}

	existing := make(map[string]bool, len(opts.Existing))
	for _, name := range opts.Existing {
		existing[name] = true
	}

	var filter map[string]bool
	if len(opts.Names) > 0 {
		filter = make(map[string]bool, len(opts.Names))
		for _, name := range opts.Names {
			filter[name] = true
		}
	}
	found := make(map[string]bool, len(candidates))

	for _, c := range candidates {
		found[c.name] = true

		if filter != nil && !filter[c.name] {
			result.Skipped = append(result.Skipped, SkippedUpstream{
				Name: c.name, Reason: "filtered_out",
			})
			continue
		}

		if c.err != nil {
			result.Failed = append(result.Failed, FailedUpstream{
				Name: c.name, Error: c.err.Error(),
			})
			continue
		}

		name := c.name
		if settings.ValidateName(name) != nil {
			sanitized := SanitizeName(name)
			if sanitized == "" {
				result.Failed = append(result.Failed, FailedUpstream{
					Name:  c.name,
					Error: fmt.Sprintf("name %q cannot be sanitized to a valid upstream name", c.name),
				})
				continue
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"upstream %q renamed to %q due to invalid characters", c.name, sanitized))
			name = sanitized
		}

		if existing[name] {
			result.Skipped = append(result.Skipped, SkippedUpstream{
				Name: name, Reason: "already_exists",
			})
			continue
		}
		existing[name] = true

		spec := c.spec
		spec.Name = name
		spec.Created = opts.Now
		if opts.Disabled {
			disabled := false
			spec.Enabled = &disabled
		}

		result.Imported = append(result.Imported, &ImportedUpstream{
			Spec:          spec,
			OriginalName:  c.name,
			SkippedFields: c.skipped,
			Warnings:      c.warnings,
		})
	}

	for name := range filter {
		if !found[name] {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"requested upstream %q not found in config", name))
		}
	}

	result.Summary = Summary{
		Total:    len(candidates),
		Imported: len(result.Imported),
		Skipped:  len(result.Skipped),
		Failed:   len(result.Failed),
	}
	return result, nil
}

// SanitizeName converts an arbitrary string into a valid upstream name.
// Invalid characters are dropped, separators become single underscores and
// the result is capped at 64 characters. Returns "" when nothing valid
// remains.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, c := range strings.TrimSpace(name) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteRune(c)
		case c == '_', c == ' ', c == '.', c == '/', c == '\\', c == ':':
			// Separators collapse to a single underscore; runs of "__"
			// would collide with the tool namespacing separator.
			s := b.String()
			if len(s) > 0 && s[len(s)-1] != '_' {
				b.WriteByte('_')
			}
		}
	}
	result := strings.Trim(b.String(), "_")
	if len(result) > 64 {
		result = strings.Trim(result[:64], "_")
	}
	if settings.ValidateName(result) != nil {
		return ""
	}
	return result
}

// mapKind converts a client transport label into an upstream kind.
func mapKind(label string) (settings.UpstreamKind, error) {
	switch label {
	case "stdio", "":
		return settings.KindStdio, nil
	case "sse":
		return settings.KindSSE, nil
	case "http", "streamable-http", "streamableHttp":
		return settings.KindStreamHTTP, nil
	default:
		return "", fmt.Errorf("transport %q is not supported", label)
	}
}
