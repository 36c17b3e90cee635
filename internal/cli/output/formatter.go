// Package output renders CLI results as tables for humans and as JSON or
// YAML for scripts. Errors carry machine-readable codes so wrappers can
// react without parsing prose.
package output

import (
	"fmt"
	"os"
	"strings"
)

// Formatter renders structured data in one output format.
type Formatter interface {
	// Format renders any marshalable value.
	Format(data any) (string, error)

	// FormatError renders a structured error.
	FormatError(err StructuredError) (string, error)

	// FormatTable renders rows under the given column headers.
	FormatTable(headers []string, rows [][]string) (string, error)
}

// New returns the formatter for a format name. Supported names are
// table, json and yaml; empty means table.
func New(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{Indent: true}, nil
	case "yaml":
		return &YAMLFormatter{}, nil
	case "table", "":
		return &TableFormatter{NoColor: os.Getenv("NO_COLOR") != ""}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (valid: table, json, yaml)", format)
	}
}

// ResolveFormat picks the output format from flags and environment.
// An explicit --output wins, then the --json shorthand, then the
// MCPHUB_OUTPUT variable, then the table default.
func ResolveFormat(outputFlag string, jsonFlag bool) string {
	if outputFlag != "" {
		return outputFlag
	}
	if jsonFlag {
		return "json"
	}
	if env := os.Getenv("MCPHUB_OUTPUT"); env != "" {
		return env
	}
	return "table"
}
