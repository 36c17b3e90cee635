package output

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

// TableFormatter renders human-readable tables aligned with tabwriter.
type TableFormatter struct {
	NoColor bool
}

// Format falls back to fmt for non-tabular data. Commands that want a
// real table call FormatTable with explicit columns.
func (f *TableFormatter) Format(data any) (string, error) {
	return fmt.Sprintf("%v\n", data), nil
}

func (f *TableFormatter) FormatError(serr StructuredError) (string, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Error [%s]: %s\n", serr.Code, serr.Message)
	if serr.Guidance != "" {
		fmt.Fprintf(&buf, "  %s\n", serr.Guidance)
	}
	if serr.RecoveryCommand != "" {
		fmt.Fprintf(&buf, "  Try: %s\n", serr.RecoveryCommand)
	}
	return buf.String(), nil
}

func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	if isTTY() {
		rule := make([]string, len(headers))
		for i, h := range headers {
			rule[i] = strings.Repeat("-", len(h))
		}
		fmt.Fprintln(w, strings.Join(rule, "\t"))
	}
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
