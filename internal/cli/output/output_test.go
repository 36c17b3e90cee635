package output

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsFormatter(t *testing.T) {
	tests := []struct {
		format string
		want   any
	}{
		{"json", &JSONFormatter{}},
		{"JSON", &JSONFormatter{}},
		{"yaml", &YAMLFormatter{}},
		{"table", &TableFormatter{}},
		{"", &TableFormatter{}},
	}
	for _, tc := range tests {
		f, err := New(tc.format)
		require.NoError(t, err, tc.format)
		assert.IsType(t, tc.want, f, tc.format)
	}

	_, err := New("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestResolveFormat(t *testing.T) {
	t.Setenv("MCPHUB_OUTPUT", "")

	assert.Equal(t, "yaml", ResolveFormat("yaml", true), "explicit flag wins over --json")
	assert.Equal(t, "json", ResolveFormat("", true))
	assert.Equal(t, "table", ResolveFormat("", false))

	t.Setenv("MCPHUB_OUTPUT", "json")
	assert.Equal(t, "json", ResolveFormat("", false))
	assert.Equal(t, "table", ResolveFormat("table", false), "flag wins over env")
}

func TestJSONFormatterTable(t *testing.T) {
	f := &JSONFormatter{Indent: false}
	out, err := f.FormatTable([]string{"name", "state"}, [][]string{
		{"github", "ready"},
		{"files"},
	})
	require.NoError(t, err)

	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "ready", rows[0]["state"])
	assert.Equal(t, "", rows[1]["state"], "short rows pad with empty cells")
}

func TestYAMLFormatterRoundTrip(t *testing.T) {
	f := &YAMLFormatter{}
	out, err := f.Format(map[string]int{"tools": 12})
	require.NoError(t, err)
	assert.Contains(t, out, "tools: 12")
}

func TestTableFormatterEmpty(t *testing.T) {
	f := &TableFormatter{}
	out, err := f.FormatTable([]string{"name"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "No results found\n", out)
}

func TestTableFormatterAlignsRows(t *testing.T) {
	f := &TableFormatter{}
	out, err := f.FormatTable([]string{"name", "state"}, [][]string{
		{"github", "ready"},
		{"local-files", "connecting"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "github")
	assert.Contains(t, out, "local-files")
	assert.Contains(t, out, "connecting")
}

func TestStructuredErrorBuilders(t *testing.T) {
	serr := NewError(ErrCodeUpstreamNotFound, "upstream not found: github").
		WithGuidance("the name must match a configured upstream").
		WithRecoveryCommand("mcphub upstreams list").
		WithContext("name", "github")

	assert.Equal(t, ErrCodeUpstreamNotFound, serr.Code)
	assert.Equal(t, "upstream not found: github", serr.Error())
	assert.Equal(t, "github", serr.Context["name"])

	f := &TableFormatter{}
	out, err := f.FormatError(serr)
	require.NoError(t, err)
	assert.Contains(t, out, "UPSTREAM_NOT_FOUND")
	assert.Contains(t, out, "Try: mcphub upstreams list")
}

func TestFromErrorPreservesStructured(t *testing.T) {
	orig := NewError(ErrCodeAuthRequired, "api key required")
	assert.Equal(t, orig, FromError(orig, ErrCodeOperationFailed))

	plain := FromError(errors.New("boom"), ErrCodeOperationFailed)
	assert.Equal(t, ErrCodeOperationFailed, plain.Code)
	assert.Equal(t, "boom", plain.Message)
}
