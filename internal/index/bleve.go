// Package index keeps a BM25 keyword index over the tool catalog for the
// management search API. It lives purely in memory: the catalog is rebuilt
// from live upstreams on every boot, so the text index follows it instead
// of maintaining disk state of its own.
package index

import (
	"encoding/json"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
)

// toolDocument is the indexed shape of one catalog descriptor.
type toolDocument struct {
	UpstreamName string `json:"upstream_name"`
	ToolName     string `json:"tool_name"`
	Description  string `json:"description"`
	ParamsJSON   string `json:"params_json"`
	Enabled      bool   `json:"enabled"`
}

// Result is one keyword-search hit.
type Result struct {
	UpstreamName string  `json:"upstream_name"`
	ToolName     string  `json:"tool_name"`
	Description  string  `json:"description"`
	Enabled      bool    `json:"enabled"`
	Score        float64 `json:"score"`
}

// newMemIndex builds an in-memory bleve index with the tool mapping: names
// get the keyword analyzer so they match as whole tokens, descriptions and
// parameter JSON get the standard analyzer for full-text search.
func newMemIndex() (bleve.Index, error) {
	indexMapping := bleve.NewIndexMapping()
	toolMapping := bleve.NewDocumentMapping()

	upstreamField := bleve.NewTextFieldMapping()
	upstreamField.Analyzer = keyword.Name
	upstreamField.Store = true
	toolMapping.AddFieldMappingsAt("upstream_name", upstreamField)

	toolNameField := bleve.NewTextFieldMapping()
	toolNameField.Analyzer = keyword.Name
	toolNameField.Store = true
	toolMapping.AddFieldMappingsAt("tool_name", toolNameField)

	descriptionField := bleve.NewTextFieldMapping()
	descriptionField.Analyzer = standard.Name
	descriptionField.Store = true
	toolMapping.AddFieldMappingsAt("description", descriptionField)

	paramsField := bleve.NewTextFieldMapping()
	paramsField.Analyzer = standard.Name
	paramsField.Store = true
	toolMapping.AddFieldMappingsAt("params_json", paramsField)

	enabledField := bleve.NewBooleanFieldMapping()
	enabledField.Store = true
	toolMapping.AddFieldMappingsAt("enabled", enabledField)

	indexMapping.AddDocumentMapping("tool", toolMapping)
	indexMapping.DefaultMapping = toolMapping

	return bleve.NewMemOnly(indexMapping)
}

// docID joins upstream and tool name on a NUL byte, which cannot appear in
// either.
func docID(upstreamName, toolName string) string {
	return upstreamName + "\x00" + toolName
}

func docFor(desc catalog.Descriptor) *toolDocument {
	params, err := json.Marshal(desc.Tool.InputSchema)
	if err != nil {
		params = nil
	}
	return &toolDocument{
		UpstreamName: desc.UpstreamName,
		ToolName:     desc.ToolName,
		Description:  desc.Description,
		ParamsJSON:   string(params),
		Enabled:      desc.Enabled,
	}
}

func getStringField(fields map[string]interface{}, fieldName string) string {
	if val, ok := fields[fieldName]; ok {
		if strVal, ok := val.(string); ok {
			return strVal
		}
	}
	return ""
}

func getBoolField(fields map[string]interface{}, fieldName string) bool {
	if val, ok := fields[fieldName]; ok {
		if boolVal, ok := val.(bool); ok {
			return boolVal
		}
	}
	return false
}
