package transport

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// maxSchemaDepth bounds recursion when converting schemas. Real documents
// nest a handful of levels; self-referential component schemas would
// otherwise never terminate.
const maxSchemaDepth = 10

// schemaToMap converts an OpenAPI schema into the plain-map JSON Schema
// fragment an MCP tool inputSchema property expects. explicitDescription
// overrides the schema's own description when set (parameter descriptions
// live on the parameter, not its schema).
func schemaToMap(ref *openapi3.SchemaRef, explicitDescription string, doc *openapi3.T, depth int) map[string]any {
	out := map[string]any{}
	if explicitDescription != "" {
		out["description"] = explicitDescription
	}

	if depth >= maxSchemaDepth {
		out["type"] = "object"
		return out
	}

	s := resolveSchemaRef(ref, doc)
	if s == nil {
		out["type"] = "string"
		return out
	}

	if _, ok := out["description"]; !ok && s.Description != "" {
		out["description"] = s.Description
	}
	if s.Format != "" {
		out["format"] = s.Format
	}
	if len(s.Enum) > 0 {
		out["enum"] = append([]any{}, s.Enum...)
	}
	if s.Default != nil {
		out["default"] = s.Default
	}

	switch schemaType(s) {
	case openapi3.TypeObject:
		out["type"] = "object"
		props, required := mergeObjectProperties(s, doc)
		if len(props) > 0 {
			nested := make(map[string]any, len(props))
			for name, propRef := range props {
				nested[name] = schemaToMap(propRef, "", doc, depth+1)
			}
			out["properties"] = nested
		}
		if len(required) > 0 {
			out["required"] = required
		}
	case openapi3.TypeArray:
		out["type"] = "array"
		if s.Items != nil {
			out["items"] = schemaToMap(s.Items, "", doc, depth+1)
		}
	case openapi3.TypeString, openapi3.TypeNumber, openapi3.TypeInteger, openapi3.TypeBoolean:
		out["type"] = schemaType(s)
	default:
		out["type"] = "string"
	}

	return out
}

// schemaType returns the schema's primary type, treating typeless schemas
// with AllOf or properties as objects.
func schemaType(s *openapi3.Schema) string {
	if s.Type != nil && len(*s.Type) > 0 {
		return (*s.Type)[0]
	}
	if len(s.AllOf) > 0 || len(s.Properties) > 0 {
		return openapi3.TypeObject
	}
	return ""
}

func isObjectSchema(s *openapi3.Schema) bool {
	if s == nil {
		return false
	}
	return schemaType(s) == openapi3.TypeObject
}

// mergeObjectProperties flattens an object schema's own properties with
// those contributed by its AllOf components, collecting required names
// along the way. Later components win on name collisions, matching how
// composition is conventionally read.
func mergeObjectProperties(s *openapi3.Schema, doc *openapi3.T) (map[string]*openapi3.SchemaRef, []string) {
	props := make(map[string]*openapi3.SchemaRef)
	var required []string

	seen := make(map[*openapi3.Schema]struct{})
	var merge func(*openapi3.Schema)
	merge = func(curr *openapi3.Schema) {
		if curr == nil {
			return
		}
		if _, ok := seen[curr]; ok {
			return
		}
		seen[curr] = struct{}{}

		for _, ref := range curr.AllOf {
			merge(resolveSchemaRef(ref, doc))
		}
		for name, ref := range curr.Properties {
			props[name] = ref
		}
		required = append(required, curr.Required...)
	}
	merge(s)

	return props, dedupeStrings(required)
}

// resolveSchemaRef follows component references one level. kin-openapi
// resolves in-document refs during load, so Value is normally populated;
// the name lookup covers documents assembled by hand in tests.
func resolveSchemaRef(ref *openapi3.SchemaRef, doc *openapi3.T) *openapi3.Schema {
	if ref == nil {
		return nil
	}
	if ref.Value != nil {
		return ref.Value
	}
	name := strings.TrimPrefix(ref.Ref, "#/components/schemas/")
	if doc != nil && doc.Components != nil && doc.Components.Schemas != nil {
		if component, ok := doc.Components.Schemas[name]; ok {
			return component.Value
		}
	}
	return nil
}
