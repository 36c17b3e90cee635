package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ToolHash computes the SHA-256 fingerprint used for tool change detection.
// Format: sha256(upstreamName + toolName + description + inputSchemaJSON).
// The description participates so that a description override bumps the
// fingerprint even when the schema is unchanged.
func ToolHash(upstreamName, toolName, description string, inputSchema interface{}) (string, error) {
	var schemaBytes []byte
	var err error

	if inputSchema != nil {
		schemaBytes, err = json.Marshal(inputSchema)
		if err != nil {
			return "", fmt.Errorf("failed to marshal input schema: %w", err)
		}
	}

	combined := upstreamName + toolName + description + string(schemaBytes)

	hasher := sha256.New()
	hasher.Write([]byte(combined))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// StringHash computes the SHA-256 hash of a string.
func StringHash(input string) string {
	hasher := sha256.New()
	hasher.Write([]byte(input))
	return hex.EncodeToString(hasher.Sum(nil))
}

// ComputeToolHash is ToolHash without the error return. If marshaling the
// schema fails it falls back to hashing the identifying fields only.
func ComputeToolHash(upstreamName, toolName, description string, inputSchema interface{}) string {
	h, err := ToolHash(upstreamName, toolName, description, inputSchema)
	if err != nil {
		return StringHash(fmt.Sprintf("%s:%s:%s", upstreamName, toolName, description))
	}
	return h
}
