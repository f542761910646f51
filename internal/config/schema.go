package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// JSONSchema renders the schema for a rapport config file, keyed by the
// yaml field names. No field is required; applyDefaults fills whatever
// the file omits. Enum-valued fields carry the same value sets Validate
// enforces, so a file that passes the schema also passes validation.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:               "yaml",
			RequiredFromJSONSchemaTags: true,
		}
		schema := r.Reflect(&Config{})
		schema.Title = "rapport configuration"
		pinEnums(schema)
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

// pinEnums mirrors the enum checks in Validate onto the reflected
// definitions. Fields Validate does not gate stay unconstrained.
func pinEnums(root *jsonschema.Schema) {
	for defName, fields := range map[string]map[string][]any{
		"DialogueConfig": {"tool_decision_mode": {"rule", "model"}},
		"ContextConfig": {
			"priority":           {"low", "medium", "high"},
			"injection_position": {"prefix", "system", "inline"},
		},
		"StorageConfig": {"driver": {"memory", "sqlite"}},
	} {
		def, ok := root.Definitions[defName]
		if !ok || def.Properties == nil {
			continue
		}
		for field, values := range fields {
			if prop, ok := def.Properties.Get(field); ok {
				prop.Enum = values
			}
		}
	}
}
