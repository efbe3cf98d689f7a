package content

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed phase.schema.json
var phaseSchemaJSON string

// validatePhaseDoc checks a decoded phase document against the phase schema
// before it is mapped onto the typed structs.
func validatePhaseDoc(doc any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(phaseSchemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("running schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var sb strings.Builder
	for i, desc := range result.Errors() {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(desc.String())
	}
	return fmt.Errorf("phase file invalid: %s", sb.String())
}

// normalizeYAML converts yaml.v3's map[string]any / []any tree into a tree
// gojsonschema accepts (it chokes on map[any]any from older decoders; yaml.v3
// already yields string keys, but nested numbers need to stay as-is).
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
