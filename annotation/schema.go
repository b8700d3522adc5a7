package annotation

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// RecordSchemas returns the JSON Schemas of the files the annotator writes, keyed by file kind.
func RecordSchemas() (map[string]any, error) {
	out := make(map[string]any, 3)
	for name, v := range map[string]any{
		"annotation":    AnnotationResult{},
		"demonstration": DemonstrationExample{},
		"label_state":   LabelState{},
	} {
		m, err := reflectSchema(v)
		if err != nil {
			return nil, fmt.Errorf("RecordSchemas: %s: %w", name, err)
		}
		out[name] = m
	}
	return out, nil
}

func reflectSchema(v any) (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	b, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
