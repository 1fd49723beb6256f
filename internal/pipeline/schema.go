package pipeline

import (
	"encoding/json"
	"fmt"
)

// interpretationSchema is the structured output contract of the
// interpretation service. It is sent as the response format and used to
// validate the payload.
var interpretationSchema = map[string]any{
	"name":   "roof_takeoff",
	"strict": true,
	"schema": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"measurements": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{
							"type":        "string",
							"description": "snake_case measurement name, e.g. roof_area, ridge_length, roof_pitch",
						},
						"kind": map[string]any{
							"type": "string",
							"enum": []string{"area", "length", "count", "pitch"},
						},
						"value": map[string]any{"type": "number"},
						"unit": map[string]any{
							"type":        "string",
							"description": "Unit exactly as printed",
						},
						"source_page": map[string]any{
							"type":        []string{"integer", "null"},
							"description": "Page number from the === Page N === marker",
						},
						"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					},
					"required":             []string{"name", "kind", "value", "unit", "source_page", "confidence"},
					"additionalProperties": false,
				},
			},
			"materials": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"key":         map[string]any{"type": "string"},
						"name":        map[string]any{"type": "string"},
						"quantity":    map[string]any{"type": []string{"number", "null"}},
						"unit":        map[string]any{"type": []string{"string", "null"}},
						"source_page": map[string]any{"type": []string{"integer", "null"}},
						"confidence":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					},
					"required":             []string{"key", "name", "quantity", "unit", "source_page", "confidence"},
					"additionalProperties": false,
				},
			},
			"features": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":        map[string]any{"type": "string"},
						"count":       map[string]any{"type": "integer", "minimum": 0},
						"source_page": map[string]any{"type": []string{"integer", "null"}},
						"confidence":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					},
					"required":             []string{"name", "count", "source_page", "confidence"},
					"additionalProperties": false,
				},
			},
			"notes": map[string]any{"type": []string{"string", "null"}},
		},
		"required":             []string{"measurements", "materials", "features", "notes"},
		"additionalProperties": false,
	},
}

var (
	interpretationSchemaJSON = mustJSON(interpretationSchema)
	payloadSchemaJSON        = mustJSON(payloadSchema())
)

// payloadSchema is the schema answers are validated against. Strict response
// formats must list every property as required, but a model answering
// without native structured output may leave notes out.
func payloadSchema() map[string]any {
	inner := interpretationSchema["schema"].(map[string]any)
	out := make(map[string]any, len(inner))
	for k, v := range inner {
		out[k] = v
	}
	out["required"] = []string{"measurements", "materials", "features"}
	return out
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("invalid schema: %v", err))
	}
	return b
}

// InterpretationSchema returns the JSON schema wrapper sent to the
// interpretation service.
func InterpretationSchema() json.RawMessage {
	return append(json.RawMessage(nil), interpretationSchemaJSON...)
}

// PayloadSchema returns the schema interpretation answers must satisfy.
func PayloadSchema() json.RawMessage {
	return append(json.RawMessage(nil), payloadSchemaJSON...)
}
