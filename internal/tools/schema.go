package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	invopopschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// NormalizeSchema recursively injects additionalProperties=false on
// every object node with properties, strips extraneous JSON-Schema
// "title" annotations, and flattens the anyOf:[X, {"type":"null"}]
// idiom some providers reject, per SPEC_FULL.md §4.5.
func NormalizeSchema(schema json.RawMessage) (json.RawMessage, error) {
	var node any
	if err := json.Unmarshal(schema, &node); err != nil {
		return nil, fmt.Errorf("tools: decode schema: %w", err)
	}
	normalized := normalizeNode(node)

	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("tools: re-encode schema: %w", err)
	}
	return out, nil
}

func normalizeNode(node any) any {
	m, ok := node.(map[string]any)
	if !ok {
		if list, ok := node.([]any); ok {
			out := make([]any, len(list))
			for i, v := range list {
				out[i] = normalizeNode(v)
			}
			return out
		}
		return node
	}

	delete(m, "title")

	if anyOf, ok := m["anyOf"].([]any); ok {
		if flattened, ok := flattenNullableAnyOf(anyOf); ok {
			delete(m, "anyOf")
			for k, v := range flattened {
				m[k] = v
			}
		}
	}

	for k, v := range m {
		m[k] = normalizeNode(v)
	}

	if _, hasProps := m["properties"]; hasProps {
		if _, typed := m["type"]; !typed {
			m["type"] = "object"
		}
		m["additionalProperties"] = false
	}

	return m
}

// flattenNullableAnyOf detects the ``anyOf: [X, {"type": "null"}]``
// idiom and returns X's fields merged with "nullable": true, the
// shape most providers accept instead of a bare anyOf.
func flattenNullableAnyOf(anyOf []any) (map[string]any, bool) {
	if len(anyOf) != 2 {
		return nil, false
	}
	var real map[string]any
	sawNull := false
	for _, v := range anyOf {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		if t, _ := m["type"].(string); t == "null" {
			sawNull = true
			continue
		}
		real = m
	}
	if !sawNull || real == nil {
		return nil, false
	}
	out := make(map[string]any, len(real)+1)
	for k, v := range real {
		out[k] = v
	}
	out["nullable"] = true
	return out, true
}

// Validate compiles schema with santhosh-tekuri/jsonschema to catch
// malformed tool parameter schemas before they are handed to a
// provider, and to exercise a real JSON Schema compiler rather than
// trusting the hand-rolled normalisation pass alone.
func Validate(schema json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool-schema.json", bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("tools: add schema resource: %w", err)
	}
	if _, err := compiler.Compile("tool-schema.json"); err != nil {
		return fmt.Errorf("tools: invalid parameter schema: %w", err)
	}
	return nil
}

// SchemaFor generates a normalised JSON schema from a Go struct
// pointer, used to build the synthetic StructuredOutput tool's
// parameter schema from the caller's requested output type.
func SchemaFor(v any) (json.RawMessage, error) {
	reflector := &invopopschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tools: marshal generated schema: %w", err)
	}
	return NormalizeSchema(raw)
}
