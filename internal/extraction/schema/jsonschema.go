package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"taxdesk/pkg/errors"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const datePattern = `^\d{4}-\d{2}-\d{2}$`

type compiled struct {
	doc    map[string]any
	schema *jsonschema.Schema
}

// JSONSchema returns the response schema as a generic map. It is sent to the
// oracle as a structured-output constraint and used locally to validate.
func (s *DocumentSpec) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		props[f.Name] = map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"value", "confidence"},
			"properties": map[string]any{
				"value":      valueSchema(f),
				"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			},
		}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

func valueSchema(f FieldSpec) map[string]any {
	switch f.Kind {
	case KindDate:
		return map[string]any{"type": "string", "pattern": datePattern}
	case KindEnum:
		return map[string]any{"type": "string", "enum": f.Values}
	case KindList:
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	}
	return map[string]any{"type": "string"}
}

func compile(s *DocumentSpec) (*compiled, error) {
	doc := s.JSONSchema()
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	name := string(s.Type) + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &compiled{doc: doc, schema: sch}, nil
}

// Validate checks raw oracle JSON against the spec's schema.
func (s *DocumentSpec) Validate(data []byte) error {
	if s.validator == nil {
		v, err := compile(s)
		if err != nil {
			return err
		}
		s.validator = v
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrOracleSchema, err)
	}
	if err := s.validator.schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrOracleSchema, err)
	}
	return nil
}
