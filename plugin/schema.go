package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compileSchema compiles a raw JSON Schema document. Called once per
// definition when it is loaded into the registry.
func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse config schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add config schema resource: %w", err)
	}
	sch, err := c.Compile("config.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return sch, nil
}

// validateAgainstSchema checks an operator-supplied config against a compiled
// schema. The config must round-trip through JSON so numeric types match what
// the schema validator expects.
func validateAgainstSchema(sch *jsonschema.Schema, config map[string]any) error {
	normalized, err := normalizeJSON(config)
	if err != nil {
		return err
	}
	if err := sch.Validate(normalized); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func normalizeJSON(config map[string]any) (any, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(config); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	v, err := jsonschema.UnmarshalJSON(&buf)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return v, nil
}
