package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "schema://lesson.json"

type schema struct {
	compiled *jsonschema.Schema
}

func compileSchema(raw []byte) (*schema, error) {
	var def any
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse lesson schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, def); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile lesson schema: %w", err)
	}
	return &schema{compiled: compiled}, nil
}

// validateYAML checks a lesson document against the schema.
func (s *schema) validateYAML(data []byte) error {
	doc, err := yamlToJSON(data)
	if err != nil {
		return err
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
