package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateAgainstSchema compiles schema and validates data against it.
// A nil schema always validates successfully -- not every plugin, and not
// every interrupted yield, supplies one.
func validateAgainstSchema(schema json.RawMessage, data json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	const resourceID = "inline://schema.json"
	if err := compiler.AddResource(resourceID, schemaDoc); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	var instance any
	if len(data) == 0 {
		instance = map[string]any{}
	} else if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	if err := compiled.Validate(instance); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
