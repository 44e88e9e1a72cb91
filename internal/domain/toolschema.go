package domain

import (
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

// ValidateToolSchemas compiles each tool's Parameters document and rejects
// requests carrying malformed schemas before they reach a provider.
func ValidateToolSchemas(tools []ToolSchema) error {
	compiler := jsonschema.NewCompiler()
	for _, t := range tools {
		if t.Name == "" {
			return fmt.Errorf("%w: tool schema without a name", ErrInvalidInput)
		}
		if len(t.Parameters) == 0 {
			continue
		}
		if _, err := compiler.Compile([]byte(t.Parameters)); err != nil {
			return fmt.Errorf("%w: tool %q: invalid parameters schema: %v", ErrInvalidInput, t.Name, err)
		}
	}
	return nil
}
