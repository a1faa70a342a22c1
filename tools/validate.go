package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/probichaux/ollama-mcp-bridge/core/protocol"
)

// validateArguments checks arguments against the descriptor's input schema.
// A descriptor without a schema accepts anything. Empty arguments are
// normalized to an empty object so schemas with no required properties pass.
func validateArguments(descriptor protocol.Tool, arguments json.RawMessage) error {
	if len(descriptor.Parameters) == 0 {
		return nil
	}

	schemaBytes, err := json.Marshal(descriptor.Parameters)
	if err != nil {
		return fmt.Errorf("%w: %s: marshaling schema: %v", ErrInvalidArguments, descriptor.Name, err)
	}

	if len(arguments) == 0 {
		arguments = json.RawMessage(`{}`)
	}

	schemaLoader := gojsonschema.NewBytesLoader(schemaBytes)
	documentLoader := gojsonschema.NewBytesLoader(arguments)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		// An uncompilable schema is the peer's defect, not the caller's;
		// let the call through rather than rejecting every invocation.
		return nil
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("%w: %s: %s", ErrInvalidArguments, descriptor.Name, strings.Join(details, "; "))
	}

	return nil
}
