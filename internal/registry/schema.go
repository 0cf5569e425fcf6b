package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateSchema compiles raw as a JSON-Schema document, rejecting malformed
// schemas at registration time rather than deferring to the first tool call.
// An empty schema is permitted (tools with no declared input shape).
func validateSchema(raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid input schema JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", doc); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	if _, err := c.Compile("tool.json"); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	return nil
}
