package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xonecas/agentrt/internal/registry"
)

// toolInputSchema is the JSON Schema for the synthesized Skill tool's input:
// an optional free-text query used to search loaded skills.
const toolInputSchema = `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "What you are trying to do. Used to find a matching skill."
    }
  }
}`

// toolInput mirrors toolInputSchema.
type toolInput struct {
	Query string `json:"query"`
}

// Tool synthesizes the registry.Definition for the "Skill" tool. It does not
// register itself: cmd/agentctl adds it to the definition list on every run,
// before filtering is applied; no skill-source-directory setting exists to
// turn it on or off. Dispatch delegates to loader.Search and renders matched
// skills' content for the model to consume.
func Tool(loader Loader) registry.Definition {
	return registry.Definition{
		Name:        "Skill",
		Description: "Search and load supplementary instructions for specialized tasks.",
		InputSchema: json.RawMessage(toolInputSchema),
		Execute: func(ctx context.Context, input json.RawMessage) (registry.ToolOutput, error) {
			var in toolInput
			if len(input) > 0 {
				if err := json.Unmarshal(input, &in); err != nil {
					return registry.ToolOutput{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
				}
			}

			skills, err := loader.Search(ctx, in.Query)
			if err != nil {
				return registry.ToolOutput{}, fmt.Errorf("skill: search: %w", err)
			}
			if len(skills) == 0 {
				return registry.ToolOutput{Content: "No matching skills found."}, nil
			}

			var b strings.Builder
			for i, s := range skills {
				if i > 0 {
					b.WriteString("\n\n---\n\n")
				}
				fmt.Fprintf(&b, "# %s\n\n%s\n\n%s", s.Name, s.Description, s.Content)
			}
			return registry.ToolOutput{Content: b.String()}, nil
		},
	}
}
