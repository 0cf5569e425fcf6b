// Package subagent drives a nested Session Engine as a tool-callable
// sub-agent (a supplemented feature — see SPEC_FULL.md — generalized from
// the teacher's internal/subagent onto session.Engine).
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xonecas/agentrt/internal/hooks"
	"github.com/xonecas/agentrt/internal/provider"
	"github.com/xonecas/agentrt/internal/registry"
	"github.com/xonecas/agentrt/internal/session"
	"github.com/xonecas/agentrt/internal/stream"
	"github.com/xonecas/agentrt/internal/truncate"
)

const (
	// MaxSubAgentDepth is the maximum recursion depth for sub-agents.
	// Depth 0 = root session, depth 1 = sub-agent spawned by the root.
	MaxSubAgentDepth = 1

	// MaxSubAgentIterations is the default max-turns budget for a
	// sub-agent's nested engine.
	MaxSubAgentIterations = 5

	// MaxAllowedIterations is the upper bound for a caller-specified
	// MaxIterations.
	MaxAllowedIterations = 20

	// SubAgentToolName is excluded from a sub-agent's own tool set by
	// FilterTools to prevent unbounded recursive spawning.
	SubAgentToolName = "SubAgent"
)

// Options configures a sub-agent run.
type Options struct {
	Provider      provider.Provider
	Registry      *registry.Registry
	Hooks         *hooks.Registry
	Truncate      *truncate.Guard
	SystemPrompt  string
	Prompt        string
	MaxIterations int
	Depth         int
}

// Result reports a sub-agent run's outcome.
type Result struct {
	Content string
	Usage   stream.Usage
}

// Run executes a bounded nested turn loop and returns the final assistant
// text. The nested engine's own max-turns enforcement (spec §4.5) applies
// recursively: Run supplies MaxIterations as that engine's MaxTurns.
func Run(ctx context.Context, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("sub-agent cancelled: %w", err)
	}
	if opts.Provider == nil {
		return Result{}, fmt.Errorf("sub-agent: provider is required")
	}
	if opts.Registry == nil {
		return Result{}, fmt.Errorf("sub-agent: registry is required")
	}
	if opts.Prompt == "" {
		return Result{}, fmt.Errorf("sub-agent: prompt is required")
	}
	if opts.Depth > MaxSubAgentDepth {
		return Result{}, fmt.Errorf("sub-agent: max recursion depth exceeded: %d > %d", opts.Depth, MaxSubAgentDepth)
	}

	maxIter := MaxSubAgentIterations
	if opts.MaxIterations > 0 {
		if opts.MaxIterations > MaxAllowedIterations {
			return Result{}, fmt.Errorf("sub-agent: max_iterations too large (max %d)", MaxAllowedIterations)
		}
		maxIter = opts.MaxIterations
	}

	sess := session.New()
	eng := session.NewEngine(sess, session.EngineOptions{
		Provider:     opts.Provider,
		Registry:     opts.Registry,
		Hooks:        opts.Hooks,
		Truncate:     opts.Truncate,
		SystemPrompt: opts.SystemPrompt,
		MaxTurns:     maxIter,
	})

	if err := eng.Send(opts.Prompt); err != nil {
		return Result{}, fmt.Errorf("sub-agent: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	ch, err := eng.Receive(ctx, session.ReceiveOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("sub-agent: %w", err)
	}

	var lastErr error
	for ev := range ch {
		if ev.Kind == session.EventError {
			lastErr = ev.Err
		}
	}
	if lastErr != nil {
		return Result{}, fmt.Errorf("sub-agent failed: %w", lastErr)
	}

	msgs := sess.Messages()
	var finalContent string
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != provider.RoleAssistant {
			continue
		}
		for _, b := range m.Blocks {
			if b.Kind == stream.BlockText {
				finalContent += b.Text
			}
		}
		if finalContent != "" {
			break
		}
	}
	if finalContent == "" {
		return Result{}, fmt.Errorf("sub-agent produced no final text response")
	}

	return Result{Content: finalContent, Usage: sess.Usage()}, nil
}

// FilterTools removes the SubAgent tool definition from defs, ensuring a
// sub-agent's own registry never re-exposes recursive spawning.
func FilterTools(defs []registry.Definition) []registry.Definition {
	filtered := make([]registry.Definition, 0, len(defs))
	for _, d := range defs {
		if d.Name != SubAgentToolName {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// SystemPrompt returns the default system prompt for sub-agents, optionally
// combined with caller-supplied project instructions.
func SystemPrompt(projectInstructions string) string {
	base := "You are a focused sub-agent. Complete the delegated task and report back a concise final answer. Do not ask the user clarifying questions; make reasonable assumptions and proceed."
	if projectInstructions == "" {
		return base
	}
	return base + "\n\n---\n\n" + projectInstructions
}

const toolInputSchema = `{
  "type": "object",
  "properties": {
    "prompt": {
      "type": "string",
      "description": "The task to delegate to the sub-agent."
    }
  },
  "required": ["prompt"]
}`

type toolInput struct {
	Prompt string `json:"prompt"`
}

// ToolOptions configures the synthesized SubAgent tool (Tool below). Depth
// is the depth of the SESSION the tool is registered on; Run is invoked with
// Depth+1.
type ToolOptions struct {
	Provider            provider.Provider
	Registry            *registry.Registry
	Hooks               *hooks.Registry
	Truncate            *truncate.Guard
	ProjectInstructions string
	Depth               int
	MaxIterations       int
}

// Tool synthesizes the registry.Definition for the SubAgent tool: dispatch
// spawns a nested session.Engine via Run, with the spawning tool itself
// excluded from the sub-agent's own tool set (FilterTools).
func Tool(opts ToolOptions) registry.Definition {
	subReg := opts.Registry
	if subReg != nil {
		filtered := FilterTools(subReg.Definitions())
		r, err := registry.New(filtered, nil, nil)
		if err == nil {
			subReg = r
		}
	}

	return registry.Definition{
		Name:        SubAgentToolName,
		Description: "Delegate a self-contained task to a focused sub-agent and receive its final answer.",
		InputSchema: json.RawMessage(toolInputSchema),
		Execute: func(ctx context.Context, input json.RawMessage) (registry.ToolOutput, error) {
			var in toolInput
			if err := json.Unmarshal(input, &in); err != nil || in.Prompt == "" {
				return registry.ToolOutput{Content: "invalid input: prompt is required", IsError: true}, nil
			}
			res, err := Run(ctx, Options{
				Provider:      opts.Provider,
				Registry:      subReg,
				Hooks:         opts.Hooks,
				Truncate:      opts.Truncate,
				SystemPrompt:  SystemPrompt(opts.ProjectInstructions),
				Prompt:        in.Prompt,
				MaxIterations: opts.MaxIterations,
				Depth:         opts.Depth + 1,
			})
			if err != nil {
				return registry.ToolOutput{Content: err.Error(), IsError: true}, nil
			}
			return registry.ToolOutput{Content: res.Content}, nil
		},
	}
}
