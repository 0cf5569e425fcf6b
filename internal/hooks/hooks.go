// Package hooks implements the pre/post tool-call interception pipeline
// (spec §4.3): callbacks grouped by event key, matched by a tool-name regex,
// run sequentially in registration order.
package hooks

import (
	"context"
	"encoding/json"
	"regexp"
)

// Event identifies which point in the tool-execution pipeline a hook fires at.
type Event string

const (
	PreToolUse  Event = "PreToolUse"
	PostToolUse Event = "PostToolUse"
)

// PermissionDecision is the hook's verdict on whether a tool call may proceed.
type PermissionDecision string

const (
	PermissionAllow PermissionDecision = "allow"
	PermissionDeny  PermissionDecision = "deny"
	PermissionAsk   PermissionDecision = "ask" // treated as allow; the SDK does not prompt itself
)

// Result is the (all-optional) outcome of a single hook callback.
type Result struct {
	// Continue defaults to true; false aborts this tool call.
	Continue *bool
	// StopReason is used as the tool_result content when Continue is false.
	StopReason string

	PermissionDecision       PermissionDecision
	PermissionDecisionReason string

	// UpdatedInput replaces the input seen by the tool (PreToolUse only).
	// Successive hooks in the chain see this updated value.
	UpdatedInput json.RawMessage

	// SystemMessage is forwarded out-of-band to the caller; it never enters
	// chat history.
	SystemMessage string

	// AdditionalContext is appended to the tool_result content as
	// "\n\n{additionalContext}" (PostToolUse only).
	AdditionalContext string
}

// ShouldContinue reports whether r permits the tool call to proceed,
// defaulting to true when Continue is unset.
func (r Result) ShouldContinue() bool {
	return r.Continue == nil || *r.Continue
}

// Callback is a single hook function. input is the tool's current input on
// PreToolUse, or the tool's response content on PostToolUse.
type Callback func(ctx context.Context, input json.RawMessage, toolUseID string) (Result, error)

// Matcher groups callbacks that fire for tool names matching Pattern. A nil
// Pattern matches every tool name.
type Matcher struct {
	Pattern   *regexp.Regexp
	Callbacks []Callback
}

func (m Matcher) matches(toolName string) bool {
	return m.Pattern == nil || m.Pattern.MatchString(toolName)
}

// Registry holds matchers grouped by event, in registration order.
type Registry struct {
	groups map[Event][]Matcher
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[Event][]Matcher)}
}

// Register adds a matcher under the given event, compiling pattern (empty
// string matches every tool name).
func (r *Registry) Register(event Event, pattern string, callbacks ...Callback) error {
	var re *regexp.Regexp
	if pattern != "" {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return err
		}
		re = compiled
	}
	r.groups[event] = append(r.groups[event], Matcher{Pattern: re, Callbacks: callbacks})
	return nil
}

// Outcome is the final, merged result of running every matching callback for
// one tool call at one event.
type Outcome struct {
	Stopped           bool
	StopReason        string
	Denied            bool
	DenyReason        string
	UpdatedInput      json.RawMessage
	AdditionalContext string
	SystemMessages    []string
}

// Run executes every matcher group's callbacks (in registration order) for
// toolName at event, threading UpdatedInput through successive PreToolUse
// callbacks. It stops at the first callback that denies or sets
// Continue=false; later matcher groups and callbacks are skipped, but this
// never affects other tool calls in the same turn.
func (r *Registry) Run(ctx context.Context, event Event, toolName string, input json.RawMessage, toolUseID string) (Outcome, error) {
	out := Outcome{UpdatedInput: input}
	for _, m := range r.groups[event] {
		if !m.matches(toolName) {
			continue
		}
		for _, cb := range m.Callbacks {
			res, err := cb(ctx, out.UpdatedInput, toolUseID)
			if err != nil {
				return out, err
			}
			if res.SystemMessage != "" {
				out.SystemMessages = append(out.SystemMessages, res.SystemMessage)
			}
			if res.AdditionalContext != "" {
				out.AdditionalContext = res.AdditionalContext
			}
			if res.UpdatedInput != nil {
				out.UpdatedInput = res.UpdatedInput
			}
			switch res.PermissionDecision {
			case PermissionDeny:
				out.Denied = true
				out.DenyReason = res.PermissionDecisionReason
				return out, nil
			case PermissionAllow, PermissionAsk, "":
				// ask is treated as allow; the SDK presents no interactive prompt.
			}
			if !res.ShouldContinue() {
				out.Stopped = true
				out.StopReason = res.StopReason
				if out.StopReason == "" {
					out.StopReason = "Execution stopped by hook"
				}
				return out, nil
			}
		}
	}
	return out, nil
}
