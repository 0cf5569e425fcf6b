package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/agentrt/internal/hooks"
	"github.com/xonecas/agentrt/internal/provider"
	"github.com/xonecas/agentrt/internal/registry"
	"github.com/xonecas/agentrt/internal/stream"
	"github.com/xonecas/agentrt/internal/telemetry"
	"github.com/xonecas/agentrt/internal/truncate"
)

// DefaultMaxTokens is the model config default (spec §4.5 "Request
// construction").
const DefaultMaxTokens = 4096

// DefaultMaxTurns bounds a turn loop when the caller doesn't set one.
const DefaultMaxTurns = 60

// repetitionWindow is how many consecutive identical tool+argument calls
// trigger the optional repetition guard (a supplemented feature, see
// SPEC_FULL.md; generalized from the teacher's injectRecitation detector).
const repetitionWindow = 3

// EngineOptions configures an Engine (spec §4.5's "Request construction").
type EngineOptions struct {
	Provider provider.Provider
	Registry *registry.Registry
	Hooks    *hooks.Registry // may be nil (no hooks registered)
	Truncate *truncate.Guard // may be nil (defaults applied)

	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	MaxTurns     int

	// WarnOnRepeatedToolCalls enables the repetition guard supplemented
	// feature (off by default).
	WarnOnRepeatedToolCalls bool
}

// ReceiveOptions configures one Receive call.
type ReceiveOptions struct {
	// Continue resumes an interrupted loop with no newly pending message
	// (spec §4.5's receive() precondition).
	Continue bool
}

// Engine drives the turn loop (C5) over a Session (C6): IDLE → PENDING →
// STREAMING → EXECUTING_TOOLS → STREAMING (recurse) → DONE.
type Engine struct {
	sess *Session
	opts EngineOptions
}

// NewEngine binds an Engine to sess with the given options.
func NewEngine(sess *Session, opts EngineOptions) *Engine {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	return &Engine{sess: sess, opts: opts}
}

// Session returns the Engine's bound session.
func (e *Engine) Session() *Session { return e.sess }

// Send queues a plain-text user message as the session's pending message
// (the spec §3 user shortcut). It fails synchronously if the session is
// closed or already has a pending message.
func (e *Engine) Send(text string) error {
	s := e.sess
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.receiving {
		return ErrAlreadySending
	}
	if s.pending != nil {
		return ErrAlreadySending
	}
	msg := UserText(text)
	s.pending = &msg
	return nil
}

// Receive drives the turn loop and returns a channel of events, totally
// ordered per spec §4.5. The channel is closed when the loop reaches DONE
// (stop, error, or cancellation).
func (e *Engine) Receive(ctx context.Context, opts ReceiveOptions) (<-chan Event, error) {
	s := e.sess
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.receiving {
		s.mu.Unlock()
		return nil, ErrAlreadyReceiving
	}
	if s.pending == nil && !opts.Continue {
		s.mu.Unlock()
		return nil, ErrNoPendingMessage
	}
	pending := s.pending
	s.pending = nil
	s.receiving = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if pending != nil {
		s.appendMessage(*pending)
	}

	out := make(chan Event, 8)
	go func() {
		defer func() {
			s.mu.Lock()
			s.receiving = false
			if s.cancel != nil {
				s.cancel = nil
			}
			s.mu.Unlock()
			cancel()
			close(out)
		}()
		e.run(runCtx, out)
	}()
	return out, nil
}

// run is the turn-loop state machine body (spec §4.5).
func (e *Engine) run(ctx context.Context, out chan<- Event) {
	turn := 0
	for {
		if ctx.Err() != nil {
			return // cancelled: terminate silently, no further events
		}

		if e.sess.turnCount() >= e.opts.MaxTurns {
			out <- Event{Kind: EventStop, StopReason: StopMaxTurns, Usage: e.sess.Usage()}
			return
		}

		turnCtx, span := telemetry.StartTurnSpan(ctx, e.sess.ID(), turn)
		turn++

		assistantMsg, err := e.streamOneTurn(turnCtx, out)
		if err != nil {
			telemetry.EndWithError(span, err)
			if ctx.Err() == nil {
				out <- Event{Kind: EventError, Err: err}
			}
			return
		}
		span.End()

		toolUses := assistantMsg.ToolUses()
		if len(toolUses) == 0 {
			out <- Event{Kind: EventStop, StopReason: StopEndTurn, Usage: e.sess.Usage()}
			return
		}

		if ctx.Err() != nil {
			return
		}

		results := e.executeToolCalls(ctx, toolUses, out)
		if ctx.Err() != nil {
			return
		}
		e.sess.appendMessage(ToolResultMessage(results))

		if e.opts.MaxTurns > 0 && e.sess.turnCount() >= e.opts.MaxTurns {
			out <- Event{Kind: EventStop, StopReason: StopMaxTurns, Usage: e.sess.Usage()}
			return
		}
		// recurse: loop back to STREAMING
	}
}

// streamOneTurn requests one assistant turn from the provider, decodes its
// event stream, appends the finalized message to history, and emits the
// text/tool_use/message events for it (spec §4.5 steps 1-3).
func (e *Engine) streamOneTurn(ctx context.Context, out chan<- Event) (provider.Message, error) {
	req := provider.Request{
		Messages:     e.sess.Messages(),
		Tools:        e.providerTools(),
		SystemPrompt: e.opts.SystemPrompt,
		MaxTokens:    e.opts.MaxTokens,
		Temperature:  e.opts.Temperature,
	}

	events, err := e.opts.Provider.ChatStream(ctx, req)
	if err != nil {
		return provider.Message{}, fmt.Errorf("provider_transport: %w", err)
	}

	dec := stream.NewDecoder(func(text string) {
		if text == "" {
			return
		}
		out <- Event{Kind: EventText, Text: text}
	})
	result := dec.Decode(ctx, events)

	if ctx.Err() != nil {
		return provider.Message{}, ctx.Err()
	}

	msg := NewMessage(provider.RoleAssistant)
	msg.Blocks = result.Blocks
	msg.StopReason = result.StopReason
	usage := result.Usage
	msg.Usage = &usage

	for _, b := range msg.ToolUses() {
		out <- Event{Kind: EventToolUse, ToolUseID: b.ToolUseID, ToolName: b.ToolName, ToolInput: b.ToolInput}
	}
	out <- Event{Kind: EventMessage, Message: msg}

	e.sess.appendMessage(msg)
	e.sess.addUsage(result.Usage) // exactly once per assistant message (I3/P2)

	return msg, nil
}

// providerTools converts the registry's current definitions into the
// provider wire shape.
func (e *Engine) providerTools() []provider.Tool {
	if e.opts.Registry == nil {
		return nil
	}
	defs := e.opts.Registry.Definitions()
	out := make([]provider.Tool, len(defs))
	for i, d := range defs {
		out[i] = provider.Tool{Name: d.Name, Description: d.Description, Parameters: d.InputSchema}
	}
	return out
}

// executeToolCalls runs each tool_use block through the hooks pipeline,
// registry resolution, execution, and the truncation guard, strictly
// sequentially and in block order (spec §4.5 "Tool execution order").
// Errors at any stage are reified into that call's tool_result and never
// abort sibling calls (spec §7).
func (e *Engine) executeToolCalls(ctx context.Context, toolUses []stream.ContentBlock, out chan<- Event) []stream.ContentBlock {
	results := make([]stream.ContentBlock, 0, len(toolUses))
	var recent []repeatKey

	for _, tu := range toolUses {
		if ctx.Err() != nil {
			return results
		}

		content, isError, sysMsg := e.executeOne(ctx, tu)

		if e.opts.WarnOnRepeatedToolCalls {
			recent = append(recent, repeatKey{tu.ToolName, string(tu.ToolInput)})
			if isRepeating(recent, repetitionWindow) {
				content += repetitionWarning
			}
		}

		out <- Event{Kind: EventToolResult, ToolUseID: tu.ToolUseID, ToolResultContent: content, ToolResultIsError: isError, SystemMessage: sysMsg}
		results = append(results, stream.ContentBlock{
			Kind:            stream.BlockToolResult,
			ToolResultForID: tu.ToolUseID,
			ToolResultText:  content,
			IsError:         isError,
		})
	}
	return results
}

type repeatKey struct {
	name  string
	input string
}

func isRepeating(recent []repeatKey, window int) bool {
	if len(recent) < window {
		return false
	}
	last := recent[len(recent)-window:]
	for i := 1; i < len(last); i++ {
		if last[i] != last[0] {
			return false
		}
	}
	return true
}

const repetitionWarning = "\n\n<system-reminder>WARNING: You are repeating the same tool call with the same arguments. This is wasteful. Stop and either try a different approach, summarize what you know, or ask the user for help.</system-reminder>"

// executeOne runs hooks + resolution + execution + truncation for a single
// tool_use block, returning its tool_result content and error flag. This
// never returns a Go error: every failure mode is spec §7's
// reified-into-tool_result policy.
func (e *Engine) executeOne(ctx context.Context, tu stream.ContentBlock) (content string, isError bool, systemMessage string) {
	ctx, span := telemetry.StartToolSpan(ctx, e.sess.ID(), tu.ToolName, tu.ToolUseID)
	defer span.End()

	var sysMsgs []string

	input := tu.ToolInput
	if e.opts.Hooks != nil {
		outcome, err := e.opts.Hooks.Run(ctx, hooks.PreToolUse, tu.ToolName, input, tu.ToolUseID)
		if err != nil {
			log.Warn().Err(err).Str("tool", tu.ToolName).Msg("PreToolUse hook failed")
			return fmt.Sprintf("tool_stopped_by_hook: %v", err), true, ""
		}
		sysMsgs = append(sysMsgs, outcome.SystemMessages...)
		if outcome.Denied {
			reason := outcome.DenyReason
			if reason == "" {
				reason = "denied by hook"
			}
			return reason, true, joinSystemMessages(sysMsgs)
		}
		if outcome.Stopped {
			return outcome.StopReason, true, joinSystemMessages(sysMsgs)
		}
		if outcome.UpdatedInput != nil {
			input = outcome.UpdatedInput
		}
	}

	if e.opts.Registry == nil {
		return "no tool registry configured", true, joinSystemMessages(sysMsgs)
	}
	def, ok := e.opts.Registry.Resolve(tu.ToolName)
	if !ok {
		return e.opts.Registry.UnknownToolError(tu.ToolName), true, joinSystemMessages(sysMsgs)
	}

	res, err := def.Execute(ctx, input)
	if err != nil {
		return err.Error(), true, joinSystemMessages(sysMsgs)
	}
	content, isError = res.Content, res.IsError

	if e.opts.Hooks != nil {
		outcome, err := e.opts.Hooks.Run(ctx, hooks.PostToolUse, tu.ToolName, json.RawMessage(content), tu.ToolUseID)
		if err != nil {
			log.Warn().Err(err).Str("tool", tu.ToolName).Msg("PostToolUse hook failed")
		} else {
			sysMsgs = append(sysMsgs, outcome.SystemMessages...)
			if outcome.Denied {
				return outcome.DenyReason, true, joinSystemMessages(sysMsgs)
			}
			if outcome.Stopped {
				return outcome.StopReason, true, joinSystemMessages(sysMsgs)
			}
			if outcome.AdditionalContext != "" {
				content += "\n\n" + outcome.AdditionalContext
			}
		}
	}

	guard := e.opts.Truncate
	if guard == nil {
		guard = truncate.NewGuard()
	}
	if truncated, _, ok := guard.Apply(content); !ok {
		content = truncated
	}

	return content, isError, joinSystemMessages(sysMsgs)
}

func joinSystemMessages(msgs []string) string {
	switch len(msgs) {
	case 0:
		return ""
	case 1:
		return msgs[0]
	default:
		out := msgs[0]
		for _, m := range msgs[1:] {
			out += "\n" + m
		}
		return out
	}
}
