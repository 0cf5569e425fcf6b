package session

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xonecas/agentrt/internal/hooks"
	"github.com/xonecas/agentrt/internal/provider"
	"github.com/xonecas/agentrt/internal/registry"
)

func drain(t *testing.T, ch <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out draining events")
		}
	}
}

// TestSingleTurnText implements scenario S1.
func TestSingleTurnText(t *testing.T) {
	mock := provider.NewMock("mock").WithScript(
		provider.ScriptTextTurn(10, "Hi", "end_turn", 3)...,
	)
	sess := New()
	eng := NewEngine(sess, EngineOptions{Provider: mock, Registry: mustRegistry(t, nil, nil)})

	if err := eng.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ch, err := eng.Receive(context.Background(), ReceiveOptions{})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	events := drain(t, ch, 2*time.Second)

	var texts []string
	var gotMessage, gotStop bool
	for _, ev := range events {
		switch ev.Kind {
		case EventText:
			texts = append(texts, ev.Text)
		case EventMessage:
			gotMessage = true
			if len(ev.Message.Blocks) != 1 || ev.Message.Blocks[0].Text != "Hi" {
				t.Fatalf("unexpected message blocks: %+v", ev.Message.Blocks)
			}
		case EventStop:
			gotStop = true
			if ev.StopReason != StopEndTurn {
				t.Fatalf("got stop reason %q, want end_turn", ev.StopReason)
			}
			if ev.Usage.InputTokens != 10 || ev.Usage.OutputTokens != 3 {
				t.Fatalf("got usage %+v, want {10,3}", ev.Usage)
			}
		}
	}
	if strings.Join(texts, "") != "Hi" {
		t.Fatalf("got text %q, want %q", strings.Join(texts, ""), "Hi")
	}
	if !gotMessage || !gotStop {
		t.Fatalf("missing expected events: message=%v stop=%v", gotMessage, gotStop)
	}

	msgs := sess.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (user+assistant)", len(msgs))
	}
	if u := sess.Usage(); u.InputTokens != 10 || u.OutputTokens != 3 {
		t.Fatalf("got cumulative usage %+v, want {10,3}", u)
	}
}

// TestOneToolRoundTrip implements scenario S2.
func TestOneToolRoundTrip(t *testing.T) {
	mock := provider.NewMock("mock").
		WithScript(provider.ScriptToolUseTurn(5, "t1", "add", map[string]int{"a": 2, "b": 3}, 2)...).
		WithScript(provider.ScriptTextTurn(9, "Answer: 5", "end_turn", 4)...)

	var called json.RawMessage
	reg := mustRegistry(t, []registry.Definition{{
		Name: "add",
		Execute: func(_ context.Context, input json.RawMessage) (registry.ToolOutput, error) {
			called = input
			return registry.ToolOutput{Content: "5"}, nil
		},
	}}, nil)

	sess := New()
	eng := NewEngine(sess, EngineOptions{Provider: mock, Registry: reg})
	if err := eng.Send("what is 2+3"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ch, err := eng.Receive(context.Background(), ReceiveOptions{})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	events := drain(t, ch, 2*time.Second)

	var kinds []EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	if called == nil {
		t.Fatal("tool was never invoked")
	}

	var sawToolResult bool
	for _, ev := range events {
		if ev.Kind == EventToolResult {
			sawToolResult = true
			if ev.ToolResultContent != "5" || ev.ToolResultIsError {
				t.Fatalf("got tool_result %+v, want content=5 is_error=false", ev)
			}
		}
	}
	if !sawToolResult {
		t.Fatalf("no tool_result event among %v", kinds)
	}

	msgs := sess.Messages()
	// user, assistant(tool_use), user(tool_result), assistant(text)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[2].Role != provider.RoleUser || len(msgs[2].Blocks) != 1 || msgs[2].Blocks[0].ToolResultForID != "t1" {
		t.Fatalf("unexpected tool result message: %+v", msgs[2])
	}
}

// TestHookDeny implements scenario S4.
func TestHookDeny(t *testing.T) {
	mock := provider.NewMock("mock").
		WithScript(provider.ScriptToolUseTurn(1, "t1", "Write", map[string]string{"path": ".env"}, 1)...).
		WithScript(provider.ScriptTextTurn(1, "ok", "end_turn", 1)...)

	var executed bool
	reg := mustRegistry(t, []registry.Definition{{
		Name: "Write",
		Execute: func(context.Context, json.RawMessage) (registry.ToolOutput, error) {
			executed = true
			return registry.ToolOutput{Content: "wrote"}, nil
		},
	}}, nil)

	hr := hooks.NewRegistry()
	if err := hr.Register(hooks.PreToolUse, "Write|Edit", func(context.Context, json.RawMessage, string) (hooks.Result, error) {
		return hooks.Result{PermissionDecision: hooks.PermissionDeny, PermissionDecisionReason: "RO"}, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	sess := New()
	eng := NewEngine(sess, EngineOptions{Provider: mock, Registry: reg, Hooks: hr})
	if err := eng.Send("edit the env file"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ch, err := eng.Receive(context.Background(), ReceiveOptions{})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	events := drain(t, ch, 2*time.Second)

	if executed {
		t.Fatal("tool execute should never be invoked when hook denies")
	}
	var sawDeny bool
	for _, ev := range events {
		if ev.Kind == EventToolResult {
			sawDeny = true
			if ev.ToolResultContent != "RO" || !ev.ToolResultIsError {
				t.Fatalf("got %+v, want content=RO is_error=true", ev)
			}
		}
	}
	if !sawDeny {
		t.Fatal("expected a denied tool_result event")
	}
	// The assistant turn after the denial still runs.
	var sawSecondMessage int
	for _, ev := range events {
		if ev.Kind == EventMessage {
			sawSecondMessage++
		}
	}
	if sawSecondMessage != 2 {
		t.Fatalf("got %d message events, want 2 (tool-call turn + follow-up turn)", sawSecondMessage)
	}
}

// TestMaxTurns implements scenario S5.
func TestMaxTurns(t *testing.T) {
	mock := provider.NewMock("mock")
	// Every call returns a tool_use so the loop would run forever without
	// the max-turns guard.
	for i := 0; i < 5; i++ {
		mock = mock.WithScript(provider.ScriptToolUseTurn(1, "t", "noop", map[string]any{}, 1)...)
	}
	reg := mustRegistry(t, []registry.Definition{{
		Name:    "noop",
		Execute: func(context.Context, json.RawMessage) (registry.ToolOutput, error) { return registry.ToolOutput{Content: "ok"}, nil },
	}}, nil)

	sess := New()
	eng := NewEngine(sess, EngineOptions{Provider: mock, Registry: reg, MaxTurns: 2})
	if err := eng.Send("go"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ch, err := eng.Receive(context.Background(), ReceiveOptions{})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	events := drain(t, ch, 2*time.Second)

	last := events[len(events)-1]
	if last.Kind != EventStop || last.StopReason != StopMaxTurns {
		t.Fatalf("got last event %+v, want stop{max_turns}", last)
	}
	if n := sess.turnCount(); n != 2 {
		t.Fatalf("got %d assistant turns, want exactly 2 (no 3rd provider call)", n)
	}
}

// TestTruncation implements scenario S6.
func TestTruncation(t *testing.T) {
	big := strings.Repeat("x\n", 10000)
	mock := provider.NewMock("mock").
		WithScript(provider.ScriptToolUseTurn(1, "t1", "dump", map[string]any{}, 1)...).
		WithScript(provider.ScriptTextTurn(1, "done", "end_turn", 1)...)
	reg := mustRegistry(t, []registry.Definition{{
		Name:    "dump",
		Execute: func(context.Context, json.RawMessage) (registry.ToolOutput, error) { return registry.ToolOutput{Content: big}, nil },
	}}, nil)

	sess := New()
	eng := NewEngine(sess, EngineOptions{Provider: mock, Registry: reg})
	if err := eng.Send("dump it"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ch, err := eng.Receive(context.Background(), ReceiveOptions{})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	events := drain(t, ch, 2*time.Second)

	for _, ev := range events {
		if ev.Kind == EventToolResult {
			lines := strings.Count(ev.ToolResultContent, "\n")
			if lines > 2005 {
				t.Fatalf("got %d lines in tool_result, want <= ~2000 plus marker/hint", lines)
			}
			if !strings.Contains(ev.ToolResultContent, "truncated") {
				t.Fatalf("expected truncation marker in content")
			}
		}
	}
}

func mustRegistry(t *testing.T, defs []registry.Definition, filter *registry.Filter) *registry.Registry {
	t.Helper()
	r, err := registry.New(defs, filter, nil)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return r
}
