package subagent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/xonecas/agentrt/internal/provider"
	"github.com/xonecas/agentrt/internal/registry"
)

func emptyRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(nil, nil, nil)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}

func TestRun_ReturnsFinalText(t *testing.T) {
	mock := provider.NewMock("mock").WithScript(provider.ScriptTextTurn(10, "final answer", "end_turn", 5)...)
	res, err := Run(context.Background(), Options{
		Provider: mock,
		Registry: emptyRegistry(t),
		Prompt:   "do the thing",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "final answer" {
		t.Fatalf("got %q", res.Content)
	}
}

func TestRun_RejectsMissingPrompt(t *testing.T) {
	_, err := Run(context.Background(), Options{
		Provider: provider.NewMock("mock"),
		Registry: emptyRegistry(t),
	})
	if err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestRun_RejectsExcessiveDepth(t *testing.T) {
	_, err := Run(context.Background(), Options{
		Provider: provider.NewMock("mock"),
		Registry: emptyRegistry(t),
		Prompt:   "x",
		Depth:    MaxSubAgentDepth + 1,
	})
	if err == nil {
		t.Fatal("expected error for excessive recursion depth")
	}
}

func TestFilterTools_ExcludesSubAgent(t *testing.T) {
	defs := []registry.Definition{{Name: "Read"}, {Name: SubAgentToolName}, {Name: "Write"}}
	got := FilterTools(defs)
	for _, d := range got {
		if d.Name == SubAgentToolName {
			t.Fatal("SubAgent tool leaked through FilterTools")
		}
	}
	if len(got) != 2 {
		t.Fatalf("got %d defs, want 2", len(got))
	}
}

func TestTool_DispatchesToRun(t *testing.T) {
	mock := provider.NewMock("mock").WithScript(provider.ScriptTextTurn(10, "sub-agent done", "end_turn", 5)...)
	def := Tool(ToolOptions{
		Provider: mock,
		Registry: emptyRegistry(t),
	})
	if def.Name != SubAgentToolName {
		t.Fatalf("got name %q", def.Name)
	}

	input, _ := json.Marshal(toolInput{Prompt: "investigate the bug"})
	out, err := def.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.IsError {
		t.Fatalf("unexpected error output: %q", out.Content)
	}
	if out.Content != "sub-agent done" {
		t.Fatalf("got %q", out.Content)
	}
}

func TestTool_RejectsMissingPrompt(t *testing.T) {
	def := Tool(ToolOptions{
		Provider: provider.NewMock("mock"),
		Registry: emptyRegistry(t),
	})
	out, err := def.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.IsError {
		t.Fatal("expected IsError for missing prompt")
	}
}
