package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// fakeUpstream is a minimal UpstreamClient test double, the MCP-side
// equivalent of internal/provider/mock.go's MockProvider.
type fakeUpstream struct {
	tools     []Tool
	callErr   error
	callCount int
	failTimes int
	result    *ToolResult
}

func (f *fakeUpstream) Initialize(ctx context.Context, clientInfo map[string]interface{}) (*Response, error) {
	return NewResponse("1", map[string]string{"status": "ok"})
}

func (f *fakeUpstream) ListTools(ctx context.Context) ([]Tool, error) {
	return f.tools, nil
}

func (f *fakeUpstream) CallTool(ctx context.Context, name string, arguments interface{}) (*ToolResult, error) {
	f.callCount++
	if f.callCount <= f.failTimes {
		return nil, f.callErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &ToolResult{Content: []ContentBlock{{Type: "text", Text: "upstream ok"}}}, nil
}

func TestProxy_LocalToolTakesPriorityOverUpstream(t *testing.T) {
	upstream := &fakeUpstream{tools: []Tool{{Name: "shared"}}}
	p := NewProxy(upstream)
	p.RegisterTool(Tool{Name: "shared"}, func(ctx context.Context, arguments json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: []ContentBlock{{Type: "text", Text: "local ok"}}}, nil
	})

	res, err := p.CallTool(context.Background(), "shared", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Text != "local ok" {
		t.Fatalf("got %+v, want local dispatch to win", res)
	}
}

func TestProxy_FallsBackToUpstream(t *testing.T) {
	upstream := &fakeUpstream{}
	p := NewProxy(upstream)

	res, err := p.CallTool(context.Background(), "remote_tool", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Content[0].Text != "upstream ok" {
		t.Fatalf("got %+v", res)
	}
}

func TestProxy_UnknownToolWithNoUpstream(t *testing.T) {
	p := NewProxy(nil)
	res, err := p.CallTool(context.Background(), "nope", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError for an unknown tool with no upstream")
	}
}

func TestProxy_ListToolsMergesLocalAndUpstream(t *testing.T) {
	upstream := &fakeUpstream{tools: []Tool{{Name: "remote"}}}
	p := NewProxy(upstream)
	p.RegisterTool(Tool{Name: "local"}, func(ctx context.Context, arguments json.RawMessage) (*ToolResult, error) {
		return &ToolResult{}, nil
	})

	tools, err := p.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
}

func TestParseRetryAfter(t *testing.T) {
	d, ok := parseRetryAfter(errors.New("rate limited, Retry-After: 7"))
	if !ok {
		t.Fatal("expected a parsed delay")
	}
	if d.Seconds() != 7 {
		t.Fatalf("got %v, want 7s", d)
	}

	d, ok = parseRetryAfter(errors.New("Try again in 3 seconds"))
	if !ok || d.Seconds() != 3 {
		t.Fatalf("got %v/%v, want 3s/true", d, ok)
	}

	if _, ok := parseRetryAfter(errors.New("boom")); ok {
		t.Fatal("expected no match for an unrelated error")
	}
}

func TestProxy_Initialize(t *testing.T) {
	p := NewProxy(&fakeUpstream{})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// No upstream configured: Initialize is a no-op.
	p2 := NewProxy(nil)
	if err := p2.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize with no upstream: %v", err)
	}
}
