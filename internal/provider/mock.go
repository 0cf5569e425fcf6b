package provider

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/xonecas/agentrt/internal/stream"
)

// MockProvider is a test provider that replays a scripted sequence of
// canonical stream events, used by session engine tests (scenarios S1-S6).
type MockProvider struct {
	mu sync.RWMutex

	name      string
	scripts   [][]stream.Event
	callCount int
	streamErr error
	delay     time.Duration
}

// NewMock creates a mock provider with no scripted responses; use WithScript
// to queue one or more canned turns.
func NewMock(name string) *MockProvider {
	return &MockProvider{name: name}
}

// WithScript appends one scripted turn. Successive calls to ChatStream
// consume scripts in order; the last script repeats once exhausted.
func (p *MockProvider) WithScript(events ...stream.Event) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, events)
	return p
}

// WithStreamError makes ChatStream return err instead of a channel.
func (p *MockProvider) WithStreamError(err error) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamErr = err
	return p
}

func (p *MockProvider) SetDelay(delay time.Duration) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = delay
	return p
}

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) Close() error { return nil }

func (p *MockProvider) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{{Name: "mock-1"}}, nil
}

func (p *MockProvider) ChatStream(ctx context.Context, req Request) (<-chan stream.Event, error) {
	if err := p.waitDelay(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.streamErr != nil {
		err := p.streamErr
		p.mu.Unlock()
		return nil, err
	}
	var script []stream.Event
	if len(p.scripts) > 0 {
		idx := p.callCount
		if idx >= len(p.scripts) {
			idx = len(p.scripts) - 1
		}
		script = p.scripts[idx]
		p.callCount++
	}
	p.mu.Unlock()

	ch := make(chan stream.Event, len(script)+1)
	go func() {
		defer close(ch)
		for _, ev := range script {
			select {
			case <-ctx.Done():
				return
			case ch <- ev:
			}
		}
	}()
	return ch, nil
}

func (p *MockProvider) waitDelay(ctx context.Context) error {
	p.mu.RLock()
	delay := p.delay
	p.mu.RUnlock()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ScriptTextTurn builds a scripted single-text-block turn, as in scenario S1.
func ScriptTextTurn(inputTokens int, text string, stopReason string, outputTokens int) []stream.Event {
	return []stream.Event{
		{Type: stream.EventMessageStart, InputTokens: inputTokens},
		{Type: stream.EventContentBlockStart, Index: 0, BlockKind: stream.BlockText},
		{Type: stream.EventContentBlockDelta, Index: 0, DeltaKind: stream.DeltaText, TextDelta: text},
		{Type: stream.EventContentBlockStop, Index: 0},
		{Type: stream.EventMessageDelta, StopReason: stopReason, OutputTokens: outputTokens},
		{Type: stream.EventMessageStop},
	}
}

// ScriptToolUseTurn builds a scripted single-tool-call turn, as in scenario S2.
func ScriptToolUseTurn(inputTokens int, toolID, toolName string, input any, outputTokens int) []stream.Event {
	raw, _ := json.Marshal(input)
	return []stream.Event{
		{Type: stream.EventMessageStart, InputTokens: inputTokens},
		{Type: stream.EventContentBlockStart, Index: 0, BlockKind: stream.BlockToolUse, ToolUseID: toolID, ToolName: toolName},
		{Type: stream.EventContentBlockDelta, Index: 0, DeltaKind: stream.DeltaJSON, PartialJSON: string(raw)},
		{Type: stream.EventContentBlockStop, Index: 0},
		{Type: stream.EventMessageDelta, StopReason: "tool_use", OutputTokens: outputTokens},
		{Type: stream.EventMessageStop},
	}
}
