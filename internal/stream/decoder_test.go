package stream

import (
	"context"
	"testing"
)

func TestDecoder_SafetyFlush_ChannelClosesMidTextBlock(t *testing.T) {
	events := make(chan Event, 4)
	events <- Event{Type: EventMessageStart, InputTokens: 10}
	events <- Event{Type: EventContentBlockStart, Index: 0, BlockKind: BlockText}
	events <- Event{Type: EventContentBlockDelta, DeltaKind: DeltaText, TextDelta: "partial"}
	close(events) // no content_block_stop, no message_stop

	dec := NewDecoder(nil)
	res := dec.Decode(context.Background(), events)

	if len(res.Blocks) != 1 {
		t.Fatalf("expected one flushed block, got %d", len(res.Blocks))
	}
	if res.Blocks[0].Kind != BlockText || res.Blocks[0].Text != "partial" {
		t.Fatalf("expected flushed text block %q, got %+v", "partial", res.Blocks[0])
	}
	if res.Usage.InputTokens != 10 {
		t.Fatalf("expected input tokens carried through, got %d", res.Usage.InputTokens)
	}
}

func TestDecoder_SafetyFlush_ChannelClosesMidToolUseBlock(t *testing.T) {
	events := make(chan Event, 4)
	events <- Event{Type: EventContentBlockStart, Index: 0, BlockKind: BlockToolUse, ToolUseID: "t1", ToolName: "add"}
	events <- Event{Type: EventContentBlockDelta, DeltaKind: DeltaJSON, PartialJSON: `{"a":1,`}
	close(events) // truncated JSON, no content_block_stop

	dec := NewDecoder(nil)
	res := dec.Decode(context.Background(), events)

	if len(res.Blocks) != 1 {
		t.Fatalf("expected one flushed block, got %d", len(res.Blocks))
	}
	b := res.Blocks[0]
	if b.Kind != BlockToolUse || b.ToolUseID != "t1" || b.ToolName != "add" {
		t.Fatalf("expected flushed tool_use block for t1/add, got %+v", b)
	}
	if string(b.ToolInput) != "{}" {
		t.Fatalf("expected unparseable partial JSON to default to {}, got %q", b.ToolInput)
	}
}

func TestDecoder_SafetyFlush_MessageStopWithoutBlockStop(t *testing.T) {
	events := make(chan Event, 4)
	events <- Event{Type: EventContentBlockStart, Index: 0, BlockKind: BlockText}
	events <- Event{Type: EventContentBlockDelta, DeltaKind: DeltaText, TextDelta: "hi"}
	events <- Event{Type: EventMessageDelta, StopReason: "end_turn", OutputTokens: 3}
	events <- Event{Type: EventMessageStop}

	dec := NewDecoder(nil)
	res := dec.Decode(context.Background(), events)

	if len(res.Blocks) != 1 || res.Blocks[0].Text != "hi" {
		t.Fatalf("expected message_stop to flush the open block, got %+v", res.Blocks)
	}
	if res.StopReason != "end_turn" {
		t.Fatalf("expected stop reason end_turn, got %q", res.StopReason)
	}
	if res.Usage.OutputTokens != 3 {
		t.Fatalf("expected output tokens 3, got %d", res.Usage.OutputTokens)
	}
}

func TestDecoder_NoOpenBlock_FlushIsNoop(t *testing.T) {
	events := make(chan Event)
	close(events)

	dec := NewDecoder(nil)
	res := dec.Decode(context.Background(), events)

	if len(res.Blocks) != 0 {
		t.Fatalf("expected no blocks when nothing was ever opened, got %d", len(res.Blocks))
	}
}

func TestDecoder_EagerTextForwarding(t *testing.T) {
	var forwarded []string
	events := make(chan Event, 4)
	events <- Event{Type: EventContentBlockStart, Index: 0, BlockKind: BlockText}
	events <- Event{Type: EventContentBlockDelta, DeltaKind: DeltaText, TextDelta: "Hi"}
	events <- Event{Type: EventContentBlockDelta, DeltaKind: DeltaText, TextDelta: " there"}
	events <- Event{Type: EventContentBlockStop}
	close(events)

	dec := NewDecoder(func(text string) { forwarded = append(forwarded, text) })
	res := dec.Decode(context.Background(), events)

	if len(forwarded) != 2 || forwarded[0] != "Hi" || forwarded[1] != " there" {
		t.Fatalf("expected eager per-delta forwarding, got %v", forwarded)
	}
	if len(res.Blocks) != 1 || res.Blocks[0].Text != "Hi there" {
		t.Fatalf("expected finalized block to accumulate both deltas, got %+v", res.Blocks)
	}
}

func TestDecoder_Cancellation_NoPartialBlockEmitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered and never sent to: the only ready case in Decode's select
	// is ctx.Done(), so this deterministically exercises the cancellation
	// path rather than racing a buffered send against it.
	events := make(chan Event)

	dec := NewDecoder(nil)
	res := dec.Decode(ctx, events)

	if len(res.Blocks) != 0 {
		t.Fatalf("expected no blocks to be emitted on immediate cancellation, got %d", len(res.Blocks))
	}
}
