package stream

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Result is what the decoder hands back once a turn's events are exhausted:
// the finalized content blocks in emission order, the accumulated usage, and
// the stop reason reported by the provider (if any).
type Result struct {
	Blocks     []ContentBlock
	Usage      Usage
	StopReason string
}

// TextFunc is called eagerly for every text delta, before the block is
// finalized, so callers can stream characters to a UI.
type TextFunc func(text string)

// Decoder consumes a provider's event channel and reassembles it into
// finalized content blocks. One Decoder instance is stateful for exactly one
// turn; create a new one per ChatStream call.
type Decoder struct {
	onText TextFunc

	open       bool
	openKind   BlockKind
	openID     string
	openName   string
	textBuf    []byte
	jsonBuf    []byte
}

// NewDecoder creates a Decoder. onText may be nil if the caller doesn't need
// eager text deltas.
func NewDecoder(onText TextFunc) *Decoder {
	return &Decoder{onText: onText}
}

// Decode drains events until the channel closes or ctx is cancelled,
// returning the finalized blocks and usage seen so far. On cancellation no
// partial in-progress block is emitted; on a stream that ends without a
// terminating content_block_stop, the open block is flushed (the same
// finalization rules apply as for an explicit stop) so truncated streams
// still yield a well-formed result.
func (d *Decoder) Decode(ctx context.Context, events <-chan Event) Result {
	var res Result

	for {
		select {
		case <-ctx.Done():
			return res
		case ev, ok := <-events:
			if !ok {
				d.flushOpen(&res)
				return res
			}
			d.apply(ev, &res)
			if ev.Type == EventMessageStop {
				d.flushOpen(&res)
				return res
			}
		}
	}
}

func (d *Decoder) apply(ev Event, res *Result) {
	switch ev.Type {
	case EventMessageStart:
		res.Usage.InputTokens += ev.InputTokens

	case EventContentBlockStart:
		// A start while a block is still open (frameless streams) closes the
		// open block first, under the same finalization rules.
		d.flushOpen(res)
		d.open = true
		d.openKind = ev.BlockKind
		d.openID = ev.ToolUseID
		d.openName = ev.ToolName
		d.textBuf = d.textBuf[:0]
		d.jsonBuf = d.jsonBuf[:0]

	case EventContentBlockDelta:
		switch ev.DeltaKind {
		case DeltaText:
			d.textBuf = append(d.textBuf, ev.TextDelta...)
			if d.onText != nil && ev.TextDelta != "" {
				d.onText(ev.TextDelta)
			}
		case DeltaJSON:
			d.jsonBuf = append(d.jsonBuf, ev.PartialJSON...)
		}

	case EventContentBlockStop:
		d.flushOpen(res)

	case EventMessageDelta:
		if ev.StopReason != "" {
			res.StopReason = ev.StopReason
		}
		res.Usage.OutputTokens += ev.OutputTokens

	case EventMessageStop:
		// handled by caller after apply returns
	}
}

// flushOpen finalizes whatever block is currently open, if any. Safe to call
// when nothing is open (no-op).
func (d *Decoder) flushOpen(res *Result) {
	if !d.open {
		return
	}
	switch d.openKind {
	case BlockText:
		res.Blocks = append(res.Blocks, ContentBlock{
			Kind: BlockText,
			Text: string(d.textBuf),
		})
	case BlockToolUse:
		input := d.jsonBuf
		if len(input) == 0 {
			input = []byte("{}")
		} else if !json.Valid(input) {
			log.Warn().Str("tool", d.openName).Str("tool_use_id", d.openID).
				Msg("tool_use input failed to parse, defaulting to {}")
			input = []byte("{}")
		}
		res.Blocks = append(res.Blocks, ContentBlock{
			Kind:      BlockToolUse,
			ToolUseID: d.openID,
			ToolName:  d.openName,
			ToolInput: json.RawMessage(input),
		})
	}
	d.open = false
	d.textBuf = nil
	d.jsonBuf = nil
}
