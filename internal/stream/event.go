// Package stream defines the canonical provider-agnostic event protocol and
// the decoder that reassembles it into finalized content blocks.
package stream

import "encoding/json"

// EventType identifies the kind of event in a provider's incremental stream.
type EventType int

const (
	EventMessageStart EventType = iota
	EventContentBlockStart
	EventContentBlockDelta
	EventContentBlockStop
	EventMessageDelta
	EventMessageStop
)

// BlockKind identifies the variant of a content block.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
	BlockImage      BlockKind = "image"
)

// DeltaKind identifies the variant of a content_block_delta payload.
type DeltaKind string

const (
	DeltaText DeltaKind = "text_delta"
	DeltaJSON DeltaKind = "input_json_delta"
)

// Event is a single entry in a provider's incremental event stream,
// generalized from the wire shapes used by Anthropic- and OpenAI-style
// streaming APIs (see internal/provider/anthropic.go and openai.go).
type Event struct {
	Type EventType

	// message_start
	InputTokens int

	// content_block_start
	Index     int
	BlockKind BlockKind // text | tool_use, set on EventContentBlockStart
	ToolUseID string
	ToolName  string

	// content_block_delta
	DeltaKind    DeltaKind
	TextDelta    string
	PartialJSON  string

	// message_delta / message_stop
	StopReason   string
	OutputTokens int
}

// ContentBlock is the tagged-union content model shared by the decoder,
// provider adapters, and session state.
type ContentBlock struct {
	Kind BlockKind

	// text
	Text string

	// tool_use
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage // always valid JSON, defaults to {} on parse failure

	// tool_result
	ToolResultForID string
	ToolResultText  string
	IsError         bool

	// image (passthrough only)
	ImageData json.RawMessage
}

// Usage is a token count tally.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
