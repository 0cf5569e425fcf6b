package session

import (
	"github.com/xonecas/agentrt/internal/provider"
	"github.com/xonecas/agentrt/internal/stream"
)

// EventKind identifies the variant of an Event emitted by Engine.Receive
// (spec §4.5 "Event order emitted to the caller").
type EventKind string

const (
	EventText       EventKind = "text"
	EventToolUse    EventKind = "tool_use"
	EventMessage    EventKind = "message"
	EventToolResult EventKind = "tool_result"
	EventStop       EventKind = "stop"
	EventError      EventKind = "error"
)

// StopReason identifies why the turn loop terminated with an EventStop.
type StopReason string

const (
	StopEndTurn  StopReason = "end_turn"
	StopMaxTurns StopReason = "max_turns"
)

// Event is one entry in the totally-ordered sequence Receive produces
// (spec §4.5, §9's "async generator replacement" design note).
type Event struct {
	Kind EventKind

	// EventText
	Text string

	// EventToolUse
	ToolUseID string
	ToolName  string
	ToolInput []byte

	// EventMessage
	Message provider.Message

	// EventToolResult
	ToolResultContent string
	ToolResultIsError bool

	// EventStop
	StopReason StopReason
	Usage      stream.Usage

	// EventError
	Err error

	// SystemMessage carries a hook's out-of-band SystemMessage (spec
	// §4.3); forwarded alongside whatever event is being emitted when one
	// was produced for this tool call.
	SystemMessage string
}
