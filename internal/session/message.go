// Package session implements the agentic turn loop (spec §4.5, C5) and the
// session state it mutates (spec §4.6, C6): a stateful conversation that
// accepts a user message, streams an assistant response, runs any tool
// calls the model produces, feeds results back, and repeats until the
// model stops or a turn limit is reached.
//
// History is built from provider.Message/stream.ContentBlock directly
// (they already model spec §3's Message/ContentBlock exactly) rather than
// a parallel session-local type — the same content-block union flows from
// the decoder through history to storage unchanged.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/xonecas/agentrt/internal/provider"
	"github.com/xonecas/agentrt/internal/stream"
)

// NewMessage builds a Message with a fresh id and timestamp.
func NewMessage(role provider.Role) provider.Message {
	return provider.Message{ID: uuid.NewString(), Role: role, CreatedAt: time.Now()}
}

// UserText builds a plain-text user message (the spec §3 "user shortcut").
func UserText(text string) provider.Message {
	m := NewMessage(provider.RoleUser)
	m.Text = text
	return m
}

// ToolResultMessage builds the single user message carrying a turn's
// ordered tool_result blocks (spec §4.5 "tool result attachment", I1/I2).
func ToolResultMessage(results []stream.ContentBlock) provider.Message {
	m := NewMessage(provider.RoleUser)
	m.Blocks = results
	return m
}

// cloneMessage returns a deep copy of m, used by state cloning (spec §4.6)
// and fork (spec §4.7, P3).
func cloneMessage(m provider.Message) provider.Message {
	cp := m
	if m.Blocks != nil {
		cp.Blocks = make([]stream.ContentBlock, len(m.Blocks))
		for i, b := range m.Blocks {
			cp.Blocks[i] = cloneBlock(b)
		}
	}
	if m.Usage != nil {
		u := *m.Usage
		cp.Usage = &u
	}
	return cp
}

func cloneBlock(b stream.ContentBlock) stream.ContentBlock {
	cp := b
	if b.ToolInput != nil {
		cp.ToolInput = append([]byte(nil), b.ToolInput...)
	}
	if b.ImageData != nil {
		cp.ImageData = append([]byte(nil), b.ImageData...)
	}
	return cp
}
