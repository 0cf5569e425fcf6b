package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xonecas/agentrt/internal/provider"
	"github.com/xonecas/agentrt/internal/stream"
)

// State is the plain record mutated only by the turn loop and the Manager
// (spec §4.6). External readers receive a deep clone via the accessors
// below — never the live struct.
type State struct {
	ID        string
	ParentID  string // set iff the session was forked (spec §3)
	Messages  []provider.Message
	Usage     stream.Usage
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewState creates a fresh, empty session state.
func NewState() State {
	now := time.Now()
	return State{
		ID:        uuid.NewString(),
		Metadata:  make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of s, so mutating the copy never affects s
// (spec §4.7 P3, §4.6's "external readers receive a shallow clone").
func (s State) Clone() State {
	cp := s
	if s.Messages != nil {
		cp.Messages = make([]provider.Message, len(s.Messages))
		for i, m := range s.Messages {
			cp.Messages[i] = cloneMessage(m)
		}
	}
	if s.Metadata != nil {
		cp.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// Session wraps a State with the synchronization and lifecycle bookkeeping
// the turn loop (Engine) needs: a closed flag, an in-flight "receiving"
// flag (spec §4.5's "Already receiving" precondition), and a pending
// message set by Send and consumed by the next Receive.
type Session struct {
	mu sync.Mutex

	state     State
	closed    bool
	receiving bool
	pending   *provider.Message

	cancel func()
}

// New creates a fresh Session with empty history.
func New() *Session {
	return &Session{state: NewState()}
}

// FromState creates a Session initialized from a persisted snapshot (resume
// or fork, spec §4.7).
func FromState(s State) *Session {
	return &Session{state: s.Clone()}
}

// ID returns the session's id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ID
}

// State returns a deep clone of the current state (spec §4.6).
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Messages returns a copy of the message history.
func (s *Session) Messages() []provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Message, len(s.state.Messages))
	for i, m := range s.state.Messages {
		out[i] = cloneMessage(m)
	}
	return out
}

// Usage returns a copy of the cumulative usage tuple.
func (s *Session) Usage() stream.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Usage
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close is idempotent: it aborts any in-flight turn, clears the pending
// message, and marks the session closed (spec §4.6). Subsequent Send/
// Receive calls fail with ErrClosed.
func (s *Session) Close() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.closed = true
	s.pending = nil
	s.state.UpdatedAt = time.Now()
	return s.state.Clone()
}

// appendMessage appends msg to history under lock and stamps UpdatedAt.
func (s *Session) appendMessage(msg provider.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Messages = append(s.state.Messages, msg)
	s.state.UpdatedAt = time.Now()
}

// addUsage accumulates usage into the session's cumulative tally exactly
// once per assistant message (spec §4.5, I3/P2).
func (s *Session) addUsage(u stream.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Usage.Add(u)
	s.state.UpdatedAt = time.Now()
}

// turnCount returns the number of assistant messages in history, the unit
// max-turns enforcement counts against (spec §4.5).
func (s *Session) turnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.state.Messages {
		if m.Role == provider.RoleAssistant {
			n++
		}
	}
	return n
}
