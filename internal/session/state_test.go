package session

import (
	"testing"

	"github.com/xonecas/agentrt/internal/provider"
)

func TestStateClone_Independence(t *testing.T) {
	s := NewState()
	s.Messages = append(s.Messages, UserText("hi"))

	clone := s.Clone()
	clone.Messages[0].Text = "mutated"
	clone.Messages = append(clone.Messages, UserText("second"))

	if s.Messages[0].Text != "hi" {
		t.Fatalf("mutating clone affected original: %q", s.Messages[0].Text)
	}
	if len(s.Messages) != 1 {
		t.Fatalf("appending to clone affected original length: %d", len(s.Messages))
	}
}

func TestSessionClose_Idempotent(t *testing.T) {
	s := New()
	s.Close()
	s.Close() // must not panic

	if !s.IsClosed() {
		t.Fatal("expected session to report closed")
	}
}

func TestTurnCount_CountsAssistantOnly(t *testing.T) {
	s := New()
	s.appendMessage(UserText("hi"))
	s.appendMessage(NewMessage(provider.RoleAssistant))
	s.appendMessage(UserText("more"))
	s.appendMessage(NewMessage(provider.RoleAssistant))

	if n := s.turnCount(); n != 2 {
		t.Fatalf("got %d, want 2", n)
	}
}
