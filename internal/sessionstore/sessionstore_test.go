package sessionstore

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/xonecas/agentrt/internal/provider"
	"github.com/xonecas/agentrt/internal/session"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()
	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"file":   NewFileStorage(filepath.Join(t.TempDir(), "sessions")),
	}
}

// TestRoundTrip implements property P4 across every Storage implementation.
func TestRoundTrip(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := session.NewState()
			s.Messages = append(s.Messages, session.UserText("hello"))
			s.Usage.InputTokens = 7
			s.Metadata["k"] = "v"

			if err := st.Save(ctx, s); err != nil {
				t.Fatalf("Save: %v", err)
			}
			loaded, err := st.Load(ctx, s.ID)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.ID != s.ID || loaded.Usage != s.Usage {
				t.Fatalf("got %+v, want %+v", loaded, s)
			}
			if len(loaded.Messages) != 1 || loaded.Messages[0].Text != "hello" {
				t.Fatalf("messages did not round-trip: %+v", loaded.Messages)
			}
		})
	}
}

func TestLoad_NotFound(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Load(context.Background(), "missing")
			if err != ErrNotFound {
				t.Fatalf("got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestList_DeleteRoundTrip(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := session.NewState()
			b := session.NewState()
			if err := st.Save(ctx, a); err != nil {
				t.Fatalf("Save a: %v", err)
			}
			if err := st.Save(ctx, b); err != nil {
				t.Fatalf("Save b: %v", err)
			}
			ids, err := st.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(ids) != 2 {
				t.Fatalf("got %d ids, want 2", len(ids))
			}
			if err := st.Delete(ctx, a.ID); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			ids, err = st.List(ctx)
			if err != nil {
				t.Fatalf("List after delete: %v", err)
			}
			if len(ids) != 1 || ids[0] != b.ID {
				t.Fatalf("got %v, want only %q", ids, b.ID)
			}
		})
	}
}

// runOneTurn drives a real single-text-turn through the engine so the
// session accumulates non-trivial history; callers close it via mgr.
func runOneTurn(t *testing.T, mgr *Manager, sess *session.Session) {
	t.Helper()
	mock := provider.NewMock("mock").WithScript(provider.ScriptTextTurn(3, "hi", "end_turn", 2)...)
	eng := session.NewEngine(sess, session.EngineOptions{Provider: mock})
	if err := eng.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ch, err := eng.Receive(context.Background(), session.ReceiveOptions{})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for turn to finish")
		}
	}
}

// TestFork implements property P3.
func TestFork(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	mgr := NewManager(storage)

	a, err := mgr.Create(ctx, CreateConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	runOneTurn(t, mgr, a)
	if err := mgr.Close(ctx, a.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := mgr.Fork(ctx, a.ID())
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}

	if b.ID() == a.ID() {
		t.Fatal("forked session must have a new id")
	}
	bState := b.State()
	if bState.ParentID != a.ID() {
		t.Fatalf("got parentID %q, want %q", bState.ParentID, a.ID())
	}
	aState, err := storage.Load(ctx, a.ID())
	if err != nil {
		t.Fatalf("Load a: %v", err)
	}
	if len(aState.Messages) == 0 {
		t.Fatal("expected the original session to have accumulated history")
	}
	if !reflect.DeepEqual(bState.Messages, aState.Messages) {
		t.Fatalf("forked messages %v != original %v", bState.Messages, aState.Messages)
	}

	// Mutating b's history via another turn must not affect a's persisted
	// snapshot.
	runOneTurn(t, mgr, b)
	if err := mgr.Close(ctx, b.ID()); err != nil {
		t.Fatalf("Close b: %v", err)
	}
	aStateAfter, err := storage.Load(ctx, a.ID())
	if err != nil {
		t.Fatalf("Load a after fork mutation: %v", err)
	}
	if len(aStateAfter.Messages) != len(aState.Messages) {
		t.Fatal("mutating forked session's messages affected the original's persisted snapshot")
	}
}

func TestResume_MissingSnapshot(t *testing.T) {
	mgr := NewManager(NewMemoryStorage())
	_, err := mgr.Resume(context.Background(), "nope")
	if err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestResume_ReturnsLiveSession(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(NewMemoryStorage())
	a, err := mgr.Create(ctx, CreateConfig{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := mgr.Resume(ctx, a.ID())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if a != b {
		t.Fatal("expected Resume on an active session to return the same live instance")
	}
}
