package sessionstore

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/xonecas/agentrt/internal/session"
)

// TestRedisStorage_RoundTrip only runs against a real Redis instance
// (set REDIS_ADDR to opt in); CI without Redis available skips it rather
// than faking the wire protocol.
func TestRedisStorage_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	st := NewRedisStorage(client)
	ctx := context.Background()
	s := session.NewState()
	s.Messages = append(s.Messages, session.UserText("hi"))
	t.Cleanup(func() { st.Delete(ctx, s.ID) })

	if err := st.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := st.Load(ctx, s.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != s.ID || len(loaded.Messages) != 1 {
		t.Fatalf("got %+v", loaded)
	}
}
