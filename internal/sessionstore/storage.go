// Package sessionstore implements the Session Manager and its pluggable
// storage backends (spec §4.7, C7): in-memory, file-backed JSON, and Redis.
package sessionstore

import (
	"context"
	"errors"

	"github.com/xonecas/agentrt/internal/session"
)

// ErrNotFound is returned by Load when no snapshot exists for an id.
var ErrNotFound = errors.New("sessionstore: not found")

// Storage is the persistence contract for session snapshots (spec §4.7).
type Storage interface {
	Save(ctx context.Context, state session.State) error
	// Load returns ErrNotFound if no snapshot exists for id.
	Load(ctx context.Context, id string) (session.State, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}
