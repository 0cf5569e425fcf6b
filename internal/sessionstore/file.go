package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xonecas/agentrt/internal/session"
)

// FileStorage persists one pretty-printed JSON file per session at
// {dir}/{id}.json, created lazily (spec §4.7).
type FileStorage struct {
	mu  sync.Mutex
	dir string
}

// NewFileStorage creates a Storage rooted at dir. The directory is created
// lazily on first Save, not here.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

func (f *FileStorage) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

func (f *FileStorage) Save(_ context.Context, state session.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("sessionstore: mkdir %s: %w", f.dir, err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: marshal %s: %w", state.ID, err)
	}
	if err := os.WriteFile(f.path(state.ID), data, 0o644); err != nil {
		return fmt.Errorf("sessionstore: write %s: %w", state.ID, err)
	}
	return nil
}

func (f *FileStorage) Load(_ context.Context, id string) (session.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return session.State{}, ErrNotFound
	}
	if err != nil {
		return session.State{}, fmt.Errorf("sessionstore: read %s: %w", id, err)
	}
	var state session.State
	if err := json.Unmarshal(data, &state); err != nil {
		return session.State{}, fmt.Errorf("sessionstore: unmarshal %s: %w", id, err)
	}
	return state, nil
}

func (f *FileStorage) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sessionstore: delete %s: %w", id, err)
	}
	return nil
}

func (f *FileStorage) List(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: readdir %s: %w", f.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
