package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xonecas/agentrt/internal/session"
)

// CreateConfig selects which lifecycle operation Manager.Create performs
// (spec §4.7).
type CreateConfig struct {
	Resume string // session id to resume, if set
	Fork   string // session id to fork, if set
}

// Manager owns the set of live sessions by id and persists their snapshots
// to a pluggable Storage (spec §4.7).
type Manager struct {
	mu      sync.Mutex
	storage Storage
	active  map[string]*session.Session
}

// NewManager creates a Manager over storage.
func NewManager(storage Storage) *Manager {
	return &Manager{storage: storage, active: make(map[string]*session.Session)}
}

// Create instantiates a session per cfg: resume or fork an existing one, or
// start fresh and persist its initial snapshot.
func (m *Manager) Create(ctx context.Context, cfg CreateConfig) (*session.Session, error) {
	if cfg.Resume != "" {
		return m.Resume(ctx, cfg.Resume)
	}
	if cfg.Fork != "" {
		return m.Fork(ctx, cfg.Fork)
	}

	sess := session.New()
	if err := m.storage.Save(ctx, sess.State()); err != nil {
		return nil, fmt.Errorf("sessionstore: create: %w", err)
	}
	m.register(sess)
	log.Info().Str("session", sess.ID()).Msg("session created")
	return sess, nil
}

// Resume returns the live session if already active; otherwise loads its
// snapshot and reinstates it as active. ErrNotFound propagates if no
// snapshot exists.
func (m *Manager) Resume(ctx context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	if sess, ok := m.active[id]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	state, err := m.storage.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("sessionstore: resume %s: %w", id, err)
	}
	sess := session.FromState(state)
	m.register(sess)
	log.Info().Str("session", id).Msg("session resumed")
	return sess, nil
}

// Fork loads id's snapshot, deep-copies its messages into a new session
// with a fresh id and ParentID=id, persists it, and registers it as active
// (spec §4.7, P3).
func (m *Manager) Fork(ctx context.Context, id string) (*session.Session, error) {
	state, err := m.storage.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("sessionstore: fork %s: %w", id, err)
	}

	forked := state.Clone()
	forked.ID = uuid.NewString()
	forked.ParentID = id
	now := time.Now()
	forked.CreatedAt = now
	forked.UpdatedAt = now

	sess := session.FromState(forked)
	if err := m.storage.Save(ctx, sess.State()); err != nil {
		return nil, fmt.Errorf("sessionstore: fork %s: %w", id, err)
	}
	m.register(sess)
	log.Info().Str("parent", id).Str("session", sess.ID()).Msg("session forked")
	return sess, nil
}

// Close persists the session's latest snapshot, closes it, and removes it
// from the active set.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.active[id]
	delete(m.active, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	state := sess.Close()
	if err := m.storage.Save(ctx, state); err != nil {
		return fmt.Errorf("sessionstore: close %s: %w", id, err)
	}
	log.Info().Str("session", id).Msg("session closed")
	return nil
}

// CloseAll closes every active session in parallel, always attempting every
// close, and returns all errors encountered joined with errors.Join (nil if
// none).
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = m.Close(ctx, id)
		}(i, id)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (m *Manager) register(sess *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[sess.ID()] = sess
}
