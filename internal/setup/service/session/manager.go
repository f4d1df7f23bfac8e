package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"latentsetup/internal/setup/repository/sessionstore"
)

// Store persists session records across restarts.
type Store interface {
	Get(sessionID string) (sessionstore.Record, error)
	Put(rec sessionstore.Record) error
	Delete(sessionID string) error
}

// Manager owns the live controllers and restores persisted ones on demand.
type Manager struct {
	backend Backend
	store   Store

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Controller
}

func NewManager(backend Backend, store Store) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		backend:  backend,
		store:    store,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Controller),
	}
}

// Create starts a session on datasetID, hydrating scopeName when it is set.
func (m *Manager) Create(datasetID, scopeName string) (*Controller, Snapshot, error) {
	id := uuid.NewString()
	c := newController(m.ctx, id, m.backend, m.persistFunc())
	snap, err := c.Navigate(datasetID, scopeName)
	if err != nil {
		c.Close()
		return nil, Snapshot{}, err
	}
	m.mu.Lock()
	m.sessions[id] = c
	m.mu.Unlock()
	log.Printf("session %s: created for %s", id, snap.DatasetID)
	return c, snap, nil
}

// Get returns the live controller for id, restoring it from the store when
// this process has not seen it yet.
func (m *Manager) Get(id string) (*Controller, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrSessionNotFound
	}
	m.mu.Lock()
	c, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return c, nil
	}
	if m.store == nil {
		return nil, ErrSessionNotFound
	}
	rec, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.sessions[id]; ok {
		return c, nil
	}
	c = newController(m.ctx, id, m.backend, m.persistFunc())
	c.restore(rec)
	m.sessions[id] = c
	log.Printf("session %s: restored for %s", id, rec.DatasetID)
	return c, nil
}

// Delete closes the session and forgets it.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	c, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		c.Close()
	}
	if m.store == nil {
		if !ok {
			return ErrSessionNotFound
		}
		return nil
	}
	if err := m.store.Delete(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}

// Close stops every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()
	for _, c := range sessions {
		c.Close()
	}
	m.cancel()
}

func (m *Manager) persistFunc() func(sessionstore.Record) {
	if m.store == nil {
		return nil
	}
	return func(rec sessionstore.Record) {
		if err := m.store.Put(rec); err != nil {
			log.Printf("session %s: persist failed: %v", rec.SessionID, err)
		}
	}
}
