package store

import (
	"encoding/json"
	"sync"
	"time"
)

// Snapshot is the persisted form of a session's authoritative state, saved
// on every commit so a restarted process can answer state:full requests.
type Snapshot struct {
	SessionID string          `json:"sessionId"`
	Code      string          `json:"code"`
	Version   uint64          `json:"version"`
	State     json.RawMessage `json:"state"`
	SavedAt   time.Time       `json:"savedAt"`
}

// Store persists session snapshots.
type Store interface {
	SaveSnapshot(s Snapshot) error
	GetSnapshot(sessionID string) (Snapshot, bool, error)
	DeleteSnapshot(sessionID string) error
}

type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: map[string]Snapshot{},
	}
}

func (m *MemoryStore) SaveSnapshot(s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.SessionID] = s
	return nil
}

func (m *MemoryStore) GetSnapshot(sessionID string) (Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[sessionID]
	return s, ok, nil
}

func (m *MemoryStore) DeleteSnapshot(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, sessionID)
	return nil
}
