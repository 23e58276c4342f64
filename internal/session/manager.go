package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"virtual-tabletop/internal/gamesys"
	"virtual-tabletop/internal/shared"
	"virtual-tabletop/internal/store"
)

var ErrSessionNotFound = errors.New("session not found")

// Manager is the global session registry: created when a table is opened,
// torn down when everyone has been gone long enough. It is injected into
// the components that need it, never reached as ambient global state.
type Manager struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	byCode   map[string]*Session
	store    store.Store
	registry *gamesys.Registry
	idleTTL  time.Duration
	rng      *rand.Rand

	// onDestroy lets the engine drop queues and monitors for dead sessions.
	onDestroy []func(sessionID string)
}

func NewManager(st store.Store, registry *gamesys.Registry, idleTTL time.Duration) *Manager {
	return &Manager{
		byID:     map[string]*Session{},
		byCode:   map[string]*Session{},
		store:    st,
		registry: registry,
		idleTTL:  idleTTL,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnDestroy registers a teardown hook run whenever a session is destroyed.
func (m *Manager) OnDestroy(fn func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDestroy = append(m.onDestroy, fn)
}

// Create opens a new table running the named game system. The creator
// becomes its GM.
func (m *Manager) Create(gmName, systemName string) (*Session, Participant, error) {
	system, err := m.registry.Get(systemName)
	if err != nil {
		return nil, Participant{}, err
	}

	m.mu.Lock()
	code := m.randCodeLocked(6)
	s := newSession(code, system, m.rng.Int63())
	m.byID[s.ID()] = s
	m.byCode[code] = s
	m.mu.Unlock()

	gm, err := s.AddParticipant(gmName, shared.RoleGM)
	if err != nil {
		return nil, Participant{}, err
	}
	m.Persist(s)
	log.Printf("session %s (%s) created, system=%s gm=%s", s.ID(), code, systemName, gm.ID)
	return s, gm, nil
}

// Join adds a participant to an existing table by join code.
func (m *Manager) Join(code, name string, role shared.Role) (*Session, Participant, error) {
	s, ok := m.GetByCode(code)
	if !ok {
		return nil, Participant{}, ErrSessionNotFound
	}
	p, err := s.AddParticipant(name, role)
	if err != nil {
		return nil, Participant{}, err
	}
	return s, p, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	return s, ok
}

func (m *Manager) GetByCode(code string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byCode[code]
	return s, ok
}

// Resolve validates a websocket join: the code must name a live session and
// the participant must belong to it. Returns the session id.
func (m *Manager) Resolve(code, participantID string) (string, bool) {
	s, ok := m.GetByCode(code)
	if !ok {
		return "", false
	}
	if _, ok := s.Participant(participantID); !ok {
		return "", false
	}
	return s.ID(), true
}

// Count reports how many sessions are live.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Persist snapshots the session's authoritative state so a restarted
// process can still answer full-state requests.
func (m *Manager) Persist(s *Session) {
	doc, version := s.StateSnapshot()
	raw, err := json.Marshal(doc)
	if err != nil {
		log.Printf("failed to marshal state of session %s: %v", s.ID(), err)
		return
	}
	if err := m.store.SaveSnapshot(store.Snapshot{
		SessionID: s.ID(),
		Code:      s.Code(),
		Version:   version,
		State:     raw,
		SavedAt:   time.Now(),
	}); err != nil {
		log.Printf("failed to persist snapshot of session %s: %v", s.ID(), err)
	}
}

// Destroy tears a session down and runs the registered teardown hooks.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	s, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byID, id)
	delete(m.byCode, s.Code())
	hooks := append([]func(string){}, m.onDestroy...)
	m.mu.Unlock()

	if err := m.store.DeleteSnapshot(id); err != nil {
		log.Printf("failed to delete snapshot of session %s: %v", id, err)
	}
	for _, fn := range hooks {
		fn(id)
	}
	log.Printf("session %s (%s) destroyed", id, s.Code())
}

// Janitor destroys sessions that have had no connected participant for the
// idle TTL. Runs until ctx is done.
func (m *Manager) Janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, s := range m.snapshotSessions() {
				if since := s.IdleSince(); !since.IsZero() && now.Sub(since) > m.idleTTL {
					log.Printf("session %s idle since %s, destroying", s.ID(), since.Format(time.RFC3339))
					m.Destroy(s.ID())
				}
			}
		}
	}
}

func (m *Manager) snapshotSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	return out
}

const codeLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// randCodeLocked generates a join code not already in use. Caller holds mu.
func (m *Manager) randCodeLocked(n int) string {
	for {
		b := make([]byte, n)
		for i := range b {
			b[i] = codeLetters[m.rng.Intn(len(codeLetters))]
		}
		if _, taken := m.byCode[string(b)]; !taken {
			return string(b)
		}
	}
}
