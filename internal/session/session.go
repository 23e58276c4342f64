// Package session owns the per-table state: participants and their roles,
// the authoritative state document with its version counter, and the turn
// manager. One session is one active table.
package session

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"virtual-tabletop/internal/gamesys"
	"virtual-tabletop/internal/shared"
	"virtual-tabletop/internal/turn"
)

var (
	ErrGMAlreadyPresent   = errors.New("session already has a GM")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrInvalidRole        = errors.New("invalid role")
)

// Participant is one identity at the table. Connected tracks the live
// websocket; the identity survives reconnects.
type Participant struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Role            shared.Role `json:"role"`
	ConnectionID    string      `json:"-"`
	Connected       bool        `json:"connected"`
	LastHeartbeatAt time.Time   `json:"lastHeartbeatAt,omitzero"`
	JoinedAt        time.Time   `json:"joinedAt"`
}

// Session is one active table. It survives individual reconnects and is
// destroyed once every participant has been gone for the idle TTL.
type Session struct {
	mu           sync.RWMutex
	id           string
	code         string
	createdAt    time.Time
	system       gamesys.GameSystem
	participants map[string]*Participant
	order        []string
	gmID         string
	state        shared.StateDoc
	version      uint64
	turns        *turn.Manager
	overrides    map[string]shared.Level
	emptySince   time.Time
}

func newSession(code string, system gamesys.GameSystem, seed int64) *Session {
	return &Session{
		id:           uuid.NewString(),
		code:         code,
		createdAt:    time.Now(),
		system:       system,
		participants: map[string]*Participant{},
		state:        shared.StateDoc{},
		turns:        turn.NewManager(system.TurnOrderStrategy(), seed),
		overrides:    map[string]shared.Level{},
		emptySince:   time.Now(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Code() string { return s.code }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) System() gamesys.GameSystem { return s.system }

func (s *Session) Turns() *turn.Manager { return s.turns }

// GM returns the participant id holding the GM role, or "".
func (s *Session) GM() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gmID
}

// AddParticipant registers a new identity. At most one participant per
// session holds the GM role.
func (s *Session) AddParticipant(name string, role shared.Role) (Participant, error) {
	if !role.Valid() {
		return Participant{}, ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == shared.RoleGM && s.gmID != "" {
		return Participant{}, ErrGMAlreadyPresent
	}
	p := &Participant{
		ID:       uuid.NewString(),
		Name:     name,
		Role:     role,
		JoinedAt: time.Now(),
	}
	s.participants[p.ID] = p
	s.order = append(s.order, p.ID)
	if role == shared.RoleGM {
		s.gmID = p.ID
	}
	return *p, nil
}

// Participant returns a copy of the identity.
func (s *Session) Participant(id string) (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Participants lists identities in join order.
func (s *Session) Participants() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.participants[id])
	}
	return out
}

// PlayerIDs lists non-observer participant ids, for building turn orders.
func (s *Session) PlayerIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, id := range s.order {
		if s.participants[id].Role != shared.RoleObserver {
			out = append(out, id)
		}
	}
	return out
}

// SetConnected flips a participant's liveness. When the last connection
// drops, the empty-since clock starts for the idle janitor.
func (s *Session) SetConnected(id, connectionID string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return ErrUnknownParticipant
	}
	p.Connected = connected
	if connected {
		p.ConnectionID = connectionID
		s.emptySince = time.Time{}
	} else {
		p.ConnectionID = ""
		if !s.anyConnectedLocked() {
			s.emptySince = time.Now()
		}
	}
	return nil
}

// MarkHeartbeat records a heartbeat pong from the participant.
func (s *Session) MarkHeartbeat(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[id]; ok {
		p.LastHeartbeatAt = at
	}
}

func (s *Session) anyConnectedLocked() bool {
	for _, p := range s.participants {
		if p.Connected {
			return true
		}
	}
	return false
}

// IdleSince returns when the session last had zero connected participants,
// or the zero time if someone is connected.
func (s *Session) IdleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.anyConnectedLocked() {
		return time.Time{}
	}
	return s.emptySince
}

// Commit applies an approved delta to the authoritative state document and
// bumps the version. A nil delta value deletes the key. The turn state
// snapshot is embedded under "turnState" on every commit so clients always
// see order and round alongside game state.
func (s *Session) Commit(delta shared.Delta) uint64 {
	turnSnap, _ := json.Marshal(s.turns.Snapshot())
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range delta {
		if v == nil {
			delete(s.state, k)
			continue
		}
		s.state[k] = v
	}
	s.state["turnState"] = turnSnap
	s.version++
	return s.version
}

// StateSnapshot returns a read-only copy of the state document and its
// version.
func (s *Session) StateSnapshot() (shared.StateDoc, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), s.version
}

// TurnSnapshot returns a read-only copy of the turn order.
func (s *Session) TurnSnapshot() shared.TurnState {
	return s.turns.Snapshot()
}

// Version returns the current state document version.
func (s *Session) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SetOverride installs a per-session classification override. An invalid
// level clears the override instead.
func (s *Session) SetOverride(actionType string, level shared.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !level.Valid() {
		delete(s.overrides, actionType)
		return
	}
	s.overrides[actionType] = level
}

// Overrides returns a copy of the session's classification overrides.
// Effective levels are recomputed from plugin defaults plus these on every
// lookup; nothing is cached.
func (s *Session) Overrides() map[string]shared.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]shared.Level, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = v
	}
	return out
}
