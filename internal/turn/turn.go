// Package turn tracks whose turn it is and gates who may act. Ordering and
// permission math is delegated to a pluggable Strategy so each game system
// can bring its own initiative rules.
package turn

import (
	"errors"
	"math/rand"
	"sync"

	"virtual-tabletop/internal/shared"
)

var (
	ErrNotActive        = errors.New("turn order is not active")
	ErrNoParticipants   = errors.New("no participants to order")
	ErrReorderDisabled  = errors.New("strategy disables manual reordering")
	ErrUnknownReorderID = errors.New("reorder list does not match participants")
)

// Strategy supplies the game-system-specific pieces of turn handling.
type Strategy interface {
	Name() string

	// Order produces the initial initiative list. Ties must be broken
	// deterministically by the strategy.
	Order(participantIDs []string, rng *rand.Rand) []shared.TurnEntry

	// CanAct reports whether the participant may take the given action
	// right now.
	CanAct(state shared.TurnState, participantID, actionType string) bool

	// RecalcEachRound asks for a fresh Order call on every wraparound.
	RecalcEachRound() bool

	// AllowManualReorder permits GM drag-and-drop reordering.
	AllowManualReorder() bool
}

// Manager owns the turn state of one session. All mutations go through
// Start, Advance and Reorder.
type Manager struct {
	mu       sync.RWMutex
	state    shared.TurnState
	strategy Strategy
	rng      *rand.Rand
}

func NewManager(strategy Strategy, seed int64) *Manager {
	return &Manager{
		strategy: strategy,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Start builds the initial turn order and activates it at round 1.
func (m *Manager) Start(participantIDs []string) (shared.TurnState, error) {
	if len(participantIDs) == 0 {
		return shared.TurnState{}, ErrNoParticipants
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = shared.TurnState{
		IsActive:     true,
		Round:        1,
		CurrentIndex: 0,
		Participants: m.strategy.Order(participantIDs, m.rng),
	}
	return m.snapshotLocked(), nil
}

// Advance marks the current participant as having acted and moves to the
// next slot. On wraparound the round increments, hasActed flags reset and,
// if the strategy asks for it, the order is re-derived.
func (m *Manager) Advance() (shared.TurnState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.IsActive {
		return shared.TurnState{}, ErrNotActive
	}
	m.state.Participants[m.state.CurrentIndex].HasActed = true
	m.state.CurrentIndex++
	if m.state.CurrentIndex >= len(m.state.Participants) {
		m.state.CurrentIndex = 0
		m.state.Round++
		if m.strategy.RecalcEachRound() {
			ids := make([]string, len(m.state.Participants))
			for i, p := range m.state.Participants {
				ids[i] = p.ParticipantID
			}
			m.state.Participants = m.strategy.Order(ids, m.rng)
		}
		for i := range m.state.Participants {
			m.state.Participants[i].HasActed = false
		}
	}
	return m.snapshotLocked(), nil
}

// CanAct reports whether participantID may take actionType right now.
// When no turn order is active everyone may act.
func (m *Manager) CanAct(participantID, actionType string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.state.IsActive {
		return true
	}
	return m.strategy.CanAct(m.state, participantID, actionType)
}

// Reorder replaces the order with the GM-supplied one. The new list must be
// a permutation of the current participants. GM override wins over the
// automatic ordering unless the strategy disables it outright.
func (m *Manager) Reorder(participantIDs []string) (shared.TurnState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.IsActive {
		return shared.TurnState{}, ErrNotActive
	}
	if !m.strategy.AllowManualReorder() {
		return shared.TurnState{}, ErrReorderDisabled
	}
	if len(participantIDs) != len(m.state.Participants) {
		return shared.TurnState{}, ErrUnknownReorderID
	}
	byID := make(map[string]shared.TurnEntry, len(m.state.Participants))
	for _, p := range m.state.Participants {
		byID[p.ParticipantID] = p
	}
	current := m.state.Current()
	next := make([]shared.TurnEntry, 0, len(participantIDs))
	for _, id := range participantIDs {
		entry, ok := byID[id]
		if !ok {
			return shared.TurnState{}, ErrUnknownReorderID
		}
		delete(byID, id)
		next = append(next, entry)
	}
	m.state.Participants = next
	// Keep pointing at the same participant after the shuffle.
	for i, p := range m.state.Participants {
		if p.ParticipantID == current {
			m.state.CurrentIndex = i
			break
		}
	}
	return m.snapshotLocked(), nil
}

// End deactivates the turn order.
func (m *Manager) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = shared.TurnState{}
}

// Snapshot returns a copy of the current turn state for embedding into the
// authoritative state document.
func (m *Manager) Snapshot() shared.TurnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() shared.TurnState {
	out := m.state
	out.Participants = append([]shared.TurnEntry(nil), m.state.Participants...)
	return out
}
