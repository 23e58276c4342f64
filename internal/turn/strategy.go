package turn

import (
	"math/rand"
	"sort"

	"virtual-tabletop/internal/shared"
)

// DefaultStrategy orders participants by a uniform shuffle so any game
// system works without configuration, and only lets the current participant
// act. Action types registered as reactions may fire out of turn.
type DefaultStrategy struct {
	reactions map[string]bool
}

// NewDefaultStrategy builds the default strategy. reactionTypes lists
// action types allowed out of turn (e.g. "opportunity-attack").
func NewDefaultStrategy(reactionTypes ...string) *DefaultStrategy {
	s := &DefaultStrategy{reactions: make(map[string]bool, len(reactionTypes))}
	for _, t := range reactionTypes {
		s.reactions[t] = true
	}
	return s
}

func (s *DefaultStrategy) Name() string { return "default" }

func (s *DefaultStrategy) Order(participantIDs []string, rng *rand.Rand) []shared.TurnEntry {
	// Sort first so the shuffle outcome depends only on the rng seed, not
	// on the caller's slice order.
	ids := append([]string(nil), participantIDs...)
	sort.Strings(ids)
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	out := make([]shared.TurnEntry, len(ids))
	for i, id := range ids {
		out[i] = shared.TurnEntry{ParticipantID: id, TurnOrderValue: len(ids) - i}
	}
	return out
}

func (s *DefaultStrategy) CanAct(state shared.TurnState, participantID, actionType string) bool {
	if s.reactions[actionType] {
		return true
	}
	return state.Current() == participantID
}

func (s *DefaultStrategy) RecalcEachRound() bool { return false }

func (s *DefaultStrategy) AllowManualReorder() bool { return true }
