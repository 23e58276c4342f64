package turn

import (
	"errors"
	"math/rand"
	"testing"

	"virtual-tabletop/internal/shared"
)

func ids(state shared.TurnState) []string {
	out := make([]string, len(state.Participants))
	for i, p := range state.Participants {
		out[i] = p.ParticipantID
	}
	return out
}

func TestStartOrdersAllParticipants(t *testing.T) {
	m := NewManager(NewDefaultStrategy(), 1)
	state, err := m.Start([]string{"c", "a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if !state.IsActive || state.Round != 1 || state.CurrentIndex != 0 {
		t.Fatalf("unexpected initial state: %+v", state)
	}
	if len(state.Participants) != 3 {
		t.Fatalf("got %d participants, want 3", len(state.Participants))
	}
	seen := map[string]bool{}
	for _, p := range state.Participants {
		seen[p.ParticipantID] = true
	}
	for _, id := range []string{"a", "b", "c"} {
		if !seen[id] {
			t.Errorf("participant %s missing from order", id)
		}
	}
}

func TestOrderDeterministicForSeed(t *testing.T) {
	a := NewDefaultStrategy().Order([]string{"x", "y", "z"}, rand.New(rand.NewSource(3)))
	b := NewDefaultStrategy().Order([]string{"z", "x", "y"}, rand.New(rand.NewSource(3)))
	for i := range a {
		if a[i].ParticipantID != b[i].ParticipantID {
			t.Fatalf("same seed, different order: %v vs %v", a, b)
		}
	}
}

func TestAdvanceFullRound(t *testing.T) {
	m := NewManager(NewDefaultStrategy(), 42)
	participants := []string{"a", "b", "c", "d"}
	if _, err := m.Start(participants); err != nil {
		t.Fatal(err)
	}

	var state shared.TurnState
	var err error
	for i := 0; i < len(participants); i++ {
		state, err = m.Advance()
		if err != nil {
			t.Fatal(err)
		}
	}
	if state.CurrentIndex != 0 {
		t.Errorf("currentIndex = %d, want 0 after full round", state.CurrentIndex)
	}
	if state.Round != 2 {
		t.Errorf("round = %d, want 2 after full round", state.Round)
	}
	for _, p := range state.Participants {
		if p.HasActed {
			t.Errorf("participant %s still marked as acted after wraparound", p.ParticipantID)
		}
	}
}

func TestCanAct(t *testing.T) {
	m := NewManager(NewDefaultStrategy("reaction"), 7)
	if !m.CanAct("anyone", "move") {
		t.Error("inactive turn order should not gate actions")
	}
	state, err := m.Start([]string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	current := state.Current()
	other := "a"
	if current == "a" {
		other = "b"
	}
	if !m.CanAct(current, "move") {
		t.Error("current participant denied its turn")
	}
	if m.CanAct(other, "move") {
		t.Error("out-of-turn participant allowed to act")
	}
	if !m.CanAct(other, "reaction") {
		t.Error("reaction denied out of turn")
	}
}

func TestReorder(t *testing.T) {
	m := NewManager(NewDefaultStrategy(), 9)
	if _, err := m.Start([]string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}
	current := m.Snapshot().Current()

	state, err := m.Reorder([]string{"c", "b", "a"})
	if err != nil {
		t.Fatal(err)
	}
	got := ids(state)
	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if state.Current() != current {
		t.Errorf("current participant changed by reorder: %s -> %s", current, state.Current())
	}

	if _, err := m.Reorder([]string{"a", "b"}); !errors.Is(err, ErrUnknownReorderID) {
		t.Errorf("short reorder error = %v, want ErrUnknownReorderID", err)
	}
	if _, err := m.Reorder([]string{"a", "b", "x"}); !errors.Is(err, ErrUnknownReorderID) {
		t.Errorf("unknown id reorder error = %v, want ErrUnknownReorderID", err)
	}
}

type fixedStrategy struct{ *DefaultStrategy }

func (fixedStrategy) RecalcEachRound() bool    { return true }
func (fixedStrategy) AllowManualReorder() bool { return false }

func TestStrategyHooks(t *testing.T) {
	m := NewManager(fixedStrategy{NewDefaultStrategy()}, 11)
	if _, err := m.Start([]string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reorder([]string{"b", "a"}); !errors.Is(err, ErrReorderDisabled) {
		t.Errorf("reorder error = %v, want ErrReorderDisabled", err)
	}
	if _, err := m.Advance(); err != nil {
		t.Fatal(err)
	}
	state, err := m.Advance()
	if err != nil {
		t.Fatal(err)
	}
	if state.Round != 2 {
		t.Errorf("round = %d, want 2", state.Round)
	}
	if len(state.Participants) != 2 {
		t.Errorf("recalc dropped participants: %+v", state.Participants)
	}
}
