// Package gamesys defines the fixed interface game-system modules plug
// into, and the registry sessions pick them from at creation time. Rule
// math lives behind this interface; the coordination core never inspects
// game data itself.
package gamesys

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"virtual-tabletop/internal/action"
	"virtual-tabletop/internal/shared"
	"virtual-tabletop/internal/turn"
)

var ErrUnknownSystem = errors.New("unknown game system")

// GameSystem is everything a game module supplies to the engine.
type GameSystem interface {
	Name() string

	// ClassifyAction declares the default oversight level for an action
	// type. ok=false means the system never heard of it; such actions fall
	// back to manual-only.
	ClassifyAction(actionType string) (shared.Level, bool)

	// ActionHandler returns the executable logic for an action type.
	ActionHandler(actionType string) (action.Handler, bool)

	// TurnOrderStrategy supplies the initiative rules for sessions running
	// this system.
	TurnOrderStrategy() turn.Strategy

	// PreviewAction computes the effect preview shown to the GM for
	// reviewable and manual-only actions. Returning nil is fine; manual
	// actions are surfaced to the GM either way.
	PreviewAction(actionType string, payload json.RawMessage) (json.RawMessage, error)

	// FilterState computes the slice of the authoritative state document
	// the viewer is entitled to see. Returning nil hides the update from
	// that viewer entirely.
	FilterState(doc shared.StateDoc, viewerID string, role shared.Role) shared.StateDoc
}

// Registry is an explicit store of game systems, injected into the session
// manager rather than accessed as a package global so tests can build
// isolated ones.
type Registry struct {
	mu      sync.RWMutex
	systems map[string]GameSystem
}

func NewRegistry() *Registry {
	return &Registry{systems: map[string]GameSystem{}}
}

func (r *Registry) Register(sys GameSystem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.systems[sys.Name()]; ok {
		return fmt.Errorf("game system %q already registered", sys.Name())
	}
	r.systems[sys.Name()] = sys
	return nil
}

func (r *Registry) Get(name string) (GameSystem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sys, ok := r.systems[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSystem, name)
	}
	return sys, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.systems))
	for name := range r.systems {
		out = append(out, name)
	}
	return out
}
