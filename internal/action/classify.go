package action

import "virtual-tabletop/internal/shared"

// Classifier declares per-action-type oversight defaults. Implemented by
// game systems.
type Classifier interface {
	ClassifyAction(actionType string) (shared.Level, bool)
}

// Classify resolves the effective oversight level for an action type:
// session override first, then the game system default, then manual-only.
// An action type nobody declared is never auto-executed.
func Classify(actionType string, overrides map[string]shared.Level, defaults Classifier) shared.Level {
	if lvl, ok := overrides[actionType]; ok && lvl.Valid() {
		return lvl
	}
	if defaults != nil {
		if lvl, ok := defaults.ClassifyAction(actionType); ok && lvl.Valid() {
			return lvl
		}
	}
	return shared.LevelManualOnly
}
