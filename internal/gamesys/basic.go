package gamesys

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"virtual-tabletop/internal/action"
	"virtual-tabletop/internal/roll"
	"virtual-tabletop/internal/shared"
	"virtual-tabletop/internal/turn"
)

// BasicSystem is the out-of-the-box game system: shuffled initiative,
// move/attack/cast actions and a prefix-based visibility scheme. It doubles
// as the reference implementation for game module authors.
type BasicSystem struct {
	handlers map[string]action.Handler
	levels   map[string]shared.Level
}

func NewBasicSystem() *BasicSystem {
	s := &BasicSystem{
		levels: map[string]shared.Level{
			"move":               shared.LevelAutomatic,
			"opportunity-attack": shared.LevelAutomatic,
			"attack":             shared.LevelReviewable,
			"cast":               shared.LevelManualOnly,
		},
	}
	s.handlers = map[string]action.Handler{
		"move":               s.handleMove,
		"opportunity-attack": s.handleAttack,
		"attack":             s.handleAttack,
		"cast":               s.handleCast,
	}
	return s
}

func (s *BasicSystem) Name() string { return "basic" }

func (s *BasicSystem) ClassifyAction(actionType string) (shared.Level, bool) {
	lvl, ok := s.levels[actionType]
	return lvl, ok
}

func (s *BasicSystem) ActionHandler(actionType string) (action.Handler, bool) {
	h, ok := s.handlers[actionType]
	return h, ok
}

func (s *BasicSystem) TurnOrderStrategy() turn.Strategy {
	return turn.NewDefaultStrategy("opportunity-attack")
}

func (s *BasicSystem) PreviewAction(actionType string, payload json.RawMessage) (json.RawMessage, error) {
	preview := map[string]any{"actionType": actionType}
	if len(payload) > 0 {
		preview["payload"] = payload
	}
	return json.Marshal(preview)
}

// FilterState hides "gm:"-prefixed keys from everyone but the GM and
// "secret:<participantID>:"-prefixed keys from everyone but their owner and
// the GM. Everything else is public.
func (s *BasicSystem) FilterState(doc shared.StateDoc, viewerID string, role shared.Role) shared.StateDoc {
	if role == shared.RoleGM {
		return doc
	}
	out := make(shared.StateDoc, len(doc))
	for k, v := range doc {
		if strings.HasPrefix(k, "gm:") {
			continue
		}
		if rest, ok := strings.CutPrefix(k, "secret:"); ok {
			if owner, _, found := strings.Cut(rest, ":"); !found || owner != viewerID {
				continue
			}
		}
		out[k] = v
	}
	return out
}

type movePayload struct {
	TokenID string `json:"tokenId"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
}

func (s *BasicSystem) handleMove(ctx context.Context, actx *action.Context, payload json.RawMessage) (shared.Delta, error) {
	var mv movePayload
	if err := json.Unmarshal(payload, &mv); err != nil {
		return nil, fmt.Errorf("bad move payload: %w", err)
	}
	if mv.TokenID == "" {
		return nil, fmt.Errorf("move payload needs a tokenId")
	}
	pos, err := json.Marshal(map[string]any{"x": mv.X, "y": mv.Y, "owner": actx.ActorID()})
	if err != nil {
		return nil, err
	}
	return shared.Delta{"token:" + mv.TokenID: pos}, nil
}

type attackPayload struct {
	TargetID string `json:"targetId"`
	Bonus    int    `json:"bonus"`
}

func (s *BasicSystem) handleAttack(ctx context.Context, actx *action.Context, payload json.RawMessage) (shared.Delta, error) {
	var atk attackPayload
	if err := json.Unmarshal(payload, &atk); err != nil {
		return nil, fmt.Errorf("bad attack payload: %w", err)
	}

	result, err := actx.SendRollRequest(ctx, actx.ActorID(), roll.Spec{
		Prompt:         "Roll to hit",
		DiceExpression: fmt.Sprintf("1d20%+d", atk.Bonus),
	})
	if err != nil {
		// Timeout and disconnect both abort the attack; the requester gets
		// the reason through the rejection path.
		return nil, fmt.Errorf("attack roll failed: %w", err)
	}

	hit := result.Total >= s.armorClass(actx, atk.TargetID)
	outcome, err := json.Marshal(map[string]any{
		"attacker": actx.ActorID(),
		"target":   atk.TargetID,
		"roll":     result.Total,
		"hit":      hit,
	})
	if err != nil {
		return nil, err
	}
	if chatErr := actx.SendChatMessage(fmt.Sprintf("attack on %s: rolled %d, hit=%v", atk.TargetID, result.Total, hit)); chatErr != nil {
		return nil, chatErr
	}
	return shared.Delta{"lastAttack": outcome}, nil
}

type castPayload struct {
	Spell   string   `json:"spell"`
	Targets []string `json:"targets"`
	SaveDC  int      `json:"saveDc"`
}

func (s *BasicSystem) handleCast(ctx context.Context, actx *action.Context, payload json.RawMessage) (shared.Delta, error) {
	var cast castPayload
	if err := json.Unmarshal(payload, &cast); err != nil {
		return nil, fmt.Errorf("bad cast payload: %w", err)
	}
	if cast.Spell == "" {
		return nil, fmt.Errorf("cast payload needs a spell")
	}

	ok, err := actx.RequestGMConfirmation(ctx, fmt.Sprintf("Allow %s to cast %s?", actx.ActorID(), cast.Spell))
	if err != nil {
		return nil, fmt.Errorf("gm confirmation failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("gm vetoed %s", cast.Spell)
	}

	targets := make([]roll.Target, len(cast.Targets))
	for i, id := range cast.Targets {
		targets[i] = roll.Target{ParticipantID: id, Spec: roll.Spec{
			Prompt:         fmt.Sprintf("Saving throw against %s", cast.Spell),
			DiceExpression: "1d20",
		}}
	}
	outcomes := actx.SendMultipleRollRequests(ctx, targets)

	saves := make(map[string]any, len(outcomes))
	for _, out := range outcomes {
		switch out.Status {
		case roll.StatusSuccess:
			saves[out.ParticipantID] = map[string]any{"saved": out.Result.Total >= cast.SaveDC, "roll": out.Result.Total}
		default:
			// A target that timed out or dropped simply fails to save; the
			// spell does not abort for everyone else.
			saves[out.ParticipantID] = map[string]any{"saved": false, "status": string(out.Status)}
		}
	}
	summary, err := json.Marshal(map[string]any{
		"caster": actx.ActorID(),
		"spell":  cast.Spell,
		"saves":  saves,
	})
	if err != nil {
		return nil, err
	}
	return shared.Delta{"lastCast": summary}, nil
}

// armorClass reads the target's AC from state, defaulting to 10.
func (s *BasicSystem) armorClass(actx *action.Context, targetID string) int {
	doc, _ := actx.State()
	raw, ok := doc["ac:"+targetID]
	if !ok {
		return 10
	}
	var ac int
	if err := json.Unmarshal(raw, &ac); err != nil {
		return 10
	}
	return ac
}
