package shared

import (
	"encoding/json"
	"time"
)

// Role identifies what a participant is allowed to do inside a session.
type Role string

const (
	RoleGM       Role = "gm"
	RolePlayer   Role = "player"
	RoleObserver Role = "observer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleGM, RolePlayer, RoleObserver:
		return true
	}
	return false
}

// Level is the amount of GM oversight an action type requires.
type Level string

const (
	LevelAutomatic  Level = "automatic"
	LevelReviewable Level = "reviewable"
	LevelManualOnly Level = "manual-only"
)

func (l Level) Valid() bool {
	switch l {
	case LevelAutomatic, LevelReviewable, LevelManualOnly:
		return true
	}
	return false
}

// StateDoc is the authoritative state document of a session. Values are
// opaque to the coordination core; game systems decide what lives in it.
type StateDoc map[string]json.RawMessage

// Clone returns a copy safe to hand out to readers.
func (d StateDoc) Clone() StateDoc {
	out := make(StateDoc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Delta is a partial mutation of a StateDoc. A nil value deletes the key.
type Delta map[string]json.RawMessage

// Envelope is the frame every websocket message travels in.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ActionRequest is a player's request to perform a game action. Payload is
// meaningful only to the game system; the core validates the envelope shape.
type ActionRequest struct {
	ActionID   string          `json:"actionId"`
	ActorID    string          `json:"actorId"`
	ActionType string          `json:"actionType"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ActionAck tells the requester what happened to their action.
type ActionAck struct {
	ActionID string `json:"actionId"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Code     string `json:"code,omitempty"`
}

// RollRequest asks one specific participant to produce a dice result.
type RollRequest struct {
	RequestID           string            `json:"requestId"`
	TargetParticipantID string            `json:"targetParticipantId"`
	Prompt              string            `json:"prompt,omitempty"`
	DiceExpression      string            `json:"diceExpression"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// RollResponse resolves a RollRequest, correlated by RequestID.
type RollResponse struct {
	RequestID string `json:"requestId"`
	Results   []int  `json:"results"`
	Total     int    `json:"total"`
}

// RollResult is what awaiting action logic receives once a roll settles.
type RollResult struct {
	RequestID     string `json:"requestId"`
	ParticipantID string `json:"participantId"`
	Results       []int  `json:"results"`
	Total         int    `json:"total"`
}

// Heartbeat is the GM liveness probe payload, both directions.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

// StateUpdate carries a versioned, per-recipient filtered view of state.
type StateUpdate struct {
	Version uint64   `json:"version"`
	View    StateDoc `json:"view"`
}

// ChatMessage is a table chat line. To is empty for table-wide messages.
type ChatMessage struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
	Text string `json:"text"`
}

// GMConfirm asks the GM a yes/no question mid-action.
type GMConfirm struct {
	ConfirmID string `json:"confirmId"`
	Prompt    string `json:"prompt"`
}

// GMConfirmResponse answers a GMConfirm, correlated by ConfirmID.
type GMConfirmResponse struct {
	ConfirmID string `json:"confirmId"`
	Approved  bool   `json:"approved"`
}

// ApprovalPending surfaces a reviewable or manual-only action to the GM.
type ApprovalPending struct {
	ActionID    string          `json:"actionId"`
	RequesterID string          `json:"requesterId"`
	ActionType  string          `json:"actionType"`
	Level       Level           `json:"level"`
	Preview     json.RawMessage `json:"preview,omitempty"`
	Stale       bool            `json:"stale"`
}

// ApprovalDecision is the GM's verdict on a pending action.
type ApprovalDecision struct {
	ActionID string          `json:"actionId"`
	Decision string          `json:"decision"` // approve, reject or modify
	Reason   string          `json:"reason,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"` // replacement payload on modify
}

const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionModify  = "modify"
)

// TurnEntry is one slot in the initiative order.
type TurnEntry struct {
	ParticipantID  string `json:"participantId"`
	TurnOrderValue int    `json:"turnOrderValue"`
	HasActed       bool   `json:"hasActed"`
}

// TurnState is a read-only snapshot of the turn manager's state.
type TurnState struct {
	IsActive     bool        `json:"isActive"`
	Round        int         `json:"round"`
	CurrentIndex int         `json:"currentIndex"`
	Participants []TurnEntry `json:"participants"`
}

// Current returns the participant whose turn it is, or "" when inactive.
func (s TurnState) Current() string {
	if !s.IsActive || s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Participants) {
		return ""
	}
	return s.Participants[s.CurrentIndex].ParticipantID
}
