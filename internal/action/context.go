// Package action holds the per-action capability context, the
// classification policy and the GM approval queue. Game-system handlers
// receive only a Context, never the transport, so game rules stay
// transport-agnostic and testable in isolation.
package action

import (
	"context"
	"encoding/json"
	"time"

	"virtual-tabletop/internal/roll"
	"virtual-tabletop/internal/shared"
)

// RollRequester issues roll prompts. Implemented by roll.Service.
type RollRequester interface {
	RequestRoll(ctx context.Context, sessionID, participantID string, spec roll.Spec, timeout time.Duration) (shared.RollResult, error)
	RequestMultipleRolls(ctx context.Context, sessionID string, targets []roll.Target, timeout time.Duration) []roll.Outcome
}

// ChatSender relays table chat. To on the message narrows it to a whisper.
type ChatSender interface {
	SendChat(sessionID string, msg shared.ChatMessage) error
}

// Confirmer asks the GM a yes/no question and waits for the answer.
type Confirmer interface {
	RequestGMConfirmation(ctx context.Context, sessionID, prompt string) (bool, error)
}

// StateReader exposes read-only views of the session's authoritative state.
type StateReader interface {
	StateSnapshot() (shared.StateDoc, uint64)
	TurnSnapshot() shared.TurnState
}

// Handler is game-system logic for one action type. It may block on rolls
// and confirmations via the Context and returns the state delta to commit.
type Handler func(ctx context.Context, actx *Context, payload json.RawMessage) (shared.Delta, error)

// HandlerProvider maps action types to handlers. Implemented by game
// systems.
type HandlerProvider interface {
	ActionHandler(actionType string) (Handler, bool)
}

// Context is the bundle of capabilities handed to a handler for one action
// execution. Every method can fail and failures are surfaced to the caller,
// never swallowed; the handler decides whether to retry, skip or abort.
type Context struct {
	sessionID   string
	actorID     string
	rolls       RollRequester
	chat        ChatSender
	confirmer   Confirmer
	state       StateReader
	rollTimeout time.Duration
}

func NewContext(sessionID, actorID string, rolls RollRequester, chat ChatSender, confirmer Confirmer, state StateReader, rollTimeout time.Duration) *Context {
	return &Context{
		sessionID:   sessionID,
		actorID:     actorID,
		rolls:       rolls,
		chat:        chat,
		confirmer:   confirmer,
		state:       state,
		rollTimeout: rollTimeout,
	}
}

func (c *Context) SessionID() string { return c.sessionID }

// ActorID is the participant who requested the action being executed.
func (c *Context) ActorID() string { return c.actorID }

// SendRollRequest prompts one participant and waits for their result using
// the session's default roll timeout.
func (c *Context) SendRollRequest(ctx context.Context, participantID string, spec roll.Spec) (shared.RollResult, error) {
	return c.rolls.RequestRoll(ctx, c.sessionID, participantID, spec, c.rollTimeout)
}

// SendRollRequestTimeout is SendRollRequest with an explicit timeout.
func (c *Context) SendRollRequestTimeout(ctx context.Context, participantID string, spec roll.Spec, timeout time.Duration) (shared.RollResult, error) {
	return c.rolls.RequestRoll(ctx, c.sessionID, participantID, spec, timeout)
}

// SendMultipleRollRequests fans a roll out to several participants and
// waits for all of them to settle. Per-target failures are reported in the
// outcome slice, never as an aggregate error.
func (c *Context) SendMultipleRollRequests(ctx context.Context, targets []roll.Target) []roll.Outcome {
	return c.rolls.RequestMultipleRolls(ctx, c.sessionID, targets, c.rollTimeout)
}

// SendChatMessage posts a table-wide chat line attributed to the actor.
func (c *Context) SendChatMessage(text string) error {
	return c.chat.SendChat(c.sessionID, shared.ChatMessage{From: c.actorID, Text: text})
}

// WhisperTo sends a chat line visible only to one participant.
func (c *Context) WhisperTo(participantID, text string) error {
	return c.chat.SendChat(c.sessionID, shared.ChatMessage{From: c.actorID, To: participantID, Text: text})
}

// RequestGMConfirmation blocks until the GM answers the prompt or the
// confirmation window expires.
func (c *Context) RequestGMConfirmation(ctx context.Context, prompt string) (bool, error) {
	return c.confirmer.RequestGMConfirmation(ctx, c.sessionID, prompt)
}

// State returns a read-only snapshot of the authoritative state document
// and its version.
func (c *Context) State() (shared.StateDoc, uint64) {
	return c.state.StateSnapshot()
}

// TurnState returns a read-only snapshot of the turn order.
func (c *Context) TurnState() shared.TurnState {
	return c.state.TurnSnapshot()
}
