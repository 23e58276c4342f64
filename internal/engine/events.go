package engine

import (
	"encoding/json"
	"log"
	"time"

	"virtual-tabletop/internal/session"
	"virtual-tabletop/internal/shared"
)

// The Handle*Event methods decode inbound websocket frames and feed the
// pipeline. Their signatures match the hub's handler type so main can wire
// them directly to event names.

func (e *Engine) HandleActionEvent(sessionID, participantID string, payload json.RawMessage) {
	var req shared.ActionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		e.sendAck(sessionID, participantID, shared.EventActionError, shared.ActionAck{
			Status: "rejected", Reason: "malformed action request", Code: shared.CodeValidation,
		})
		return
	}
	e.Submit(sessionID, participantID, req)
}

func (e *Engine) HandleRollResponseEvent(sessionID, participantID string, payload json.RawMessage) {
	var resp shared.RollResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		e.sendAck(sessionID, participantID, shared.EventRollRequestError, shared.ActionAck{
			Status: "rejected", Reason: "malformed roll response", Code: shared.CodeValidation,
		})
		return
	}
	e.rolls.HandleResponse(sessionID, participantID, resp)
}

func (e *Engine) HandleHeartbeatPongEvent(sessionID, participantID string, _ json.RawMessage) {
	e.monitor.Pong(sessionID, participantID)
	if s, ok := e.sessions.Get(sessionID); ok {
		s.MarkHeartbeat(participantID, time.Now())
	}
}

func (e *Engine) HandleConfirmResponseEvent(sessionID, participantID string, payload json.RawMessage) {
	var resp shared.GMConfirmResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		log.Printf("malformed confirmation from %s: %v", participantID, err)
		return
	}
	e.HandleConfirmResponse(sessionID, participantID, resp)
}

func (e *Engine) HandleApprovalDecisionEvent(sessionID, participantID string, payload json.RawMessage) {
	var d shared.ApprovalDecision
	if err := json.Unmarshal(payload, &d); err != nil {
		e.sendAck(sessionID, participantID, shared.EventActionError, shared.ActionAck{
			Status: "rejected", Reason: "malformed approval decision", Code: shared.CodeValidation,
		})
		return
	}
	e.HandleDecision(sessionID, participantID, d)
}

// HandleChatEvent relays table chat. The sender identity comes from the
// connection, never from the message body.
func (e *Engine) HandleChatEvent(sessionID, participantID string, payload json.RawMessage) {
	var msg shared.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("malformed chat from %s: %v", participantID, err)
		return
	}
	msg.From = participantID
	if err := e.SendChat(sessionID, msg); err != nil {
		log.Printf("chat relay for session %s failed: %v", sessionID, err)
	}
}

func (e *Engine) HandleResyncEvent(sessionID, participantID string, _ json.RawMessage) {
	s, ok := e.sessions.Get(sessionID)
	if !ok {
		return
	}
	e.sendFullState(s, participantID, shared.EventStateFull)
}

func (e *Engine) HandleTurnStartEvent(sessionID, participantID string, _ json.RawMessage) {
	s, ok := e.gmOnly(sessionID, participantID, "turn control")
	if !ok {
		return
	}
	state, err := s.Turns().Start(s.PlayerIDs())
	if err != nil {
		e.sendAck(sessionID, participantID, shared.EventActionError, shared.ActionAck{
			Status: "rejected", Reason: err.Error(), Code: shared.CodeStateConflict,
		})
		return
	}
	log.Printf("turn order started for session %s with %d participants", sessionID, len(state.Participants))
	e.channel.Broadcast(sessionID, shared.EventTurnUpdate, state, nil)
}

func (e *Engine) HandleTurnAdvanceEvent(sessionID, participantID string, _ json.RawMessage) {
	s, ok := e.gmOnly(sessionID, participantID, "turn control")
	if !ok {
		return
	}
	state, err := s.Turns().Advance()
	if err != nil {
		e.sendAck(sessionID, participantID, shared.EventActionError, shared.ActionAck{
			Status: "rejected", Reason: err.Error(), Code: shared.CodeStateConflict,
		})
		return
	}
	e.channel.Broadcast(sessionID, shared.EventTurnUpdate, state, nil)
}

func (e *Engine) HandleTurnReorderEvent(sessionID, participantID string, payload json.RawMessage) {
	s, ok := e.gmOnly(sessionID, participantID, "turn control")
	if !ok {
		return
	}
	var body struct {
		Order []string `json:"order"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		e.sendAck(sessionID, participantID, shared.EventActionError, shared.ActionAck{
			Status: "rejected", Reason: "malformed reorder request", Code: shared.CodeValidation,
		})
		return
	}
	state, err := s.Turns().Reorder(body.Order)
	if err != nil {
		e.sendAck(sessionID, participantID, shared.EventActionError, shared.ActionAck{
			Status: "rejected", Reason: err.Error(), Code: shared.CodeStateConflict,
		})
		return
	}
	e.channel.Broadcast(sessionID, shared.EventTurnUpdate, state, nil)
}

func (e *Engine) gmOnly(sessionID, participantID, what string) (*session.Session, bool) {
	s, ok := e.sessions.Get(sessionID)
	if !ok {
		return nil, false
	}
	if s.GM() != participantID {
		e.sendAck(sessionID, participantID, shared.EventActionError, shared.ActionAck{
			Status: "rejected", Reason: "only the gm has " + what, Code: shared.CodeUnauthorized,
		})
		return nil, false
	}
	return s, true
}

// ParticipantConnected is the hub's connect notification. It flips liveness,
// lets the GM monitor react and onboards the connection with a full filtered
// state view.
func (e *Engine) ParticipantConnected(sessionID, participantID, connectionID string) {
	s, ok := e.sessions.Get(sessionID)
	if !ok {
		return
	}
	if err := s.SetConnected(participantID, connectionID, true); err != nil {
		log.Printf("connect of unknown participant %s: %v", participantID, err)
		return
	}
	e.monitor.HandleConnect(sessionID, participantID)
	if p, ok := s.Participant(participantID); ok {
		e.channel.Broadcast(sessionID, shared.EventParticipantConnected, p, func(id string) bool {
			return id != participantID
		})
	}
	e.sendFullState(s, participantID, shared.EventSessionJoined)
}

// ParticipantDisconnected cancels the participant's pending rolls so blocked
// handlers settle instead of waiting out their timeouts.
func (e *Engine) ParticipantDisconnected(sessionID, participantID, connectionID string) {
	s, ok := e.sessions.Get(sessionID)
	if !ok {
		return
	}
	if err := s.SetConnected(participantID, "", false); err != nil {
		return
	}
	e.rolls.CancelParticipant(sessionID, participantID)
	e.monitor.HandleDisconnect(sessionID, participantID)
	if p, ok := s.Participant(participantID); ok {
		e.channel.Broadcast(sessionID, shared.EventParticipantDisconnected, p, nil)
	}
}
