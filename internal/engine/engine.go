// Package engine is the GM-authoritative coordinator. Every player action
// enters through Submit, is validated, gated by the turn order, queued when
// the GM is away, classified, and either executed or parked for GM review.
// State only ever changes through a committed delta here.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"virtual-tabletop/internal/action"
	"virtual-tabletop/internal/config"
	"virtual-tabletop/internal/gmwatch"
	"virtual-tabletop/internal/roll"
	"virtual-tabletop/internal/session"
	"virtual-tabletop/internal/shared"
)

// Channel is the slice of the ws hub the engine pushes events through.
type Channel interface {
	Send(sessionID, participantID, event string, payload any) error
	Broadcast(sessionID, event string, payload any, pred func(participantID string) bool)
}

// Engine wires the session registry, roll service, GM monitor and approval
// queue into one action pipeline. It implements gmwatch.Dispatcher,
// action.ChatSender and action.Confirmer.
type Engine struct {
	sessions  *session.Manager
	rolls     *roll.Service
	monitor   *gmwatch.Monitor
	approvals *action.ApprovalQueue
	channel   Channel
	cfg       *config.Config

	confirms confirmTable

	executed atomic.Uint64
	queued   atomic.Uint64
	rejected atomic.Uint64
}

func New(sessions *session.Manager, rolls *roll.Service, monitor *gmwatch.Monitor, approvals *action.ApprovalQueue, channel Channel, cfg *config.Config) *Engine {
	e := &Engine{
		sessions:  sessions,
		rolls:     rolls,
		monitor:   monitor,
		approvals: approvals,
		channel:   channel,
		cfg:       cfg,
	}
	e.confirms.init()
	monitor.SetDispatcher(e)
	sessions.OnDestroy(func(sessionID string) {
		approvals.DropSession(sessionID)
		monitor.Forget(sessionID)
	})
	return e
}

// CreateSession opens a new table and starts watching its GM.
func (e *Engine) CreateSession(gmName, systemName string) (*session.Session, session.Participant, error) {
	s, gm, err := e.sessions.Create(gmName, systemName)
	if err != nil {
		return nil, session.Participant{}, err
	}
	e.monitor.Track(s.ID(), gm.ID)
	return s, gm, nil
}

// Submit runs one action request through the full pipeline. requesterID is
// the authenticated connection identity; an actorId that disagrees with it
// is rejected outright.
func (e *Engine) Submit(sessionID, requesterID string, req shared.ActionRequest) {
	s, ok := e.sessions.Get(sessionID)
	if !ok {
		e.sendAck(sessionID, requesterID, shared.EventActionError, shared.ActionAck{
			ActionID: req.ActionID, Status: "rejected", Reason: "unknown session", Code: shared.CodeValidation,
		})
		return
	}
	if req.ActionID == "" {
		req.ActionID = uuid.NewString()
	}
	if req.ActorID == "" {
		req.ActorID = requesterID
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	// Envelope failures go back to the connection that sent them, whatever
	// actorId it claimed.
	if req.ActionType == "" {
		e.rejected.Add(1)
		e.sendAck(s.ID(), requesterID, shared.EventActionError, shared.ActionAck{
			ActionID: req.ActionID, Status: "rejected", Reason: "actionType is required", Code: shared.CodeValidation,
		})
		return
	}
	if req.ActorID != requesterID {
		e.rejected.Add(1)
		e.sendAck(s.ID(), requesterID, shared.EventActionError, shared.ActionAck{
			ActionID: req.ActionID, Status: "rejected", Reason: "actorId does not match the connection", Code: shared.CodeUnauthorized,
		})
		return
	}
	p, ok := s.Participant(requesterID)
	if !ok {
		e.reject(s.ID(), req, shared.CodeUnauthorized, "not a participant of this session")
		return
	}
	if p.Role == shared.RoleObserver {
		e.reject(s.ID(), req, shared.CodeUnauthorized, "observers cannot act")
		return
	}
	// The GM narrates around the initiative order; players are bound to it.
	if p.Role != shared.RoleGM && !s.Turns().CanAct(req.ActorID, req.ActionType) {
		e.reject(s.ID(), req, shared.CodeUnauthorized, "it is not your turn")
		return
	}

	if e.monitor.ShouldQueue(sessionID) {
		if err := e.monitor.Enqueue(sessionID, req); err != nil {
			e.reject(s.ID(), req, shared.CodeGMUnavailable, "gm is offline and the queue is full")
			return
		}
		e.queued.Add(1)
		log.Printf("action %s (%s) queued for session %s: gm unavailable", req.ActionID, req.ActionType, sessionID)
		e.sendAck(sessionID, requesterID, shared.EventActionQueued, shared.ActionAck{
			ActionID: req.ActionID, Status: "queued", Reason: "gm unavailable", Code: shared.CodeGMUnavailable,
		})
		return
	}
	e.process(s, req)
}

// Replay pushes a queued action back through classification once the GM has
// returned. It errors only when the GM dropped again mid-drain; a replayed
// action that ends up rejected still counts as delivered.
func (e *Engine) Replay(sessionID string, req shared.ActionRequest) error {
	s, ok := e.sessions.Get(sessionID)
	if !ok {
		// Session destroyed while actions were queued; nothing to replay into.
		return nil
	}
	if !e.monitor.GMConnected(sessionID) {
		return errors.New("gm unavailable")
	}
	e.process(s, req)
	return nil
}

// process classifies the action and routes it: automatic actions execute
// immediately, everything else waits for the GM.
func (e *Engine) process(s *session.Session, req shared.ActionRequest) {
	level := action.Classify(req.ActionType, s.Overrides(), s.System())
	if level == shared.LevelAutomatic {
		go e.execute(s, req, req.Payload)
		return
	}

	preview, err := s.System().PreviewAction(req.ActionType, req.Payload)
	if err != nil {
		log.Printf("preview of action %s failed: %v", req.ActionID, err)
		preview = nil
	}
	pending := &action.Pending{
		SessionID:  s.ID(),
		Request:    req,
		Level:      level,
		Preview:    preview,
		ReceivedAt: time.Now(),
	}
	e.approvals.Add(pending)
	e.sendAck(s.ID(), req.ActorID, shared.EventActionQueued, shared.ActionAck{
		ActionID: req.ActionID, Status: "pending-approval",
	})
	if gm := s.GM(); gm != "" {
		if err := e.channel.Send(s.ID(), gm, shared.EventApprovalPending, pendingToWire(*pending)); err != nil {
			// The GM still finds it via the pending-approvals listing.
			log.Printf("could not surface pending action %s to gm: %v", req.ActionID, err)
		}
	}
}

// HandleDecision applies the GM's verdict on a pending action.
func (e *Engine) HandleDecision(sessionID, deciderID string, d shared.ApprovalDecision) {
	s, ok := e.sessions.Get(sessionID)
	if !ok {
		return
	}
	if s.GM() != deciderID {
		e.sendAck(sessionID, deciderID, shared.EventActionError, shared.ActionAck{
			ActionID: d.ActionID, Status: "rejected", Reason: "only the gm decides approvals", Code: shared.CodeUnauthorized,
		})
		return
	}
	p, ok := e.approvals.Take(d.ActionID)
	if ok && p.SessionID != sessionID {
		e.approvals.Add(p)
		ok = false
	}
	if !ok {
		e.sendAck(sessionID, deciderID, shared.EventActionError, shared.ActionAck{
			ActionID: d.ActionID, Status: "rejected", Reason: "unknown or already decided action", Code: shared.CodeValidation,
		})
		return
	}

	switch d.Decision {
	case shared.DecisionApprove:
		go e.execute(s, p.Request, p.Request.Payload)
	case shared.DecisionModify:
		payload := d.Payload
		if len(payload) == 0 {
			payload = p.Request.Payload
		}
		log.Printf("action %s approved with gm modifications", d.ActionID)
		go e.execute(s, p.Request, payload)
	case shared.DecisionReject:
		reason := d.Reason
		if reason == "" {
			reason = "rejected by gm"
		}
		e.rejected.Add(1)
		e.sendAck(sessionID, p.Request.ActorID, shared.EventActionError, shared.ActionAck{
			ActionID: p.Request.ActionID, Status: "rejected", Reason: reason,
		})
	default:
		e.approvals.Add(p)
		e.sendAck(sessionID, deciderID, shared.EventActionError, shared.ActionAck{
			ActionID: d.ActionID, Status: "rejected", Reason: "unknown decision " + d.Decision, Code: shared.CodeValidation,
		})
	}
}

// execute runs the game-system handler for an action and commits its delta.
// Handler failures, including panics, become rejection acks; they never take
// the engine down or leave state half-applied.
func (e *Engine) execute(s *session.Session, req shared.ActionRequest, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("handler for action %s panicked: %v", req.ActionID, r)
			e.reject(s.ID(), req, shared.CodeHandlerFailed, "action handler crashed")
		}
	}()

	h, ok := s.System().ActionHandler(req.ActionType)
	if !ok {
		e.reject(s.ID(), req, shared.CodeHandlerFailed, "no handler for action type "+req.ActionType)
		return
	}

	actx := action.NewContext(s.ID(), req.ActorID, e.rolls, e, e, s, e.cfg.RollTimeout)
	delta, err := h(context.Background(), actx, payload)
	if err != nil {
		e.reject(s.ID(), req, rejectionCode(err), err.Error())
		return
	}

	e.executed.Add(1)
	e.sendAck(s.ID(), req.ActorID, shared.EventActionExecuted, shared.ActionAck{
		ActionID: req.ActionID, Status: "executed",
	})
	if len(delta) == 0 {
		return
	}
	version := s.Commit(delta)
	e.sessions.Persist(s)
	log.Printf("action %s (%s) committed as version %d of session %s", req.ActionID, req.ActionType, version, s.ID())
	e.broadcastState(s)
}

func rejectionCode(err error) string {
	switch {
	case errors.Is(err, roll.ErrRollTimeout):
		return shared.CodeRollTimeout
	case errors.Is(err, roll.ErrRollerDisconnected):
		return shared.CodeRollerDisconnected
	case errors.Is(err, ErrGMUnavailable), errors.Is(err, ErrConfirmTimeout):
		return shared.CodeGMUnavailable
	}
	return shared.CodeHandlerFailed
}

// broadcastState pushes one permission-filtered state:update per connected
// participant. A nil filtered view suppresses the update for that viewer.
func (e *Engine) broadcastState(s *session.Session) {
	doc, version := s.StateSnapshot()
	for _, p := range s.Participants() {
		if !p.Connected {
			continue
		}
		view := s.System().FilterState(doc, p.ID, p.Role)
		if view == nil {
			continue
		}
		if err := e.channel.Send(s.ID(), p.ID, shared.EventStateUpdate, shared.StateUpdate{Version: version, View: view}); err != nil {
			log.Printf("state update to %s failed: %v", p.ID, err)
		}
	}
}

// sendFullState delivers the complete filtered document to one participant,
// for onboarding and resync.
func (e *Engine) sendFullState(s *session.Session, participantID, event string) {
	p, ok := s.Participant(participantID)
	if !ok {
		return
	}
	doc, version := s.StateSnapshot()
	view := s.System().FilterState(doc, p.ID, p.Role)
	if err := e.channel.Send(s.ID(), p.ID, event, shared.StateUpdate{Version: version, View: view}); err != nil {
		log.Printf("full state to %s failed: %v", p.ID, err)
	}
}

// SendChat relays a chat line. A whisper reaches the target, the sender and
// the GM; the GM always sees table traffic.
func (e *Engine) SendChat(sessionID string, msg shared.ChatMessage) error {
	s, ok := e.sessions.Get(sessionID)
	if !ok {
		return session.ErrSessionNotFound
	}
	gm := s.GM()
	e.channel.Broadcast(sessionID, shared.EventChatMessage, msg, func(participantID string) bool {
		if msg.To == "" {
			return true
		}
		return participantID == msg.To || participantID == msg.From || participantID == gm
	})
	return nil
}

// StaleLoop periodically flags pending approvals that the GM has sat on and
// reminds them. Stale entries are never auto-decided.
func (e *Engine) StaleLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, p := range e.approvals.FlagStale(e.cfg.ApprovalStaleAfter, now) {
				s, ok := e.sessions.Get(p.SessionID)
				if !ok || s.GM() == "" {
					continue
				}
				log.Printf("action %s pending since %s is stale", p.Request.ActionID, p.ReceivedAt.Format(time.RFC3339))
				if err := e.channel.Send(p.SessionID, s.GM(), shared.EventApprovalStale, pendingToWire(p)); err != nil {
					log.Printf("stale reminder to gm of session %s failed: %v", p.SessionID, err)
				}
			}
		}
	}
}

func (e *Engine) reject(sessionID string, req shared.ActionRequest, code, reason string) {
	e.rejected.Add(1)
	log.Printf("action %s (%s) rejected: %s", req.ActionID, req.ActionType, reason)
	e.sendAck(sessionID, req.ActorID, shared.EventActionError, shared.ActionAck{
		ActionID: req.ActionID, Status: "rejected", Reason: reason, Code: code,
	})
}

func (e *Engine) sendAck(sessionID, participantID, event string, ack shared.ActionAck) {
	if err := e.channel.Send(sessionID, participantID, event, ack); err != nil {
		log.Printf("ack %s to %s failed: %v", event, participantID, err)
	}
}

func pendingToWire(p action.Pending) shared.ApprovalPending {
	return shared.ApprovalPending{
		ActionID:    p.Request.ActionID,
		RequesterID: p.Request.ActorID,
		ActionType:  p.Request.ActionType,
		Level:       p.Level,
		Preview:     p.Preview,
		Stale:       p.Stale,
	}
}

// Stats is a point-in-time activity summary for the status endpoint.
type Stats struct {
	ActionsExecuted uint64 `json:"actionsExecuted"`
	ActionsQueued   uint64 `json:"actionsQueued"`
	ActionsRejected uint64 `json:"actionsRejected"`
	PendingRolls    int    `json:"pendingRolls"`
	ActiveSessions  int    `json:"activeSessions"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		ActionsExecuted: e.executed.Load(),
		ActionsQueued:   e.queued.Load(),
		ActionsRejected: e.rejected.Load(),
		PendingRolls:    e.rolls.PendingCount(),
		ActiveSessions:  e.sessions.Count(),
	}
}

// QueuedActions reports how many actions await the GM's return.
func (e *Engine) QueuedActions(sessionID string) int {
	return e.monitor.QueueLen(sessionID)
}

// PendingApprovals lists a session's queue for the HTTP surface.
func (e *Engine) PendingApprovals(sessionID string) []shared.ApprovalPending {
	list := e.approvals.List(sessionID)
	out := make([]shared.ApprovalPending, len(list))
	for i, p := range list {
		out[i] = pendingToWire(p)
	}
	return out
}
