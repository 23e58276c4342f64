// Package roll turns "send a dice prompt to player X, await their result"
// into a single blocking call with timeout and cancellation. Pending rolls
// are tracked in an explicit waiter table keyed by requestId; every terminal
// transition (resolve, timeout, disconnect, cancel) goes through the same
// cleanup path so the table never grows without bound.
package roll

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"virtual-tabletop/internal/dice"
	"virtual-tabletop/internal/shared"
)

var (
	// ErrRollTimeout reports that the target never answered in time.
	ErrRollTimeout = errors.New("roll request timed out")
	// ErrRollerDisconnected reports that the target went away before
	// answering.
	ErrRollerDisconnected = errors.New("target participant disconnected")
)

// Sender delivers an event to one participant. Implemented by the ws hub.
type Sender interface {
	Send(sessionID, participantID, event string, payload any) error
}

// Status classifies how a roll settled.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusTimeout      Status = "timeout"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
)

// Spec describes one roll prompt for a participant.
type Spec struct {
	Prompt         string
	DiceExpression string
	Metadata       map[string]string
}

// Target pairs a participant with the roll asked of them.
type Target struct {
	ParticipantID string
	Spec          Spec
}

// Outcome is the per-target result of a roll request. Failures are data,
// not panics: the awaiting action logic decides whether to retry or abort.
type Outcome struct {
	ParticipantID string            `json:"participantId"`
	Status        Status            `json:"status"`
	Result        shared.RollResult `json:"result,omitempty"`
	Err           error             `json:"-"`
}

type waiter struct {
	requestID     string
	sessionID     string
	participantID string
	spec          dice.Spec
	ch            chan Outcome
	timer         *time.Timer
}

// Service issues roll requests and correlates responses back by requestId.
type Service struct {
	mu             sync.Mutex
	waiters        map[string]*waiter
	sender         Sender
	defaultTimeout time.Duration
}

func NewService(sender Sender, defaultTimeout time.Duration) *Service {
	return &Service{
		waiters:        make(map[string]*waiter),
		sender:         sender,
		defaultTimeout: defaultTimeout,
	}
}

// RequestRoll prompts one participant and blocks until their result arrives,
// the timeout fires, they disconnect, or ctx is done. A timeout of zero uses
// the service default.
func (s *Service) RequestRoll(ctx context.Context, sessionID, participantID string, spec Spec, timeout time.Duration) (shared.RollResult, error) {
	ch, requestID, err := s.dispatch(sessionID, participantID, spec, timeout)
	if err != nil {
		return shared.RollResult{}, err
	}
	select {
	case out := <-ch:
		return out.Result, out.Err
	case <-ctx.Done():
		s.finish(requestID, Outcome{ParticipantID: participantID, Status: StatusFailed, Err: ctx.Err()})
		return shared.RollResult{}, ctx.Err()
	}
}

// RequestMultipleRolls fans a roll out to every target in parallel and waits
// for all of them to settle. The returned slice has exactly one entry per
// target, in target order; one target failing never short-circuits the rest.
// All targets are dispatched before any result is awaited.
func (s *Service) RequestMultipleRolls(ctx context.Context, sessionID string, targets []Target, timeout time.Duration) []Outcome {
	type pending struct {
		ch        chan Outcome
		requestID string
	}
	outcomes := make([]Outcome, len(targets))
	dispatched := make([]pending, len(targets))
	for i, target := range targets {
		ch, requestID, err := s.dispatch(sessionID, target.ParticipantID, target.Spec, timeout)
		if err != nil {
			outcomes[i] = Outcome{ParticipantID: target.ParticipantID, Status: StatusFailed, Err: err}
			continue
		}
		dispatched[i] = pending{ch: ch, requestID: requestID}
	}
	for i, p := range dispatched {
		if p.ch == nil {
			continue
		}
		select {
		case out := <-p.ch:
			outcomes[i] = out
		case <-ctx.Done():
			s.finish(p.requestID, Outcome{ParticipantID: targets[i].ParticipantID, Status: StatusFailed, Err: ctx.Err()})
			outcomes[i] = <-p.ch
		}
	}
	return outcomes
}

// dispatch registers a waiter and sends the prompt. The returned channel is
// buffered; exactly one Outcome will ever be delivered on it.
func (s *Service) dispatch(sessionID, participantID string, spec Spec, timeout time.Duration) (chan Outcome, string, error) {
	parsed, err := dice.Parse(spec.DiceExpression)
	if err != nil {
		return nil, "", err
	}
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	requestID := uuid.NewString()
	w := &waiter{
		requestID:     requestID,
		sessionID:     sessionID,
		participantID: participantID,
		spec:          parsed,
		ch:            make(chan Outcome, 1),
	}
	s.mu.Lock()
	w.timer = time.AfterFunc(timeout, func() {
		if s.finish(requestID, Outcome{ParticipantID: participantID, Status: StatusTimeout, Err: ErrRollTimeout}) {
			log.Printf("roll %s to %s timed out after %s", requestID, participantID, timeout)
		}
	})
	s.waiters[requestID] = w
	s.mu.Unlock()

	err = s.sender.Send(sessionID, participantID, shared.EventRollRequest, shared.RollRequest{
		RequestID:           requestID,
		TargetParticipantID: participantID,
		Prompt:              spec.Prompt,
		DiceExpression:      spec.DiceExpression,
		Metadata:            spec.Metadata,
	})
	if err != nil {
		s.finish(requestID, Outcome{ParticipantID: participantID, Status: StatusDisconnected, Err: ErrRollerDisconnected})
	}
	return w.ch, requestID, nil
}

// HandleResponse resolves the waiter matching the response's requestId. A
// result for an unknown or already-settled requestId is ignored and logged.
// The reported total is never trusted: it is recomputed from the parsed
// expression after validating the raw die values.
func (s *Service) HandleResponse(sessionID, participantID string, resp shared.RollResponse) {
	s.mu.Lock()
	w, ok := s.waiters[resp.RequestID]
	s.mu.Unlock()
	if !ok || w.sessionID != sessionID {
		log.Printf("ignoring roll response for unknown request %s from %s", resp.RequestID, participantID)
		return
	}
	if w.participantID != participantID {
		log.Printf("ignoring roll response for %s from wrong participant %s", resp.RequestID, participantID)
		return
	}
	if err := w.spec.Validate(resp.Results); err != nil {
		// Keep waiting: the target may resubmit a valid result before the
		// timeout fires.
		log.Printf("rejecting malformed roll response for %s: %v", resp.RequestID, err)
		if sendErr := s.sender.Send(sessionID, participantID, shared.EventRollRequestError, shared.ActionAck{
			ActionID: resp.RequestID,
			Status:   "rejected",
			Reason:   err.Error(),
			Code:     shared.CodeValidation,
		}); sendErr != nil {
			log.Printf("failed to notify %s of malformed roll: %v", participantID, sendErr)
		}
		return
	}
	s.finish(resp.RequestID, Outcome{
		ParticipantID: participantID,
		Status:        StatusSuccess,
		Result: shared.RollResult{
			RequestID:     resp.RequestID,
			ParticipantID: participantID,
			Results:       resp.Results,
			Total:         w.spec.Total(resp.Results),
		},
	})
}

// CancelParticipant settles every pending roll targeting the participant
// with a disconnected outcome. Called on participant disconnect.
func (s *Service) CancelParticipant(sessionID, participantID string) {
	s.mu.Lock()
	var ids []string
	for id, w := range s.waiters {
		if w.sessionID == sessionID && w.participantID == participantID {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		if s.finish(id, Outcome{ParticipantID: participantID, Status: StatusDisconnected, Err: ErrRollerDisconnected}) {
			log.Printf("roll %s cancelled: %s disconnected", id, participantID)
		}
	}
}

// PendingCount reports how many rolls are still awaiting a result.
func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// finish is the single cleanup path for every terminal transition. It
// reports false when the waiter already settled, making resolution
// idempotent.
func (s *Service) finish(requestID string, out Outcome) bool {
	s.mu.Lock()
	w, ok := s.waiters[requestID]
	if ok {
		delete(s.waiters, requestID)
		w.timer.Stop()
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if out.Result.RequestID == "" {
		out.Result.RequestID = requestID
		out.Result.ParticipantID = w.participantID
	}
	w.ch <- out
	return true
}
