package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"virtual-tabletop/internal/session"
	"virtual-tabletop/internal/shared"
)

var (
	// ErrGMUnavailable reports that no GM connection exists to ask.
	ErrGMUnavailable = errors.New("gm is not connected")
	// ErrConfirmTimeout reports that the GM never answered the prompt.
	ErrConfirmTimeout = errors.New("gm confirmation timed out")
)

// confirmTable correlates mid-action yes/no prompts to GM answers, same
// waiter discipline as the roll service: buffered channel, one settle,
// removal under the lock.
type confirmTable struct {
	mu      sync.Mutex
	waiters map[string]*confirmWaiter
}

type confirmWaiter struct {
	sessionID string
	ch        chan bool
}

func (t *confirmTable) init() {
	t.waiters = make(map[string]*confirmWaiter)
}

func (t *confirmTable) add(id string, w *confirmWaiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waiters[id] = w
}

// take removes the waiter so at most one party ever settles it.
func (t *confirmTable) take(id, sessionID string) (*confirmWaiter, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.waiters[id]
	if !ok || (sessionID != "" && w.sessionID != sessionID) {
		return nil, false
	}
	delete(t.waiters, id)
	return w, true
}

// RequestGMConfirmation asks the session's GM a yes/no question and blocks
// until they answer, the confirmation window expires, or ctx is done. An
// absent GM fails immediately rather than hanging the calling handler.
func (e *Engine) RequestGMConfirmation(ctx context.Context, sessionID, prompt string) (bool, error) {
	s, ok := e.sessions.Get(sessionID)
	if !ok {
		return false, session.ErrSessionNotFound
	}
	gm := s.GM()
	if gm == "" || !e.monitor.GMConnected(sessionID) {
		return false, ErrGMUnavailable
	}

	id := uuid.NewString()
	w := &confirmWaiter{sessionID: sessionID, ch: make(chan bool, 1)}
	e.confirms.add(id, w)

	if err := e.channel.Send(sessionID, gm, shared.EventGMConfirm, shared.GMConfirm{ConfirmID: id, Prompt: prompt}); err != nil {
		e.confirms.take(id, sessionID)
		return false, ErrGMUnavailable
	}

	timer := time.NewTimer(e.cfg.ConfirmTimeout)
	defer timer.Stop()
	select {
	case approved := <-w.ch:
		return approved, nil
	case <-timer.C:
		if _, live := e.confirms.take(id, sessionID); !live {
			// Settled just before the deadline; the answer is on the channel.
			return <-w.ch, nil
		}
		return false, ErrConfirmTimeout
	case <-ctx.Done():
		if _, live := e.confirms.take(id, sessionID); !live {
			return <-w.ch, nil
		}
		return false, ctx.Err()
	}
}

// HandleConfirmResponse resolves a pending confirmation. Answers from anyone
// but the session's GM, or for unknown confirmIds, are ignored.
func (e *Engine) HandleConfirmResponse(sessionID, participantID string, resp shared.GMConfirmResponse) {
	s, ok := e.sessions.Get(sessionID)
	if !ok {
		return
	}
	if s.GM() != participantID {
		log.Printf("ignoring confirmation %s from non-gm %s", resp.ConfirmID, participantID)
		return
	}
	w, ok := e.confirms.take(resp.ConfirmID, sessionID)
	if !ok {
		log.Printf("ignoring confirmation for unknown or settled prompt %s", resp.ConfirmID)
		return
	}
	w.ch <- resp.Approved
}
