package action

import (
	"encoding/json"
	"sync"
	"time"

	"virtual-tabletop/internal/shared"
)

// Pending is an action awaiting a GM decision.
type Pending struct {
	SessionID  string
	Request    shared.ActionRequest
	Level      shared.Level
	Preview    json.RawMessage
	ReceivedAt time.Time
	Stale      bool
}

// ApprovalQueue holds actions awaiting GM review in arrival order. Entries
// left unresolved past the stale window are flagged, never auto-approved;
// auto-approval is not a thing this queue can do.
type ApprovalQueue struct {
	mu    sync.Mutex
	items map[string]*Pending
	order []string
}

func NewApprovalQueue() *ApprovalQueue {
	return &ApprovalQueue{items: map[string]*Pending{}}
}

func (q *ApprovalQueue) Add(p *Pending) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[p.Request.ActionID]; ok {
		return
	}
	q.items[p.Request.ActionID] = p
	q.order = append(q.order, p.Request.ActionID)
}

// Take removes and returns the pending action, consuming it exactly once.
func (q *ApprovalQueue) Take(actionID string) (*Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.items[actionID]
	if !ok {
		return nil, false
	}
	delete(q.items, actionID)
	for i, id := range q.order {
		if id == actionID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return p, true
}

// List returns the session's pending actions in arrival order.
func (q *ApprovalQueue) List(sessionID string) []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Pending
	for _, id := range q.order {
		if p := q.items[id]; p != nil && p.SessionID == sessionID {
			out = append(out, *p)
		}
	}
	return out
}

func (q *ApprovalQueue) Count(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range q.items {
		if p.SessionID == sessionID {
			n++
		}
	}
	return n
}

// FlagStale marks entries older than the window and returns the ones that
// just became stale so the engine can notify the GM once per entry.
func (q *ApprovalQueue) FlagStale(olderThan time.Duration, now time.Time) []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	var newlyStale []Pending
	for _, p := range q.items {
		if !p.Stale && now.Sub(p.ReceivedAt) > olderThan {
			p.Stale = true
			newlyStale = append(newlyStale, *p)
		}
	}
	return newlyStale
}

// DropSession discards every pending action of a destroyed session.
func (q *ApprovalQueue) DropSession(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.order[:0]
	for _, id := range q.order {
		if p := q.items[id]; p != nil && p.SessionID == sessionID {
			delete(q.items, id)
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}
