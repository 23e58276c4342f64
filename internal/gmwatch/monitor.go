// Package gmwatch detects loss of the GM connection, queues player actions
// during the outage and replays them in arrival order on reconnection.
package gmwatch

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"virtual-tabletop/internal/shared"
)

var (
	// ErrQueueFull reports the per-session outage queue cap was hit.
	ErrQueueFull = errors.New("gm outage queue is full")
	// ErrUntracked reports the session has no tracked GM.
	ErrUntracked = errors.New("session is not tracked")
)

// Channel is the slice of the ws hub the monitor needs.
type Channel interface {
	Send(sessionID, participantID, event string, payload any) error
	Broadcast(sessionID, event string, payload any, pred func(participantID string) bool)
}

// Dispatcher replays a queued action through normal classification. It must
// return an error only when the GM became unavailable again; a replayed
// action that ends up rejected still counts as successfully submitted.
type Dispatcher interface {
	Replay(sessionID string, req shared.ActionRequest) error
}

type gmState struct {
	gmID       string
	connected  bool
	missed     int
	lastNotice time.Time
	queue      []shared.ActionRequest
	draining   bool
}

// Monitor watches one GM connection per session via application-level
// heartbeats. Missing maxMisses consecutive pongs is treated identically to
// an explicit disconnect, covering silent network failures the transport
// cannot see.
type Monitor struct {
	mu         sync.Mutex
	sessions   map[string]*gmState
	channel    Channel
	dispatcher Dispatcher

	interval  time.Duration
	noticeGap time.Duration
	maxMisses int
	maxQueued int
}

func NewMonitor(channel Channel, interval, noticeGap time.Duration, maxMisses, maxQueued int) *Monitor {
	return &Monitor{
		sessions:  map[string]*gmState{},
		channel:   channel,
		interval:  interval,
		noticeGap: noticeGap,
		maxMisses: maxMisses,
		maxQueued: maxQueued,
	}
}

// SetDispatcher wires the replay target. Set once at startup, before any
// connection events arrive.
func (m *Monitor) SetDispatcher(d Dispatcher) { m.dispatcher = d }

// Track starts watching the session's GM. The GM is considered disconnected
// until its first connect event.
func (m *Monitor) Track(sessionID, gmParticipantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = &gmState{gmID: gmParticipantID}
}

// Forget drops all tracking state for a destroyed session.
func (m *Monitor) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// GMConnected reports whether the session's GM is currently reachable.
func (m *Monitor) GMConnected(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	return ok && st.connected
}

// ShouldQueue reports whether new player actions must be queued instead of
// classified: during an outage, and during the replay drain so fresh
// arrivals land after the queued backlog instead of interleaving with it.
func (m *Monitor) ShouldQueue(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	return ok && (!st.connected || st.draining)
}

// Enqueue captures an action submitted while the GM is away.
func (m *Monitor) Enqueue(sessionID string, req shared.ActionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return ErrUntracked
	}
	if len(st.queue) >= m.maxQueued {
		return ErrQueueFull
	}
	st.queue = append(st.queue, req)
	return nil
}

// QueueLen reports how many actions await the GM's return.
func (m *Monitor) QueueLen(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(st.queue)
}

// HandleConnect processes a participant connect event. A returning GM
// flips the session back to available and kicks off the replay drain.
func (m *Monitor) HandleConnect(sessionID, participantID string) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if !ok || st.gmID != participantID {
		m.mu.Unlock()
		return
	}
	wasDown := !st.connected
	st.connected = true
	st.missed = 0
	backlog := len(st.queue)
	m.mu.Unlock()

	if wasDown {
		log.Printf("gm %s reconnected to session %s, %d queued actions", participantID, sessionID, backlog)
		m.channel.Broadcast(sessionID, shared.EventGMAvailable, shared.ActionAck{Status: "gm-online"}, nil)
		go m.drain(sessionID)
	}
}

// HandleDisconnect processes a participant disconnect event.
func (m *Monitor) HandleDisconnect(sessionID, participantID string) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if !ok || st.gmID != participantID || !st.connected {
		m.mu.Unlock()
		return
	}
	st.connected = false
	st.missed = 0
	st.lastNotice = time.Time{}
	m.mu.Unlock()
	log.Printf("gm %s disconnected from session %s, queueing actions", participantID, sessionID)
}

// Pong records a heartbeat answer from the GM.
func (m *Monitor) Pong(sessionID, participantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if ok && st.gmID == participantID {
		st.missed = 0
	}
}

// Run drives heartbeats and outage notices until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(time.Now())
		}
	}
}

// tick pings every connected GM, demotes the silent ones and reminds
// players of ongoing outages.
func (m *Monitor) tick(now time.Time) {
	type ping struct{ sessionID, gmID string }
	type notice struct{ sessionID string }
	var pings []ping
	var notices []notice
	var lost []string

	m.mu.Lock()
	for sessionID, st := range m.sessions {
		if st.connected {
			if st.missed >= m.maxMisses {
				st.connected = false
				st.missed = 0
				st.lastNotice = time.Time{}
				lost = append(lost, sessionID)
				continue
			}
			st.missed++
			pings = append(pings, ping{sessionID, st.gmID})
		} else if st.lastNotice.IsZero() || now.Sub(st.lastNotice) >= m.noticeGap {
			st.lastNotice = now
			notices = append(notices, notice{sessionID})
		}
	}
	m.mu.Unlock()

	for _, s := range lost {
		log.Printf("gm heartbeat lost for session %s after %d missed pongs", s, m.maxMisses)
		m.channel.Broadcast(s, shared.EventGMUnavailable, shared.ActionAck{Status: "gm-offline", Reason: "gm connection lost"}, nil)
	}
	for _, p := range pings {
		if err := m.channel.Send(p.sessionID, p.gmID, shared.EventHeartbeatPing, shared.Heartbeat{Timestamp: now.UnixMilli()}); err != nil {
			log.Printf("heartbeat ping to gm of session %s failed: %v", p.sessionID, err)
		}
	}
	for _, n := range notices {
		m.channel.Broadcast(n.sessionID, shared.EventGMUnavailable, shared.ActionAck{Status: "gm-offline", Reason: "gm is disconnected, actions are being queued"}, nil)
	}
}

// drain replays the outage queue head-first. An entry is removed only after
// its replay submission succeeded, so a crash mid-replay cannot silently
// drop actions. Arrivals during the drain land at the tail and are replayed
// in the same pass.
func (m *Monitor) drain(sessionID string) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if !ok || st.draining {
		m.mu.Unlock()
		return
	}
	st.draining = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if st, ok := m.sessions[sessionID]; ok {
			st.draining = false
		}
		m.mu.Unlock()
	}()

	for {
		m.mu.Lock()
		st, ok := m.sessions[sessionID]
		if !ok || !st.connected || len(st.queue) == 0 {
			m.mu.Unlock()
			return
		}
		head := st.queue[0]
		m.mu.Unlock()

		if err := m.dispatcher.Replay(sessionID, head); err != nil {
			log.Printf("replay of action %s paused for session %s: %v", head.ActionID, sessionID, err)
			return
		}

		m.mu.Lock()
		if st, ok := m.sessions[sessionID]; ok && len(st.queue) > 0 && st.queue[0].ActionID == head.ActionID {
			st.queue = st.queue[1:]
		}
		m.mu.Unlock()
	}
}
