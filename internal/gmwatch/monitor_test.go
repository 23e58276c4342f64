package gmwatch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"virtual-tabletop/internal/shared"
)

type fakeChannel struct {
	mu         sync.Mutex
	sent       []string // "participant:event"
	broadcasts []string // "session:event"
}

func (f *fakeChannel) Send(sessionID, participantID, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, participantID+":"+event)
	return nil
}

func (f *fakeChannel) Broadcast(sessionID, event string, payload any, pred func(string) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, sessionID+":"+event)
}

func (f *fakeChannel) broadcastCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.broadcasts {
		if b == key {
			n++
		}
	}
	return n
}

type fakeDispatcher struct {
	mu       sync.Mutex
	replayed []string
	failFrom int // fail replays once len(replayed) reaches this, -1 never
}

func (f *fakeDispatcher) Replay(sessionID string, req shared.ActionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFrom >= 0 && len(f.replayed) >= f.failFrom {
		return errors.New("gm went away again")
	}
	f.replayed = append(f.replayed, req.ActionID)
	return nil
}

func (f *fakeDispatcher) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replayed...)
}

func newTestMonitor(d Dispatcher) (*Monitor, *fakeChannel) {
	ch := &fakeChannel{}
	m := NewMonitor(ch, 5*time.Millisecond, 10*time.Millisecond, 3, 16)
	m.SetDispatcher(d)
	return m, ch
}

func action(id string) shared.ActionRequest {
	return shared.ActionRequest{ActionID: id, ActorID: "p1", ActionType: "move", Timestamp: time.Now()}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestQueueAndReplayInArrivalOrder(t *testing.T) {
	disp := &fakeDispatcher{failFrom: -1}
	m, _ := newTestMonitor(disp)
	m.Track("s1", "gm")

	if m.GMConnected("s1") {
		t.Fatal("gm considered connected before any connect event")
	}
	for _, id := range []string{"a1", "a2", "a3"} {
		if err := m.Enqueue("s1", action(id)); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}
	if m.QueueLen("s1") != 3 {
		t.Fatalf("QueueLen = %d, want 3", m.QueueLen("s1"))
	}

	m.HandleConnect("s1", "gm")
	waitFor(t, func() bool { return m.QueueLen("s1") == 0 })

	got := disp.ids()
	want := []string{"a1", "a2", "a3"}
	if len(got) != len(want) {
		t.Fatalf("replayed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("replayed %v, want %v (order must be preserved)", got, want)
		}
	}
}

func TestReplayFailureKeepsRemainingQueued(t *testing.T) {
	disp := &fakeDispatcher{failFrom: 1}
	m, _ := newTestMonitor(disp)
	m.Track("s1", "gm")

	m.Enqueue("s1", action("a1"))
	m.Enqueue("s1", action("a2"))
	m.Enqueue("s1", action("a3"))

	m.HandleConnect("s1", "gm")
	waitFor(t, func() bool { return m.QueueLen("s1") == 2 })

	// Only a1 was submitted; a2 and a3 survive for the next reconnect.
	if got := disp.ids(); len(got) != 1 || got[0] != "a1" {
		t.Fatalf("replayed %v, want [a1]", got)
	}

	disp.mu.Lock()
	disp.failFrom = -1
	disp.mu.Unlock()
	m.HandleDisconnect("s1", "gm")
	m.HandleConnect("s1", "gm")
	waitFor(t, func() bool { return m.QueueLen("s1") == 0 })
	if got := disp.ids(); len(got) != 3 || got[1] != "a2" || got[2] != "a3" {
		t.Fatalf("after second drain replayed %v, want [a1 a2 a3]", got)
	}
}

func TestQueueCap(t *testing.T) {
	ch := &fakeChannel{}
	m := NewMonitor(ch, time.Minute, time.Minute, 3, 2)
	m.Track("s1", "gm")
	m.Enqueue("s1", action("a1"))
	m.Enqueue("s1", action("a2"))
	if err := m.Enqueue("s1", action("a3")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue over cap = %v, want ErrQueueFull", err)
	}
	if err := m.Enqueue("nope", action("a1")); !errors.Is(err, ErrUntracked) {
		t.Errorf("Enqueue untracked = %v, want ErrUntracked", err)
	}
}

func TestHeartbeatMissesDemoteGM(t *testing.T) {
	disp := &fakeDispatcher{failFrom: -1}
	m, ch := newTestMonitor(disp)
	m.Track("s1", "gm")
	m.HandleConnect("s1", "gm")

	now := time.Now()
	// Each tick pings and counts a miss; the GM never pongs.
	for i := 0; i < 4; i++ {
		m.tick(now.Add(time.Duration(i) * time.Second))
	}
	if m.GMConnected("s1") {
		t.Fatal("gm still connected after missing all pongs")
	}
	if ch.broadcastCount("s1:"+shared.EventGMUnavailable) == 0 {
		t.Error("no gm-unavailable broadcast after heartbeat loss")
	}

	// While down, players get periodic outage notices.
	before := ch.broadcastCount("s1:" + shared.EventGMUnavailable)
	m.tick(now.Add(time.Hour))
	if ch.broadcastCount("s1:"+shared.EventGMUnavailable) != before+1 {
		t.Error("no periodic outage notice while gm is down")
	}
}

func TestPongResetsMissCounter(t *testing.T) {
	disp := &fakeDispatcher{failFrom: -1}
	m, _ := newTestMonitor(disp)
	m.Track("s1", "gm")
	m.HandleConnect("s1", "gm")

	now := time.Now()
	for i := 0; i < 10; i++ {
		m.tick(now.Add(time.Duration(i) * time.Second))
		m.Pong("s1", "gm")
	}
	if !m.GMConnected("s1") {
		t.Error("gm demoted despite answering every ping")
	}
}

func TestShouldQueueDuringDrain(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	d := replayFunc(func(sessionID string, req shared.ActionRequest) error {
		started <- struct{}{}
		<-block
		return nil
	})
	ch := &fakeChannel{}
	m := NewMonitor(ch, time.Minute, time.Minute, 3, 16)
	m.SetDispatcher(d)
	m.Track("s1", "gm")
	m.Enqueue("s1", action("a1"))

	m.HandleConnect("s1", "gm")
	<-started
	// GM is back, but the backlog is still draining: new arrivals must be
	// appended behind it, not classified directly.
	if !m.ShouldQueue("s1") {
		t.Error("ShouldQueue = false during drain")
	}
	close(block)
	waitFor(t, func() bool { return !m.ShouldQueue("s1") })
}

type replayFunc func(sessionID string, req shared.ActionRequest) error

func (f replayFunc) Replay(sessionID string, req shared.ActionRequest) error {
	return f(sessionID, req)
}
