package ws

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"virtual-tabletop/internal/shared"
)

type fakeResolver struct {
	sessionID    string
	participants map[string]bool
}

func (r *fakeResolver) Resolve(code, participantID string) (string, bool) {
	if code != "GOOD" || !r.participants[participantID] {
		return "", false
	}
	return r.sessionID, true
}

type recordingListener struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
}

func (l *recordingListener) ParticipantConnected(sessionID, participantID, connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, participantID)
}

func (l *recordingListener) ParticipantDisconnected(sessionID, participantID, connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected = append(l.disconnected, participantID)
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.connected), len(l.disconnected)
}

func newTestHub(t *testing.T) (*Hub, *recordingListener, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(&fakeResolver{
		sessionID:    "sess-1",
		participants: map[string]bool{"alice": true, "bob": true},
	})
	listener := &recordingListener{}
	hub.AddListener(listener)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, listener, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, base, code, participant string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"?code="+code+"&participant="+participant, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", participant, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitConnected(t *testing.T, hub *Hub, participantID string, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.IsConnected("sess-1", participantID) == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("IsConnected(%s) never became %v", participantID, want)
}

func TestRejectsUnknownSessionOrParticipant(t *testing.T) {
	_, _, base := newTestHub(t)

	if _, _, err := websocket.DefaultDialer.Dial(base+"?code=BAD&participant=alice", nil); err == nil {
		t.Error("bad code was accepted")
	}
	if _, _, err := websocket.DefaultDialer.Dial(base+"?code=GOOD&participant=mallory", nil); err == nil {
		t.Error("unknown participant was accepted")
	}
	if _, _, err := websocket.DefaultDialer.Dial(base+"?code=GOOD", nil); err == nil {
		t.Error("missing participant was accepted")
	}
}

func TestSendTargetsOneParticipant(t *testing.T) {
	hub, _, base := newTestHub(t)
	alice := dial(t, base, "GOOD", "alice")
	bob := dial(t, base, "GOOD", "bob")
	waitConnected(t, hub, "alice", true)
	waitConnected(t, hub, "bob", true)

	if err := hub.Send("sess-1", "alice", "greeting", shared.ActionAck{Status: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var env shared.Envelope
	if err := alice.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "greeting" {
		t.Errorf("event = %s", env.Event)
	}

	if err := hub.Send("sess-1", "nobody", "greeting", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send to absent participant = %v, want ErrNotConnected", err)
	}

	// Bob got nothing: the next frame he reads is the one addressed to him.
	if err := hub.Send("sess-1", "bob", "direct", shared.ActionAck{Status: "yo"}); err != nil {
		t.Fatal(err)
	}
	if err := bob.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "direct" {
		t.Errorf("bob's first frame = %s, want direct", env.Event)
	}
}

func TestBroadcastHonorsPredicate(t *testing.T) {
	hub, _, base := newTestHub(t)
	alice := dial(t, base, "GOOD", "alice")
	bob := dial(t, base, "GOOD", "bob")
	waitConnected(t, hub, "alice", true)
	waitConnected(t, hub, "bob", true)

	hub.Broadcast("sess-1", "only-alice", nil, func(id string) bool { return id == "alice" })
	hub.Broadcast("sess-1", "everyone", nil, nil)

	var env shared.Envelope
	if err := alice.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "only-alice" {
		t.Errorf("alice's first frame = %s", env.Event)
	}
	if err := bob.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "everyone" {
		t.Errorf("bob's first frame = %s, want everyone", env.Event)
	}
}

func TestInboundFramesDispatchInOrder(t *testing.T) {
	hub, _, base := newTestHub(t)

	var mu sync.Mutex
	var got []string
	hub.OnEvent("echo", func(sessionID, participantID string, payload json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(payload))
	})

	alice := dial(t, base, "GOOD", "alice")
	waitConnected(t, hub, "alice", true)
	for _, n := range []string{`1`, `2`, `3`} {
		if err := alice.WriteJSON(shared.Envelope{Event: "echo", Payload: json.RawMessage(n)}); err != nil {
			t.Fatal(err)
		}
	}
	// Unregistered events are dropped without killing the connection.
	if err := alice.WriteJSON(shared.Envelope{Event: "mystery"}); err != nil {
		t.Fatal(err)
	}
	if err := alice.WriteJSON(shared.Envelope{Event: "echo", Payload: json.RawMessage(`4`)}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 4 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"1", "2", "3", "4"}
	if len(got) != len(want) {
		t.Fatalf("dispatched %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatched %v, want %v", got, want)
		}
	}
}

func TestDisconnectNotifiesListeners(t *testing.T) {
	hub, listener, base := newTestHub(t)
	alice := dial(t, base, "GOOD", "alice")
	waitConnected(t, hub, "alice", true)

	alice.Close()
	waitConnected(t, hub, "alice", false)
	if _, disc := listener.counts(); disc != 1 {
		t.Errorf("disconnect notifications = %d, want 1", disc)
	}
	if err := hub.Send("sess-1", "alice", "late", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after disconnect = %v, want ErrNotConnected", err)
	}
}

func TestReconnectEvictsOldConnection(t *testing.T) {
	hub, listener, base := newTestHub(t)
	dial(t, base, "GOOD", "alice")
	waitConnected(t, hub, "alice", true)
	second := dial(t, base, "GOOD", "alice")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, _ := listener.counts(); conn == 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	// Give the evicted read loop a moment; it must not deregister the
	// replacement or fire a disconnect for it.
	time.Sleep(20 * time.Millisecond)
	if !hub.IsConnected("sess-1", "alice") {
		t.Fatal("replacement connection lost")
	}

	if err := hub.Send("sess-1", "alice", "fresh", nil); err != nil {
		t.Fatal(err)
	}
	var env shared.Envelope
	if err := second.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "fresh" {
		t.Errorf("event = %s", env.Event)
	}
}
