package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"virtual-tabletop/internal/shared"
)

// ErrNotConnected is returned by Send when the participant has no live
// connection. Callers treat it as "queue or drop", not as fatal.
var ErrNotConnected = errors.New("participant not connected")

// SessionResolver validates that a joining connection names a live session
// it belongs to. Implemented by the session manager.
type SessionResolver interface {
	Resolve(code, participantID string) (sessionID string, ok bool)
}

// Handler consumes one inbound event. Handlers run on the connection's
// read loop, so events from a single connection are processed in send
// order; there is no ordering between different connections.
type Handler func(sessionID, participantID string, payload json.RawMessage)

// ConnListener is told about connection state changes. Consumed by the GM
// disconnection handler and the engine.
type ConnListener interface {
	ParticipantConnected(sessionID, participantID, connectionID string)
	ParticipantDisconnected(sessionID, participantID, connectionID string)
}

type client struct {
	conn          *websocket.Conn
	sessionID     string
	participantID string
	connectionID  string
	writeMu       sync.Mutex
}

func (c *client) write(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(shared.Envelope{Event: event, Payload: raw})
}

// Hub is the correlation channel: a session-scoped websocket fan with
// per-connection identity. Delivery is at-most-once per connection; the
// hub never retries.
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]map[string]*client
	handlers  map[string]Handler
	listeners []ConnListener
	resolver  SessionResolver
}

func NewHub(resolver SessionResolver) *Hub {
	return &Hub{
		sessions: make(map[string]map[string]*client),
		handlers: make(map[string]Handler),
		resolver: resolver,
	}
}

// OnEvent registers the handler for an event name. Call before serving.
func (h *Hub) OnEvent(event string, fn Handler) {
	h.handlers[event] = fn
}

// AddListener registers a connection state listener. Call before serving.
func (h *Hub) AddListener(l ConnListener) {
	h.listeners = append(h.listeners, l)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// HandleWS upgrades a connection identified by session code and
// participant id. A newer connection for the same participant evicts the
// older one.
//
// @Summary Join a session over websocket
// @Description Upgrade to a websocket scoped to one session and participant
// @Tags Session
// @Param code query string true "Session join code"
// @Param participant query string true "Participant ID"
// @Router /ws [get]
func (h *Hub) HandleWS(c *gin.Context) {
	code := c.Query("code")
	participantID := c.Query("participant")
	if code == "" || participantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and participant required"})
		return
	}
	sessionID, ok := h.resolver.Resolve(code, participantID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session or participant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("failed to upgrade connection: %v", err)
		return
	}

	cl := &client{
		conn:          conn,
		sessionID:     sessionID,
		participantID: participantID,
		connectionID:  uuid.NewString(),
	}

	h.mu.Lock()
	if _, ok := h.sessions[sessionID]; !ok {
		h.sessions[sessionID] = make(map[string]*client)
	}
	old := h.sessions[sessionID][participantID]
	h.sessions[sessionID][participantID] = cl
	h.mu.Unlock()
	if old != nil {
		log.Printf("participant %s reconnected, evicting stale connection", participantID)
		old.conn.Close()
	}

	log.Printf("participant %s connected to session %s", participantID, sessionID)
	for _, l := range h.listeners {
		l.ParticipantConnected(sessionID, participantID, cl.connectionID)
	}

	defer func() {
		h.mu.Lock()
		current := h.sessions[sessionID][participantID] == cl
		if current {
			delete(h.sessions[sessionID], participantID)
			if len(h.sessions[sessionID]) == 0 {
				delete(h.sessions, sessionID)
			}
		}
		h.mu.Unlock()
		conn.Close()
		if current {
			log.Printf("participant %s disconnected from session %s", participantID, sessionID)
			for _, l := range h.listeners {
				l.ParticipantDisconnected(sessionID, participantID, cl.connectionID)
			}
		}
	}()

	for {
		var env shared.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("read error from %s: %v", participantID, err)
			}
			return
		}
		handler, ok := h.handlers[env.Event]
		if !ok {
			log.Printf("unknown event %q from %s", env.Event, participantID)
			continue
		}
		handler(sessionID, participantID, env.Payload)
	}
}

// Send delivers one event to one participant. Returns an error when the
// participant has no live connection or the write fails.
func (h *Hub) Send(sessionID, participantID, event string, payload any) error {
	h.mu.RLock()
	cl := h.sessions[sessionID][participantID]
	h.mu.RUnlock()
	if cl == nil {
		return ErrNotConnected
	}
	if err := cl.write(event, payload); err != nil {
		h.drop(cl)
		return err
	}
	return nil
}

// Broadcast delivers an event to every connected participant of a session
// for which pred returns true. A nil pred means everyone.
func (h *Hub) Broadcast(sessionID, event string, payload any, pred func(participantID string) bool) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.sessions[sessionID]))
	for participantID, cl := range h.sessions[sessionID] {
		if pred == nil || pred(participantID) {
			clients = append(clients, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range clients {
		if err := cl.write(event, payload); err != nil {
			log.Printf("failed to send %s to %s: %v", event, cl.participantID, err)
			h.drop(cl)
		}
	}
}

// IsConnected reports whether the participant has a live connection.
func (h *Hub) IsConnected(sessionID, participantID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[sessionID][participantID] != nil
}

// drop closes a broken connection; its read loop handles deregistration
// and listener notification.
func (h *Hub) drop(cl *client) {
	cl.conn.Close()
}
