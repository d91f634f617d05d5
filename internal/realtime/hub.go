// Package realtime is the WebSocket channel adapter: browsers join the room of their
// user and receive every notification published to it while connected.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 32
)

// Client and server event names.
const (
	EventJoin   = "join"
	EventLeave  = "leave"
	EventPing   = "ping"
	EventJoined = "joined"
	EventPong   = "pong"
	EventError  = "error"
)

// Frame is the envelope of every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinedAck confirms a join.
type JoinedAck struct {
	UserID        string `json:"userId"`
	Room          string `json:"room"`
	ClientsInRoom int    `json:"clientsInRoom"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// Authenticator resolves the caller of an upgrade request. An empty user id means the
// connection is anonymous and may join any room.
type Authenticator func(r *http.Request) (userID string, err error)

type Options struct {
	// AllowedOrigins limits cross-origin upgrades. Empty allows every origin.
	AllowedOrigins []string
	Authenticate   Authenticator
}

// Hub keeps the room registry. A user may hold any number of connections.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*client]struct{}
	clients map[*client]struct{}
	closed  bool

	upgrader websocket.Upgrader
	auth     Authenticator
	logger   *slog.Logger
	wg       sync.WaitGroup
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	rooms  map[string]struct{}
	gone   bool
}

func NewHub(opts Options, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		rooms:   make(map[string]map[*client]struct{}),
		clients: make(map[*client]struct{}),
		auth:    opts.Authenticate,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var userID string
	if h.auth != nil {
		id, err := h.auth(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		userID = id
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "Shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
		rooms:  make(map[string]struct{}),
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.wg.Add(2)
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	ActiveConnections.Inc()
	return true
}

// unregister removes c from every room and stops its writer. Safe to call twice.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if c.gone {
		return
	}
	c.gone = true
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c)
	close(c.send)
	ActiveConnections.Dec()
}

func (h *Hub) leaveLocked(c *client, room string) {
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	delete(c.rooms, room)
}

// join adds c to the room of userID and returns the room size.
func (h *Hub) join(c *client, userID string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.gone {
		return 0, errors.New("connection closed")
	}
	members, ok := h.rooms[userID]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[userID] = members
	}
	members[c] = struct{}{}
	c.rooms[userID] = struct{}{}
	return len(members), nil
}

func (h *Hub) leave(c *client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.rooms[userID]; ok {
		h.leaveLocked(c, userID)
	}
}

// Publish sends event to every connection in the room of userID and returns how many
// connections it was queued for. Connections too slow to drain their buffer are dropped.
func (h *Hub) Publish(userID, event string, payload any) int {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("failed to encode realtime frame", "event", event, "error", err)
		return 0
	}

	var slow []*client
	delivered := 0
	h.mu.RLock()
	for c := range h.rooms[userID] {
		select {
		case c.send <- msg:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	h.dropSlow(slow)
	PublishedFrames.WithLabelValues(event, deliveredLabel(delivered)).Inc()
	return delivered
}

func (h *Hub) dropSlow(slow []*client) {
	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		h.logger.Warn("dropping slow realtime connection", "user_id", c.userID)
		h.dropLocked(c)
	}
	h.mu.Unlock()
}

func deliveredLabel(n int) string {
	if n == 0 {
		return "no_listeners"
	}
	return "delivered"
}

// RoomSize returns the number of connections in the room of userID.
func (h *Hub) RoomSize(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for their goroutines.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reply queues a frame for c alone.
func (h *Hub) reply(c *client, event string, payload any) {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.gone {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	f := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Data = data
	}
	return json.Marshal(f)
}
