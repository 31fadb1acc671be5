// Package realtime is the Real-time Fan-out: a per-room websocket hub for
// customer/agent clients, plus an external-agent bridge mirroring traffic
// to a pub/sub backed CRM/helpdesk integration.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aurorabench/converge-backend/internal/model"
)

// Event is the envelope every server→client message shares.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// roomKey addresses a room's subscriber set as
// "room_<room_id>_<tenant_id>".
func roomKey(tenant, roomID string) string {
	return "room_" + roomID + "_" + tenant
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one connected websocket with a buffered outbound queue so a
// slow reader never blocks the hub. Delivery is best-effort per
// subscriber; the durable message history is the source of truth.
type client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu    sync.Mutex
	rooms map[string]bool
}

// Hub fans out room events to websocket-connected clients. It implements
// conversation.Emitter.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[*client]bool
	subscribed map[string]bool
	fanout     CrossProcess
}

// CrossProcess lets multiple server processes share one room's
// subscribers via Redis pub/sub; nil disables cross-process fan-out
// (single-process deployments).
type CrossProcess interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, onMessage func([]byte))
}

// NewHub creates a Hub. fanout may be nil for single-process deployments.
func NewHub(fanout CrossProcess) *Hub {
	return &Hub{rooms: map[string]map[*client]bool{}, subscribed: map[string]bool{}, fanout: fanout}
}

// Upgrade promotes an HTTP request to a websocket connection and starts the
// client's read/write pumps.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{conn: conn, send: make(chan []byte, 64), hub: h, rooms: map[string]bool{}}
	go c.writePump()
	go c.readPump()
	return nil
}

func (h *Hub) join(tenant, roomID string, c *client) {
	key := roomKey(tenant, roomID)
	h.mu.Lock()
	if h.rooms[key] == nil {
		h.rooms[key] = map[*client]bool{}
	}
	h.rooms[key][c] = true
	needsSub := h.fanout != nil && !h.subscribed[key]
	if needsSub {
		h.subscribed[key] = true
	}
	h.mu.Unlock()

	c.mu.Lock()
	c.rooms[key] = true
	c.mu.Unlock()

	if needsSub {
		h.fanout.Subscribe(context.Background(), key, func(payload []byte) {
			var event Event
			if err := json.Unmarshal(payload, &event); err != nil {
				return
			}
			h.broadcastLocal(key, event)
		})
	}

	h.broadcastLocal(key, Event{Type: "room_joined", Data: map[string]string{"roomId": roomID}})
}

func (h *Hub) leave(tenant, roomID string, c *client) {
	key := roomKey(tenant, roomID)
	h.mu.Lock()
	if set, ok := h.rooms[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, key)
		}
	}
	h.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, key)
	c.mu.Unlock()
}

func (h *Hub) dropClient(c *client) {
	h.mu.Lock()
	for key, set := range h.rooms {
		if set[c] {
			delete(set, c)
			if len(set) == 0 {
				delete(h.rooms, key)
			}
		}
	}
	h.mu.Unlock()
	close(c.send)
}

// broadcastLocal delivers event to every client subscribed to key on this
// process only.
func (h *Hub) broadcastLocal(key string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("realtime: marshal event failed", "error", err)
		return
	}
	h.mu.RLock()
	subs := h.rooms[key]
	clients := make([]*client, 0, len(subs))
	for c := range subs {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- payload:
		default:
			slog.Warn("realtime: dropping slow subscriber", "room", key)
		}
	}
}

// broadcast delivers to local subscribers. When cross-process fan-out is
// enabled and at least one sibling process might also be subscribed, it
// republishes instead of delivering locally twice: this process receives
// its own publish back through Subscribe (wired in join) and delivers it
// from there.
func (h *Hub) broadcast(tenant, roomID string, event Event) {
	key := roomKey(tenant, roomID)

	h.mu.RLock()
	subscribedRemote := h.fanout != nil && h.subscribed[key]
	h.mu.RUnlock()
	if !subscribedRemote {
		h.broadcastLocal(key, event)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.broadcastLocal(key, event)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.fanout.Publish(ctx, key, payload); err != nil {
		slog.Warn("realtime: cross-process publish failed", "room", key, "error", err)
	}
}

// EmitNewMessage implements conversation.Emitter.
func (h *Hub) EmitNewMessage(tenant, roomID string, msg model.Message) {
	h.broadcast(tenant, roomID, Event{Type: "new_message", Data: msg})
}

// EmitTyping implements conversation.Emitter.
func (h *Hub) EmitTyping(tenant, roomID string, who string, isTyping bool) {
	h.broadcast(tenant, roomID, Event{Type: "user_typing", Data: map[string]any{"who": who, "isTyping": isTyping}})
}

// EmitSessionUpdate notifies a room's subscribers of a state change (agent
// assigned, room closed, queue position changed).
func (h *Hub) EmitSessionUpdate(tenant, roomID string, update map[string]any) {
	h.broadcast(tenant, roomID, Event{Type: "session_update", Data: update})
}

// clientMessage is the shape of every client→server frame.
type clientMessage struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId"`
	TenantID string          `json:"tenantId"`
	Payload  json.RawMessage `json:"payload"`
}

func (c *client) readPump() {
	defer func() {
		c.conn.Close()
		c.hub.dropClient(c)
	}()
	c.conn.SetReadLimit(1 << 20)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "join_room":
			c.hub.join(msg.TenantID, msg.RoomID, c)
		case "leave_room":
			c.hub.leave(msg.TenantID, msg.RoomID, c)
		default:
			// widget-message/agent-message/typing/etc. are handled by the
			// HTTP handlers that own the conversation turn; the socket is
			// fan-out only beyond join/leave.
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
