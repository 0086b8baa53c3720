package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crm-messaging/internal/models"
	"crm-messaging/internal/observability"
)

// Hub tracks connected identities and conversation rooms. An identity
// may hold several connections (multiple tabs); presence follows the
// first and last of them.
type Hub struct {
	mu    sync.RWMutex
	users map[int]map[*websocket.Conn]ConnInfo
	rooms map[string]map[*websocket.Conn]int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		users: make(map[int]map[*websocket.Conn]ConnInfo),
		rooms: make(map[string]map[*websocket.Conn]int),
	}
}

// AddUserConn registers a connection under an identity. Returns true
// when this is the identity's first live connection.
func (h *Hub) AddUserConn(userID int, conn *websocket.Conn, info ConnInfo) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.users[userID]
	if !ok {
		conns = make(map[*websocket.Conn]ConnInfo)
		h.users[userID] = conns
	}
	first := len(conns) == 0
	conns[conn] = info
	return first
}

// RemoveConn drops a connection everywhere. Returns true when the
// identity has no remaining connections.
func (h *Hub) RemoveConn(userID int, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.users[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.users, userID)
		}
	}
	for roomID, members := range h.rooms {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	_, still := h.users[userID]
	return !still
}

// JoinRoom subscribes a connection to a conversation room.
func (h *Hub) JoinRoom(conversationID string, conn *websocket.Conn, userID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[conversationID]
	if !ok {
		members = make(map[*websocket.Conn]int)
		h.rooms[conversationID] = members
	}
	members[conn] = userID
}

// LeaveRoom unsubscribes a connection from a conversation room.
func (h *Hub) LeaveRoom(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[conversationID]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// IsOnline reports whether an identity has a live connection.
func (h *Hub) IsOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// OnlineSubset filters the queried ids down to the connected ones.
func (h *Hub) OnlineSubset(userIDs []int) []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	online := make([]int, 0, len(userIDs))
	for _, id := range userIDs {
		if len(h.users[id]) > 0 {
			online = append(online, id)
		}
	}
	return online
}

// SendToUser delivers a frame to every connection of one identity.
func (h *Hub) SendToUser(userID int, frame models.Frame) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.users[userID]))
	for conn := range h.users[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()
	h.write(userID, conns, frame)
}

// BroadcastToUsers delivers a frame to the given identities, skipping
// exceptUserID. Used for message fan-out to conversation participants.
func (h *Hub) BroadcastToUsers(userIDs []int, frame models.Frame, exceptUserID int) {
	for _, id := range userIDs {
		if id == exceptUserID {
			continue
		}
		h.SendToUser(id, frame)
	}
}

// BroadcastRoom delivers a frame to a conversation room, skipping the
// sender's own connections. Used for typing fan-out.
func (h *Hub) BroadcastRoom(conversationID string, frame models.Frame, exceptUserID int) {
	h.mu.RLock()
	var conns []*websocket.Conn
	for conn, userID := range h.rooms[conversationID] {
		if userID == exceptUserID {
			continue
		}
		conns = append(conns, conn)
	}
	h.mu.RUnlock()
	h.write(exceptUserID, conns, frame)
}

// BroadcastAll delivers a frame to every connected identity except one.
// Used for presence transitions.
func (h *Hub) BroadcastAll(frame models.Frame, exceptUserID int) {
	h.mu.RLock()
	var conns []*websocket.Conn
	var owner []int
	for userID, userConns := range h.users {
		if userID == exceptUserID {
			continue
		}
		for conn := range userConns {
			conns = append(conns, conn)
			owner = append(owner, userID)
		}
	}
	h.mu.RUnlock()

	payload, _ := json.Marshal(frame)
	for i, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.dropBroken(owner[i], conn, err)
		}
	}
}

func (h *Hub) write(userID int, conns []*websocket.Conn, frame models.Frame) {
	payload, _ := json.Marshal(frame)
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.dropBroken(userID, conn, err)
		}
	}
}

func (h *Hub) dropBroken(userID int, conn *websocket.Conn, cause error) {
	log.Printf("websocket write error: %v", cause)
	info, known := h.connInfo(userID, conn)
	conn.Close()
	h.RemoveConn(userID, conn)

	if !known {
		return
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      cause.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("session", "ws_error")
}

func (h *Hub) connInfo(userID int, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conns, ok := h.users[userID]; ok {
		info, exists := conns[conn]
		return info, exists
	}
	return ConnInfo{}, false
}
