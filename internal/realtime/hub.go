// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/metrics"
	"github.com/emsgrid/emsgrid/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// roomMessage is one queued broadcast. Room "" addresses every connected
// client; a "user:<id>" room addresses all connections of one user.
type roomMessage struct {
	room    string
	env     Envelope
	exclude *Client
}

// VideoSignaler handles the camelCase video RPC events. The hub stays
// decoupled from the SFU; the media plane registers itself at startup.
type VideoSignaler interface {
	HandleRPC(ctx context.Context, peer PeerInfo, event string, data []byte) (interface{}, error)
	PeerLeft(peer PeerInfo)
}

// Hub maintains connected clients and their session room membership, and
// fans broadcasts out to rooms.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	broadcast  chan roomMessage
	Register   chan *Client
	Unregister chan *Client

	presence *presenceRegistry
	typing   *typingTracker

	videoMu sync.RWMutex
	video   VideoSignaler
}

// NewHub creates a hub with empty membership.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan roomMessage, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		presence:   newPresenceRegistry(),
	}
	h.typing = newTypingTracker(h)
	return h
}

// SetVideoSignaler wires the SFU signaling handler. Must be called before
// clients connect.
func (h *Hub) SetVideoSignaler(v VideoSignaler) {
	h.videoMu.Lock()
	h.video = v
	h.videoMu.Unlock()
}

func (h *Hub) videoSignaler() VideoSignaler {
	h.videoMu.RLock()
	defer h.videoMu.RUnlock()
	return h.video
}

// RunWithContext runs the hub event loop until the context is canceled.
// Designed for suture supervision: on cancellation all clients are closed
// and ctx.Err() is returned.
//
// Selection is priority ordered so behavior stays deterministic when
// multiple channels are ready: shutdown first, then client lifecycle,
// then broadcasts.
func (h *Hub) RunWithContext(ctx context.Context) error {
	h.typing.start(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastToRoom(msg)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	// Personal room for direct pushes (notifications, video events).
	h.joinRoomLocked(c, userRoom(c.UserID), false)

	metrics.WSConnectedClients.Set(float64(total))
	logging.Info().
		Str("user_id", c.UserID).
		Int("total_clients", total).
		Msg("websocket client connected")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	total := len(h.clients)
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	sort.Strings(rooms)
	for _, room := range rooms {
		h.leaveRoom(c, room, true)
	}

	if v := h.videoSignaler(); v != nil {
		v.PeerLeft(c.peerInfo())
	}

	metrics.WSConnectedClients.Set(float64(total))
	logging.Info().
		Str("user_id", c.UserID).
		Int("total_clients", total).
		Msg("websocket client disconnected")
}

func userRoom(userID string) string {
	return "user:" + userID
}

// JoinSession adds a client to a session room and announces the arrival.
// Duplicate joins are permitted: the membership is a set but the
// user_joined announcement is emitted every time.
func (h *Hub) JoinSession(c *Client, sessionID string) {
	h.joinRoomLocked(c, sessionID, true)
}

func (h *Hub) joinRoomLocked(c *Client, room string, announce bool) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	already := members[c]
	members[c] = true
	c.rooms[room] = true
	activeRooms := len(h.rooms)
	h.mu.Unlock()

	metrics.WSActiveRooms.Set(float64(activeRooms))

	if !announce {
		return
	}

	// A rejoin by the same connection must not inflate the presence
	// refcount: leave and disconnect decrement once per membership.
	if !already {
		h.presence.add(room, models.OnlineUser{
			UserID:   c.UserID,
			UserName: c.UserName,
			Role:     c.Role,
		})
	}

	env, err := NewEnvelope(EventUserJoined, "", PresencePayload{
		SessionID: room,
		UserID:    c.UserID,
		UserName:  c.UserName,
		Role:      c.Role,
	})
	if err != nil {
		logging.Err(err).Msg("marshal user_joined")
		return
	}
	// The arrival is announced to the other members, not echoed back.
	h.Broadcast(room, env, c)

	logging.Debug().
		Str("session_id", room).
		Str("user_id", c.UserID).
		Msg("client joined session room")
}

// LeaveSession removes a client from a session room and announces the
// departure. Leaving a room the client is not in is a no-op.
func (h *Hub) LeaveSession(c *Client, sessionID string) {
	h.leaveRoom(c, sessionID, true)
}

func (h *Hub) leaveRoom(c *Client, room string, announce bool) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok || !members[c] {
		h.mu.Unlock()
		return
	}
	delete(members, c)
	delete(c.rooms, room)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	activeRooms := len(h.rooms)
	h.mu.Unlock()

	metrics.WSActiveRooms.Set(float64(activeRooms))

	if !announce || isUserRoom(room) {
		return
	}

	h.presence.remove(room, c.UserID)
	h.typing.stop(room, c.UserID, c.UserName)

	env, err := NewEnvelope(EventUserLeft, "", PresencePayload{
		SessionID: room,
		UserID:    c.UserID,
		UserName:  c.UserName,
		Role:      c.Role,
	})
	if err != nil {
		logging.Err(err).Msg("marshal user_left")
		return
	}
	h.Broadcast(room, env, nil)

	logging.Debug().
		Str("session_id", room).
		Str("user_id", c.UserID).
		Msg("client left session room")
}

func isUserRoom(room string) bool {
	return len(room) > 5 && room[:5] == "user:"
}

// OnlineUsers returns the current presence listing of a session room.
func (h *Hub) OnlineUsers(sessionID string) []models.OnlineUser {
	return h.presence.list(sessionID)
}

// Broadcast queues an envelope for delivery to a room ("" = everyone).
// The exclude client, when set, is skipped; typing and presence events
// do not echo back to their originator.
func (h *Hub) Broadcast(room string, env Envelope, exclude *Client) {
	select {
	case h.broadcast <- roomMessage{room: room, env: env, exclude: exclude}:
		metrics.WSEventsTotal.WithLabelValues("out", env.Type).Inc()
	default:
		metrics.WSDroppedMessages.Inc()
		logging.Warn().
			Str("type", env.Type).
			Str("room", room).
			Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToUser queues an envelope for every connection of one user.
func (h *Hub) BroadcastToUser(userID string, env Envelope) {
	h.Broadcast(userRoom(userID), env, nil)
}

// broadcastToRoom delivers one queued message. Clients are iterated in
// connection ID order so delivery order is deterministic; a client with a
// full send buffer is dropped from the hub.
func (h *Hub) broadcastToRoom(msg roomMessage) {
	h.mu.Lock()

	var pool map[*Client]bool
	if msg.room == "" {
		pool = h.clients
	} else {
		pool = h.rooms[msg.room]
	}

	clients := make([]*Client, 0, len(pool))
	for client := range pool {
		if client == msg.exclude {
			continue
		}
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- msg.env:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		for room := range client.rooms {
			if members, ok := h.rooms[room]; ok {
				delete(members, client)
				if len(members) == 0 {
					delete(h.rooms, room)
				}
			}
		}
		metrics.WSDroppedMessages.Inc()
	}
	h.mu.Unlock()

	for _, client := range toRemove {
		logging.Warn().
			Str("user_id", client.UserID).
			Msg("client send buffer full, connection dropped")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns how many connections are in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.ClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "realtime-hub").
		Str("reason", string(shutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("realtime hub stopped")
}

func shutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// closeAllClients closes every connection in ID order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.rooms = make(map[string]map[*Client]bool)
	metrics.WSConnectedClients.Set(0)
	metrics.WSActiveRooms.Set(0)
}
