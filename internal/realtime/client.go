// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package realtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// Inbound events per connection; bursts cover a fast typist plus a
	// signaling exchange.
	inboundRate  = rate.Limit(20)
	inboundBurst = 40

	rpcTimeout = 10 * time.Second
)

// clientIDCounter assigns monotonically increasing connection IDs so
// broadcast iteration order is deterministic.
var clientIDCounter atomic.Uint64

// PeerInfo identifies one connection to the video signaling plane and
// lets it push events back.
type PeerInfo struct {
	ConnID   uint64
	UserID   string
	UserName string
	// Send queues an envelope on this connection. Returns false when the
	// send buffer is full.
	Send func(env Envelope) bool
}

// Client is one authenticated websocket connection.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Envelope

	UserID   string
	UserName string
	Role     string

	// rooms is guarded by the hub mutex.
	rooms map[string]bool

	limiter *rate.Limiter
}

// NewClient wraps an upgraded connection. The caller registers it with
// the hub and calls Start.
func NewClient(hub *Hub, conn *websocket.Conn, userID, userName, role string) *Client {
	return &Client{
		id:       clientIDCounter.Add(1),
		hub:      hub,
		conn:     conn,
		send:     make(chan Envelope, 256),
		UserID:   userID,
		UserName: userName,
		Role:     role,
		rooms:    make(map[string]bool),
		limiter:  rate.NewLimiter(inboundRate, inboundBurst),
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

func (c *Client) peerInfo() PeerInfo {
	return PeerInfo{
		ConnID:   c.id,
		UserID:   c.UserID,
		UserName: c.UserName,
		Send:     c.trySend,
	}
}

// trySend queues an envelope without blocking.
func (c *Client) trySend(env Envelope) bool {
	defer func() {
		// The hub closes c.send when it drops the client; a late push
		// from the video plane must not panic.
		_ = recover()
	}()
	select {
	case c.send <- env:
		return true
	default:
		metrics.WSDroppedMessages.Inc()
		return false
	}
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Err(err).Msg("set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Err(err).Str("user_id", c.UserID).Msg("unexpected websocket close")
			}
			break
		}

		if !c.limiter.Allow() {
			logging.Warn().
				Str("user_id", c.UserID).
				Str("type", env.Type).
				Msg("inbound rate limit exceeded, dropping event")
			continue
		}

		metrics.WSEventsTotal.WithLabelValues("in", env.Type).Inc()
		c.dispatch(env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Err(err).Msg("set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				logging.Err(err).Msg("write websocket message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound envelope.
func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case EventJoinSession:
		var p RoomPayload
		if !c.decode(env, &p) || p.SessionID == "" {
			return
		}
		c.hub.JoinSession(c, p.SessionID)

	case EventLeaveSession:
		var p RoomPayload
		if !c.decode(env, &p) || p.SessionID == "" {
			return
		}
		c.hub.LeaveSession(c, p.SessionID)

	case EventTypingStart:
		var p TypingPayload
		if !c.decode(env, &p) || p.SessionID == "" {
			return
		}
		c.hub.typing.begin(p.SessionID, c)

	case EventTypingStop:
		var p TypingPayload
		if !c.decode(env, &p) || p.SessionID == "" {
			return
		}
		c.hub.typing.stop(p.SessionID, c.UserID, c.UserName)

	case EventGetOnlineUsers:
		var p RoomPayload
		if !c.decode(env, &p) || p.SessionID == "" {
			return
		}
		c.reply(EventOnlineUsers, env.ID, rpcOK(map[string]interface{}{
			"sessionId": p.SessionID,
			"users":     c.hub.OnlineUsers(p.SessionID),
		}))

	case EventJoinVideoRoom, EventLeaveVideoRoom, EventGetRouterRtpCapabilities,
		EventCreateWebRtcTransport, EventConnectWebRtcTransport,
		EventProduce, EventConsume, EventResumeConsumer, EventGetProducers:
		c.dispatchVideo(env)

	default:
		logging.Debug().
			Str("type", env.Type).
			Str("user_id", c.UserID).
			Msg("unknown websocket event")
	}
}

// dispatchVideo forwards a signaling RPC to the SFU and replies with the
// uniform success envelope.
func (c *Client) dispatchVideo(env Envelope) {
	signaler := c.hub.videoSignaler()
	if signaler == nil {
		c.replyError(env, errVideoDisabled)
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	result, err := signaler.HandleRPC(ctx, c.peerInfo(), env.Type, env.Data)
	metrics.RecordVideoRPC(env.Type, err == nil, time.Since(start))

	if err != nil {
		logging.Err(err).
			Str("type", env.Type).
			Str("user_id", c.UserID).
			Msg("video rpc failed")
		c.replyError(env, err)
		return
	}

	body := map[string]interface{}{}
	if result != nil {
		raw, merr := json.Marshal(result)
		if merr != nil {
			c.replyError(env, merr)
			return
		}
		if uerr := json.Unmarshal(raw, &body); uerr != nil {
			c.replyError(env, uerr)
			return
		}
	}
	c.reply(env.Type, env.ID, rpcOK(body))
}

func (c *Client) decode(env Envelope, v interface{}) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		logging.Warn().
			Err(err).
			Str("type", env.Type).
			Str("user_id", c.UserID).
			Msg("malformed event payload")
		return false
	}
	return true
}

func (c *Client) reply(eventType, id string, body interface{}) {
	env, err := NewEnvelope(eventType, id, body)
	if err != nil {
		logging.Err(err).Str("type", eventType).Msg("marshal reply")
		return
	}
	if c.trySend(env) {
		metrics.WSEventsTotal.WithLabelValues("out", eventType).Inc()
	}
}

func (c *Client) replyError(env Envelope, err error) {
	c.reply(env.Type, env.ID, rpcError(err))
}
