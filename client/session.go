// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package client

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/models"
	"github.com/emsgrid/emsgrid/internal/realtime"
)

// JoinSession enters a session room so subsequent broadcasts reach this
// client. Rejoining an already joined session is permitted; the server
// treats membership as a set.
func (c *Client) JoinSession(sessionID string) error {
	return c.Emit(realtime.EventJoinSession, realtime.RoomPayload{SessionID: sessionID})
}

// LeaveSession exits a session room.
func (c *Client) LeaveSession(sessionID string) error {
	return c.Emit(realtime.EventLeaveSession, realtime.RoomPayload{SessionID: sessionID})
}

// OnlineUsers queries the presence listing of a session room. The reply
// is bounded by ctx; a lost response returns ctx.Err().
func (c *Client) OnlineUsers(ctx context.Context, sessionID string) ([]models.OnlineUser, error) {
	var reply struct {
		SessionID string              `json:"sessionId"`
		Users     []models.OnlineUser `json:"users"`
	}
	err := c.Call(ctx, realtime.EventGetOnlineUsers, realtime.RoomPayload{SessionID: sessionID}, &reply)
	if err != nil {
		return nil, err
	}
	return reply.Users, nil
}

// Typed convenience wrappers. Each is a 1:1 alias over a named event; a
// payload that fails to decode is logged and dropped.

// OnMessage subscribes to new_message events.
func (c *Client) OnMessage(fn func(models.ChatMessage)) *Subscription {
	return c.On(realtime.EventNewMessage, decoding(realtime.EventNewMessage, fn))
}

// OnUserTyping subscribes to user_typing events.
func (c *Client) OnUserTyping(fn func(realtime.UserTypingPayload)) *Subscription {
	return c.On(realtime.EventUserTyping, decoding(realtime.EventUserTyping, fn))
}

// OnUserJoined subscribes to user_joined events.
func (c *Client) OnUserJoined(fn func(realtime.PresencePayload)) *Subscription {
	return c.On(realtime.EventUserJoined, decoding(realtime.EventUserJoined, fn))
}

// OnUserLeft subscribes to user_left events.
func (c *Client) OnUserLeft(fn func(realtime.PresencePayload)) *Subscription {
	return c.On(realtime.EventUserLeft, decoding(realtime.EventUserLeft, fn))
}

// OnNotification subscribes to notification pushes.
func (c *Client) OnNotification(fn func(models.Notification)) *Subscription {
	return c.On(realtime.EventNotification, decoding(realtime.EventNotification, fn))
}

// decoding adapts a typed handler to the raw Handler signature.
func decoding[T any](event string, fn func(T)) Handler {
	return func(data json.RawMessage) {
		var payload T
		if err := json.Unmarshal(data, &payload); err != nil {
			logging.Warn().Err(err).Str("type", event).Msg("malformed event payload")
			return
		}
		fn(payload)
	}
}
