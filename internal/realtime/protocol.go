// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

// Package realtime implements the websocket session-sync plane: session
// rooms, presence, typing indicators, chat fan-out, notification push and
// the signaling channel for video calls.
package realtime

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/emsgrid/emsgrid/internal/models"
)

// errVideoDisabled is replied to video RPCs when no SFU is wired.
var errVideoDisabled = errors.New("video signaling unavailable")

// Event types exchanged over the websocket. Room lifecycle and chat use
// lower_snake names; the video signaling RPCs use camelCase.
const (
	EventJoinSession    = "join_session"
	EventLeaveSession   = "leave_session"
	EventNewMessage     = "new_message"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventUserTyping     = "user_typing"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventGetOnlineUsers = "get_online_users"
	EventOnlineUsers    = "online_users"
	EventNotification   = "notification"

	EventJoinVideoRoom            = "joinVideoRoom"
	EventLeaveVideoRoom           = "leaveVideoRoom"
	EventGetRouterRtpCapabilities = "getRouterRtpCapabilities"
	EventCreateWebRtcTransport    = "createWebRtcTransport"
	EventConnectWebRtcTransport   = "connectWebRtcTransport"
	EventProduce                  = "produce"
	EventConsume                  = "consume"
	EventResumeConsumer           = "resumeConsumer"
	EventGetProducers             = "getProducers"
	EventNewProducer              = "newProducer"
	EventProducerClosed           = "producerClosed"
)

// Envelope is the framing for every websocket message in both directions.
// ID correlates a request with its reply; fire-and-forget events leave it
// empty.
type Envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope. Marshal failures are
// programming errors; they surface as an error so callers can log them.
func NewEnvelope(eventType, id string, data interface{}) (Envelope, error) {
	if data == nil {
		return Envelope{Type: eventType, ID: id}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("realtime: marshal %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, ID: id, Data: raw}, nil
}

// RoomPayload is the body of join_session and leave_session.
type RoomPayload struct {
	SessionID string `json:"sessionId"`
}

// TypingPayload is the body of typing_start and typing_stop.
type TypingPayload struct {
	SessionID string `json:"sessionId"`
}

// UserTypingPayload is pushed to a room when another member starts or
// stops typing.
type UserTypingPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	IsTyping  bool   `json:"isTyping"`
}

// PresencePayload is pushed on user_joined and user_left.
type PresencePayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Role      string `json:"role"`
}

// OnlineUsersPayload is the reply body of get_online_users.
type OnlineUsersPayload struct {
	SessionID string              `json:"sessionId"`
	Users     []models.OnlineUser `json:"users"`
}

// RPCResult is the uniform reply body for request/reply events. Success
// replies embed extra fields beside Success; failures carry Error.
type RPCResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// rpcOK builds a success reply merging extra fields into the result body.
func rpcOK(extra map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

// rpcError builds a failure reply.
func rpcError(err error) RPCResult {
	return RPCResult{Success: false, Error: err.Error()}
}
