// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

// Package chat persists session messages and publishes them for realtime
// fan-out. Messages are identified by ULIDs so IDs sort by creation time.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/emsgrid/emsgrid/internal/eventbus"
	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/metrics"
	"github.com/emsgrid/emsgrid/internal/models"
	"github.com/emsgrid/emsgrid/internal/store"
)

// MaxMessageLength bounds a single chat message.
const MaxMessageLength = 4000

var (
	ErrEmptyMessage   = errors.New("chat: message is empty")
	ErrMessageTooLong = errors.New("chat: message exceeds maximum length")
)

// Service coordinates message persistence and publication.
type Service struct {
	store *store.Store
	bus   eventbus.Bus
	now   func() time.Time
}

// NewService wires the chat service.
func NewService(st *store.Store, bus eventbus.Bus) *Service {
	return &Service{store: st, bus: bus, now: time.Now}
}

// Send validates, persists and publishes one message. The write is the
// source of truth: a bus publish failure is logged but does not fail the
// send, the message is already durable and listable.
func (s *Service) Send(ctx context.Context, sessionID string, sender *models.User, text, messageType string) (*models.ChatMessage, error) {
	return s.send(ctx, sessionID, sender, text, messageType, false)
}

func (s *Service) send(ctx context.Context, sessionID string, sender *models.User, text, messageType string, allowTerminal bool) (*models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Terminal() && !allowTerminal {
		return nil, store.ErrSessionTerminal
	}

	msg := &models.ChatMessage{
		ID:              ulid.Make().String(),
		SessionID:       sessionID,
		SenderID:        sender.ID,
		SenderFirstName: sender.FirstName,
		SenderLastName:  sender.LastName,
		SenderRole:      sender.Role,
		Message:         text,
		MessageType:     messageType,
		CreatedAt:       s.now().UTC(),
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.ChatMessagesTotal.Inc()

	if err := s.bus.Publish(ctx, eventbus.TopicChat, eventbus.ChatEvent{
		SessionID: sessionID,
		Message:   *msg,
	}); err != nil {
		logging.Err(err).
			Str("session_id", sessionID).
			Str("message_id", msg.ID).
			Msg("publish chat event")
	}

	return msg, nil
}

// SendSystem records a system line (session lifecycle announcements) in a
// session's history. Unlike user messages, system lines are accepted on
// terminal sessions so "offboarded" and "cancelled" announcements land.
func (s *Service) SendSystem(ctx context.Context, sessionID, text string) (*models.ChatMessage, error) {
	system := &models.User{ID: "system", FirstName: "System", Role: models.RoleAdmin}
	return s.send(ctx, sessionID, system, text, models.MessageTypeSystem, true)
}

// History returns one page of a session's messages in ascending creation
// order.
func (s *Service) History(ctx context.Context, sessionID string, limit, offset int) (*models.MessagePage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	messages, err := s.store.ListMessages(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("chat: list history: %w", err)
	}
	return &models.MessagePage{
		Messages: messages,
		Limit:    limit,
		Offset:   offset,
		HasMore:  len(messages) == limit,
	}, nil
}
