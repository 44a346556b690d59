// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

// Package eventbus carries chat and notification events from the services
// that produce them to the realtime hub that delivers them. The default
// backend is an in-process Watermill GoChannel; with NATS enabled the same
// topics fan out across instances over JetStream, so a REST write on one
// instance reaches room members connected to another.
package eventbus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/emsgrid/emsgrid/internal/models"
)

// Topics.
const (
	TopicChat          = "emsgrid.chat"
	TopicNotifications = "emsgrid.notifications"
)

// ChatEvent is published after a chat message has been persisted.
type ChatEvent struct {
	SessionID string             `json:"sessionId"`
	Message   models.ChatMessage `json:"message"`
}

// NotificationEvent is published after a notification has been persisted.
type NotificationEvent struct {
	UserID       string              `json:"userId"`
	Notification models.Notification `json:"notification"`
}

// Bus is the publish/subscribe surface the services and the hub bridge use.
type Bus interface {
	// Publish sends one JSON-encoded event on a topic.
	Publish(ctx context.Context, topic string, payload interface{}) error
	// Subscribe returns a Watermill message channel for a topic. Consumers
	// must Ack every message.
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	// Close releases the backend.
	Close() error
}

// publish marshals and publishes through a Watermill publisher. Shared by
// both backends.
func publish(pub message.Publisher, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal %s event: %w", topic, err)
	}
	msg := message.NewMessage(uuid.New().String(), data)
	if err := pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", topic, err)
	}
	return nil
}
