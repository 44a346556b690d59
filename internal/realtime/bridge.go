// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package realtime

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/emsgrid/emsgrid/internal/eventbus"
	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/metrics"
)

// Bridge subscribes to the event bus and forwards chat and notification
// events to the hub. With the NATS backend this is what carries a message
// persisted on one instance to room members connected to another.
type Bridge struct {
	hub *Hub
	bus eventbus.Bus

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBridge creates a bus-to-hub bridge.
func NewBridge(hub *Hub, bus eventbus.Bus) *Bridge {
	return &Bridge{
		hub:    hub,
		bus:    bus,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start subscribes to both topics and begins forwarding.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.mu.Unlock()

	chatMsgs, err := b.bus.Subscribe(ctx, eventbus.TopicChat)
	if err != nil {
		return err
	}
	notifyMsgs, err := b.bus.Subscribe(ctx, eventbus.TopicNotifications)
	if err != nil {
		return err
	}

	go b.process(ctx, chatMsgs, notifyMsgs)

	logging.Info().Msg("event bus to hub bridge started")
	return nil
}

// Stop halts forwarding and waits for the worker to exit.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopCh)
	<-b.doneCh
	logging.Info().Msg("event bus to hub bridge stopped")
}

func (b *Bridge) process(ctx context.Context, chatMsgs, notifyMsgs <-chan *message.Message) {
	defer close(b.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case msg, ok := <-chatMsgs:
			if !ok {
				return
			}
			b.handleChat(msg.Payload)
			msg.Ack()
		case msg, ok := <-notifyMsgs:
			if !ok {
				return
			}
			b.handleNotification(msg.Payload)
			msg.Ack()
		}
	}
}

func (b *Bridge) handleChat(payload []byte) {
	var event eventbus.ChatEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		logging.Warn().Err(err).Msg("malformed chat event on bus")
		return
	}

	env, err := NewEnvelope(EventNewMessage, "", event.Message)
	if err != nil {
		logging.Err(err).Msg("marshal new_message")
		return
	}
	b.hub.Broadcast(event.SessionID, env, nil)
}

func (b *Bridge) handleNotification(payload []byte) {
	var event eventbus.NotificationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		logging.Warn().Err(err).Msg("malformed notification event on bus")
		return
	}

	env, err := NewEnvelope(EventNotification, "", event.Notification)
	if err != nil {
		logging.Err(err).Msg("marshal notification")
		return
	}
	b.hub.BroadcastToUser(event.UserID, env)
	metrics.NotificationsPushedTotal.Inc()
}
