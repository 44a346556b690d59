// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package eventbus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// GoChannelBus is the single-instance backend. Publishers and subscribers
// share one in-process Watermill GoChannel, so delivery is ordered and
// lossless within the process.
type GoChannelBus struct {
	pubsub *gochannel.GoChannel
}

// NewGoChannelBus creates the in-process bus.
func NewGoChannelBus(logger watermill.LoggerAdapter) *GoChannelBus {
	if logger == nil {
		logger = NewWatermillLogger()
	}
	return &GoChannelBus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, logger),
	}
}

// Publish implements Bus.
func (b *GoChannelBus) Publish(_ context.Context, topic string, payload interface{}) error {
	return publish(b.pubsub, topic, payload)
}

// Subscribe implements Bus.
func (b *GoChannelBus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close implements Bus.
func (b *GoChannelBus) Close() error {
	return b.pubsub.Close()
}
