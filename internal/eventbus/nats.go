// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsserver "github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/emsgrid/emsgrid/internal/config"
	"github.com/emsgrid/emsgrid/internal/logging"
)

const (
	natsMaxReconnects   = -1 // retry forever
	natsReconnectWait   = 2 * time.Second
	natsAckWaitTimeout  = 30 * time.Second
	natsCloseTimeout    = 10 * time.Second
	embeddedReadyWait   = 5 * time.Second
	publishBreakerTrips = 5
)

// NATSBus is the multi-instance backend. Events published on one instance
// reach subscribers on every instance through JetStream. A circuit breaker
// sheds publishes while the broker is unreachable so REST writes keep
// succeeding; realtime delivery resumes when NATS recovers.
type NATSBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	breaker    *gobreaker.CircuitBreaker[interface{}]
	embedded   *natsserver.Server

	mu     sync.RWMutex
	closed bool
}

// NewNATSBus connects to NATS (starting an embedded server first when
// configured) and builds a JetStream publisher/subscriber pair.
func NewNATSBus(cfg config.NATSConfig, logger watermill.LoggerAdapter) (*NATSBus, error) {
	if logger == nil {
		logger = NewWatermillLogger()
	}

	bus := &NATSBus{}

	if cfg.EmbeddedServer {
		srv, err := startEmbeddedServer(cfg)
		if err != nil {
			return nil, err
		}
		bus.embedded = srv
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(natsMaxReconnects),
		natsgo.ReconnectWait(natsReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		bus.stopEmbedded()
		return nil, fmt.Errorf("eventbus: create nats publisher: %w", err)
	}
	bus.publisher = pub

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:            cfg.URL,
		AckWaitTimeout: natsAckWaitTimeout,
		CloseTimeout:   natsCloseTimeout,
		NatsOptions:    natsOpts,
		Unmarshaler:    &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			AckAsync:      false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.DeliverNew(),
			},
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		bus.stopEmbedded()
		return nil, fmt.Errorf("eventbus: create nats subscriber: %w", err)
	}
	bus.subscriber = sub

	bus.breaker = gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name: "eventbus-publish",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= publishBreakerTrips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("event bus circuit breaker state change")
		},
	})

	return bus, nil
}

// startEmbeddedServer boots an in-process nats-server with JetStream
// enabled and waits for it to accept connections.
func startEmbeddedServer(cfg config.NATSConfig) (*natsserver.Server, error) {
	opts := &natsserver.Options{
		JetStream: true,
		StoreDir:  cfg.StoreDir,
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("eventbus: create embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(embeddedReadyWait) {
		srv.Shutdown()
		return nil, fmt.Errorf("eventbus: embedded nats server not ready after %s", embeddedReadyWait)
	}
	logging.Info().Str("url", srv.ClientURL()).Msg("embedded NATS server started")
	return srv, nil
}

func (b *NATSBus) stopEmbedded() {
	if b.embedded != nil {
		b.embedded.Shutdown()
		b.embedded.WaitForShutdown()
	}
}

// Publish implements Bus. Messages carry their UUID as Nats-Msg-Id so
// JetStream deduplicates redelivered publishes.
func (b *NATSBus) Publish(_ context.Context, topic string, payload interface{}) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("eventbus: bus is closed")
	}
	b.mu.RUnlock()

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, publish(b.publisher, topic, payload)
	})
	return err
}

// Subscribe implements Bus.
func (b *NATSBus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.subscriber.Subscribe(ctx, topic)
}

// Close implements Bus.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	if err := b.publisher.Close(); err != nil {
		firstErr = err
	}
	if err := b.subscriber.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	b.stopEmbedded()
	return firstErr
}

// New builds the bus selected by configuration.
func New(cfg config.NATSConfig) (Bus, error) {
	logger := NewWatermillLogger()
	if cfg.Enabled {
		return NewNATSBus(cfg, logger)
	}
	return NewGoChannelBus(logger), nil
}
