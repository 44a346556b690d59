// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

// Package client is the Go SDK for the EMSGrid realtime plane: one
// websocket connection per Client, session room membership, chat,
// notifications and SFU call orchestration, plus a circuit-broken REST
// client for the HTTP surface.
//
// A Client is constructed explicitly and passed by reference to every
// consumer; there is no package-level singleton. Event registration
// returns a *Subscription whose Close is the only way to unregister.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/realtime"
)

// ErrNotConnected is returned by Emit and Call while the socket is down.
// Disconnected emits fail loudly instead of dropping silently.
var ErrNotConnected = errors.New("client: not connected")

// RPCError carries a server-side failure reply ({success:false, error}).
type RPCError struct {
	Event   string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("client: %s rpc failed: %s", e.Event, e.Message)
}

// Config holds transport settings. Zero values get defaults from
// DefaultConfig.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:8090/api/v1/ws.
	URL string

	// Token is the bearer token; it is carried as a query parameter
	// because browser websocket clients cannot set headers.
	Token string

	DialTimeout time.Duration

	// ReconnectAttempts bounds dial retries per connection attempt.
	// Backoff between retries is fixed, not exponential.
	ReconnectAttempts int
	ReconnectBackoff  time.Duration

	WriteTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = 2 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Handler receives the raw payload of one event.
type Handler func(data json.RawMessage)

// Subscription is the handle returned by every On-style call. Closing it
// is the only way to unregister the handler; it is safe to close twice.
type Subscription struct {
	once  sync.Once
	close func()
}

// Close unregisters the handler.
func (s *Subscription) Close() {
	s.once.Do(s.close)
}

// Client owns one websocket connection and a registry of named event
// handlers. Handlers run on the read loop in delivery order and must not
// block.
type Client struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	writeMu sync.Mutex

	handlersMu  sync.RWMutex
	handlers    map[string]map[uint64]Handler
	nextHandler uint64

	pendingMu sync.Mutex
	pending   map[string]chan realtime.Envelope
}

// New builds a disconnected client. Call Connect before emitting.
func New(cfg Config) *Client {
	cfg.withDefaults()
	return &Client{
		cfg:      cfg,
		handlers: make(map[string]map[uint64]Handler),
		pending:  make(map[string]chan realtime.Envelope),
	}
}

// Connect dials the server. Idempotent: connecting an already connected
// client is a no-op. Dial failures retry with fixed backoff up to the
// configured attempt bound.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("client: closed")
	}
	if c.connected {
		return nil
	}
	return c.dialLocked(ctx)
}

// dialLocked attempts the bounded fixed-backoff dial loop. Caller holds
// c.mu.
func (c *Client) dialLocked(ctx context.Context) error {
	target, err := c.dialURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}

	var lastErr error
	for attempt := 0; attempt < c.cfg.ReconnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.ReconnectBackoff):
			}
		}

		conn, _, err := dialer.DialContext(ctx, target, nil)
		if err != nil {
			lastErr = err
			logging.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Msg("websocket dial failed")
			continue
		}

		c.conn = conn
		c.connected = true
		go c.readLoop(conn)
		return nil
	}
	return fmt.Errorf("client: connect: %w", lastErr)
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("client: parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connected reports the current connection state.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears down the connection and clears state. Pending RPCs fail
// with ErrNotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	c.failPending()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Emit sends a fire-and-forget event. Emitting while disconnected
// returns ErrNotConnected.
func (c *Client) Emit(event string, payload interface{}) error {
	env, err := realtime.NewEnvelope(event, "", payload)
	if err != nil {
		return err
	}
	return c.write(env)
}

// Call performs a request/reply RPC over the socket. The reply is
// correlated by ID; ctx bounds the wait, so a lost response surfaces as
// ctx.Err() instead of leaking a listener. A {success:false} reply
// returns *RPCError; otherwise the reply body is unmarshaled into out
// when out is non-nil.
func (c *Client) Call(ctx context.Context, event string, payload, out interface{}) error {
	id := uuid.NewString()
	env, err := realtime.NewEnvelope(event, id, payload)
	if err != nil {
		return err
	}

	ch := make(chan realtime.Envelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(env); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case reply, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		return decodeReply(event, reply, out)
	}
}

func decodeReply(event string, reply realtime.Envelope, out interface{}) error {
	var result realtime.RPCResult
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		return fmt.Errorf("client: decode %s reply: %w", event, err)
	}
	if !result.Success {
		return &RPCError{Event: event, Message: result.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply.Data, out); err != nil {
		return fmt.Errorf("client: decode %s reply body: %w", event, err)
	}
	return nil
}

// On registers a handler for a named event and returns its subscription.
// No buffering, replay or ordering beyond the transport's delivery order.
func (c *Client) On(event string, fn Handler) *Subscription {
	c.handlersMu.Lock()
	c.nextHandler++
	id := c.nextHandler
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.handlers[event][id] = fn
	c.handlersMu.Unlock()

	return &Subscription{close: func() {
		c.handlersMu.Lock()
		if m, ok := c.handlers[event]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(c.handlers, event)
			}
		}
		c.handlersMu.Unlock()
	}}
}

func (c *Client) write(env realtime.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		logging.Warn().Str("type", env.Type).Msg("emit while disconnected")
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(env)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.dispatch(env)
	}
}

// dispatch routes a reply to its pending call by correlation ID, or fans
// an event out to its handlers.
func (c *Client) dispatch(env realtime.Envelope) {
	if env.ID != "" {
		c.pendingMu.Lock()
		ch, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- env
			return
		}
		// Fall through: an unmatched ID is treated as a plain event.
	}

	c.handlersMu.RLock()
	handlers := make([]Handler, 0, len(c.handlers[env.Type]))
	for _, fn := range c.handlers[env.Type] {
		handlers = append(handlers, fn)
	}
	c.handlersMu.RUnlock()

	for _, fn := range handlers {
		fn(env.Data)
	}
}

// handleDisconnect fails pending calls and, unless the client was
// closed, redials with the same bounded fixed backoff.
func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	_ = conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	closed := c.closed
	c.mu.Unlock()

	c.failPending()

	if closed {
		return
	}
	logging.Warn().Err(cause).Msg("websocket connection lost, reconnecting")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.connected {
		return
	}
	if err := c.dialLocked(context.Background()); err != nil {
		logging.Err(err).Msg("websocket reconnect failed")
	}
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}
