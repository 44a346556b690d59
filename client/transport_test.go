// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/realtime"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// fakeServer is a websocket peer for transport tests: it records every
// received envelope and can answer RPCs or push events.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	received []realtime.Envelope
	conns    int
	conn     *websocket.Conn

	// onEnvelope, when set, is invoked for each received envelope; use
	// reply to answer RPCs.
	onEnvelope func(env realtime.Envelope)
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		fs.mu.Lock()
		fs.conns++
		fs.conn = conn
		fs.mu.Unlock()

		for {
			var env realtime.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			fs.mu.Lock()
			fs.received = append(fs.received, env)
			handler := fs.onEnvelope
			fs.mu.Unlock()
			if handler != nil {
				handler(env)
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) reply(id, eventType string, body interface{}) {
	env, err := realtime.NewEnvelope(eventType, id, body)
	if err != nil {
		fs.t.Errorf("marshal reply: %v", err)
		return
	}
	fs.push(env)
}

func (fs *fakeServer) push(env realtime.Envelope) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.conn == nil {
		fs.t.Error("push before any connection")
		return
	}
	if err := fs.conn.WriteJSON(env); err != nil {
		fs.t.Errorf("push: %v", err)
	}
}

func (fs *fakeServer) envelopes() []realtime.Envelope {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]realtime.Envelope, len(fs.received))
	copy(out, fs.received)
	return out
}

func (fs *fakeServer) waitEnvelopes(n int) []realtime.Envelope {
	fs.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if envs := fs.envelopes(); len(envs) >= n {
			return envs
		}
		time.Sleep(5 * time.Millisecond)
	}
	fs.t.Fatalf("timed out waiting for %d envelopes, have %d", n, len(fs.envelopes()))
	return nil
}

func newTestClient(t *testing.T, fs *fakeServer) *Client {
	t.Helper()
	c := New(Config{
		URL:               fs.url(),
		Token:             "test-token",
		ReconnectAttempts: 1,
		ReconnectBackoff:  10 * time.Millisecond,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnectIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	fs.mu.Lock()
	conns := fs.conns
	fs.mu.Unlock()
	if conns != 1 {
		t.Errorf("connections = %d, want 1", conns)
	}
	if !c.Connected() {
		t.Error("Connected() = false after Connect")
	}
}

func TestEmitWhileDisconnectedReturnsError(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/ws"})
	err := c.Emit(realtime.EventTypingStart, realtime.TypingPayload{SessionID: "s1"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Emit() error = %v, want ErrNotConnected", err)
	}
}

func TestJoinAndLeaveEmitMatchingSessionID(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)

	// Duplicate joins are permitted without error.
	if err := c.JoinSession("s1"); err != nil {
		t.Fatalf("JoinSession() error = %v", err)
	}
	if err := c.JoinSession("s1"); err != nil {
		t.Fatalf("repeat JoinSession() error = %v", err)
	}
	if err := c.LeaveSession("s1"); err != nil {
		t.Fatalf("LeaveSession() error = %v", err)
	}

	envs := fs.waitEnvelopes(3)
	wantTypes := []string{
		realtime.EventJoinSession,
		realtime.EventJoinSession,
		realtime.EventLeaveSession,
	}
	for i, want := range wantTypes {
		if envs[i].Type != want {
			t.Errorf("envelope %d type = %q, want %q", i, envs[i].Type, want)
		}
		var p realtime.RoomPayload
		if err := json.Unmarshal(envs[i].Data, &p); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if p.SessionID != "s1" {
			t.Errorf("envelope %d sessionId = %q, want s1", i, p.SessionID)
		}
	}
}

func TestOnlineUsersRoundTrip(t *testing.T) {
	fs := newFakeServer(t)
	fs.onEnvelope = func(env realtime.Envelope) {
		if env.Type != realtime.EventGetOnlineUsers {
			return
		}
		fs.reply(env.ID, realtime.EventOnlineUsers, map[string]interface{}{
			"success":   true,
			"sessionId": "s1",
			"users": []map[string]string{
				{"userId": "u1", "userName": "Alice Smith", "role": "doctor"},
				{"userId": "u2", "userName": "Bob Ray", "role": "paramedic"},
			},
		})
	}
	c := newTestClient(t, fs)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	users, err := c.OnlineUsers(ctx, "s1")
	if err != nil {
		t.Fatalf("OnlineUsers() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %d, want 2", len(users))
	}
	if users[0].UserID != "u1" || users[1].Role != "paramedic" {
		t.Errorf("unexpected users: %+v", users)
	}
}

func TestCallTimesOutOnLostResponse(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.OnlineUsers(ctx, "s1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("OnlineUsers() error = %v, want deadline exceeded", err)
	}
}

func TestCallSurfacesServerError(t *testing.T) {
	fs := newFakeServer(t)
	fs.onEnvelope = func(env realtime.Envelope) {
		if env.Type == realtime.EventGetOnlineUsers {
			fs.reply(env.ID, realtime.EventOnlineUsers, map[string]interface{}{
				"success": false,
				"error":   "room unavailable",
			})
		}
	}
	c := newTestClient(t, fs)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.OnlineUsers(ctx, "s1")

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("OnlineUsers() error = %v, want *RPCError", err)
	}
	if rpcErr.Message != "room unavailable" {
		t.Errorf("rpc error message = %q", rpcErr.Message)
	}
}

func TestSubscriptionCloseUnregisters(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)

	var mu sync.Mutex
	var got []realtime.UserTypingPayload
	sub := c.OnUserTyping(func(p realtime.UserTypingPayload) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	push := func() {
		env, err := realtime.NewEnvelope(realtime.EventUserTyping, "", realtime.UserTypingPayload{
			SessionID: "s1", UserID: "u2", UserName: "Bob Ray", IsTyping: true,
		})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		fs.push(env)
	}

	push()
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first event not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sub.Close()
	sub.Close() // closing twice is safe
	push()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Errorf("events after Close = %d, want 1", len(got))
	}
}

func TestMessageFeedFiltersAndAppends(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)

	feed := NewMessageFeed("s1")
	feed.Attach(c)
	defer feed.Close()

	send := func(sessionID, id string) {
		env, err := realtime.NewEnvelope(realtime.EventNewMessage, "", map[string]string{
			"id":        id,
			"sessionId": sessionID,
			"message":   "hello",
		})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		fs.push(env)
	}

	send("s1", "m1")
	send("s2", "other")
	send("s1", "m2")
	// Duplicate delivery appends twice; the feed performs no dedupe.
	send("s1", "m2")

	deadline := time.Now().Add(2 * time.Second)
	for len(feed.Messages()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("messages = %d, want 3", len(feed.Messages()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	msgs := feed.Messages()
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	wantIDs := []string{"m1", "m2", "m2"}
	for i, want := range wantIDs {
		if msgs[i].ID != want {
			t.Errorf("message %d id = %q, want %q", i, msgs[i].ID, want)
		}
	}
}
