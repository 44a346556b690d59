// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/emsgrid/emsgrid/internal/logging"
)

// typingExpiry bounds how long a typing indicator survives without a
// typing_stop. Clients debounce and send stop themselves; the expiry only
// covers dropped connections and lost frames.
const typingExpiry = 6 * time.Second

const typingSweepInterval = time.Second

type typingEntry struct {
	userName string
	expires  time.Time
}

// typingTracker relays typing_start/typing_stop as user_typing events and
// expires stale indicators.
type typingTracker struct {
	hub *Hub

	mu    sync.Mutex
	rooms map[string]map[string]*typingEntry // room -> userID -> entry
	now   func() time.Time
}

func newTypingTracker(hub *Hub) *typingTracker {
	return &typingTracker{
		hub:   hub,
		rooms: make(map[string]map[string]*typingEntry),
		now:   time.Now,
	}
}

// start launches the expiry sweeper. It stops with the hub's context.
func (t *typingTracker) start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(typingSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	}()
}

// begin records a typing user and announces it to the room, excluding the
// originator. Repeated typing_start from the same user refreshes the
// expiry without re-announcing.
func (t *typingTracker) begin(room string, c *Client) {
	t.mu.Lock()
	users, ok := t.rooms[room]
	if !ok {
		users = make(map[string]*typingEntry)
		t.rooms[room] = users
	}
	_, already := users[c.UserID]
	users[c.UserID] = &typingEntry{
		userName: c.UserName,
		expires:  t.now().Add(typingExpiry),
	}
	t.mu.Unlock()

	if already {
		return
	}
	t.announce(room, c.UserID, c.UserName, true, c)
}

// stop clears a typing user and announces the stop. A stop without a
// preceding start is a no-op.
func (t *typingTracker) stop(room, userID, userName string) {
	t.mu.Lock()
	users, ok := t.rooms[room]
	if ok {
		if _, present := users[userID]; !present {
			ok = false
		} else {
			delete(users, userID)
			if len(users) == 0 {
				delete(t.rooms, room)
			}
		}
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	t.announce(room, userID, userName, false, nil)
}

// sweep expires indicators whose owner never sent typing_stop.
func (t *typingTracker) sweep() {
	type expired struct {
		room     string
		userID   string
		userName string
	}

	now := t.now()
	var stale []expired

	t.mu.Lock()
	for room, users := range t.rooms {
		for userID, entry := range users {
			if now.After(entry.expires) {
				stale = append(stale, expired{room: room, userID: userID, userName: entry.userName})
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(t.rooms, room)
		}
	}
	t.mu.Unlock()

	for _, e := range stale {
		logging.Debug().
			Str("session_id", e.room).
			Str("user_id", e.userID).
			Msg("typing indicator expired")
		t.announce(e.room, e.userID, e.userName, false, nil)
	}
}

func (t *typingTracker) announce(room, userID, userName string, isTyping bool, exclude *Client) {
	env, err := NewEnvelope(EventUserTyping, "", UserTypingPayload{
		SessionID: room,
		UserID:    userID,
		UserName:  userName,
		IsTyping:  isTyping,
	})
	if err != nil {
		logging.Err(err).Msg("marshal user_typing")
		return
	}
	t.hub.Broadcast(room, env, exclude)
}
