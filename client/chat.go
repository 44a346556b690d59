// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package client

import (
	"sync"
	"time"

	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/models"
	"github.com/emsgrid/emsgrid/internal/realtime"
)

// typingIdle is how long after the last keystroke typing_stop fires.
const typingIdle = 2 * time.Second

// emitter is the slice of Client the typing reporter needs.
type emitter interface {
	Emit(event string, payload interface{}) error
}

// TypingReporter debounces keystrokes into typing_start/typing_stop: the
// first keystroke emits typing_start, the timer re-arms on every
// keystroke, and typing_stop fires after 2s of inactivity or immediately
// when the input is emptied.
type TypingReporter struct {
	em        emitter
	sessionID string
	idle      time.Duration

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

// NewTypingReporter builds a reporter for one session's input box.
func NewTypingReporter(c *Client, sessionID string) *TypingReporter {
	return newTypingReporter(c, sessionID, typingIdle)
}

func newTypingReporter(em emitter, sessionID string, idle time.Duration) *TypingReporter {
	return &TypingReporter{em: em, sessionID: sessionID, idle: idle}
}

// Keystroke reports the input value after each edit. An empty input
// stops typing immediately.
func (t *TypingReporter) Keystroke(input string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if input == "" {
		t.stopLocked()
		return
	}

	if !t.active {
		t.active = true
		t.emit(realtime.EventTypingStart)
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, t.idleTimeout)
}

func (t *TypingReporter) idleTimeout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Close stops the timer and, when typing was active, emits typing_stop.
func (t *TypingReporter) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *TypingReporter) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.active {
		return
	}
	t.active = false
	t.emit(realtime.EventTypingStop)
}

func (t *TypingReporter) emit(event string) {
	if err := t.em.Emit(event, realtime.TypingPayload{SessionID: t.sessionID}); err != nil {
		logging.Warn().Err(err).Str("type", event).Msg("typing indicator emit failed")
	}
}

// MessageFeed is the client-held chat list for one session: messages
// append in arrival order, filtered by session ID. No deduplication is
// performed; a message delivered twice appears twice.
type MessageFeed struct {
	sessionID string

	mu       sync.Mutex
	messages []models.ChatMessage

	sub *Subscription
}

// NewMessageFeed builds an empty feed for one session.
func NewMessageFeed(sessionID string) *MessageFeed {
	return &MessageFeed{sessionID: sessionID}
}

// Attach subscribes the feed to the client's new_message stream.
func (f *MessageFeed) Attach(c *Client) {
	f.sub = c.OnMessage(f.Append)
}

// Append adds a message when it belongs to this feed's session.
func (f *MessageFeed) Append(msg models.ChatMessage) {
	if msg.SessionID != f.sessionID {
		return
	}
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
}

// Messages returns a snapshot of the feed.
func (f *MessageFeed) Messages() []models.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ChatMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

// Close drops the feed's subscription.
func (f *MessageFeed) Close() {
	if f.sub != nil {
		f.sub.Close()
	}
}
