// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/emsgrid/emsgrid/internal/eventbus"
	"github.com/emsgrid/emsgrid/internal/logging"
	"github.com/emsgrid/emsgrid/internal/models"
	"github.com/emsgrid/emsgrid/internal/store"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

func setupService(t *testing.T) (*Service, *store.Store, eventbus.Bus) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st, err := store.NewWithDB(db)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	bus := eventbus.NewGoChannelBus(nil)
	t.Cleanup(func() { _ = bus.Close() })

	return NewService(st, bus), st, bus
}

func seedSession(t *testing.T, st *store.Store, id, status string) {
	t.Helper()
	err := st.CreateSession(context.Background(), &models.Session{
		ID:          id,
		Status:      status,
		AmbulanceID: "amb-1",
		PatientName: "John Doe",
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func testSender() *models.User {
	return &models.User{
		ID:        "u-alice",
		FirstName: "Alice",
		LastName:  "Nguyen",
		Role:      models.RoleDoctor,
	}
}

func TestSendPersistsAndPublishes(t *testing.T) {
	svc, st, bus := setupService(t)
	ctx := context.Background()
	seedSession(t, st, "sess-1", models.SessionActive)

	events, err := bus.Subscribe(ctx, eventbus.TopicChat)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	msg, err := svc.Send(ctx, "sess-1", testSender(), "  patient stable  ", "")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.ID == "" || len(msg.ID) != 26 {
		t.Errorf("message ID = %q, want 26-char ULID", msg.ID)
	}
	if msg.Message != "patient stable" {
		t.Errorf("message text = %q, want trimmed %q", msg.Message, "patient stable")
	}
	if msg.MessageType != models.MessageTypeText {
		t.Errorf("message type = %q, want default %q", msg.MessageType, models.MessageTypeText)
	}

	history, err := svc.History(ctx, "sess-1", 50, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history.Messages) != 1 || history.Messages[0].ID != msg.ID {
		t.Errorf("history = %+v, want the sent message", history.Messages)
	}

	select {
	case ev := <-events:
		var got eventbus.ChatEvent
		if err := json.Unmarshal(ev.Payload, &got); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		ev.Ack()
		if got.SessionID != "sess-1" || got.Message.ID != msg.ID {
			t.Errorf("published event = %+v, want the sent message", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no chat event published")
	}
}

func TestSendValidation(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()
	seedSession(t, st, "sess-1", models.SessionActive)

	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{"empty", "", ErrEmptyMessage},
		{"whitespace only", "   \n\t ", ErrEmptyMessage},
		{"too long", strings.Repeat("a", MaxMessageLength+1), ErrMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(ctx, "sess-1", testSender(), tt.text, "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Send() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSendRejectsTerminalSession(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()
	seedSession(t, st, "sess-done", models.SessionOffboarded)

	_, err := svc.Send(ctx, "sess-done", testSender(), "hello", "")
	if !errors.Is(err, store.ErrSessionTerminal) {
		t.Errorf("Send() error = %v, want ErrSessionTerminal", err)
	}
}

func TestSendUnknownSession(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.Send(context.Background(), "nope", testSender(), "hello", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Send() error = %v, want ErrNotFound", err)
	}
}

func TestHistoryPreservesDuplicateContent(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()
	seedSession(t, st, "sess-1", models.SessionActive)

	// Two identical sends are two distinct messages; nothing deduplicates.
	first, err := svc.Send(ctx, "sess-1", testSender(), "copy that", "")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	second, err := svc.Send(ctx, "sess-1", testSender(), "copy that", "")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("identical sends must get distinct IDs")
	}

	history, err := svc.History(ctx, "sess-1", 50, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history.Messages))
	}
	if history.Messages[0].ID != first.ID || history.Messages[1].ID != second.ID {
		t.Error("history order does not match send order")
	}
}

func TestHistoryPaging(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()
	seedSession(t, st, "sess-1", models.SessionActive)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		svc.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		if _, err := svc.Send(ctx, "sess-1", testSender(), "m", ""); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	page, err := svc.History(ctx, "sess-1", 2, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(page.Messages) != 2 || !page.HasMore {
		t.Errorf("first page = %d messages, hasMore=%v; want 2, true", len(page.Messages), page.HasMore)
	}

	last, err := svc.History(ctx, "sess-1", 2, 4)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(last.Messages) != 1 || last.HasMore {
		t.Errorf("last page = %d messages, hasMore=%v; want 1, false", len(last.Messages), last.HasMore)
	}
}

func TestSendSystemUsesSystemSender(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()
	seedSession(t, st, "sess-1", models.SessionActive)

	msg, err := svc.SendSystem(ctx, "sess-1", "patient onboarded")
	if err != nil {
		t.Fatalf("SendSystem() error = %v", err)
	}
	if msg.SenderID != "system" || msg.MessageType != models.MessageTypeSystem {
		t.Errorf("system message = %+v, want system sender and type", msg)
	}
}
