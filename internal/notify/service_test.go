// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package notify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/emsgrid/emsgrid/internal/eventbus"
	"github.com/emsgrid/emsgrid/internal/logging"
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

func setupService(t *testing.T) (*Service, eventbus.Bus) {
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

	return NewService(st, bus), bus
}

func TestPushPersistsAndPublishes(t *testing.T) {
	svc, bus := setupService(t)
	ctx := context.Background()

	events, err := bus.Subscribe(ctx, eventbus.TopicNotifications)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	n, err := svc.Push(ctx, "u-alice", "Session assigned", "You were added to sess-1")
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if len(n.ID) != 26 {
		t.Errorf("notification ID = %q, want 26-char ULID", n.ID)
	}
	if n.IsRead {
		t.Error("new notification must start unread")
	}

	feed, err := svc.Feed(ctx, "u-alice", 50, 0)
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(feed.Notifications) != 1 || feed.Notifications[0].ID != n.ID {
		t.Errorf("feed = %+v, want the pushed notification", feed.Notifications)
	}

	select {
	case ev := <-events:
		var got eventbus.NotificationEvent
		if err := json.Unmarshal(ev.Payload, &got); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		ev.Ack()
		if got.UserID != "u-alice" || got.Notification.ID != n.ID {
			t.Errorf("published event = %+v, want the pushed notification", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification event published")
	}
}

func TestPushRequiresTitle(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Push(context.Background(), "u-alice", "   ", "body")
	if !errors.Is(err, ErrEmptyTitle) {
		t.Errorf("Push() error = %v, want ErrEmptyTitle", err)
	}
}

func TestFeedIsNewestFirstAndScoped(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		svc.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		if _, err := svc.Push(ctx, "u-alice", "n", ""); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	svc.now = time.Now
	if _, err := svc.Push(ctx, "u-bob", "other user", ""); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	feed, err := svc.Feed(ctx, "u-alice", 50, 0)
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(feed.Notifications) != 3 {
		t.Fatalf("feed has %d notifications, want 3", len(feed.Notifications))
	}
	for i := 1; i < len(feed.Notifications); i++ {
		if feed.Notifications[i-1].CreatedAt.Before(feed.Notifications[i].CreatedAt) {
			t.Error("feed is not newest-first")
		}
	}
}

func TestMarkReadAndMarkAllRead(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	first, err := svc.Push(ctx, "u-alice", "one", "")
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if _, err := svc.Push(ctx, "u-alice", "two", ""); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if err := svc.MarkRead(ctx, "u-alice", first.ID); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	// Someone else's feed cannot mark it.
	if err := svc.MarkRead(ctx, "u-bob", first.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cross-user MarkRead() error = %v, want ErrNotFound", err)
	}

	updated, err := svc.MarkAllRead(ctx, "u-alice")
	if err != nil {
		t.Fatalf("MarkAllRead() error = %v", err)
	}
	if updated != 1 {
		t.Errorf("MarkAllRead() updated %d, want 1 (the remaining unread)", updated)
	}

	// A second pass finds nothing unread and still succeeds.
	updated, err = svc.MarkAllRead(ctx, "u-alice")
	if err != nil {
		t.Fatalf("second MarkAllRead() error = %v", err)
	}
	if updated != 0 {
		t.Errorf("second MarkAllRead() updated %d, want 0", updated)
	}
}

func TestDeleteAndDeleteAll(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	first, err := svc.Push(ctx, "u-alice", "one", "")
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if _, err := svc.Push(ctx, "u-alice", "two", ""); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if err := svc.Delete(ctx, "u-alice", first.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := svc.Delete(ctx, "u-alice", first.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("repeat Delete() error = %v, want ErrNotFound", err)
	}

	removed, err := svc.DeleteAll(ctx, "u-alice")
	if err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("DeleteAll() removed %d, want 1", removed)
	}

	feed, err := svc.Feed(ctx, "u-alice", 50, 0)
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if len(feed.Notifications) != 0 {
		t.Errorf("feed after DeleteAll has %d items, want 0", len(feed.Notifications))
	}
}
